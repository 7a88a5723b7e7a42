package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.uber.org/zap"

	"github.com/vnmchuo/medcost/internal/apperr"
	"github.com/vnmchuo/medcost/internal/auth"
	"github.com/vnmchuo/medcost/internal/features"
	"github.com/vnmchuo/medcost/internal/pipeline"
	"github.com/vnmchuo/medcost/internal/records"
	"github.com/vnmchuo/medcost/internal/report"
	"github.com/vnmchuo/medcost/pkg/ratelimit"
)

// Mock Predictor
type mockPredictor struct {
	predictFunc func(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error)
	calls       int
}

func (m *mockPredictor) Predict(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error) {
	m.calls++
	if m.predictFunc != nil {
		return m.predictFunc(ctx, identity, form)
	}
	return &pipeline.Result{ID: "pred-1", PredictionUSD: 5500.58, PredictionINR: 456548.14}, nil
}

// Mock Authenticator
type mockAuthenticator struct {
	authenticateFunc func(ctx context.Context, email, password string) (bool, error)
	registerFunc     func(ctx context.Context, name, email, password string) (*auth.User, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, email, password string) (bool, error) {
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, email, password)
	}
	return false, nil
}

func (m *mockAuthenticator) Register(ctx context.Context, name, email, password string) (*auth.User, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, name, email, password)
	}
	return &auth.User{Email: email, Name: name}, nil
}

// Mock Session Store
type mockSessions struct {
	created map[string]string
	deleted []string
}

func (m *mockSessions) Create(ctx context.Context, email string) (string, error) {
	if m.created == nil {
		m.created = map[string]string{}
	}
	m.created["tok-1"] = email
	return "tok-1", nil
}

func (m *mockSessions) Lookup(ctx context.Context, token string) (string, error) {
	if email, ok := m.created[token]; ok {
		return email, nil
	}
	return "", auth.ErrSessionNotFound
}

func (m *mockSessions) Delete(ctx context.Context, token string) error {
	m.deleted = append(m.deleted, token)
	delete(m.created, token)
	return nil
}

// Mock Renderer
type mockRenderer struct {
	got    report.Data
	err    error
	called bool
}

func (m *mockRenderer) Render(w io.Writer, d report.Data) error {
	m.called = true
	m.got = d
	if m.err != nil {
		return m.err
	}
	_, err := w.Write([]byte("%PDF-1.3 test"))
	return err
}

// Mock History Store
type mockHistory struct {
	from, to time.Time
}

func (m *mockHistory) Name() string { return "mock" }

func (m *mockHistory) Write(ctx context.Context, rec *records.Record) error { return nil }

func (m *mockHistory) ListByEmail(ctx context.Context, email string, from, to time.Time) ([]*records.Record, error) {
	m.from, m.to = from, to
	return []*records.Record{{ID: "pred-1", Email: email, PredictionUSD: 100}}, nil
}

func (m *mockHistory) Summary(ctx context.Context, email string, from, to time.Time) (*records.Summary, error) {
	return &records.Summary{Count: 1, AverageUSD: 100, LatestUSD: 100, LatestINR: 8300}, nil
}

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

type testDeps struct {
	predictor *mockPredictor
	auth      *mockAuthenticator
	sessions  *mockSessions
	renderer  *mockRenderer
}

// Test Suite
func setupTest(limiterAllowed bool, history records.Store) (*Handler, *testDeps) {
	deps := &testDeps{
		predictor: &mockPredictor{},
		auth:      &mockAuthenticator{},
		sessions:  &mockSessions{},
		renderer:  &mockRenderer{},
	}
	opts := Options{
		History:        history,
		SigninLimiter:  ratelimit.NewTestLimiter("signin", &mockLimiterStore{allowed: limiterAllowed}),
		PredictLimiter: ratelimit.NewTestLimiter("predict", &mockLimiterStore{allowed: limiterAllowed}),
		SessionTTL:     time.Hour,
	}
	h := NewHandler(deps.predictor, deps.auth, deps.sessions, deps.renderer, opts, zap.NewNop())
	return h, deps
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func asUser(req *http.Request) *http.Request {
	return req.WithContext(auth.WithUserEmail(req.Context(), "jane@example.com"))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return resp["error"]
}

func TestHandlePredict_Unauthorized(t *testing.T) {
	h, deps := setupTest(true, nil)
	w := httptest.NewRecorder()

	h.HandlePredict(w, formRequest("POST", "/v1/predict", url.Values{"age": {"30"}}))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if deps.predictor.calls != 0 {
		t.Errorf("Expected no prediction, got %d calls", deps.predictor.calls)
	}
}

func TestHandlePredict_Success(t *testing.T) {
	h, deps := setupTest(true, nil)
	var gotIdentity, gotAge string
	deps.predictor.predictFunc = func(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error) {
		gotIdentity, gotAge = identity, form.Get("age")
		return &pipeline.Result{ID: "pred-1", PredictionUSD: 5500.58, PredictionINR: 456548.14}, nil
	}
	w := httptest.NewRecorder()

	h.HandlePredict(w, asUser(formRequest("POST", "/v1/predict", url.Values{"age": {"30"}, "bmi": {"22"}})))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotIdentity != "jane@example.com" || gotAge != "30" {
		t.Errorf("Unexpected pipeline input: identity=%q age=%q", gotIdentity, gotAge)
	}

	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if res.PredictionUSD != 5500.58 || res.PredictionINR != 456548.14 {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestHandlePredict_JSONBody(t *testing.T) {
	h, deps := setupTest(true, nil)
	var got features.Form
	deps.predictor.predictFunc = func(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error) {
		got = form
		return &pipeline.Result{}, nil
	}
	body := `{"age": 30, "bmi": 22.5, "children": 1, "gender": "0", "smoker": true, "region": "northeast"}`
	req := httptest.NewRequest("POST", "/v1/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()

	h.HandlePredict(w, asUser(req))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got.Get("age") != "30" || got.Get("bmi") != "22.5" || got.Get("smoker") != "yes" || got.Get("region") != "northeast" {
		t.Errorf("Unexpected form: %v", got)
	}
}

func TestHandlePredict_InvalidJSON(t *testing.T) {
	h, _ := setupTest(true, nil)
	req := httptest.NewRequest("POST", "/v1/predict", strings.NewReader(`{invalid json}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandlePredict(w, asUser(req))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "invalid request body" {
		t.Errorf("Expected invalid request body error, got %v", msg)
	}
}

func TestHandlePredict_ValidationError(t *testing.T) {
	h, deps := setupTest(true, nil)
	deps.predictor.predictFunc = func(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error) {
		return nil, &apperr.ValidationError{Field: "age", Message: features.IneligibleAgeMessage}
	}
	w := httptest.NewRecorder()

	h.HandlePredict(w, asUser(formRequest("POST", "/v1/predict", url.Values{"age": {"17"}})))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != features.IneligibleAgeMessage {
		t.Errorf("Expected age message, got %v", msg)
	}
}

func TestHandlePredict_InferenceErrorIsGeneric(t *testing.T) {
	h, deps := setupTest(true, nil)
	deps.predictor.predictFunc = func(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error) {
		return nil, &apperr.InferenceError{Err: errors.New("tree 3 misses node 7")}
	}
	w := httptest.NewRecorder()

	h.HandlePredict(w, asUser(formRequest("POST", "/v1/predict", url.Values{"age": {"30"}})))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "Error in Prediction" {
		t.Errorf("Expected generic message, got %v", msg)
	}
	if strings.Contains(w.Body.String(), "tree 3") {
		t.Errorf("Internal detail leaked: %s", w.Body.String())
	}
}

func TestHandlePredict_RateLimited(t *testing.T) {
	h, deps := setupTest(false, nil)
	w := httptest.NewRecorder()

	h.HandlePredict(w, asUser(formRequest("POST", "/v1/predict", url.Values{"age": {"30"}})))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "rate limit exceeded" {
		t.Errorf("Expected rate limit exceeded error, got %v", msg)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Expected Retry-After: 60 header, got %s", w.Header().Get("Retry-After"))
	}
	if deps.predictor.calls != 0 {
		t.Errorf("Expected no prediction when rate limited")
	}
}

func TestHandleSignin_InvalidCredentials(t *testing.T) {
	h, _ := setupTest(true, nil)
	w := httptest.NewRecorder()

	h.HandleSignin(w, formRequest("POST", "/v1/signin", url.Values{"email": {"jane@example.com"}, "password": {"nope"}}))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "Invalid credentials!" {
		t.Errorf("Expected Invalid credentials!, got %v", msg)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Errorf("Expected no session cookie")
	}
}

func TestHandleSignin_BackendFailureLooksLikeBadCredentials(t *testing.T) {
	h, deps := setupTest(true, nil)
	deps.auth.authenticateFunc = func(ctx context.Context, email, password string) (bool, error) {
		return false, &apperr.CollaboratorError{Collaborator: "users", Err: errors.New("timeout")}
	}
	w := httptest.NewRecorder()

	h.HandleSignin(w, formRequest("POST", "/v1/signin", url.Values{"email": {"jane@example.com"}, "password": {"x"}}))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "Invalid credentials!" {
		t.Errorf("Expected Invalid credentials!, got %v", msg)
	}
}

func TestHandleSignin_Success(t *testing.T) {
	h, deps := setupTest(true, nil)
	deps.auth.authenticateFunc = func(ctx context.Context, email, password string) (bool, error) {
		return password == "s3cret!", nil
	}
	w := httptest.NewRecorder()

	h.HandleSignin(w, formRequest("POST", "/v1/signin", url.Values{"email": {" Jane@Example.com"}, "password": {"s3cret!"}}))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.CookieName || cookies[0].Value != "tok-1" || !cookies[0].HttpOnly {
		t.Errorf("Unexpected cookies: %+v", cookies)
	}
	if deps.sessions.created["tok-1"] != "jane@example.com" {
		t.Errorf("Expected session for normalized email, got %v", deps.sessions.created)
	}
}

func TestHandleSignin_RateLimited(t *testing.T) {
	h, _ := setupTest(false, nil)
	w := httptest.NewRecorder()

	h.HandleSignin(w, formRequest("POST", "/v1/signin", url.Values{"email": {"jane@example.com"}}))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
}

func TestHandleSignup(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"created", nil, http.StatusCreated},
		{"exists", auth.ErrUserExists, http.StatusConflict},
		{"invalid", &apperr.ValidationError{Field: "email", Message: "a valid email address is required"}, http.StatusUnprocessableEntity},
		{"store down", &apperr.CollaboratorError{Collaborator: "users", Err: errors.New("502")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, deps := setupTest(true, nil)
			deps.auth.registerFunc = func(ctx context.Context, name, email, password string) (*auth.User, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &auth.User{Email: email, Name: name}, nil
			}
			w := httptest.NewRecorder()

			h.HandleSignup(w, formRequest("POST", "/v1/signup", url.Values{
				"name": {"Jane"}, "email": {"jane@example.com"}, "password": {"s3cret!"},
			}))

			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestHandleLogout(t *testing.T) {
	h, deps := setupTest(true, nil)
	deps.sessions.created = map[string]string{"tok-1": "jane@example.com"}
	req := asUser(httptest.NewRequest("POST", "/v1/logout", nil))
	req = req.WithContext(auth.WithSessionToken(req.Context(), "tok-1"))
	w := httptest.NewRecorder()

	h.HandleLogout(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if len(deps.sessions.deleted) != 1 || deps.sessions.deleted[0] != "tok-1" {
		t.Errorf("Expected session tok-1 deleted, got %v", deps.sessions.deleted)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected cleared cookie, got %+v", cookies)
	}
}

func reportForm() url.Values {
	return url.Values{
		"age": {"30"}, "bmi": {"22.0"}, "children": {"1"}, "gender": {"1"},
		"smoker": {"no"}, "region": {"northeast"},
		"prediction_usd": {"5500.58"}, "prediction_inr": {"456548.14"},
	}
}

func TestHandleReport(t *testing.T) {
	h, deps := setupTest(true, nil)
	w := httptest.NewRecorder()

	h.HandleReport(w, asUser(formRequest("POST", "/v1/report", reportForm())))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="medical_cost_report.pdf"` {
		t.Errorf("Unexpected Content-Disposition: %s", cd)
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF") {
		t.Errorf("Expected PDF body")
	}
	if deps.renderer.got.Gender != "Female" || deps.renderer.got.PredictionINR != 456548.14 {
		t.Errorf("Unexpected report data: %+v", deps.renderer.got)
	}
}

func TestHandleReport_InvalidInput(t *testing.T) {
	h, _ := setupTest(true, nil)
	form := reportForm()
	form.Set("prediction_usd", "lots")
	w := httptest.NewRecorder()

	h.HandleReport(w, asUser(formRequest("POST", "/v1/report", form)))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "invalid prediction_usd" {
		t.Errorf("Unexpected error: %v", msg)
	}
}

func TestHandleReport_NonFiniteInput(t *testing.T) {
	cases := []struct {
		field, value, want string
	}{
		{"bmi", "NaN", "invalid bmi"},
		{"bmi", "-Inf", "invalid bmi"},
		{"bmi", "0", "invalid bmi"},
		{"prediction_usd", "Inf", "invalid prediction_usd"},
		{"prediction_inr", "nan", "invalid prediction_inr"},
	}
	for _, tc := range cases {
		h, deps := setupTest(true, nil)
		form := reportForm()
		form.Set(tc.field, tc.value)
		w := httptest.NewRecorder()

		h.HandleReport(w, asUser(formRequest("POST", "/v1/report", form)))

		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s=%s: expected 422, got %d", tc.field, tc.value, w.Code)
		}
		if msg := decodeError(t, w); msg != tc.want {
			t.Errorf("%s=%s: unexpected error: %v", tc.field, tc.value, msg)
		}
		if deps.renderer.called {
			t.Errorf("%s=%s: renderer should not be called", tc.field, tc.value)
		}
	}
}

func TestHandleReport_RenderFailure(t *testing.T) {
	h, deps := setupTest(true, nil)
	deps.renderer.err = errors.New("font missing")
	w := httptest.NewRecorder()

	h.HandleReport(w, asUser(formRequest("POST", "/v1/report", reportForm())))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestHandleHistory_NotConfigured(t *testing.T) {
	h, _ := setupTest(true, nil)
	w := httptest.NewRecorder()

	h.HandleHistory(w, asUser(httptest.NewRequest("GET", "/v1/predictions", nil)))

	if w.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501, got %d", w.Code)
	}
}

func TestHandleHistory_DefaultRange(t *testing.T) {
	store := &mockHistory{}
	h, _ := setupTest(true, store)
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	w := httptest.NewRecorder()

	h.HandleHistory(w, asUser(httptest.NewRequest("GET", "/v1/predictions", nil)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !store.from.Equal(now.AddDate(0, 0, -30)) || !store.to.Equal(now) {
		t.Errorf("Unexpected range %v - %v", store.from, store.to)
	}

	var resp struct {
		Summary     records.Summary  `json:"summary"`
		Predictions []records.Record `json:"predictions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Summary.Count != 1 || len(resp.Predictions) != 1 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestHandleHistory_InvalidDates(t *testing.T) {
	h, _ := setupTest(true, &mockHistory{})

	for _, q := range []string{"from=yesterday", "to=tomorrow", "from=2025-03-02T00:00:00Z&to=2025-03-01T00:00:00Z"} {
		w := httptest.NewRecorder()
		h.HandleHistory(w, asUser(httptest.NewRequest("GET", "/v1/predictions?"+q, nil)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestRouter_ProtectedRoutesRequireSession(t *testing.T) {
	h, deps := setupTest(true, nil)
	router := NewRouter(h, auth.NewMiddleware(deps.sessions, zap.NewNop()), nil, zap.NewNop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, formRequest("POST", "/v1/predict", url.Values{"age": {"30"}}))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if deps.predictor.calls != 0 {
		t.Errorf("Expected no inference without a session")
	}

	deps.sessions.created = map[string]string{"tok-1": "jane@example.com"}
	req := formRequest("POST", "/v1/predict", url.Values{"age": {"30"}})
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "tok-1"})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Errorf("Expected X-Request-ID header")
	}
}

func TestRouter_Healthz(t *testing.T) {
	h, deps := setupTest(true, nil)
	router := NewRouter(h, auth.NewMiddleware(deps.sessions, zap.NewNop()), nil, zap.NewNop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"service":"medcost"`) {
		t.Errorf("Unexpected healthz response: %d %s", w.Code, w.Body.String())
	}
}
