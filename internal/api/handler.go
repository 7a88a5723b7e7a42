package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/medcost/internal/apperr"
	"github.com/vnmchuo/medcost/internal/auth"
	"github.com/vnmchuo/medcost/internal/features"
	"github.com/vnmchuo/medcost/internal/pipeline"
	"github.com/vnmchuo/medcost/internal/records"
	"github.com/vnmchuo/medcost/internal/report"
	"github.com/vnmchuo/medcost/pkg/ratelimit"
)

const (
	msgInvalidCredentials = "Invalid credentials!"
	msgPredictionFailed   = "Error in Prediction"
	msgSignupFailed       = "Signup failed!"
	msgReportFailed       = "Error generating PDF"
	maxBodyBytes          = 1 << 20
)

type Predictor interface {
	Predict(ctx context.Context, identity string, form features.Form) (*pipeline.Result, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (bool, error)
	Register(ctx context.Context, name, email, password string) (*auth.User, error)
}

type Renderer interface {
	Render(w io.Writer, d report.Data) error
}

type Options struct {
	// History answers /v1/predictions; nil disables the endpoint.
	History        records.Store
	SigninLimiter  *ratelimit.Limiter
	PredictLimiter *ratelimit.Limiter
	SessionTTL     time.Duration
	CookieSecure   bool
}

type Handler struct {
	predictor Predictor
	auth      Authenticator
	sessions  auth.SessionStore
	renderer  Renderer
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

func NewHandler(predictor Predictor, authenticator Authenticator, sessions auth.SessionStore, renderer Renderer, opts Options, logger *zap.Logger) *Handler {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		predictor: predictor,
		auth:      authenticator,
		sessions:  sessions,
		renderer:  renderer,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.auth.Register(r.Context(), form.Get("name"), form.Get("email"), form.Get("password"))
	if err != nil {
		if v, ok := apperr.IsValidation(err); ok {
			writeError(w, http.StatusUnprocessableEntity, v.Message)
			return
		}
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		h.logger.Error("signup failed", zap.String("request_id", auth.GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusBadGateway, msgSignupFailed)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"email": u.Email,
		"name":  u.Name,
	})
}

func (h *Handler) HandleSignin(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, h.opts.SigninLimiter, clientIP(r)) {
		return
	}

	form, err := readForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.auth.Authenticate(r.Context(), form.Get("email"), form.Get("password"))
	if err != nil {
		h.logger.Warn("authentication backend failed", zap.Error(err))
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	email := normalizeEmail(form.Get("email"))
	token, err := h.sessions.Create(r.Context(), email)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"email":      email,
		"expires_in": int(h.opts.SessionTTL.Seconds()),
	})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.GetSessionToken(r.Context()); token != "" {
		if err := h.sessions.Delete(r.Context(), token); err != nil {
			h.logger.Warn("failed to delete session", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := auth.GetUserEmail(ctx)
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.allow(w, r, h.opts.PredictLimiter, identity) {
		return
	}

	form, err := readForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.predictor.Predict(ctx, identity, form)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if v, ok := apperr.IsValidation(err); ok {
			writeError(w, http.StatusUnprocessableEntity, v.Message)
			return
		}
		h.logger.Error("prediction failed",
			zap.String("request_id", auth.GetRequestID(ctx)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, msgPredictionFailed)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if auth.GetUserEmail(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	form, err := readForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := reportData(form)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, d); err != nil {
		h.logger.Error("report rendering failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgReportFailed)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := auth.GetUserEmail(ctx)
	if email == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.opts.History == nil {
		writeError(w, http.StatusNotImplemented, "prediction history requires PostgreSQL")
		return
	}

	// Default: last 30 days
	now := h.now()
	from := now.AddDate(0, 0, -30)
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not be before 'from'")
		return
	}

	recs, err := h.opts.History.ListByEmail(ctx, email, from, to)
	if err != nil {
		h.logger.Error("failed to list predictions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load prediction history")
		return
	}
	summary, err := h.opts.History.Summary(ctx, email, from, to)
	if err != nil {
		h.logger.Error("failed to summarize predictions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load prediction history")
		return
	}
	if recs == nil {
		recs = []*records.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"email":       email,
		"summary":     summary,
		"predictions": recs,
		"from":        from,
		"to":          to,
	})
}

// allow writes a 429 and returns false when subject is over its limit.
// A nil limiter allows everything.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, l *ratelimit.Limiter, subject string) bool {
	if l == nil {
		return true
	}
	allowed, err := l.Allow(r.Context(), subject)
	if err != nil {
		h.logger.Warn("rate limiter unavailable", zap.String("scope", l.Scope()), zap.Error(err))
	}
	if err != nil || !allowed {
		retry := int(ratelimit.Window.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": fmt.Sprintf("%ds", retry),
		})
		return false
	}
	return true
}

func reportData(form url.Values) (report.Data, error) {
	var (
		d   report.Data
		err error
	)
	if d.Age, err = strconv.Atoi(form.Get("age")); err != nil {
		return d, fmt.Errorf("invalid age")
	}
	if d.BMI, err = finiteFloat(form.Get("bmi")); err != nil || d.BMI <= 0 {
		return d, fmt.Errorf("invalid bmi")
	}
	if d.Children, err = strconv.Atoi(valueOr(form, "children", "0")); err != nil {
		return d, fmt.Errorf("invalid children")
	}
	if d.PredictionUSD, err = finiteFloat(form.Get("prediction_usd")); err != nil {
		return d, fmt.Errorf("invalid prediction_usd")
	}
	if d.PredictionINR, err = finiteFloat(form.Get("prediction_inr")); err != nil {
		return d, fmt.Errorf("invalid prediction_inr")
	}
	d.Gender = features.ParseGender(valueOr(form, "gender", "0")).String()
	d.Smoker = valueOr(form, "smoker", "no")
	d.Region = valueOr(form, "region", "southwest")
	return d, nil
}

// finiteFloat rejects NaN and Inf, which strconv accepts.
func finiteFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", raw)
	}
	return v, nil
}

// readForm accepts url-encoded or multipart forms and flat JSON objects.
// JSON numbers keep their literal text and booleans map to "yes"/"no".
func readForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if ct == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
				return nil, err
			}
		} else if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}

	form := url.Values{}
	for k, v := range body {
		switch val := v.(type) {
		case string:
			form.Set(k, val)
		case json.Number:
			form.Set(k, val.String())
		case bool:
			if val {
				form.Set(k, "yes")
			} else {
				form.Set(k, "no")
			}
		case nil:
		default:
			return nil, fmt.Errorf("field %q must be a scalar", k)
		}
	}
	return form, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func valueOr(form url.Values, key, fallback string) string {
	if v := form.Get(key); v != "" {
		return v
	}
	return fallback
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
