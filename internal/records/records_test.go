package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/medcost/internal/metrics"
	"github.com/vnmchuo/medcost/internal/sheetdb"
)

func sampleRecord() *Record {
	return &Record{
		ID:            "rec-1",
		Email:         "jane@example.com",
		Age:           30,
		BMI:           22.0,
		Children:      1,
		Gender:        "Male",
		Smoker:        "no",
		Region:        "northeast",
		PredictionUSD: 5500.58,
		PredictionINR: 456548.14,
		CreatedAt:     time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC),
	}
}

type stubSink struct {
	name  string
	err   error
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Write(ctx context.Context, rec *Record) error {
	s.calls++
	return s.err
}

func TestMultiSink_WritesAllAndJoinsErrors(t *testing.T) {
	errSheet := errors.New("sheet down")
	a := &stubSink{name: "a", err: errSheet}
	b := &stubSink{name: "b"}

	err := MultiSink{a, b}.Write(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, errSheet)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.NoError(t, MultiSink{b}.Write(context.Background(), sampleRecord()))
}

func TestInstrumented(t *testing.T) {
	m := metrics.NewNop()
	ok := Instrumented(&stubSink{name: "postgres"}, m)
	bad := Instrumented(&stubSink{name: "sheetdb", err: errors.New("boom")}, m)

	require.NoError(t, ok.Write(context.Background(), sampleRecord()))
	require.Error(t, bad.Write(context.Background(), sampleRecord()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordWrites.WithLabelValues("postgres", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordWrites.WithLabelValues("sheetdb", "error")))
	assert.Equal(t, "postgres", ok.Name())
}

func TestSheetDBSink_Write(t *testing.T) {
	var body struct {
		Data []map[string]any `json:"data"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewSheetDBSink(sheetdb.New("predictions", server.URL))
	require.NoError(t, sink.Write(context.Background(), sampleRecord()))

	require.Len(t, body.Data, 1)
	row := body.Data[0]
	assert.Equal(t, "jane@example.com", row["email"])
	assert.Equal(t, "Male", row["gender"])
	assert.Equal(t, 456548.14, row["prediction_inr"])
	assert.Equal(t, "2025-03-01 14:05:09", row["timestamp"])
	assert.NotContains(t, row, "id")
}

func TestSheetDBSink_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewSheetDBSink(sheetdb.New("predictions", server.URL))
	err := sink.Write(context.Background(), sampleRecord())

	var se *sheetdb.StatusError
	assert.True(t, errors.As(err, &se))
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestNATSSink_Write(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "")
	require.NoError(t, sink.Write(context.Background(), sampleRecord()))

	assert.Equal(t, DefaultSubject, pub.subject)
	var got Record
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, "rec-1", got.ID)
	assert.Equal(t, 5500.58, got.PredictionUSD)
}

func TestNATSSink_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	sink := NewNATSSink(pub, "custom.subject")
	assert.Error(t, sink.Write(context.Background(), sampleRecord()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewNATSSink(&fakePublisher{}, "").Write(ctx, sampleRecord()), context.Canceled)
}
