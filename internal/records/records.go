package records

import (
	"context"
	"errors"
	"time"

	"github.com/vnmchuo/medcost/internal/metrics"
)

// Record is the audit entry written for every successful prediction.
type Record struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Age           int       `json:"age"`
	BMI           float64   `json:"bmi"`
	Children      int       `json:"children"`
	Gender        string    `json:"gender"`
	Smoker        string    `json:"smoker"`
	Region        string    `json:"region"`
	PredictionUSD float64   `json:"prediction_usd"`
	PredictionINR float64   `json:"prediction_inr"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sink durably stores records.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
	Name() string
}

// Store is a sink that can also answer history queries.
type Store interface {
	Sink
	ListByEmail(ctx context.Context, email string, from, to time.Time) ([]*Record, error)
	Summary(ctx context.Context, email string, from, to time.Time) (*Summary, error)
}

type Summary struct {
	Count      int     `json:"count"`
	AverageUSD float64 `json:"average_usd"`
	LatestUSD  float64 `json:"latest_usd"`
	LatestINR  float64 `json:"latest_inr"`
}

// Instrumented counts writes per sink outcome.
func Instrumented(s Sink, m *metrics.Metrics) Sink {
	return &instrumented{Sink: s, m: m}
}

type instrumented struct {
	Sink
	m *metrics.Metrics
}

func (i *instrumented) Write(ctx context.Context, rec *Record) error {
	err := i.Sink.Write(ctx, rec)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.m.RecordWrites.WithLabelValues(i.Sink.Name(), outcome).Inc()
	return err
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Write(ctx context.Context, rec *Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
