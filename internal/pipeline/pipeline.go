// Package pipeline runs one prediction request end to end: coerce and validate
// the submitted fields, encode, scale, infer, convert currency, package the
// result and hand an audit record to the record dispatcher.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/medcost/internal/apperr"
	"github.com/vnmchuo/medcost/internal/features"
	"github.com/vnmchuo/medcost/internal/metrics"
	"github.com/vnmchuo/medcost/internal/model"
	"github.com/vnmchuo/medcost/internal/records"
)

// DefaultINRRate is the fixed USD to INR conversion rate.
const DefaultINRRate = 83

// Recorder accepts records for asynchronous storage. Enqueue must not block.
type Recorder interface {
	Enqueue(rec *records.Record) bool
}

// Input echoes the attributes a prediction was computed from.
type Input struct {
	Age      int     `json:"age"`
	BMI      float64 `json:"bmi"`
	Children int     `json:"children"`
	Gender   string  `json:"gender"`
	Smoker   string  `json:"smoker"`
	Region   string  `json:"region"`
}

// Result is immutable once returned.
type Result struct {
	ID            string    `json:"id"`
	PredictionUSD float64   `json:"prediction_usd"`
	PredictionINR float64   `json:"prediction_inr"`
	Input         Input     `json:"input"`
	GeneratedAt   time.Time `json:"generated_at"`
}

type Config struct {
	INRRate      decimal.Decimal
	RegionPolicy features.RegionPolicy
}

type Service struct {
	scaler   model.Transformer
	model    model.Regressor
	recorder Recorder
	cfg      Config
	tracer   trace.Tracer
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(artifacts *model.Artifacts, recorder Recorder, cfg Config, tracer trace.Tracer, logger *zap.Logger, m *metrics.Metrics) *Service {
	if cfg.INRRate.IsZero() {
		cfg.INRRate = decimal.NewFromInt(DefaultINRRate)
	}
	if cfg.RegionPolicy == "" {
		cfg.RegionPolicy = features.RegionFallback
	}
	return &Service{
		scaler:   artifacts.Scaler,
		model:    artifacts.Model,
		recorder: recorder,
		cfg:      cfg,
		tracer:   tracer,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Predict runs the pipeline for identity on the submitted form fields.
func (s *Service) Predict(ctx context.Context, identity string, form features.Form) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.predict")
	defer span.End()

	res, err := s.predict(ctx, identity, form)
	s.metrics.Predictions.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("prediction.id", res.ID),
		attribute.Float64("prediction.usd", res.PredictionUSD),
	)
	return res, nil
}

func (s *Service) predict(ctx context.Context, identity string, form features.Form) (*Result, error) {
	if identity == "" {
		return nil, apperr.ErrUnauthenticated
	}

	in, err := features.Parse(form, s.cfg.RegionPolicy)
	if err != nil {
		return nil, err
	}
	if in.RegionFallback {
		s.metrics.RegionFallbacks.Inc()
		s.logger.Warn("unknown region replaced with default",
			zap.String("submitted", form.Get("region")),
			zap.String("used", in.Region.String()),
		)
	}

	vec, err := features.Encode(in)
	if err != nil {
		return nil, err
	}

	estimate, err := s.infer(ctx, vec)
	if err != nil {
		return nil, err
	}

	usd, inr := Convert(estimate, s.cfg.INRRate)
	res := &Result{
		ID:            uuid.New().String(),
		PredictionUSD: usd,
		PredictionINR: inr,
		Input: Input{
			Age:      in.Age,
			BMI:      in.BMI,
			Children: in.Children,
			Gender:   in.Gender.String(),
			Smoker:   in.SmokerLabel(),
			Region:   in.Region.String(),
		},
		GeneratedAt: s.now(),
	}

	s.record(identity, res)
	return res, nil
}

func (s *Service) infer(ctx context.Context, vec features.FeatureVector) (float64, error) {
	_, span := s.tracer.Start(ctx, "pipeline.infer")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.InferenceSeconds.Observe(time.Since(start).Seconds()) }()

	scaled, err := s.scaler.Transform(vec)
	if err != nil {
		return 0, err
	}
	estimate, err := s.model.Predict(scaled)
	if err != nil {
		var ie *apperr.InferenceError
		if !errors.As(err, &ie) {
			err = &apperr.InferenceError{Err: err}
		}
		return 0, err
	}
	return estimate, nil
}

// record is fire-and-forget; nothing it does reaches the caller.
func (s *Service) record(identity string, res *Result) {
	if s.recorder == nil {
		return
	}
	s.recorder.Enqueue(&records.Record{
		ID:            res.ID,
		Email:         identity,
		Age:           res.Input.Age,
		BMI:           res.Input.BMI,
		Children:      res.Input.Children,
		Gender:        res.Input.Gender,
		Smoker:        res.Input.Smoker,
		Region:        res.Input.Region,
		PredictionUSD: res.PredictionUSD,
		PredictionINR: res.PredictionINR,
		CreatedAt:     res.GeneratedAt,
	})
}

// Convert rounds the estimate to cents and derives the INR amount from the
// rounded USD value. Rounding is half away from zero.
func Convert(estimate float64, rate decimal.Decimal) (usd, inr float64) {
	u := decimal.NewFromFloat(estimate).Round(2)
	i := u.Mul(rate).Round(2)
	return u.InexactFloat64(), i.InexactFloat64()
}

func outcome(err error) string {
	var (
		ve *apperr.ValidationError
		ae *apperr.ArtifactError
	)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, apperr.ErrUnauthenticated):
		return metrics.OutcomeUnauth
	case errors.As(err, &ve):
		return metrics.OutcomeValidation
	case errors.As(err, &ae):
		return metrics.OutcomeArtifact
	default:
		return metrics.OutcomeInference
	}
}
