package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prediction outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation_error"
	OutcomeArtifact   = "artifact_error"
	OutcomeInference  = "inference_error"
	OutcomeUnauth     = "unauthenticated"
)

type Metrics struct {
	Predictions      *prometheus.CounterVec
	InferenceSeconds prometheus.Histogram
	RegionFallbacks  prometheus.Counter
	RecordWrites     *prometheus.CounterVec
	RecordsDropped   prometheus.Counter
}

// New registers the service collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medcost",
			Name:      "predictions_total",
			Help:      "Prediction requests by outcome.",
		}, []string{"outcome"}),
		InferenceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medcost",
			Name:      "inference_duration_seconds",
			Help:      "Time spent scaling and evaluating the model.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		RegionFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medcost",
			Name:      "region_fallbacks_total",
			Help:      "Predictions where an unknown region was replaced by the default.",
		}),
		RecordWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medcost",
			Name:      "record_writes_total",
			Help:      "Record sink writes by sink and outcome.",
		}, []string{"sink", "outcome"}),
		RecordsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medcost",
			Name:      "records_dropped_total",
			Help:      "Records dropped because the dispatch queue was full or closed.",
		}),
	}
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
