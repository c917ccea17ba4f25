package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions    *prometheus.CounterVec
	predictLatency *prometheus.HistogramVec
	adapterLatency *prometheus.HistogramVec
	evaluations    *prometheus.CounterVec
	mape           *prometheus.GaugeVec
	direction      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kronos_predictions_total",
				Help: "Prediction requests by outcome",
			},
			[]string{"outcome"},
		),
		predictLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kronos_prediction_duration_seconds",
				Help:    "End-to-end prediction duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		adapterLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kronos_model_inference_seconds",
				Help:    "Model inference latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"model"},
		),
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kronos_accuracy_evaluations_total",
				Help: "Accuracy evaluations by report status",
			},
			[]string{"status"},
		),
		mape: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kronos_accuracy_mape_percent",
				Help: "MAPE of the latest completed evaluation per stock",
			},
			[]string{"code"},
		),
		direction: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kronos_accuracy_directional_percent",
				Help: "Directional accuracy of the latest completed evaluation per stock",
			},
			[]string{"code"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kronos_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"kind"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kronos_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kronos_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordPrediction records one pipeline run.
func (r *Recorder) RecordPrediction(outcome string, seconds float64) {
	r.predictions.WithLabelValues(outcome).Inc()
	r.predictLatency.WithLabelValues(outcome).Observe(seconds)
}

func (r *Recorder) RecordAdapterLatency(model string, seconds float64) {
	r.adapterLatency.WithLabelValues(model).Observe(seconds)
}

func (r *Recorder) RecordEvaluation(status string) {
	r.evaluations.WithLabelValues(status).Inc()
}

func (r *Recorder) RecordAccuracy(code string, mape, directional float64) {
	r.mape.WithLabelValues(code).Set(mape)
	r.direction.WithLabelValues(code).Set(directional)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordHTTP records a served request.
func (r *Recorder) RecordHTTP(method, route, status string, seconds float64) {
	r.httpRequests.WithLabelValues(method, route, status).Inc()
	r.httpLatency.WithLabelValues(method, route).Observe(seconds)
}
