package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relief_fitness_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "status"},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relief_fitness_pipeline_runs_total",
			Help: "Total pipeline stage executions",
		},
		[]string{"stage", "status"},
	)

	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relief_fitness_predictions_total",
			Help: "Total fitness predictions served",
		},
		[]string{"transport", "status"},
	)

	ModelR2 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relief_fitness_model_r2",
			Help: "Held-out R² of the active model",
		},
	)

	ScoredPairs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relief_fitness_scored_pairs",
			Help: "Number of (NGO, district) pairs in the last scoring run",
		},
	)

	Districts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relief_fitness_districts",
			Help: "Number of districts in the need matrix",
		},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relief_fitness_http_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(PipelineRuns)
		prometheus.MustRegister(PredictionsTotal)
		prometheus.MustRegister(ModelR2)
		prometheus.MustRegister(ScoredPairs)
		prometheus.MustRegister(Districts)
		prometheus.MustRegister(RateLimited)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
