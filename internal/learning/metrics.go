// internal/learning/metrics.go

package learning

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_training_runs_total",
			Help: "Training requests by outcome",
		},
		[]string{"outcome"},
	)

	trainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ml_training_duration_seconds",
			Help:    "Wall time of completed training runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	modelMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ml_model_evaluation",
			Help: "Validation metrics of the resident model",
		},
		[]string{"metric"},
	)

	modelVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ml_model_version",
			Help: "Version of the resident model, 0 when none is loaded",
		},
	)

	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Pair scores by method",
		},
		[]string{"method"},
	)

	compatibilityScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ml_compatibility_scores",
			Help:    "Distribution of pair scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	samplesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_training_samples_recorded_total",
			Help: "Training samples written by source",
		},
		[]string{"source"},
	)
)

func observeTraining(e Evaluation, took time.Duration) {
	trainingDuration.Observe(took.Seconds())
	modelMetric.WithLabelValues("accuracy").Set(e.Accuracy)
	modelMetric.WithLabelValues("precision").Set(e.Precision)
	modelMetric.WithLabelValues("recall").Set(e.Recall)
	modelMetric.WithLabelValues("f1").Set(e.F1)
}
