package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_events_ingested_total",
			Help: "Events accepted by ingestion and enqueued",
		},
		[]string{"queue"},
	)

	IngestionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_ingestion_rejected_total",
			Help: "Events rejected by ingestion validation",
		},
		[]string{"queue"},
	)

	BatchesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_batches_processed_total",
			Help: "Consumer batches processed per queue",
		},
		[]string{"queue"},
	)

	MessagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_messages_processed_total",
			Help: "Messages processed per queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	PoisonMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_poison_messages_total",
			Help: "Unparseable messages dropped after logging",
		},
		[]string{"queue"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedback_engine_queue_depth",
			Help: "Pending messages per queue",
		},
		[]string{"queue"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedback_engine_cycle_duration_seconds",
			Help:    "Duration of periodic task cycles",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"task"},
	)

	RegressionsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_regressions_detected_total",
			Help: "Regressions detected by the audit runner",
		},
		[]string{"kind", "severity"},
	)

	AuditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_audit_runs_total",
			Help: "Audit runs by outcome",
		},
		[]string{"outcome"},
	)

	AlertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_alerts_dispatched_total",
			Help: "Alerts handed to the notification sink",
		},
		[]string{"severity", "status"},
	)

	TrainingJobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedback_engine_training_jobs_started_total",
			Help: "Training jobs dispatched to the executor",
		},
	)

	TrainingSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_training_samples_total",
			Help: "Training samples bucketed by label",
		},
		[]string{"bucket"},
	)

	PromotionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_engine_promotion_decisions_total",
			Help: "A/B evaluation outcomes",
		},
		[]string{"decision"},
	)

	ActiveABTests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedback_engine_active_ab_tests",
			Help: "Model versions currently under A/B test",
		},
	)
)

func Init() {
	prometheus.MustRegister(EventsIngested)
	prometheus.MustRegister(IngestionRejected)
	prometheus.MustRegister(BatchesProcessed)
	prometheus.MustRegister(MessagesProcessed)
	prometheus.MustRegister(PoisonMessages)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(RegressionsDetected)
	prometheus.MustRegister(AuditRuns)
	prometheus.MustRegister(AlertsDispatched)
	prometheus.MustRegister(TrainingJobsStarted)
	prometheus.MustRegister(TrainingSamples)
	prometheus.MustRegister(PromotionDecisions)
	prometheus.MustRegister(ActiveABTests)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
