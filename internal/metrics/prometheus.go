package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procx_scan_duration_seconds",
			Help:    "Batch scan duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	ScanTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procx_scan_total",
			Help: "Total batch scans run",
		},
		[]string{"status"},
	)

	PipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procx_pipeline_outcomes_total",
			Help: "Pipeline runs by final status",
		},
		[]string{"status"},
	)

	StageFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procx_stage_fallbacks_total",
			Help: "Pipeline stage failures resolved via fallback",
		},
		[]string{"stage"},
	)

	AlertsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procx_alerts_generated_total",
			Help: "Churn alerts generated by risk level",
		},
		[]string{"risk_level"},
	)

	ActiveEscalations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "procx_active_escalations",
			Help: "Escalations currently awaiting human handling",
		},
	)

	EscalationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procx_escalations_created_total",
			Help: "Escalations created by priority",
		},
		[]string{"priority"},
	)

	DedupSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procx_dedup_skips_total",
			Help: "Pipeline runs short-circuited by the contact window",
		},
	)

	HealthScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procx_health_score",
			Help:    "Computed customer health scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ChurnRisks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procx_churn_risk",
			Help:    "Computed churn risk values",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procx_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

func Init() {
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(ScanTotal)
	prometheus.MustRegister(PipelineOutcomes)
	prometheus.MustRegister(StageFallbacks)
	prometheus.MustRegister(AlertsGenerated)
	prometheus.MustRegister(ActiveEscalations)
	prometheus.MustRegister(EscalationsCreated)
	prometheus.MustRegister(DedupSkips)
	prometheus.MustRegister(HealthScores)
	prometheus.MustRegister(ChurnRisks)
	prometheus.MustRegister(LLMTokensUsed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
