package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/scoring"
	"github.com/procx/backend/pkg/logger"
)

// Alert flags one customer whose churn risk cleared the detection floor.
// Alerts are immutable once produced.
type Alert struct {
	CustomerID        string            `json:"customer_id"`
	Segment           customer.Segment  `json:"segment"`
	LifetimeValue     float64           `json:"lifetime_value"`
	HealthScore       float64           `json:"health_score"`
	ChurnRisk         float64           `json:"churn_risk"`
	RiskLevel         scoring.RiskLevel `json:"risk_level"`
	Reasons           []string          `json:"reasons"`
	RecommendedAction string            `json:"recommended_action"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// Options narrows a detection pass.
type Options struct {
	MinRisk          float64
	MinLifetimeValue float64
	Segments         []customer.Segment
	// SamplePerSegment caps candidates per segment when no segment filter is
	// given, so one dominant segment cannot crowd out the rest.
	SamplePerSegment int
}

// Report summarizes one detection pass for monitoring.
type Report struct {
	TotalScanned     int                       `json:"total_scanned"`
	AlertCount       int                       `json:"alert_count"`
	AvgHealth        float64                   `json:"avg_health"`
	RiskDistribution map[scoring.RiskLevel]int `json:"risk_distribution"`
	GeneratedAt      time.Time                 `json:"generated_at"`
}

type Detector struct {
	repo   customer.Repository
	scorer *scoring.HealthScorer
	now    func() time.Time
}

func New(repo customer.Repository) *Detector {
	return &Detector{
		repo:   repo,
		scorer: scoring.NewHealthScorer(),
		now:    time.Now,
	}
}

// Detect scores the filtered population and returns alerts for every customer
// at or above the risk floor, sorted descending by churn risk with lifetime
// value breaking ties.
func (d *Detector) Detect(ctx context.Context, opts Options) ([]Alert, error) {
	profiles, err := d.repo.Scan(ctx, customer.ScanFilters{
		Segments:         opts.Segments,
		MinLifetimeValue: opts.MinLifetimeValue,
		SamplePerSegment: opts.SamplePerSegment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan customers: %w", err)
	}

	segmentAvg := make(map[customer.Segment]*float64)
	now := d.now()

	var alerts []Alert
	for i := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &profiles[i]

		health, risk, cohort, err := d.scoreOne(ctx, p, segmentAvg)
		if err != nil {
			return nil, err
		}
		if risk < opts.MinRisk {
			continue
		}

		alerts = append(alerts, Alert{
			CustomerID:        p.ID,
			Segment:           p.Segment,
			LifetimeValue:     p.LifetimeValue,
			HealthScore:       health,
			ChurnRisk:         risk,
			RiskLevel:         scoring.CategorizeRisk(risk),
			Reasons:           buildReasons(p, health, cohort),
			RecommendedAction: recommendAction(p),
			GeneratedAt:       now,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].ChurnRisk != alerts[j].ChurnRisk {
			return alerts[i].ChurnRisk > alerts[j].ChurnRisk
		}
		return alerts[i].LifetimeValue > alerts[j].LifetimeValue
	})

	logger.Info("Risk detection pass complete",
		zap.Int("scanned", len(profiles)),
		zap.Int("alerts", len(alerts)),
		zap.Float64("min_risk", opts.MinRisk),
	)

	return alerts, nil
}

// DetectInactiveHighValue flags high-value customers with no recorded
// activity for at least inactiveDays, regardless of the risk floor.
func (d *Detector) DetectInactiveHighValue(ctx context.Context, inactiveDays int) ([]Alert, error) {
	profiles, err := d.repo.Scan(ctx, customer.ScanFilters{
		MinLifetimeValue: customer.HighValueLTV,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan customers: %w", err)
	}

	segmentAvg := make(map[customer.Segment]*float64)
	now := d.now()

	var alerts []Alert
	for i := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &profiles[i]

		days, known := p.DaysSinceActive(now)
		if !known || days < inactiveDays {
			continue
		}

		health, risk, cohort, err := d.scoreOne(ctx, p, segmentAvg)
		if err != nil {
			return nil, err
		}

		reasons := buildReasons(p, health, cohort)
		reasons = append(reasons, fmt.Sprintf("high-value customer inactive for %d days", days))

		alerts = append(alerts, Alert{
			CustomerID:        p.ID,
			Segment:           p.Segment,
			LifetimeValue:     p.LifetimeValue,
			HealthScore:       health,
			ChurnRisk:         risk,
			RiskLevel:         scoring.CategorizeRisk(risk),
			Reasons:           reasons,
			RecommendedAction: recommendAction(p),
			GeneratedAt:       now,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].ChurnRisk != alerts[j].ChurnRisk {
			return alerts[i].ChurnRisk > alerts[j].ChurnRisk
		}
		return alerts[i].LifetimeValue > alerts[j].LifetimeValue
	})

	return alerts, nil
}

// MonitoringReport scores the filtered population without alerting, for
// dashboards.
func (d *Detector) MonitoringReport(ctx context.Context, opts Options) (*Report, error) {
	profiles, err := d.repo.Scan(ctx, customer.ScanFilters{
		Segments:         opts.Segments,
		MinLifetimeValue: opts.MinLifetimeValue,
		SamplePerSegment: opts.SamplePerSegment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan customers: %w", err)
	}

	report := &Report{
		TotalScanned:     len(profiles),
		RiskDistribution: make(map[scoring.RiskLevel]int),
		GeneratedAt:      d.now(),
	}

	segmentAvg := make(map[customer.Segment]*float64)
	var healthSum float64
	for i := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &profiles[i]

		health, risk, _, err := d.scoreOne(ctx, p, segmentAvg)
		if err != nil {
			return nil, err
		}
		healthSum += health
		report.RiskDistribution[scoring.CategorizeRisk(risk)]++
		if risk >= opts.MinRisk {
			report.AlertCount++
		}
	}
	if len(profiles) > 0 {
		report.AvgHealth = healthSum / float64(len(profiles))
	}

	return report, nil
}

// ScoreCustomer computes health and churn risk for a single customer using
// the same cohort context a detection pass would.
func (d *Detector) ScoreCustomer(ctx context.Context, p *customer.Profile) (health, risk float64, err error) {
	health, risk, _, err = d.scoreOne(ctx, p, make(map[customer.Segment]*float64))
	return health, risk, err
}

func (d *Detector) scoreOne(ctx context.Context, p *customer.Profile, segmentAvg map[customer.Segment]*float64) (health, risk float64, cohort scoring.CohortContext, err error) {
	agg, err := d.repo.GetAggregates(ctx, p.ID)
	if err != nil {
		return 0, 0, cohort, fmt.Errorf("failed to get aggregates for %s: %w", p.ID, err)
	}

	if pct, ok, perr := d.repo.CohortPercentile(ctx, p); perr != nil {
		return 0, 0, cohort, fmt.Errorf("failed to get cohort percentile for %s: %w", p.ID, perr)
	} else if ok {
		cohort.Percentile = &pct
	}

	avgLTV, ok := segmentAvg[p.Segment]
	if !ok {
		stats, serr := d.repo.SegmentStats(ctx, p.Segment)
		if serr != nil {
			return 0, 0, cohort, fmt.Errorf("failed to get segment stats: %w", serr)
		}
		if stats != nil {
			avgLTV = &stats.AvgLifetimeValue
		}
		segmentAvg[p.Segment] = avgLTV
	}
	cohort.SegmentAvgLTV = avgLTV

	health = d.scorer.Score(p, agg, cohort)

	var modelScore *float64
	if agg != nil && agg.Churn != nil {
		modelScore = &agg.Churn.PredictedScore
	}
	risk = scoring.ChurnRisk(health, p, modelScore)

	return health, risk, cohort, nil
}

func buildReasons(p *customer.Profile, health float64, cohort scoring.CohortContext) []string {
	var reasons []string
	if health < 0.4 {
		reasons = append(reasons, "low health score")
	}
	if p.Segment == customer.SegmentVIP || p.Segment == customer.SegmentLoyal {
		reasons = append(reasons, "high-value segment at risk")
	}
	if cohort.Percentile != nil && *cohort.Percentile < 30 {
		reasons = append(reasons, "below-average in cohort")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "elevated churn risk")
	}
	return reasons
}

func recommendAction(p *customer.Profile) string {
	switch {
	case p.IsVIP():
		return "immediate_personal_outreach"
	case p.IsHighValue():
		return "retention_offer_premium"
	case p.Segment == customer.SegmentLoyal:
		return "retention_offer_standard"
	default:
		return "engagement_campaign"
	}
}
