package scoring

import (
	"github.com/procx/backend/internal/customer"
)

// churnAttentionLTV is the lifetime value above which churn risk is bumped
// so high-value customers surface earlier.
const churnAttentionLTV = 10000.0

// ChurnRisk converts a health score and profile into a churn risk estimate
// in [0,1]. modelScore, when present, is the dataset's predicted churn score
// and is blended in at 30%. Pure and deterministic; the segment and value
// multipliers commute, the blend is applied last.
func ChurnRisk(health float64, p *customer.Profile, modelScore *float64) float64 {
	risk := 1.0 - Clamp(health)

	switch p.Segment {
	case customer.SegmentVIP:
		risk *= 0.8
	case customer.SegmentOccasional:
		risk *= 1.2
	}

	if p.LifetimeValue >= churnAttentionLTV {
		risk *= 1.1
	}

	if modelScore != nil {
		risk = risk*0.7 + *modelScore*0.3
	}

	return Clamp(risk)
}

// RiskLevel buckets a churn risk value for alerting.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func CategorizeRisk(risk float64) RiskLevel {
	switch {
	case risk >= 0.8:
		return RiskCritical
	case risk >= 0.7:
		return RiskHigh
	case risk >= 0.6:
		return RiskMedium
	}
	return RiskLow
}
