package scoring

import (
	"time"

	"github.com/procx/backend/internal/customer"
)

// CohortContext is the population context a health score is computed against.
// Either field may be nil when the cohort or segment data is unavailable.
type CohortContext struct {
	// Percentile of the customer's lifetime value within the same
	// segment+tier cohort, 0-100.
	Percentile *float64
	// SegmentAvgLTV is the average lifetime value of the customer's segment.
	SegmentAvgLTV *float64
}

// HealthScorer computes the composite relationship health score from ten
// weighted factors. Every factor degrades to a neutral contribution when its
// underlying data is missing; the result is always within [0,1].
type HealthScorer struct {
	now func() time.Time
}

func NewHealthScorer() *HealthScorer {
	return &HealthScorer{now: time.Now}
}

// NewHealthScorerAt pins the scorer's clock, for deterministic recency and
// tenure buckets.
func NewHealthScorerAt(now func() time.Time) *HealthScorer {
	return &HealthScorer{now: now}
}

// Score returns the health score in [0,1]. Higher is healthier.
func (s *HealthScorer) Score(p *customer.Profile, agg *customer.Aggregates, cohort CohortContext) float64 {
	if agg == nil {
		agg = &customer.Aggregates{}
	}

	score := 0.0
	score += segmentContribution(p.Segment)
	score += percentileContribution(cohort.Percentile)
	score += tierContribution(p.LoyaltyTier)
	score += relativeValueContribution(p.LifetimeValue, cohort.SegmentAvgLTV)
	score += recencyContribution(p, s.now())
	score += orderFrequencyContribution(agg.Orders)
	score += spendingContribution(p.AvgOrderValue)
	score += supportContribution(agg.Support)
	score += npsContribution(agg.NPS)
	score += tenureContribution(p, s.now())

	return Clamp(score)
}

// Factor 1: segment strength, 15% weight.
func segmentContribution(seg customer.Segment) float64 {
	switch seg {
	case customer.SegmentVIP:
		return 0.15
	case customer.SegmentLoyal:
		return 0.12
	case customer.SegmentRegular:
		return 0.08
	case customer.SegmentOccasional:
		return 0.04
	}
	return 0.05
}

// Factor 2: lifetime value percentile within cohort, 12% weight.
func percentileContribution(percentile *float64) float64 {
	if percentile == nil {
		return 0.06
	}
	return (*percentile / 100) * 0.12
}

// Factor 3: loyalty tier, 10% weight.
func tierContribution(tier customer.LoyaltyTier) float64 {
	switch tier {
	case customer.TierPlatinum:
		return 0.10
	case customer.TierGold:
		return 0.08
	case customer.TierSilver:
		return 0.06
	case customer.TierBronze:
		return 0.04
	}
	return 0.05
}

// Factor 4: value relative to segment average, capped at 2x, 10% weight.
func relativeValueContribution(ltv float64, segmentAvg *float64) float64 {
	if segmentAvg == nil || *segmentAvg <= 0 {
		return 0.05
	}
	relative := ltv / *segmentAvg
	if relative > 2.0 {
		relative = 2.0
	}
	return (relative / 2.0) * 0.10
}

// Factor 5: recency of activity, 15% weight. Dormancy past 90 days
// contributes nothing.
func recencyContribution(p *customer.Profile, now time.Time) float64 {
	days, ok := p.DaysSinceActive(now)
	if !ok {
		return 0.08
	}
	switch {
	case days < 7:
		return 0.15
	case days < 30:
		return 0.12
	case days < 60:
		return 0.08
	case days < 90:
		return 0.04
	}
	return 0.0
}

// Factor 6: order frequency in orders/month, 12% weight.
func orderFrequencyContribution(orders *customer.OrderStats) float64 {
	if orders == nil || orders.TotalOrders == 0 {
		return 0.06
	}
	switch {
	case orders.OrdersPerMonth >= 3:
		return 0.12
	case orders.OrdersPerMonth >= 1:
		return 0.09
	case orders.OrdersPerMonth >= 0.5:
		return 0.06
	}
	return 0.03
}

// Factor 7: spending level from average order value, 10% weight.
func spendingContribution(avgOrderValue *float64) float64 {
	if avgOrderValue == nil {
		return 0.05
	}
	switch {
	case *avgOrderValue > 80:
		return 0.10
	case *avgOrderValue > 50:
		return 0.08
	case *avgOrderValue > 30:
		return 0.06
	}
	return 0.04
}

// Factor 8: support satisfaction, 8% weight. No tickets reads as no issues.
func supportContribution(support *customer.SupportStats) float64 {
	if support == nil || support.TotalTickets == 0 {
		return 0.06
	}
	if support.AvgCSAT == nil {
		return 0.04
	}
	switch {
	case *support.AvgCSAT >= 4.5:
		return 0.08
	case *support.AvgCSAT >= 3.5:
		return 0.06
	case *support.AvgCSAT >= 2.5:
		return 0.04
	}
	return 0.0
}

// Factor 9: NPS category, 5% weight.
func npsContribution(nps *customer.NPSCategory) float64 {
	if nps == nil {
		return 0.025
	}
	switch *nps {
	case customer.NPSPromoter:
		return 0.05
	case customer.NPSPassive:
		return 0.03
	}
	return 0.0
}

// Factor 10: tenure, 3% weight.
func tenureContribution(p *customer.Profile, now time.Time) float64 {
	days, ok := p.DaysSinceSignup(now)
	if !ok {
		return 0.015
	}
	switch {
	case days > 730:
		return 0.03
	case days > 365:
		return 0.025
	case days > 180:
		return 0.02
	}
	return 0.015
}

// Clamp bounds a score or risk value to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
