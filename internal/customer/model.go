package customer

import (
	"time"
)

type Segment string

const (
	SegmentVIP        Segment = "VIP"
	SegmentLoyal      Segment = "Loyal"
	SegmentRegular    Segment = "Regular"
	SegmentOccasional Segment = "Occasional"
)

// Segments lists all segments in priority order.
var Segments = []Segment{SegmentVIP, SegmentLoyal, SegmentRegular, SegmentOccasional}

type LoyaltyTier string

const (
	TierPlatinum LoyaltyTier = "Platinum"
	TierGold     LoyaltyTier = "Gold"
	TierSilver   LoyaltyTier = "Silver"
	TierBronze   LoyaltyTier = "Bronze"
)

type NPSCategory string

const (
	NPSPromoter  NPSCategory = "promoter"
	NPSPassive   NPSCategory = "passive"
	NPSDetractor NPSCategory = "detractor"
)

// HighValueLTV is the lifetime value above which a customer is treated as
// high value for action selection and escalation rules.
const HighValueLTV = 5000.0

// Profile is an immutable snapshot of a customer record for one scoring pass.
type Profile struct {
	ID                string
	FirstName         string
	LastName          string
	Email             string
	Segment           Segment
	LoyaltyTier       LoyaltyTier
	LifetimeValue     float64
	PreferredCategory string

	Phone          string
	Country        string
	Language       string
	AvgOrderValue  *float64
	SignupDate     *time.Time
	LastActiveDate *time.Time
	OptInMarketing *bool
}

func (p *Profile) FullName() string {
	return p.FirstName + " " + p.LastName
}

func (p *Profile) IsVIP() bool {
	return p.Segment == SegmentVIP
}

func (p *Profile) IsHighValue() bool {
	return p.LifetimeValue > HighValueLTV
}

// DaysSinceActive reports full days since the last recorded activity.
// The second return is false when no activity date is known.
func (p *Profile) DaysSinceActive(now time.Time) (int, bool) {
	if p.LastActiveDate == nil {
		return 0, false
	}
	return int(now.Sub(*p.LastActiveDate).Hours() / 24), true
}

func (p *Profile) DaysSinceSignup(now time.Time) (int, bool) {
	if p.SignupDate == nil {
		return 0, false
	}
	return int(now.Sub(*p.SignupDate).Hours() / 24), true
}

// OrderStats summarizes a customer's order history.
type OrderStats struct {
	TotalOrders    int
	OrdersPerMonth float64
}

// SupportStats summarizes a customer's support ticket history.
type SupportStats struct {
	TotalTickets int
	AvgCSAT      *float64
}

// ChurnSignal carries the ground-truth label and the model-predicted score
// when the dataset has them.
type ChurnSignal struct {
	Churned        bool
	PredictedScore float64
}

// Aggregates are the related tables for one customer. Any of the fields may
// be nil when the backing data is absent; scoring degrades to neutral
// contributions instead of failing.
type Aggregates struct {
	Orders  *OrderStats
	Support *SupportStats
	NPS     *NPSCategory
	Churn   *ChurnSignal
}

// SegmentStats are population statistics for one segment.
type SegmentStats struct {
	TotalCustomers   int
	AvgLifetimeValue float64
}

type EventType string

const (
	EventOrderPlaced   EventType = "order_placed"
	EventOrderDelayed  EventType = "order_delayed"
	EventComplaint     EventType = "complaint"
	EventInquiry       EventType = "inquiry"
	EventFeedback      EventType = "feedback"
	EventReturnRequest EventType = "return_request"

	// System-initiated event types.
	EventProactiveRetention EventType = "proactive_retention"
	EventProactiveUpsell    EventType = "proactive_upsell"
	EventProactiveCheckIn   EventType = "proactive_check_in"
)

// Event is one customer interaction fed into the pipeline.
type Event struct {
	ID          string
	CustomerID  string
	Type        EventType
	Timestamp   time.Time
	Description string
	Metadata    map[string]string
}

func (e *Event) IsProactive() bool {
	switch e.Type {
	case EventProactiveRetention, EventProactiveUpsell, EventProactiveCheckIn:
		return true
	}
	return false
}
