package pipeline

import (
	"time"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/scoring"
)

// Statuses of a finished pipeline run.
const (
	StatusSent      = "sent"
	StatusEscalated = "escalated"
	StatusSkipped   = "skipped"
)

// Stage names as they appear on the trail.
const (
	StageContext    = "context"
	StagePattern    = "pattern"
	StageDecision   = "decision"
	StageGeneration = "generation"
)

// StageResult records how one stage finished. A failed stage still leaves
// usable values on the context via its fallback, so Err being set never means
// the run aborted.
type StageResult struct {
	Stage        string `json:"stage"`
	FallbackUsed bool   `json:"fallback_used"`
	Err          string `json:"error,omitempty"`
}

// ChannelPlan is the delivery plan for the outreach.
type ChannelPlan struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback"`
}

// ComplianceInfo captures the marketing-consent state the chosen channel
// requires.
type ComplianceInfo struct {
	OptInRequired bool `json:"opt_in_required"`
	OptedIn       bool `json:"opted_in"`
}

// Context is the mutable working state for one customer's run. It is owned by
// exactly one run and discarded once the Result is extracted.
type Context struct {
	Profile    *customer.Profile
	Aggregates *customer.Aggregates
	Event      *customer.Event

	// Stage 1.
	Sentiment string
	Urgency   int
	Summary   string

	// Stage 2.
	HealthScore  float64
	ChurnRisk    float64
	RiskLevel    scoring.RiskLevel
	PatternNotes []string

	// Stage 3.
	EscalationNeeded bool
	EscalationReason string
	Priority         string
	ActionType       string
	OfferType        string
	Channel          ChannelPlan
	Compliance       ComplianceInfo

	// Stage 4.
	Message string

	Trail []StageResult
}

func (c *Context) recordStage(stage string, err error) {
	result := StageResult{Stage: stage}
	if err != nil {
		result.FallbackUsed = true
		result.Err = err.Error()
	}
	c.Trail = append(c.Trail, result)
}

// Result is the caller-facing outcome of one run.
type Result struct {
	CustomerID   string            `json:"customer_id"`
	Status       string            `json:"status"`
	SkipReason   string            `json:"skip_reason,omitempty"`
	HealthScore  float64           `json:"health_score"`
	ChurnRisk    float64           `json:"churn_risk"`
	RiskLevel    scoring.RiskLevel `json:"risk_level,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	ActionType   string            `json:"action_type,omitempty"`
	Channel      ChannelPlan       `json:"channel"`
	Message      string            `json:"message,omitempty"`
	EscalationID string            `json:"escalation_id,omitempty"`
	ProcessedAt  time.Time         `json:"processed_at"`
	Trail        []StageResult     `json:"trail,omitempty"`
}
