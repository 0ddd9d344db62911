package pipeline

import (
	"fmt"
	"strings"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/llm"
)

func isNegative(sentiment string) bool {
	return sentiment == "negative" || sentiment == "very_negative"
}

// decideEscalation applies the rule table before any external call is made,
// so a dead Generation collaborator can never suppress a hand-off. First
// matching rule wins.
func decideEscalation(p *customer.Profile, agg *customer.Aggregates, sentiment string, urgency int, churnRisk float64, cfg Config) (bool, string) {
	if urgency >= cfg.UrgencyThreshold {
		return true, fmt.Sprintf("urgency %d requires human attention", urgency)
	}
	if p.IsVIP() && isNegative(sentiment) {
		return true, "VIP customer with negative sentiment"
	}
	if p.IsVIP() && churnRisk >= cfg.VIPChurnEscalation {
		return true, "VIP at critical churn risk"
	}
	if churnRisk >= cfg.CriticalChurnEscalation {
		return true, "churn risk critical"
	}
	if p.IsHighValue() && churnRisk >= cfg.ChurnRiskThreshold {
		return true, "high-value customer above churn threshold"
	}
	if agg != nil && agg.Support != nil &&
		agg.Support.TotalTickets >= 2 &&
		agg.Support.AvgCSAT != nil && *agg.Support.AvgCSAT < 2.5 {
		return true, "repeated poor satisfaction history"
	}
	return false, ""
}

// decidePriority derives the intervention priority from a fixed precedence
// table over segment, urgency, churn risk and sentiment.
func decidePriority(p *customer.Profile, sentiment string, urgency int, churnRisk float64) string {
	switch {
	case p.IsVIP():
		return "critical"
	case urgency >= 4:
		return "critical"
	case churnRisk >= 0.8:
		return "critical"
	case (p.Segment == customer.SegmentLoyal || p.IsHighValue()) && urgency >= 3:
		return "high"
	case sentiment == "very_negative":
		return "high"
	case urgency >= 2:
		return "medium"
	default:
		return "low"
	}
}

// fallbackPlan is the deterministic stand-in when the collaborator cannot
// produce an action plan.
func fallbackPlan(p *customer.Profile) *llm.ActionPlan {
	switch {
	case p.IsVIP():
		return &llm.ActionPlan{
			ActionType: "personal_outreach",
			Channel:    "phone",
			OfferType:  "premium",
			Reasoning:  "rule-derived plan for VIP customer",
		}
	case p.IsHighValue():
		return &llm.ActionPlan{
			ActionType: "retention_offer",
			Channel:    "email",
			OfferType:  "premium",
			Reasoning:  "rule-derived plan for high-value customer",
		}
	case p.Segment == customer.SegmentLoyal:
		return &llm.ActionPlan{
			ActionType: "retention_offer",
			Channel:    "email",
			OfferType:  "standard",
			Reasoning:  "rule-derived plan for loyal customer",
		}
	default:
		return &llm.ActionPlan{
			ActionType: "engagement_campaign",
			Channel:    "email",
			OfferType:  "none",
			Reasoning:  "rule-derived default plan",
		}
	}
}

// fallbackMessage templates a customer-facing message from structured fields
// so a deliverable artifact always exists, even with the collaborator down.
func fallbackMessage(p *customer.Profile, sentiment string, urgency int, escalated bool) string {
	var b strings.Builder

	name := p.FirstName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,", name)

	if p.LoyaltyTier == customer.TierPlatinum || p.LoyaltyTier == customer.TierGold {
		fmt.Fprintf(&b, " thank you for being one of our %s members.", strings.ToLower(string(p.LoyaltyTier)))
	} else {
		b.WriteString(" thank you for being with us.")
	}

	if isNegative(sentiment) {
		b.WriteString(" We're sorry your recent experience didn't meet expectations, and we want to make it right.")
	} else {
		b.WriteString(" We wanted to check in and make sure everything is going well for you.")
	}

	if escalated {
		b.WriteString(" A dedicated member of our team will reach out to you personally.")
	}

	switch {
	case urgency >= 4:
		b.WriteString(" You'll hear from us within the next few hours.")
	case urgency >= 2:
		b.WriteString(" You'll hear from us within 24 hours.")
	default:
		b.WriteString(" We're here whenever you need us.")
	}

	b.WriteString(" Thank you for your continued trust.")
	return b.String()
}
