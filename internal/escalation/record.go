package escalation

import (
	"context"
	"time"
)

// InteractionEntry is one append-only audit trail entry on a record.
type InteractionEntry struct {
	Timestamp   time.Time         `json:"timestamp"`
	ActionType  string            `json:"action_type"`
	Details     map[string]string `json:"details,omitempty"`
	PerformedBy string            `json:"performed_by"`
}

// Record is one customer hand-off to a human agent. At most one record with
// an active status exists per customer at any time.
type Record struct {
	CustomerID      string             `json:"customer_id"`
	EscalationID    string             `json:"escalation_id"`
	CreatedAt       time.Time          `json:"created_at"`
	Reason          string             `json:"reason"`
	Priority        string             `json:"priority"`
	HealthScore     float64            `json:"health_score"`
	AssignedTo      string             `json:"assigned_to,omitempty"`
	Status          Status             `json:"status"`
	ResolutionNotes string             `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	LastUpdated     time.Time          `json:"last_updated"`
	Interactions    []InteractionEntry `json:"interactions"`
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Interactions = make([]InteractionEntry, len(r.Interactions))
	copy(cp.Interactions, r.Interactions)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Store persists escalation records: an active set keyed by customer id plus
// an append-only historical log. The active set must be reconstructible on
// restart via LoadActive.
type Store interface {
	LoadActive(ctx context.Context) ([]Record, error)
	SaveActive(ctx context.Context, record *Record) error
	RemoveActive(ctx context.Context, customerID string) error
	AppendHistory(ctx context.Context, record *Record) error
	History(ctx context.Context, customerID string, limit int) ([]Record, error)
	CountHistory(ctx context.Context) (int, error)
}
