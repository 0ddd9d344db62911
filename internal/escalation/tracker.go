package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/procx/backend/pkg/logger"
)

var (
	ErrNoActiveEscalation = errors.New("no active escalation for customer")
	ErrInvalidTransition  = errors.New("invalid escalation status transition")
	ErrInvalidStatus      = errors.New("unknown escalation status")
)

// SkipDecision tells a scan whether a customer is already in human hands.
type SkipDecision struct {
	ShouldSkip   bool
	Reason       string
	Context      string
	EscalationID string
	AssignedTo   string
	Stale        bool
}

// Stats is a point-in-time summary of the tracker.
type Stats struct {
	Active            int            `json:"active_escalations"`
	ByStatus          map[string]int `json:"status_breakdown"`
	ByPriority        map[string]int `json:"priority_breakdown"`
	Stale             int            `json:"stale_escalations"`
	TotalHistorical   int            `json:"total_historical_escalations"`
	TotalAllTime      int            `json:"total_all_time"`
}

// Tracker holds the active escalation set in memory, guarded by a single
// mutex so create/update/skip-check are atomic across concurrent scans, and
// writes through to the Store.
type Tracker struct {
	mu         sync.Mutex
	store      Store
	active     map[string]*Record
	staleAfter time.Duration
	now        func() time.Time
}

// NewTracker loads the active set from the store. Records already in a
// terminal status are ignored during the load.
func NewTracker(ctx context.Context, store Store, staleAfter time.Duration) (*Tracker, error) {
	if staleAfter <= 0 {
		staleAfter = 7 * 24 * time.Hour
	}

	t := &Tracker{
		store:      store,
		active:     make(map[string]*Record),
		staleAfter: staleAfter,
		now:        time.Now,
	}

	records, err := store.LoadActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active escalations: %w", err)
	}
	for i := range records {
		r := records[i]
		if r.Status.Active() {
			t.active[r.CustomerID] = &r
		}
	}

	logger.Info("Escalation tracker initialized", zap.Int("active", len(t.active)))
	return t, nil
}

// Create opens a new escalation for the customer. Idempotent: when an active
// record already exists the existing escalation id is returned and nothing
// is written, so two racing scans cannot double-escalate a customer.
func (t *Tracker) Create(ctx context.Context, customerID, reason, priority string, healthScore float64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.active[customerID]; ok {
		logger.Debug("Escalation already active, returning existing id",
			zap.String("customer_id", customerID),
			zap.String("escalation_id", existing.EscalationID),
		)
		return existing.EscalationID, nil
	}

	now := t.now()
	record := &Record{
		CustomerID:   customerID,
		EscalationID: fmt.Sprintf("ESC_%s_%s", customerID, now.Format("20060102_150405")),
		CreatedAt:    now,
		Reason:       reason,
		Priority:     priority,
		HealthScore:  healthScore,
		Status:       StatusOpen,
		LastUpdated:  now,
		Interactions: []InteractionEntry{},
	}

	if err := t.store.SaveActive(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist escalation: %w", err)
	}
	t.active[customerID] = record

	logger.Info("Customer escalated",
		zap.String("customer_id", customerID),
		zap.String("escalation_id", record.EscalationID),
		zap.String("priority", priority),
		zap.String("reason", reason),
	)

	return record.EscalationID, nil
}

// UpdateStatus moves the customer's active record through the state machine,
// logging the transition on the audit trail. A terminal status archives the
// record to history and removes it from the active set.
func (t *Tracker) UpdateStatus(ctx context.Context, customerID string, status Status, notes, assignedTo string) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.active[customerID]
	if !ok {
		return ErrNoActiveEscalation
	}
	if !record.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, status)
	}

	now := t.now()
	oldStatus := record.Status
	record.Status = status
	record.LastUpdated = now
	record.Interactions = append(record.Interactions, InteractionEntry{
		Timestamp:  now,
		ActionType: "status_update",
		Details: map[string]string{
			"old_status": string(oldStatus),
			"new_status": string(status),
			"notes":      notes,
		},
		PerformedBy: assignedTo,
	})
	if notes != "" {
		record.ResolutionNotes = notes
	}
	if assignedTo != "" {
		record.AssignedTo = assignedTo
	}

	if status.Terminal() {
		record.ResolvedAt = &now
		if err := t.store.AppendHistory(ctx, record); err != nil {
			return fmt.Errorf("failed to archive escalation: %w", err)
		}
		if err := t.store.RemoveActive(ctx, customerID); err != nil {
			return fmt.Errorf("failed to remove active escalation: %w", err)
		}
		delete(t.active, customerID)

		logger.Info("Escalation resolved",
			zap.String("customer_id", customerID),
			zap.String("escalation_id", record.EscalationID),
			zap.String("from", string(oldStatus)),
			zap.String("to", string(status)),
		)
		return nil
	}

	if err := t.store.SaveActive(ctx, record); err != nil {
		return fmt.Errorf("failed to persist escalation: %w", err)
	}

	logger.Info("Escalation status updated",
		zap.String("customer_id", customerID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(status)),
	)
	return nil
}

// LogInteraction appends an audit entry without changing status.
func (t *Tracker) LogInteraction(ctx context.Context, customerID, actionType string, details map[string]string, performedBy string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.active[customerID]
	if !ok {
		return ErrNoActiveEscalation
	}

	if performedBy == "" {
		performedBy = "system"
	}

	now := t.now()
	record.Interactions = append(record.Interactions, InteractionEntry{
		Timestamp:   now,
		ActionType:  actionType,
		Details:     details,
		PerformedBy: performedBy,
	})
	record.LastUpdated = now

	if err := t.store.SaveActive(ctx, record); err != nil {
		return fmt.Errorf("failed to persist interaction: %w", err)
	}

	logger.Debug("Escalation interaction logged",
		zap.String("customer_id", customerID),
		zap.String("action_type", actionType),
		zap.String("performed_by", performedBy),
	)
	return nil
}

// ShouldSkip decides whether automated handling must stand down for the
// customer. A record past the staleness threshold does not skip but is
// flagged so the caller can re-evaluate.
func (t *Tracker) ShouldSkip(customerID string) SkipDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.active[customerID]
	if !ok {
		return SkipDecision{Context: "no active escalation"}
	}

	age := t.now().Sub(record.CreatedAt)
	days := int(age.Hours() / 24)

	if !record.Status.Active() {
		return SkipDecision{Context: "previous escalation resolved"}
	}

	if age < t.staleAfter {
		return SkipDecision{
			ShouldSkip:   true,
			Reason:       fmt.Sprintf("active escalation (%s) - being handled by human", record.Status),
			Context:      fmt.Sprintf("escalated %d days ago: %s", days, record.Reason),
			EscalationID: record.EscalationID,
			AssignedTo:   record.AssignedTo,
		}
	}

	return SkipDecision{
		Reason:       "stale escalation - may need follow-up",
		Context:      fmt.Sprintf("escalation %d days old, consider re-escalating", days),
		EscalationID: record.EscalationID,
		AssignedTo:   record.AssignedTo,
		Stale:        true,
	}
}

// Get returns a copy of the customer's active record.
func (t *Tracker) Get(customerID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.active[customerID]
	if !ok {
		return Record{}, false
	}
	return *record.clone(), true
}

// CleanOld auto-closes active records older than the threshold, archiving
// each with a generated resolution note. Returns how many were closed.
func (t *Tracker) CleanOld(ctx context.Context, threshold time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-threshold)
	closed := 0

	for customerID, record := range t.active {
		if !record.CreatedAt.Before(cutoff) {
			continue
		}

		record.Status = StatusClosed
		record.ResolutionNotes = fmt.Sprintf("auto-closed after %d days", int(threshold.Hours()/24))
		record.ResolvedAt = &now
		record.LastUpdated = now

		if err := t.store.AppendHistory(ctx, record); err != nil {
			return closed, fmt.Errorf("failed to archive stale escalation: %w", err)
		}
		if err := t.store.RemoveActive(ctx, customerID); err != nil {
			return closed, fmt.Errorf("failed to remove stale escalation: %w", err)
		}
		delete(t.active, customerID)
		closed++
	}

	if closed > 0 {
		logger.Info("Auto-closed stale escalations", zap.Int("count", closed))
	}
	return closed, nil
}

// History returns archived records for the customer, most recent first.
func (t *Tracker) History(ctx context.Context, customerID string, limit int) ([]Record, error) {
	return t.store.History(ctx, customerID, limit)
}

func (t *Tracker) Statistics(ctx context.Context) (Stats, error) {
	t.mu.Lock()

	stats := Stats{
		Active:     len(t.active),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	staleCutoff := t.now().Add(-t.staleAfter)
	for _, record := range t.active {
		stats.ByStatus[string(record.Status)]++
		stats.ByPriority[record.Priority]++
		if record.Status == StatusOpen && record.CreatedAt.Before(staleCutoff) {
			stats.Stale++
		}
	}
	t.mu.Unlock()

	historical, err := t.store.CountHistory(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count historical escalations: %w", err)
	}
	stats.TotalHistorical = historical
	stats.TotalAllTime = stats.Active + historical

	return stats, nil
}

// Active returns copies of every active record.
func (t *Tracker) Active() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.active))
	for _, record := range t.active {
		out = append(out, *record.clone())
	}
	return out
}

// ActiveSet snapshots customer id -> status for every active record.
func (t *Tracker) ActiveSet() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Status, len(t.active))
	for id, record := range t.active {
		out[id] = record.Status
	}
	return out
}
