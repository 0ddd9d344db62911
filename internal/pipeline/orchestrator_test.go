package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/dedup"
	"github.com/procx/backend/internal/detector"
	"github.com/procx/backend/internal/escalation"
	"github.com/procx/backend/internal/llm"
)

type mockGen struct {
	mu           sync.Mutex
	analyzeCalls int
	planCalls    int
	composeCalls int
	fail         bool
	analysis     llm.ContextAnalysis
}

func newMockGen() *mockGen {
	return &mockGen{
		analysis: llm.ContextAnalysis{Sentiment: "neutral", Urgency: 2, Summary: "routine check-in"},
	}
}

func (g *mockGen) AnalyzeContext(ctx context.Context, profile *customer.Profile, event *customer.Event) (*llm.ContextAnalysis, error) {
	g.mu.Lock()
	g.analyzeCalls++
	g.mu.Unlock()
	if g.fail {
		return nil, errors.New("generation service unavailable")
	}
	a := g.analysis
	return &a, nil
}

func (g *mockGen) PlanAction(ctx context.Context, profile *customer.Profile, analysis *llm.ContextAnalysis, churnRisk float64) (*llm.ActionPlan, error) {
	g.mu.Lock()
	g.planCalls++
	g.mu.Unlock()
	if g.fail {
		return nil, errors.New("generation service unavailable")
	}
	return &llm.ActionPlan{ActionType: "retention_offer", Channel: "email", OfferType: "standard"}, nil
}

func (g *mockGen) ComposeMessage(ctx context.Context, profile *customer.Profile, plan *llm.ActionPlan, analysis *llm.ContextAnalysis) (string, error) {
	g.mu.Lock()
	g.composeCalls++
	g.mu.Unlock()
	if g.fail {
		return "", errors.New("generation service unavailable")
	}
	return "Hi " + profile.FirstName + ", we have an offer for you.", nil
}

func (g *mockGen) counts() (analyze, plan, compose int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.analyzeCalls, g.planCalls, g.composeCalls
}

type stubRepo struct {
	profiles    []customer.Profile
	aggs        map[string]*customer.Aggregates
	percentiles map[string]float64
	segStats    map[customer.Segment]*customer.SegmentStats
	failGetByID map[string]bool
}

func (r *stubRepo) GetByID(ctx context.Context, id string) (*customer.Profile, error) {
	if r.failGetByID[id] {
		return nil, errors.New("storage unreachable")
	}
	for i := range r.profiles {
		if r.profiles[i].ID == id {
			return &r.profiles[i], nil
		}
	}
	return nil, customer.ErrNotFound
}

func (r *stubRepo) GetAggregates(ctx context.Context, id string) (*customer.Aggregates, error) {
	if agg, ok := r.aggs[id]; ok {
		return agg, nil
	}
	return &customer.Aggregates{}, nil
}

func (r *stubRepo) Scan(ctx context.Context, filters customer.ScanFilters) ([]customer.Profile, error) {
	var out []customer.Profile
	for _, p := range r.profiles {
		if p.LifetimeValue >= filters.MinLifetimeValue {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubRepo) SegmentStats(ctx context.Context, segment customer.Segment) (*customer.SegmentStats, error) {
	return r.segStats[segment], nil
}

func (r *stubRepo) CohortPercentile(ctx context.Context, p *customer.Profile) (float64, bool, error) {
	if pct, ok := r.percentiles[p.ID]; ok {
		return pct, true, nil
	}
	return 0, false, nil
}

type memEscStore struct {
	mu      sync.Mutex
	active  map[string]escalation.Record
	history []escalation.Record
}

func newMemEscStore() *memEscStore {
	return &memEscStore{active: make(map[string]escalation.Record)}
}

func (s *memEscStore) LoadActive(ctx context.Context) ([]escalation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]escalation.Record, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, r)
	}
	return out, nil
}

func (s *memEscStore) SaveActive(ctx context.Context, record *escalation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[record.CustomerID] = *record
	return nil
}

func (s *memEscStore) RemoveActive(ctx context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, customerID)
	return nil
}

func (s *memEscStore) AppendHistory(ctx context.Context, record *escalation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *record)
	return nil
}

func (s *memEscStore) History(ctx context.Context, customerID string, limit int) ([]escalation.Record, error) {
	return nil, nil
}

func (s *memEscStore) CountHistory(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history), nil
}

func testOrchestrator(t *testing.T, repo *stubRepo, gen Generator) (*Orchestrator, *escalation.Tracker) {
	t.Helper()
	tracker, err := escalation.NewTracker(context.Background(), newMemEscStore(), 7*24*time.Hour)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MinChurnRisk = 0.01
	cfg.ScanConcurrency = 2

	o := NewOrchestrator(repo, detector.New(repo), tracker, dedup.NewMemoryLog(24*time.Hour), gen, cfg)
	return o, tracker
}

func healthyRegular(id string) customer.Profile {
	active := time.Now().AddDate(0, 0, -3)
	return customer.Profile{
		ID: id, FirstName: "Sam", Segment: customer.SegmentRegular,
		LoyaltyTier: customer.TierSilver, LifetimeValue: 1500, LastActiveDate: &active,
	}
}

func TestProcessDedupWindowSkipsGenerator(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepo{profiles: []customer.Profile{healthyRegular("C1")}}
	gen := newMockGen()
	o, _ := testOrchestrator(t, repo, gen)

	first, err := o.Process(ctx, "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, first.Status)

	second, err := o.Process(ctx, "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Contains(t, second.SkipReason, "dedup window")

	analyze, plan, compose := gen.counts()
	assert.Equal(t, 1, analyze, "second run must never invoke the collaborator")
	assert.Equal(t, 1, plan)
	assert.Equal(t, 1, compose)
}

func TestProcessSkipsActivelyEscalated(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepo{profiles: []customer.Profile{healthyRegular("C2")}}
	gen := newMockGen()
	o, tracker := testOrchestrator(t, repo, gen)

	escID, err := tracker.Create(ctx, "C2", "manual escalation", "high", 0.4)
	require.NoError(t, err)

	result, err := o.Process(ctx, "C2", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, escID, result.EscalationID)
	assert.Contains(t, result.SkipReason, "human")

	analyze, _, _ := gen.counts()
	assert.Zero(t, analyze)
}

func TestProcessEscalatesAtRiskVIP(t *testing.T) {
	ctx := context.Background()

	dormant := time.Now().AddDate(0, 0, -100)
	lowCSAT := 2.0
	detractor := customer.NPSDetractor
	avgOrder := 20.0
	repo := &stubRepo{
		profiles: []customer.Profile{{
			ID: "VIP1", FirstName: "Ada", Segment: customer.SegmentVIP,
			LoyaltyTier: customer.TierBronze, LifetimeValue: 10000,
			AvgOrderValue: &avgOrder, LastActiveDate: &dormant, SignupDate: &dormant,
		}},
		aggs: map[string]*customer.Aggregates{
			"VIP1": {
				Orders:  &customer.OrderStats{TotalOrders: 3, OrdersPerMonth: 0.2},
				Support: &customer.SupportStats{TotalTickets: 4, AvgCSAT: &lowCSAT},
				NPS:     &detractor,
			},
		},
		percentiles: map[string]float64{"VIP1": 0},
		segStats: map[customer.Segment]*customer.SegmentStats{
			customer.SegmentVIP: {TotalCustomers: 10, AvgLifetimeValue: 40000},
		},
	}
	gen := newMockGen()
	o, tracker := testOrchestrator(t, repo, gen)

	result, err := o.Process(ctx, "VIP1", nil)
	require.NoError(t, err)

	assert.Less(t, result.HealthScore, 0.3)
	assert.Greater(t, result.ChurnRisk, 0.6)
	assert.Equal(t, StatusEscalated, result.Status)
	assert.Equal(t, "critical", result.Priority)
	assert.NotEmpty(t, result.EscalationID)
	assert.NotEmpty(t, result.Message, "escalated runs still produce content for the agent")

	record, ok := tracker.Get("VIP1")
	require.True(t, ok)
	assert.Equal(t, "repeated poor satisfaction history", record.Reason)
}

func TestProcessHealthyOccasionalNotEscalated(t *testing.T) {
	ctx := context.Background()

	active := time.Now().AddDate(0, 0, -2)
	signup := time.Now().AddDate(0, 0, -900)
	highCSAT := 4.8
	promoter := customer.NPSPromoter
	avgOrder := 95.0
	repo := &stubRepo{
		profiles: []customer.Profile{{
			ID: "OCC1", FirstName: "Kim", Segment: customer.SegmentOccasional,
			LoyaltyTier: customer.TierPlatinum, LifetimeValue: 200,
			AvgOrderValue: &avgOrder, LastActiveDate: &active, SignupDate: &signup,
		}},
		aggs: map[string]*customer.Aggregates{
			"OCC1": {
				Orders:  &customer.OrderStats{TotalOrders: 40, OrdersPerMonth: 3.5},
				Support: &customer.SupportStats{TotalTickets: 1, AvgCSAT: &highCSAT},
				NPS:     &promoter,
			},
		},
		percentiles: map[string]float64{"OCC1": 95},
		segStats: map[customer.Segment]*customer.SegmentStats{
			customer.SegmentOccasional: {TotalCustomers: 50, AvgLifetimeValue: 100},
		},
	}
	gen := newMockGen()
	o, _ := testOrchestrator(t, repo, gen)

	result, err := o.Process(ctx, "OCC1", nil)
	require.NoError(t, err)

	assert.Greater(t, result.HealthScore, 0.8)
	assert.Less(t, result.ChurnRisk, 0.2)
	assert.Equal(t, StatusSent, result.Status)
	assert.Empty(t, result.EscalationID)
}

func TestProcessAllStagesFallBack(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepo{profiles: []customer.Profile{healthyRegular("C3")}}
	gen := newMockGen()
	gen.fail = true
	o, _ := testOrchestrator(t, repo, gen)

	result, err := o.Process(ctx, "C3", nil)
	require.NoError(t, err, "collaborator failure must never fail the run")

	assert.Equal(t, StatusSent, result.Status)
	assert.NotEmpty(t, result.Message, "fallback content must always exist")
	assert.Contains(t, result.Message, "Sam")
	assert.Equal(t, "email", result.Channel.Primary)

	fallbacks := 0
	for _, stage := range result.Trail {
		if stage.FallbackUsed {
			fallbacks++
		}
	}
	assert.Equal(t, 3, fallbacks, "context, decision and generation stages all degraded")
}

func TestRunScanIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepo{
		profiles: []customer.Profile{
			healthyRegular("S1"),
			healthyRegular("S2"),
			healthyRegular("S_BAD"),
		},
		failGetByID: map[string]bool{"S_BAD": true},
	}
	gen := newMockGen()
	o, _ := testOrchestrator(t, repo, gen)

	summary, err := o.RunScan(ctx, ScanOptions{MinRisk: 0.01, MinLifetimeValue: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.AlertsDetected)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Failures["S_BAD"], "storage unreachable")
	assert.False(t, summary.Cancelled)
	assert.Len(t, summary.Results, 2)
}

func TestRunScanHonorsInterventionCap(t *testing.T) {
	ctx := context.Background()
	repo := &stubRepo{
		profiles: []customer.Profile{
			healthyRegular("T1"), healthyRegular("T2"),
			healthyRegular("T3"), healthyRegular("T4"),
		},
	}
	gen := newMockGen()
	o, _ := testOrchestrator(t, repo, gen)

	summary, err := o.RunScan(ctx, ScanOptions{MinRisk: 0.01, MinLifetimeValue: 1, MaxInterventions: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.AlertsDetected)
	assert.Equal(t, 2, summary.Processed, "only the top alerts are pipelined")
}

func TestRunScanCancelledBeforeDispatch(t *testing.T) {
	repo := &stubRepo{profiles: []customer.Profile{healthyRegular("X1"), healthyRegular("X2")}}
	gen := newMockGen()
	o, _ := testOrchestrator(t, repo, gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.RunScan(ctx, ScanOptions{MinRisk: 0.01, MinLifetimeValue: 1})
	if err != nil {
		// Detection may observe the cancelled context first; either outcome
		// is acceptable as long as no customer is processed.
		return
	}
	assert.True(t, summary.Cancelled)
	assert.Zero(t, summary.Sent)
}
