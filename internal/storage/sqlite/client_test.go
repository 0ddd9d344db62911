package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/escalation"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "procx_test.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })

	return client
}

func floatPtr(v float64) *float64    { return &v }
func boolPtr(v bool) *bool           { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func seedCustomer(t *testing.T, client *Client, id string, segment customer.Segment, tier customer.LoyaltyTier, ltv float64) {
	t.Helper()

	err := client.UpsertCustomer(context.Background(), &customer.Profile{
		ID:            id,
		FirstName:     "Test",
		LastName:      id,
		Email:         id + "@example.com",
		Segment:       segment,
		LoyaltyTier:   tier,
		LifetimeValue: ltv,
	})
	require.NoError(t, err)
}

func TestCustomerRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	signup := time.Now().Add(-400 * 24 * time.Hour).Truncate(time.Second)
	lastActive := time.Now().Add(-5 * 24 * time.Hour).Truncate(time.Second)

	seeded := &customer.Profile{
		ID:                "C001",
		FirstName:         "Ada",
		LastName:          "Moreno",
		Email:             "ada@example.com",
		Segment:           customer.SegmentVIP,
		LoyaltyTier:       customer.TierPlatinum,
		LifetimeValue:     12000,
		PreferredCategory: "electronics",
		Phone:             "+1555000",
		Country:           "US",
		Language:          "en",
		AvgOrderValue:     floatPtr(310.5),
		SignupDate:        timePtr(signup),
		LastActiveDate:    timePtr(lastActive),
		OptInMarketing:    boolPtr(true),
	}
	require.NoError(t, client.UpsertCustomer(ctx, seeded))

	got, err := client.GetByID(ctx, "C001")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, customer.SegmentVIP, got.Segment)
	assert.Equal(t, customer.TierPlatinum, got.LoyaltyTier)
	assert.Equal(t, 12000.0, got.LifetimeValue)
	assert.Equal(t, "electronics", got.PreferredCategory)
	require.NotNil(t, got.AvgOrderValue)
	assert.InDelta(t, 310.5, *got.AvgOrderValue, 1e-9)
	require.NotNil(t, got.SignupDate)
	assert.Equal(t, signup.Unix(), got.SignupDate.Unix())
	require.NotNil(t, got.LastActiveDate)
	assert.Equal(t, lastActive.Unix(), got.LastActiveDate.Unix())
	require.NotNil(t, got.OptInMarketing)
	assert.True(t, *got.OptInMarketing)

	// Re-seeding the same id updates the mutable columns.
	seeded.LifetimeValue = 13500
	seeded.Segment = customer.SegmentLoyal
	require.NoError(t, client.UpsertCustomer(ctx, seeded))
	got, err = client.GetByID(ctx, "C001")
	require.NoError(t, err)
	assert.Equal(t, 13500.0, got.LifetimeValue)
	assert.Equal(t, customer.SegmentLoyal, got.Segment)

	_, err = client.GetByID(ctx, "MISSING")
	assert.ErrorIs(t, err, customer.ErrNotFound)
}

func TestAggregatesFromRelatedTables(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	seedCustomer(t, client, "C100", customer.SegmentRegular, customer.TierSilver, 1500)
	seedCustomer(t, client, "C200", customer.SegmentRegular, customer.TierSilver, 900)

	firstOrder := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, client.InsertOrder(ctx, "O1", "C100", 40, firstOrder))
	require.NoError(t, client.InsertOrder(ctx, "O2", "C100", 55, time.Now().Add(-6*24*time.Hour)))
	require.NoError(t, client.InsertOrder(ctx, "O3", "C100", 70, time.Now().Add(-24*time.Hour)))

	require.NoError(t, client.InsertSupportTicket(ctx, "T1", "C100", floatPtr(2.0), time.Now().Add(-8*24*time.Hour)))
	require.NoError(t, client.InsertSupportTicket(ctx, "T2", "C100", floatPtr(3.0), time.Now().Add(-3*24*time.Hour)))
	require.NoError(t, client.InsertSupportTicket(ctx, "T3", "C100", nil, time.Now().Add(-24*time.Hour)))

	require.NoError(t, client.InsertNPSResponse(ctx, "C100", 9, time.Now().Add(-60*24*time.Hour)))
	require.NoError(t, client.InsertNPSResponse(ctx, "C100", 3, time.Now().Add(-2*24*time.Hour)))

	require.NoError(t, client.UpsertChurnLabel(ctx, "C100", false, 0.42))

	agg, err := client.GetAggregates(ctx, "C100")
	require.NoError(t, err)

	require.NotNil(t, agg.Orders)
	assert.Equal(t, 3, agg.Orders.TotalOrders)
	// First order is under a month old, so the span clamps to one month.
	assert.InDelta(t, 3.0, agg.Orders.OrdersPerMonth, 1e-9)

	require.NotNil(t, agg.Support)
	assert.Equal(t, 3, agg.Support.TotalTickets)
	require.NotNil(t, agg.Support.AvgCSAT)
	assert.InDelta(t, 2.5, *agg.Support.AvgCSAT, 1e-9)

	require.NotNil(t, agg.NPS)
	assert.Equal(t, customer.NPSDetractor, *agg.NPS)

	require.NotNil(t, agg.Churn)
	assert.False(t, agg.Churn.Churned)
	assert.InDelta(t, 0.42, agg.Churn.PredictedScore, 1e-9)

	// No related rows: every member nil, never an error.
	bare, err := client.GetAggregates(ctx, "C200")
	require.NoError(t, err)
	assert.Nil(t, bare.Orders)
	assert.Nil(t, bare.Support)
	assert.Nil(t, bare.NPS)
	assert.Nil(t, bare.Churn)
}

func TestScanFiltersAndSampling(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	seedCustomer(t, client, "V1", customer.SegmentVIP, customer.TierGold, 9000)
	seedCustomer(t, client, "V2", customer.SegmentVIP, customer.TierGold, 7000)
	seedCustomer(t, client, "L1", customer.SegmentLoyal, customer.TierSilver, 4000)
	seedCustomer(t, client, "R1", customer.SegmentRegular, customer.TierBronze, 900)
	seedCustomer(t, client, "R2", customer.SegmentRegular, customer.TierBronze, 1500)
	seedCustomer(t, client, "O1", customer.SegmentOccasional, customer.TierBronze, 2000)

	vips, err := client.Scan(ctx, customer.ScanFilters{
		Segments:         []customer.Segment{customer.SegmentVIP},
		MinLifetimeValue: 1000,
	})
	require.NoError(t, err)
	require.Len(t, vips, 2)
	assert.Equal(t, "V1", vips[0].ID)
	assert.Equal(t, "V2", vips[1].ID)

	sampled, err := client.Scan(ctx, customer.ScanFilters{
		MinLifetimeValue: 1000,
		SamplePerSegment: 1,
	})
	require.NoError(t, err)
	require.Len(t, sampled, 4)
	assert.Equal(t, "V1", sampled[0].ID)
	assert.Equal(t, "L1", sampled[1].ID)
	assert.Equal(t, "R2", sampled[2].ID)
	assert.Equal(t, "O1", sampled[3].ID)
}

func TestSegmentStatsAndCohortPercentile(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	seedCustomer(t, client, "V1", customer.SegmentVIP, customer.TierGold, 9000)
	seedCustomer(t, client, "V2", customer.SegmentVIP, customer.TierGold, 7000)

	stats, err := client.SegmentStats(ctx, customer.SegmentVIP)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TotalCustomers)
	assert.InDelta(t, 8000.0, stats.AvgLifetimeValue, 1e-9)

	empty, err := client.SegmentStats(ctx, customer.SegmentOccasional)
	require.NoError(t, err)
	assert.Nil(t, empty)

	pct, ok, err := client.CohortPercentile(ctx, &customer.Profile{
		Segment: customer.SegmentVIP, LoyaltyTier: customer.TierGold, LifetimeValue: 9000,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 50.0, pct, 1e-9)

	_, ok, err = client.CohortPercentile(ctx, &customer.Profile{
		Segment: customer.SegmentVIP, LoyaltyTier: customer.TierBronze, LifetimeValue: 100,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEscalationSurvivesRestart(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first, err := escalation.NewTracker(ctx, client, 7*24*time.Hour)
	require.NoError(t, err)

	id1, err := first.Create(ctx, "C100", "churn risk critical", "critical", 0.22)
	require.NoError(t, err)
	_, err = first.Create(ctx, "C200", "VIP customer with negative sentiment", "critical", 0.31)
	require.NoError(t, err)

	require.NoError(t, first.UpdateStatus(ctx, "C200", escalation.StatusInProgress, "picked up", "agent-7"))
	require.NoError(t, first.LogInteraction(ctx, "C100", "email_sent", map[string]string{"channel": "email"}, ""))

	// A rebuilt tracker over the same database sees the identical active set.
	second, err := escalation.NewTracker(ctx, client, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first.ActiveSet(), second.ActiveSet())

	original, ok := first.Get("C100")
	require.True(t, ok)
	reloaded, ok := second.Get("C100")
	require.True(t, ok)
	assert.Equal(t, id1, reloaded.EscalationID)
	assert.Equal(t, "churn risk critical", reloaded.Reason)
	assert.Equal(t, "critical", reloaded.Priority)
	assert.InDelta(t, 0.22, reloaded.HealthScore, 1e-9)
	assert.Equal(t, escalation.StatusOpen, reloaded.Status)
	assert.Equal(t, original.CreatedAt.Unix(), reloaded.CreatedAt.Unix())
	require.Len(t, reloaded.Interactions, 1)
	assert.Equal(t, "email_sent", reloaded.Interactions[0].ActionType)
	assert.Equal(t, map[string]string{"channel": "email"}, reloaded.Interactions[0].Details)
	assert.Equal(t, "system", reloaded.Interactions[0].PerformedBy)

	inProgress, ok := second.Get("C200")
	require.True(t, ok)
	assert.Equal(t, escalation.StatusInProgress, inProgress.Status)
	assert.Equal(t, "agent-7", inProgress.AssignedTo)
	require.Len(t, inProgress.Interactions, 1)
	assert.Equal(t, "status_update", inProgress.Interactions[0].ActionType)

	// Resolution through the rebuilt tracker archives and drops the record.
	require.NoError(t, second.UpdateStatus(ctx, "C200", escalation.StatusResolved, "offer accepted", "agent-7"))

	third, err := escalation.NewTracker(ctx, client, 7*24*time.Hour)
	require.NoError(t, err)
	active := third.ActiveSet()
	require.Len(t, active, 1)
	assert.Equal(t, escalation.StatusOpen, active["C100"])

	history, err := third.History(ctx, "C200", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, escalation.StatusResolved, history[0].Status)
	assert.Equal(t, "offer accepted", history[0].ResolutionNotes)
	require.NotNil(t, history[0].ResolvedAt)
	require.Len(t, history[0].Interactions, 2)

	stats, err := third.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.TotalHistorical)
}
