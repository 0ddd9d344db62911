package customer

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("customer not found")

// ScanFilters narrows a bulk scan over the customer population.
type ScanFilters struct {
	Segments         []Segment
	MinLifetimeValue float64
	// SamplePerSegment caps how many customers are taken from each segment
	// when no segment filter is given, to keep large scans balanced.
	SamplePerSegment int
}

// Repository supplies customer records and related aggregates. Implementations
// must tolerate missing optional data: GetAggregates returns partial
// Aggregates with nil members rather than an error.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetAggregates(ctx context.Context, id string) (*Aggregates, error)
	Scan(ctx context.Context, filters ScanFilters) ([]Profile, error)

	// SegmentStats returns nil (not an error) for an unknown segment.
	SegmentStats(ctx context.Context, segment Segment) (*SegmentStats, error)
	// CohortPercentile positions a customer's lifetime value within the
	// same segment+tier cohort, 0-100. ok is false when the cohort is empty.
	CohortPercentile(ctx context.Context, p *Profile) (percentile float64, ok bool, err error)
}
