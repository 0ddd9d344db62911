package dedup

import (
	"context"
	"time"
)

// ContactLog remembers which customers were proactively contacted inside the
// dedup window, so repeated scans do not spam the same customer.
type ContactLog interface {
	// MarkContacted records an outreach for the customer. The entry expires
	// after the log's window.
	MarkContacted(ctx context.Context, customerID, status string) error
	// RecentlyContacted reports whether the customer was contacted within the
	// window, and when.
	RecentlyContacted(ctx context.Context, customerID string) (bool, time.Time, error)
}

type entry struct {
	ContactedAt time.Time `json:"contacted_at"`
	Status      string    `json:"status"`
}
