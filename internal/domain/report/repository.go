// internal/domain/report/repository.go
package report

import (
	"context"
	"errors"
	"time"
)

// Store failure taxonomy. Implementations wrap driver errors with one of these.
var (
	ErrStoreUnavailable = errors.New("report store unavailable")
	ErrStoreRejected    = errors.New("report store rejected the request")
)

// IsRetryable reports whether err is a transient store failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Repository is the geospatial report store.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Save appends a new report and returns its id.
	Save(ctx context.Context, r *Report) (string, error)
	// FindNearby returns reports inside the query radius, newest capture first, up to the query limit.
	FindNearby(ctx context.Context, q NearbyQuery) ([]*Report, error)
	// FindSince returns reports ingested at or after the query time.
	FindSince(ctx context.Context, q SinceQuery) ([]*Report, error)
	// MarkNotified stamps NotifiedAt on every listed report that is not yet notified.
	// It returns the number of reports updated.
	MarkNotified(ctx context.Context, ids []string, at time.Time) (int64, error)
	// ListByLocality returns the newest reports of a locality.
	ListByLocality(ctx context.Context, q LocalityQuery) ([]*Report, error)
	// SummarizeLocalities aggregates report counts per locality.
	SummarizeLocalities(ctx context.Context) ([]LocalitySummary, error)
}
