// internal/domain/report/query.go
package report

import (
	"fmt"
	"time"
)

// DefaultNearbyLimit caps proximity results when a query does not set a limit.
const DefaultNearbyLimit = 20

// NearbyQuery selects reports within RadiusMeters (great-circle) of a point.
type NearbyQuery struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	// ReportedSince, when non-zero, keeps only reports with ReportedAt >= ReportedSince.
	ReportedSince time.Time
	// PendingOnly keeps only reports whose NotifiedAt is unset.
	PendingOnly bool
	// Limit is the explicit page size. Results beyond it are dropped, which
	// caps the confirmation count seen by the decision engine.
	Limit int
}

// EffectiveLimit returns Limit or DefaultNearbyLimit when unset.
func (q NearbyQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultNearbyLimit
	}
	return q.Limit
}

func (q NearbyQuery) Validate() error {
	if q.Latitude < -90 || q.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", q.Latitude)
	}
	if q.Longitude < -180 || q.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", q.Longitude)
	}
	if q.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive, got %f", q.RadiusMeters)
	}
	return nil
}

// SinceQuery selects reports ingested at or after ReportedSince.
type SinceQuery struct {
	ReportedSince time.Time
	PendingOnly   bool
}

// LocalityQuery selects the newest reports of a locality.
type LocalityQuery struct {
	Locality string
	Limit    int
}
