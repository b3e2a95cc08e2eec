// internal/domain/notification/alert.go
package notification

import (
	"fmt"
	"strings"

	"road_anomaly_reconciler/internal/domain/report"
)

// Alert is the single representative message dispatched for one locality in a cycle.
type Alert struct {
	CycleID     string
	Locality    string
	ReportIDs   []string
	Clusters    int
	Latitude    float64 // representative point: the most recently captured report
	Longitude   float64
	AnomalyType string

	// MediaReference belongs to the representative report; MediaURL is its signed form.
	MediaReference string
	MediaURL       string
}

// NewAlert builds the locality alert from the reports collected for it.
// reports must be non-empty.
func NewAlert(cycleID, locality string, reports []*report.Report, clusters int) Alert {
	rep := reports[0]
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
		if r.CapturedAt.After(rep.CapturedAt) {
			rep = r
		}
	}
	return Alert{
		CycleID:     cycleID,
		Locality:    locality,
		ReportIDs:   ids,
		Clusters:    clusters,
		Latitude:    rep.Location.Latitude,
		Longitude:   rep.Location.Longitude,
		AnomalyType: rep.AnomalyType,

		MediaReference: rep.MediaReference,
	}
}

// Text renders the human-readable alert body shared by all channels.
func (a Alert) Text() string {
	var b strings.Builder
	kind := a.AnomalyType
	if kind == "" {
		kind = "road anomaly"
	}
	fmt.Fprintf(&b, "Road defect alert for %s: %d report(s) of %s across %d location(s).", a.Locality, len(a.ReportIDs), kind, a.Clusters)
	fmt.Fprintf(&b, " Latest near %.5f, %.5f (https://maps.google.com/?q=%.6f,%.6f).", a.Latitude, a.Longitude, a.Latitude, a.Longitude)
	if a.MediaURL != "" {
		fmt.Fprintf(&b, " Media: %s", a.MediaURL)
	}
	return b.String()
}
