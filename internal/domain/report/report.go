// internal/domain/report/report.go
package report

import (
	"time"

	"road_anomaly_reconciler/internal/domain/sensor"
)

// Location is the GPS fix attached to a report.
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Altitude       float64 `json:"altitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// Report is a persisted road-anomaly report. It is append-only: after
// creation only NotifiedAt is ever written, by the notification cycle.
type Report struct {
	ID             string
	AnomalyType    string
	Location       Location
	CapturedAt     time.Time  // client-supplied time of the physical event
	ReportedAt     time.Time  // server ingestion time
	NotifiedAt     *time.Time // nil until included in a dispatched notification batch
	Features       sensor.Features
	LikelyAnomaly  bool   // classifier output, recorded for audit
	MediaReference string // object name in media storage, never a URL
	Locality       string
}

// IsNotified reports whether the report was already part of a dispatched batch.
func (r *Report) IsNotified() bool {
	return r.NotifiedAt != nil
}

// Status is the reconciliation decision for an incoming report.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusConfirmed   Status = "CONFIRMED"
	StatusUnconfirmed Status = "UNCONFIRMED"
	StatusReopened    Status = "REOPENED"
	// StatusDiscarded is only produced when the classifier gate is enforced.
	StatusDiscarded Status = "DISCARDED"
)

// Outcome is returned to the caller of a report submission.
type Outcome struct {
	ReportID  string `json:"reportId,omitempty"`
	Status    Status `json:"status"`
	Confirmed bool   `json:"confirmed"`
	Message   string `json:"message"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	// NearbyCount is the number of prior reports found around the incoming one.
	NearbyCount int `json:"nearbyCount"`
}

// LocalitySummary aggregates the reports of one locality.
type LocalitySummary struct {
	Locality         string    `json:"locality"`
	TotalReports     int       `json:"totalReports"`
	NotifiedReports  int       `json:"notifiedReports"`
	LatestReportedAt time.Time `json:"latestReportedAt"`
	AverageSeverity  float64   `json:"averageSeverity"` // mean vertical acceleration range
}
