// internal/app/report_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"road_anomaly_reconciler/internal/domain/media"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/domain/sensor"
	"road_anomaly_reconciler/internal/infra/config"
	"road_anomaly_reconciler/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidReport wraps every input validation failure.
var ErrInvalidReport = errors.New("invalid report")

const (
	defaultAnomalyType  = "pothole"
	defaultListingLimit = 1000
)

// LocalityAssigner maps a coordinate to a coarse place label.
type LocalityAssigner interface {
	Assign(latitude, longitude float64) string
}

// LocationData is the GPS fix sent by the client. Timestamp is Unix milliseconds.
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// SubmitRequest is the raw report payload.
type SubmitRequest struct {
	AnomalyType string          `json:"anomalyType"`
	AccelValues []sensor.Sample `json:"accelValues"`
	GyroValues  []sensor.Sample `json:"gyroValues"`
	Location    *LocationData   `json:"location"`
	FileName    string          `json:"fileName"` // media object name, optional
}

// ReportView is a stored report as returned to readers, with a freshly signed media URL.
type ReportView struct {
	ID            string          `json:"id"`
	AnomalyType   string          `json:"anomalyType"`
	Location      report.Location `json:"location"`
	CapturedAt    time.Time       `json:"capturedAt"`
	ReportedAt    time.Time       `json:"reportedAt"`
	NotifiedAt    *time.Time      `json:"notifiedAt,omitempty"`
	Locality      string          `json:"locality"`
	LikelyAnomaly bool            `json:"likelyAnomaly"`
	Features      sensor.Features `json:"sensorFeatures"`
	MediaURL      string          `json:"mediaUrl,omitempty"`
}

type ReportService struct {
	repo       report.Repository
	media      media.Resolver
	localities LocalityAssigner
	classifier *sensor.Classifier
	enforce    bool
	cfg        config.DecisionConfig
	log        *logrus.Entry
	now        func() time.Time
}

func NewReportService(
	repo report.Repository,
	resolver media.Resolver,
	localities LocalityAssigner,
	clsCfg config.ClassifierConfig,
	cfg config.DecisionConfig,
	log *logrus.Entry,
) *ReportService {
	if resolver == nil {
		resolver = media.NoopResolver{}
	}
	return &ReportService{
		repo:       repo,
		media:      resolver,
		localities: localities,
		classifier: sensor.NewClassifier(sensor.Thresholds{
			AccelRange:    clsCfg.AccelRangeThreshold,
			AccelVariance: clsCfg.AccelVarianceThreshold,
			GyroVariance:  clsCfg.GyroVarianceThreshold,
		}),
		enforce: clsCfg.Enforced(),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// SubmitReport validates, classifies and reconciles one incoming report
// against its neighbours, then appends it to the store. The store write is
// the last fallible step: an error return means nothing was persisted.
func (s *ReportService) SubmitReport(ctx context.Context, req SubmitRequest) (*report.Outcome, error) {
	reportedAt := s.now().UTC()
	capturedAt, err := s.validate(req, reportedAt)
	if err != nil {
		metrics.ReportsRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	loc := req.Location

	features := sensor.Extract(req.AccelValues, req.GyroValues)
	likely := s.classifier.IsLikelyPothole(features)

	logCtx := s.log.WithFields(logrus.Fields{
		"latitude":       loc.Latitude,
		"longitude":      loc.Longitude,
		"likely_anomaly": likely,
	})

	if s.enforce && !likely {
		outcome := &report.Outcome{
			Status:   report.StatusDiscarded,
			Message:  "Sensor readings do not match a road anomaly; report discarded",
			MediaURL: s.resolveMedia(ctx, req.FileName, s.cfg.MediaURLTTL, logCtx),
		}
		metrics.ReportsSubmittedTotal.WithLabelValues(string(outcome.Status)).Inc()
		logCtx.Info("Report discarded by classifier")
		return outcome, nil
	}

	nearby, err := s.repo.FindNearby(ctx, report.NearbyQuery{
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		RadiusMeters: s.cfg.ProximityMeters,
		Limit:        s.cfg.NearbyPageSize,
	})
	if err != nil {
		metrics.ReportsRejectedTotal.WithLabelValues("store").Inc()
		logCtx.WithError(err).Error("Failed to look up nearby reports")
		return nil, fmt.Errorf("failed to look up nearby reports: %w", err)
	}

	outcome := decide(capturedAt, nearby, s.cfg)
	outcome.MediaURL = s.resolveMedia(ctx, req.FileName, s.cfg.MediaURLTTL, logCtx)

	rep := &report.Report{
		ID:          uuid.NewString(),
		AnomalyType: normalizeAnomalyType(req.AnomalyType),
		Location: report.Location{
			Latitude:       loc.Latitude,
			Longitude:      loc.Longitude,
			Altitude:       loc.Altitude,
			AccuracyMeters: loc.Accuracy,
		},
		CapturedAt:     capturedAt,
		ReportedAt:     reportedAt,
		Features:       features,
		LikelyAnomaly:  likely,
		MediaReference: strings.TrimSpace(req.FileName),
		Locality:       s.localities.Assign(loc.Latitude, loc.Longitude),
	}

	id, err := s.repo.Save(ctx, rep)
	if err != nil {
		metrics.ReportsRejectedTotal.WithLabelValues("store").Inc()
		logCtx.WithError(err).Error("Failed to save report")
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	outcome.ReportID = id

	metrics.ReportsSubmittedTotal.WithLabelValues(string(outcome.Status)).Inc()
	logCtx.WithFields(logrus.Fields{
		"report_id": id,
		"locality":  rep.Locality,
		"status":    outcome.Status,
		"nearby":    outcome.NearbyCount,
	}).Info("Report reconciled")
	return outcome, nil
}

// decide applies the reconciliation rules to the nearby reports found for an
// incoming report captured at capturedAt.
func decide(capturedAt time.Time, nearby []*report.Report, cfg config.DecisionConfig) *report.Outcome {
	n := len(nearby)
	if n == 0 {
		return &report.Outcome{
			Status:  report.StatusNew,
			Message: "First report of a road anomaly at this location",
		}
	}

	latest := nearby[0].CapturedAt
	for _, r := range nearby[1:] {
		if r.CapturedAt.After(latest) {
			latest = r.CapturedAt
		}
	}

	if capturedAt.Sub(latest) > cfg.RepairWindow() {
		return &report.Outcome{
			Status:      report.StatusReopened,
			Message:     "Anomaly reappeared after a presumed repair; reopening",
			NearbyCount: n,
		}
	}

	if n+1 >= cfg.MinimumReports {
		return &report.Outcome{
			Status:      report.StatusConfirmed,
			Confirmed:   true,
			Message:     "Confirmed road anomaly based on multiple reports",
			NearbyCount: n,
		}
	}
	return &report.Outcome{
		Status:      report.StatusUnconfirmed,
		Message:     "Road anomaly reported, needs additional verification",
		NearbyCount: n,
	}
}

// validate rejects malformed input and returns the capture time. A capture
// time slightly in the future (clock skew) is clamped to reportedAt.
func (s *ReportService) validate(req SubmitRequest, reportedAt time.Time) (time.Time, error) {
	loc := req.Location
	if loc == nil {
		return time.Time{}, fmt.Errorf("%w: location is required", ErrInvalidReport)
	}
	if loc.Timestamp <= 0 {
		return time.Time{}, fmt.Errorf("%w: location timestamp is required", ErrInvalidReport)
	}
	if math.IsNaN(loc.Latitude) || loc.Latitude < -90 || loc.Latitude > 90 {
		return time.Time{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidReport, loc.Latitude)
	}
	if math.IsNaN(loc.Longitude) || loc.Longitude < -180 || loc.Longitude > 180 {
		return time.Time{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidReport, loc.Longitude)
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return time.Time{}, fmt.Errorf("%w: location is empty", ErrInvalidReport)
	}

	capturedAt := time.UnixMilli(loc.Timestamp).UTC()
	if capturedAt.After(reportedAt) {
		if capturedAt.Sub(reportedAt) > s.cfg.ClockSkewTolerance {
			return time.Time{}, fmt.Errorf("%w: capture time %s is in the future", ErrInvalidReport, capturedAt.Format(time.RFC3339))
		}
		capturedAt = reportedAt
	}
	return capturedAt, nil
}

// resolveMedia never fails: resolution errors are logged and yield no URL.
func (s *ReportService) resolveMedia(ctx context.Context, reference string, ttl time.Duration, logCtx *logrus.Entry) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ""
	}
	url, err := s.media.Resolve(ctx, reference, ttl)
	if err != nil {
		logCtx.WithError(err).WithField("media_reference", reference).Warn("Media URL resolution failed, continuing without media")
		return ""
	}
	return url
}

// ListByLocality returns the newest reports of a locality with signed media URLs.
func (s *ReportService) ListByLocality(ctx context.Context, locality string, limit int) ([]ReportView, error) {
	locality = strings.ToLower(strings.TrimSpace(locality))
	if locality == "" {
		return nil, fmt.Errorf("%w: locality is required", ErrInvalidReport)
	}
	if limit <= 0 {
		limit = defaultListingLimit
	}

	reports, err := s.repo.ListByLocality(ctx, report.LocalityQuery{Locality: locality, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports for %s: %w", locality, err)
	}

	logCtx := s.log.WithField("locality", locality)
	views := make([]ReportView, 0, len(reports))
	for _, r := range reports {
		views = append(views, ReportView{
			ID:            r.ID,
			AnomalyType:   r.AnomalyType,
			Location:      r.Location,
			CapturedAt:    r.CapturedAt,
			ReportedAt:    r.ReportedAt,
			NotifiedAt:    r.NotifiedAt,
			Locality:      r.Locality,
			LikelyAnomaly: r.LikelyAnomaly,
			Features:      r.Features,
			MediaURL:      s.resolveMedia(ctx, r.MediaReference, s.cfg.ListingMediaURLTTL, logCtx),
		})
	}
	return views, nil
}

// SummarizeLocalities returns per-locality report statistics.
func (s *ReportService) SummarizeLocalities(ctx context.Context) ([]report.LocalitySummary, error) {
	summaries, err := s.repo.SummarizeLocalities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize localities: %w", err)
	}
	return summaries, nil
}

func normalizeAnomalyType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return defaultAnomalyType
	}
	return t
}
