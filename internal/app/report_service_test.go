package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"road_anomaly_reconciler/internal/domain/media"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/domain/sensor"
	"road_anomaly_reconciler/internal/infra/config"
	"road_anomaly_reconciler/internal/infra/logger"
)

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

var decisionCfg = config.DecisionConfig{
	MinimumReports:     2,
	ProximityMeters:    10,
	NearbyPageSize:     20,
	RepairTimeDays:     30,
	ClockSkewTolerance: 2 * time.Minute,
	MediaURLTTL:        10 * time.Minute,
	ListingMediaURLTTL: 60 * time.Minute,
}

var bypassCfg = config.ClassifierConfig{
	Mode:                   config.ClassifierModeBypass,
	AccelRangeThreshold:    2.0,
	AccelVarianceThreshold: 0.5,
	GyroVarianceThreshold:  0.1,
}

var bumpyAccel = []sensor.Sample{{Z: 9.8}, {Z: 14.2}, {Z: 5.1}, {Z: 9.6}}
var flatAccel = []sensor.Sample{{Z: 9.8}, {Z: 9.8}, {Z: 9.8}}

func newReportService(repo report.Repository, resolver media.Resolver, cls config.ClassifierConfig, cfg config.DecisionConfig, now time.Time) *ReportService {
	s := NewReportService(repo, resolver, fixedLocality("delhi"), cls, cfg, logger.Discard())
	s.now = func() time.Time { return now }
	return s
}

func submitAt(captured time.Time, lat, lon float64) SubmitRequest {
	return SubmitRequest{
		AnomalyType: "Pothole",
		AccelValues: bumpyAccel,
		Location: &LocationData{
			Latitude:  lat,
			Longitude: lon,
			Accuracy:  4,
			Timestamp: captured.UnixMilli(),
		},
		FileName: "videos/clip.mp4",
	}
}

func TestSubmitReportLifecycle(t *testing.T) {
	repo := newFlakyRepo()
	svc := newReportService(repo, fakeResolver{}, bypassCfg, decisionCfg, t0.Add(41*24*time.Hour))
	ctx := context.Background()

	steps := []struct {
		name      string
		captured  time.Time
		want      report.Status
		confirmed bool
		nearby    int
	}{
		{"first report is new", t0, report.StatusNew, false, 0},
		{"second report confirms", t0.Add(time.Hour), report.StatusConfirmed, true, 1},
		{"report after repair window reopens", t0.Add(40 * 24 * time.Hour), report.StatusReopened, false, 2},
	}

	for _, step := range steps {
		out, err := svc.SubmitReport(ctx, submitAt(step.captured, 28.0, 77.0))
		if err != nil {
			t.Fatalf("%s: SubmitReport: %v", step.name, err)
		}
		if out.Status != step.want || out.Confirmed != step.confirmed || out.NearbyCount != step.nearby {
			t.Fatalf("%s: got status=%s confirmed=%v nearby=%d", step.name, out.Status, out.Confirmed, out.NearbyCount)
		}
		if out.ReportID == "" {
			t.Fatalf("%s: report id not set", step.name)
		}
	}

	if got := repo.count(t); got != 3 {
		t.Fatalf("every report must be persisted, got %d", got)
	}
}

func TestDecide(t *testing.T) {
	at := func(d time.Duration) *report.Report { return &report.Report{CapturedAt: t0.Add(d)} }
	cfg := decisionCfg
	cfg.MinimumReports = 3

	tests := []struct {
		name     string
		incoming time.Duration
		nearby   []*report.Report
		want     report.Status
	}{
		{"no neighbours", 0, nil, report.StatusNew},
		{"below threshold", time.Hour, []*report.Report{at(0)}, report.StatusUnconfirmed},
		{"threshold reached counting itself", 2 * time.Hour, []*report.Report{at(0), at(time.Hour)}, report.StatusConfirmed},
		{"gap uses most recent neighbour", 31 * 24 * time.Hour, []*report.Report{at(2 * 24 * time.Hour), at(0)}, report.StatusConfirmed},
		{"gap exactly at window is not reopened", 30 * 24 * time.Hour, []*report.Report{at(0), at(0)}, report.StatusConfirmed},
		{"reopen wins over confirmation", 45 * 24 * time.Hour, []*report.Report{at(0), at(time.Hour), at(2 * time.Hour)}, report.StatusReopened},
		{"single old neighbour reopens", 31 * 24 * time.Hour, []*report.Report{at(0)}, report.StatusReopened},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := decide(t0.Add(tc.incoming), tc.nearby, cfg)
			if out.Status != tc.want {
				t.Fatalf("status: got=%s want=%s", out.Status, tc.want)
			}
			if out.Confirmed != (tc.want == report.StatusConfirmed) {
				t.Fatalf("confirmed flag inconsistent with status %s", out.Status)
			}
			if out.NearbyCount != len(tc.nearby) {
				t.Fatalf("nearby count: got=%d want=%d", out.NearbyCount, len(tc.nearby))
			}
		})
	}
}

func TestSubmitReportValidation(t *testing.T) {
	now := t0
	valid := func(mut func(*SubmitRequest)) SubmitRequest {
		req := submitAt(now.Add(-time.Minute), 28.6, 77.2)
		mut(&req)
		return req
	}

	tests := []struct {
		name    string
		req     SubmitRequest
		wantMsg string
	}{
		{"missing location", valid(func(r *SubmitRequest) { r.Location = nil }), "location is required"},
		{"missing timestamp", valid(func(r *SubmitRequest) { r.Location.Timestamp = 0 }), "timestamp"},
		{"latitude out of range", valid(func(r *SubmitRequest) { r.Location.Latitude = 95 }), "latitude"},
		{"longitude out of range", valid(func(r *SubmitRequest) { r.Location.Longitude = -181 }), "longitude"},
		{"empty coordinates", valid(func(r *SubmitRequest) { r.Location.Latitude, r.Location.Longitude = 0, 0 }), "empty"},
		{"capture far in the future", valid(func(r *SubmitRequest) { r.Location.Timestamp = now.Add(time.Hour).UnixMilli() }), "future"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFlakyRepo()
			svc := newReportService(repo, nil, bypassCfg, decisionCfg, now)

			_, err := svc.SubmitReport(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidReport) {
				t.Fatalf("expected ErrInvalidReport, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tc.wantMsg)
			}
			if repo.count(t) != 0 {
				t.Fatalf("invalid report must not be stored")
			}
		})
	}
}

func TestSubmitReportClampsSmallClockSkew(t *testing.T) {
	repo := newFlakyRepo()
	svc := newReportService(repo, nil, bypassCfg, decisionCfg, t0)

	out, err := svc.SubmitReport(context.Background(), submitAt(t0.Add(30*time.Second), 28.6, 77.2))
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	stored, _ := repo.MemoryReportRepository.FindSince(context.Background(), report.SinceQuery{})
	if len(stored) != 1 || stored[0].ID != out.ReportID {
		t.Fatalf("expected the report to be stored")
	}
	if !stored[0].CapturedAt.Equal(stored[0].ReportedAt) {
		t.Fatalf("capturedAt %s should be clamped to reportedAt %s", stored[0].CapturedAt, stored[0].ReportedAt)
	}
	if stored[0].AnomalyType != "pothole" || stored[0].Locality != "delhi" || stored[0].MediaReference != "videos/clip.mp4" {
		t.Fatalf("unexpected stored report %+v", stored[0])
	}
	if !stored[0].LikelyAnomaly || stored[0].Features.Accel.Z.Range == 0 {
		t.Fatalf("features and classification should be recorded: %+v", stored[0].Features)
	}
}

func TestSubmitReportClassifierModes(t *testing.T) {
	enforce := bypassCfg
	enforce.Mode = config.ClassifierModeEnforce

	tests := []struct {
		name       string
		cls        config.ClassifierConfig
		accel      []sensor.Sample
		want       report.Status
		wantStored int
	}{
		{"bypass keeps flat readings", bypassCfg, flatAccel, report.StatusNew, 1},
		{"enforce discards flat readings", enforce, flatAccel, report.StatusDiscarded, 0},
		{"enforce keeps bumpy readings", enforce, bumpyAccel, report.StatusNew, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFlakyRepo()
			svc := newReportService(repo, nil, tc.cls, decisionCfg, t0)
			req := submitAt(t0.Add(-time.Minute), 28.6, 77.2)
			req.AccelValues = tc.accel

			out, err := svc.SubmitReport(context.Background(), req)
			if err != nil {
				t.Fatalf("SubmitReport: %v", err)
			}
			if out.Status != tc.want {
				t.Fatalf("status: got=%s want=%s", out.Status, tc.want)
			}
			if got := repo.count(t); got != tc.wantStored {
				t.Fatalf("stored: got=%d want=%d", got, tc.wantStored)
			}
		})
	}
}

func TestSubmitReportStoreFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*flakyRepo)
	}{
		{"proximity lookup fails", func(r *flakyRepo) { r.findNearbyErr = errUnavailable }},
		{"save fails", func(r *flakyRepo) { r.saveErr = errUnavailable }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFlakyRepo()
			tc.setup(repo)
			svc := newReportService(repo, fakeResolver{}, bypassCfg, decisionCfg, t0)

			out, err := svc.SubmitReport(context.Background(), submitAt(t0.Add(-time.Minute), 28.6, 77.2))
			if err == nil {
				t.Fatalf("expected error, got outcome %+v", out)
			}
			if !report.IsRetryable(err) {
				t.Fatalf("store failure must be retryable: %v", err)
			}
			if repo.count(t) != 0 {
				t.Fatalf("nothing may be persisted on failure")
			}
		})
	}
}

func TestSubmitReportMediaURL(t *testing.T) {
	ctx := context.Background()

	svc := newReportService(newFlakyRepo(), fakeResolver{}, bypassCfg, decisionCfg, t0)
	out, err := svc.SubmitReport(ctx, submitAt(t0.Add(-time.Minute), 28.6, 77.2))
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	if out.MediaURL != "https://media.example/videos/clip.mp4?ttl=10m0s" {
		t.Fatalf("unexpected media url %q", out.MediaURL)
	}

	failing := newReportService(newFlakyRepo(), fakeResolver{err: errors.New("signing key missing")}, bypassCfg, decisionCfg, t0)
	out, err = failing.SubmitReport(ctx, submitAt(t0.Add(-time.Minute), 28.6, 77.2))
	if err != nil {
		t.Fatalf("media failure must not fail the submission: %v", err)
	}
	if out.MediaURL != "" || out.Status != report.StatusNew {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestListByLocalitySignsMedia(t *testing.T) {
	repo := newFlakyRepo()
	svc := newReportService(repo, fakeResolver{}, bypassCfg, decisionCfg, t0)
	ctx := context.Background()

	if _, err := svc.SubmitReport(ctx, submitAt(t0.Add(-time.Hour), 28.6, 77.2)); err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	req := submitAt(t0.Add(-time.Minute), 28.7, 77.1)
	req.FileName = ""
	if _, err := svc.SubmitReport(ctx, req); err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	views, err := svc.ListByLocality(ctx, " Delhi ", 0)
	if err != nil {
		t.Fatalf("ListByLocality: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(views))
	}
	var signed int
	for _, v := range views {
		if v.MediaURL != "" {
			signed++
			if !strings.HasSuffix(v.MediaURL, "ttl=1h0m0s") {
				t.Fatalf("listing should use the listing ttl: %s", v.MediaURL)
			}
		}
	}
	if signed != 1 {
		t.Fatalf("expected exactly one signed url, got %d", signed)
	}

	if _, err := svc.ListByLocality(ctx, "  ", 0); !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("blank locality: expected ErrInvalidReport, got %v", err)
	}

	summaries, err := svc.SummarizeLocalities(ctx)
	if err != nil {
		t.Fatalf("SummarizeLocalities: %v", err)
	}
	if len(summaries) != 1 || summaries[0].TotalReports != 2 {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}
