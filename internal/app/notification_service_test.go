package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"road_anomaly_reconciler/internal/domain/notification"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/infra/config"
	"road_anomaly_reconciler/internal/infra/logger"
)

var cycleNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

var notifyCfg = config.NotifyConfig{
	LookbackDays:        30,
	ClusterRadiusMeters: 50,
	ClusterPageSize:     100,
	MinClusterSize:      2,
	SendTimeout:         time.Second,
	SendConcurrency:     2,
	DefaultChannel:      notification.ChannelSMS,
	Routes: map[string]notification.Channel{
		"delhi": notification.ChannelSMS,
		"noida": notification.ChannelWhatsApp,
	},
	AttachMediaToAlerts: true,
	MediaURLTTL:         time.Hour,
}

type cycleFixture struct {
	repo     *flakyRepo
	sms      *fakeSender
	whatsapp *fakeSender
	svc      *NotificationService
}

func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	f := &cycleFixture{repo: newFlakyRepo(), sms: &fakeSender{}, whatsapp: &fakeSender{}}
	f.svc = NewNotificationService(f.repo, map[notification.Channel]notification.Sender{
		notification.ChannelSMS:      f.sms,
		notification.ChannelWhatsApp: f.whatsapp,
	}, fakeResolver{}, notifyCfg, logger.Discard())
	return f
}

// add stores n pending reports around (lat, lon), spaced about a meter apart.
func (f *cycleFixture) add(t *testing.T, prefix, locality string, n int, lat, lon float64, reportedAgo time.Duration) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		reportedAt := cycleNow.Add(-reportedAgo)
		id := fmt.Sprintf("%s-%d", prefix, i)
		_, err := f.repo.MemoryReportRepository.Save(context.Background(), &report.Report{
			ID:             id,
			AnomalyType:    "pothole",
			Location:       report.Location{Latitude: lat + float64(i)*0.00001, Longitude: lon},
			CapturedAt:     reportedAt.Add(time.Duration(i) * time.Minute).Add(-time.Hour),
			ReportedAt:     reportedAt,
			Locality:       locality,
			MediaReference: id + ".mp4",
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (f *cycleFixture) pending(t *testing.T) int {
	t.Helper()
	all, err := f.repo.MemoryReportRepository.FindSince(context.Background(), report.SinceQuery{PendingOnly: true})
	if err != nil {
		t.Fatalf("FindSince: %v", err)
	}
	return len(all)
}

func TestRunCycleSkipsSmallClusters(t *testing.T) {
	f := newCycleFixture(t)
	f.add(t, "a", "delhi", 2, 28.6, 77.2, time.Hour)

	res, err := f.svc.RunCycle(context.Background(), cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Skipped || res.Collected != 2 {
		t.Fatalf("expected skipped cycle with 2 reports, got %+v", res)
	}
	if len(f.sms.sent()) != 0 || len(f.repo.markCalls) != 0 {
		t.Fatalf("skipped cycle must not send or mark")
	}
}

func TestRunCycleSendsOneAlertPerLocalityAndMarksOnce(t *testing.T) {
	f := newCycleFixture(t)
	ids := f.add(t, "a", "delhi", 3, 28.6, 77.2, time.Hour)

	res, err := f.svc.RunCycle(context.Background(), cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Skipped || res.Marked != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	alerts := f.sms.sent()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one sms alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.Locality != "delhi" || len(alert.ReportIDs) != 3 || alert.Clusters != 1 {
		t.Fatalf("unexpected alert %+v", alert)
	}
	// a-2 has the latest capture time and represents the batch.
	if alert.MediaReference != "a-2.mp4" || !strings.Contains(alert.MediaURL, "a-2.mp4") {
		t.Fatalf("alert should carry the newest report's media, got %+v", alert)
	}
	if len(f.whatsapp.sent()) != 0 {
		t.Fatalf("delhi must not be routed to whatsapp")
	}

	if len(f.repo.markCalls) != 1 {
		t.Fatalf("expected a single bulk mark, got %d", len(f.repo.markCalls))
	}
	if got := strings.Join(f.repo.markCalls[0], ","); got != strings.Join(ids, ",") {
		t.Fatalf("marked ids: got=%s want=%v", got, ids)
	}
	if f.pending(t) != 0 {
		t.Fatalf("all reports should be notified")
	}
}

func TestRunCycleIsIdempotent(t *testing.T) {
	f := newCycleFixture(t)
	f.add(t, "a", "delhi", 3, 28.6, 77.2, time.Hour)

	if _, err := f.svc.RunCycle(context.Background(), cycleNow); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	res, err := f.svc.RunCycle(context.Background(), cycleNow.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if res.Candidates != 0 || !res.Skipped {
		t.Fatalf("second cycle should find nothing, got %+v", res)
	}
	if len(f.sms.sent()) != 1 || len(f.repo.markCalls) != 1 {
		t.Fatalf("second cycle must not resend or remark")
	}
}

func TestRunCycleIsolatesLocalityFailures(t *testing.T) {
	f := newCycleFixture(t)
	f.whatsapp.err = errSendFailed
	delhi := f.add(t, "d", "delhi", 3, 28.6, 77.2, time.Hour)
	f.add(t, "n", "noida", 2, 28.57, 77.35, time.Hour)

	res, err := f.svc.RunCycle(context.Background(), cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if strings.Join(res.Sent, ",") != "delhi" || strings.Join(res.Failed, ",") != "noida" {
		t.Fatalf("sent=%v failed=%v", res.Sent, res.Failed)
	}
	if res.Marked != int64(len(delhi)) {
		t.Fatalf("only delhi reports should be marked, marked=%d", res.Marked)
	}
	if len(f.repo.markCalls) != 1 || strings.Join(f.repo.markCalls[0], ",") != strings.Join(delhi, ",") {
		t.Fatalf("unexpected mark calls %v", f.repo.markCalls)
	}
	if f.pending(t) != 2 {
		t.Fatalf("noida reports must stay pending for the next cycle")
	}

	// Next cycle retries noida alone once the provider recovers.
	f.whatsapp.err = nil
	res, err = f.svc.RunCycle(context.Background(), cycleNow.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Collected != 2 || !res.Skipped {
		t.Fatalf("two leftover reports fall under the skip threshold, got %+v", res)
	}
}

func TestRunCycleIgnoresReportsOutsideWindow(t *testing.T) {
	f := newCycleFixture(t)
	f.add(t, "old", "delhi", 3, 28.6, 77.2, 31*24*time.Hour)
	f.add(t, "new", "delhi", 2, 28.6, 77.2, time.Hour)

	res, err := f.svc.RunCycle(context.Background(), cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Candidates != 2 || res.Collected != 2 || !res.Skipped {
		t.Fatalf("reports older than the lookback must not count, got %+v", res)
	}
}

func TestRunCycleCountsNeighboursNotifiedEarlierInWindow(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	earlier := cycleNow.Add(-4 * 24 * time.Hour)
	old := f.add(t, "old", "delhi", 2, 28.6, 77.2, 4*24*time.Hour)
	if _, err := f.repo.MemoryReportRepository.MarkNotified(ctx, old, earlier); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	fresh := f.add(t, "new", "delhi", 1, 28.6, 77.2, time.Hour)

	res, err := f.svc.RunCycle(ctx, cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Candidates != 1 || res.Collected != 3 || res.Skipped {
		t.Fatalf("notified neighbours must count toward the cluster, got %+v", res)
	}
	alerts := f.sms.sent()
	if len(alerts) != 1 || len(alerts[0].ReportIDs) != 3 {
		t.Fatalf("expected one alert covering the whole cluster, got %+v", alerts)
	}
	if res.Marked != 1 || len(f.repo.markCalls) != 1 || strings.Join(f.repo.markCalls[0], ",") != strings.Join(fresh, ",") {
		t.Fatalf("only the new report should be marked: marked=%d calls=%v", res.Marked, f.repo.markCalls)
	}

	all, err := f.repo.MemoryReportRepository.FindSince(ctx, report.SinceQuery{})
	if err != nil {
		t.Fatalf("FindSince: %v", err)
	}
	for _, r := range all {
		if r.NotifiedAt == nil {
			t.Fatalf("report %s still pending", r.ID)
		}
		if strings.HasPrefix(r.ID, "old") && !r.NotifiedAt.Equal(earlier) {
			t.Fatalf("report %s notifiedAt moved from %s to %s", r.ID, earlier, *r.NotifiedAt)
		}
	}
}

func TestRunCycleSkipsLocalityWithOnlyNotifiedReports(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	neighbours := f.add(t, "n", "noida", 2, 28.6, 77.2, 2*24*time.Hour)
	if _, err := f.repo.MemoryReportRepository.MarkNotified(ctx, neighbours, cycleNow.Add(-24*time.Hour)); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	f.add(t, "d", "delhi", 1, 28.6, 77.2, time.Hour)

	res, err := f.svc.RunCycle(ctx, cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Skipped || strings.Join(res.Sent, ",") != "delhi" {
		t.Fatalf("only delhi has news, got %+v", res)
	}
	if len(f.whatsapp.sent()) != 0 {
		t.Fatalf("noida has no pending report and must not be alerted again")
	}
}

func TestRunCycleStoreFailures(t *testing.T) {
	t.Run("candidate fetch fails", func(t *testing.T) {
		f := newCycleFixture(t)
		f.add(t, "a", "delhi", 3, 28.6, 77.2, time.Hour)
		f.repo.findSinceErr = errUnavailable

		if _, err := f.svc.RunCycle(context.Background(), cycleNow); !report.IsRetryable(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
		if len(f.sms.sent()) != 0 {
			t.Fatalf("nothing may be sent when collection fails")
		}
	})

	t.Run("mark fails after send", func(t *testing.T) {
		f := newCycleFixture(t)
		f.add(t, "a", "delhi", 3, 28.6, 77.2, time.Hour)
		f.repo.markErr = errUnavailable

		if _, err := f.svc.RunCycle(context.Background(), cycleNow); err == nil {
			t.Fatalf("expected mark error")
		}
		if len(f.sms.sent()) != 1 || f.pending(t) != 3 {
			t.Fatalf("alert sent but reports must remain pending for redelivery")
		}
	})
}

func TestRunCycleMissingSender(t *testing.T) {
	f := newCycleFixture(t)
	f.svc.senders = map[notification.Channel]notification.Sender{notification.ChannelSMS: f.sms}
	f.add(t, "n", "noida", 3, 28.57, 77.35, time.Hour)

	res, err := f.svc.RunCycle(context.Background(), cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(res.Failed) != 1 || res.Marked != 0 || f.pending(t) != 3 {
		t.Fatalf("unroutable locality must stay pending, got %+v", res)
	}
}

// brokenResolver hands back a half-built URL together with an error.
type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string, time.Duration) (string, error) {
	return "https://media.example/partial", errors.New("signing key rejected")
}

func TestRunCycleSendsWithoutMediaWhenResolutionFails(t *testing.T) {
	f := newCycleFixture(t)
	f.svc.media = brokenResolver{}
	f.add(t, "a", "delhi", 3, 28.6, 77.2, time.Hour)

	res, err := f.svc.RunCycle(context.Background(), cycleNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	alerts := f.sms.sent()
	if len(alerts) != 1 || res.Marked != 3 {
		t.Fatalf("alert must still go out, got res=%+v alerts=%d", res, len(alerts))
	}
	if alerts[0].MediaURL != "" {
		t.Fatalf("failed resolution must leave the media URL empty, got %q", alerts[0].MediaURL)
	}
}
