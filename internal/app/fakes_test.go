package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"road_anomaly_reconciler/internal/domain/notification"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/infra/database"
)

// flakyRepo wraps the memory store and fails selected operations.
type flakyRepo struct {
	*database.MemoryReportRepository
	findNearbyErr error
	findSinceErr  error
	saveErr       error
	markErr       error
	markCalls     [][]string
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemoryReportRepository: database.NewMemoryReportRepository()}
}

func (r *flakyRepo) FindNearby(ctx context.Context, q report.NearbyQuery) ([]*report.Report, error) {
	if r.findNearbyErr != nil {
		return nil, r.findNearbyErr
	}
	return r.MemoryReportRepository.FindNearby(ctx, q)
}

func (r *flakyRepo) FindSince(ctx context.Context, q report.SinceQuery) ([]*report.Report, error) {
	if r.findSinceErr != nil {
		return nil, r.findSinceErr
	}
	return r.MemoryReportRepository.FindSince(ctx, q)
}

func (r *flakyRepo) Save(ctx context.Context, rep *report.Report) (string, error) {
	if r.saveErr != nil {
		return "", r.saveErr
	}
	return r.MemoryReportRepository.Save(ctx, rep)
}

func (r *flakyRepo) MarkNotified(ctx context.Context, ids []string, at time.Time) (int64, error) {
	r.markCalls = append(r.markCalls, append([]string(nil), ids...))
	if r.markErr != nil {
		return 0, r.markErr
	}
	return r.MemoryReportRepository.MarkNotified(ctx, ids, at)
}

func (r *flakyRepo) count(t *testing.T) int {
	t.Helper()
	all, err := r.MemoryReportRepository.FindSince(context.Background(), report.SinceQuery{})
	if err != nil {
		t.Fatalf("FindSince: %v", err)
	}
	return len(all)
}

var errUnavailable = fmt.Errorf("connection reset: %w", report.ErrStoreUnavailable)

// fakeResolver signs references as https://media.example/<ref>?ttl=<ttl>.
type fakeResolver struct {
	err error
}

func (f fakeResolver) Resolve(_ context.Context, reference string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("https://media.example/%s?ttl=%s", reference, ttl), nil
}

type fixedLocality string

func (f fixedLocality) Assign(float64, float64) string { return string(f) }

// lonSplitLocality puts everything east of 77.3 in noida, the rest in delhi.
type lonSplitLocality struct{}

func (lonSplitLocality) Assign(_ float64, lon float64) string {
	if lon > 77.3 {
		return "noida"
	}
	return "delhi"
}

type fakeSender struct {
	mu     sync.Mutex
	alerts []notification.Alert
	err    error
}

func (f *fakeSender) Send(_ context.Context, alert notification.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return f.err
}

func (f *fakeSender) sent() []notification.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Alert(nil), f.alerts...)
}

var errSendFailed = errors.New("provider unavailable")
