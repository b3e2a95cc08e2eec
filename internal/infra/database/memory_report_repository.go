package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"road_anomaly_reconciler/internal/domain/report"

	"github.com/google/uuid"
)

// MemoryReportRepository keeps reports in process memory. It backs the
// "memory" store backend and the service tests.
type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[string]*report.Report
}

func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{reports: make(map[string]*report.Report)}
}

func (r *MemoryReportRepository) Save(ctx context.Context, rep *report.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("error saving report: %w: %w", report.ErrStoreUnavailable, err)
	}
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reports[rep.ID]; exists {
		return "", fmt.Errorf("error saving report %s: %w: duplicate id", rep.ID, report.ErrStoreRejected)
	}
	r.reports[rep.ID] = cloneReport(rep)
	return rep.ID, nil
}

func (r *MemoryReportRepository) FindNearby(ctx context.Context, q report.NearbyQuery) ([]*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("error finding nearby reports: %w: %w", report.ErrStoreUnavailable, err)
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("error finding nearby reports: %w: %w", report.ErrStoreRejected, err)
	}
	bound := searchBound(q)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*report.Report
	for _, rep := range r.reports {
		if q.PendingOnly && rep.IsNotified() {
			continue
		}
		if !q.ReportedSince.IsZero() && rep.ReportedAt.Before(q.ReportedSince) {
			continue
		}
		if rep.Location.Latitude < bound.Min.Lat() || rep.Location.Latitude > bound.Max.Lat() {
			continue
		}
		if distanceMeters(q.Latitude, q.Longitude, rep.Location.Latitude, rep.Location.Longitude) > q.RadiusMeters {
			continue
		}
		out = append(out, cloneReport(rep))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryReportRepository) FindSince(ctx context.Context, q report.SinceQuery) ([]*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("error finding reports since %s: %w: %w", q.ReportedSince, report.ErrStoreUnavailable, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*report.Report
	for _, rep := range r.reports {
		if rep.ReportedAt.Before(q.ReportedSince) {
			continue
		}
		if q.PendingOnly && rep.IsNotified() {
			continue
		}
		out = append(out, cloneReport(rep))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReportedAt.Before(out[j].ReportedAt)
	})
	return out, nil
}

func (r *MemoryReportRepository) MarkNotified(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("error marking reports notified: %w: %w", report.ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for _, id := range ids {
		rep, ok := r.reports[id]
		if !ok || rep.IsNotified() {
			continue
		}
		stamp := at
		rep.NotifiedAt = &stamp
		updated++
	}
	return updated, nil
}

func (r *MemoryReportRepository) ListByLocality(ctx context.Context, q report.LocalityQuery) ([]*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("error listing reports for locality %s: %w: %w", q.Locality, report.ErrStoreUnavailable, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*report.Report
	for _, rep := range r.reports {
		if strings.EqualFold(rep.Locality, q.Locality) {
			out = append(out, cloneReport(rep))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryReportRepository) SummarizeLocalities(ctx context.Context) ([]report.LocalitySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("error summarizing localities: %w: %w", report.ErrStoreUnavailable, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	byLocality := make(map[string]*report.LocalitySummary)
	severitySum := make(map[string]float64)
	for _, rep := range r.reports {
		s, ok := byLocality[rep.Locality]
		if !ok {
			s = &report.LocalitySummary{Locality: rep.Locality}
			byLocality[rep.Locality] = s
		}
		s.TotalReports++
		if rep.IsNotified() {
			s.NotifiedReports++
		}
		if rep.ReportedAt.After(s.LatestReportedAt) {
			s.LatestReportedAt = rep.ReportedAt
		}
		severitySum[rep.Locality] += rep.Features.Accel.Z.Range
	}

	out := make([]report.LocalitySummary, 0, len(byLocality))
	for name, s := range byLocality {
		s.AverageSeverity = severitySum[name] / float64(s.TotalReports)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locality < out[j].Locality })
	return out, nil
}

func cloneReport(r *report.Report) *report.Report {
	c := *r
	if r.NotifiedAt != nil {
		t := *r.NotifiedAt
		c.NotifiedAt = &t
	}
	return &c
}
