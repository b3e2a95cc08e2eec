package database

import (
	"context"
	"time"

	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/infra/metrics"
)

// InstrumentedRepository bounds every store call with a timeout and records
// its latency. It wraps any report.Repository backend.
type InstrumentedRepository struct {
	next    report.Repository
	timeout time.Duration
}

func NewInstrumentedRepository(next report.Repository, timeout time.Duration) *InstrumentedRepository {
	return &InstrumentedRepository{next: next, timeout: timeout}
}

func (r *InstrumentedRepository) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StoreCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	return err
}

func (r *InstrumentedRepository) Save(ctx context.Context, rep *report.Report) (id string, err error) {
	err = r.call(ctx, "save", func(ctx context.Context) error {
		id, err = r.next.Save(ctx, rep)
		return err
	})
	return id, err
}

func (r *InstrumentedRepository) FindNearby(ctx context.Context, q report.NearbyQuery) (out []*report.Report, err error) {
	err = r.call(ctx, "find_nearby", func(ctx context.Context) error {
		out, err = r.next.FindNearby(ctx, q)
		return err
	})
	return out, err
}

func (r *InstrumentedRepository) FindSince(ctx context.Context, q report.SinceQuery) (out []*report.Report, err error) {
	err = r.call(ctx, "find_since", func(ctx context.Context) error {
		out, err = r.next.FindSince(ctx, q)
		return err
	})
	return out, err
}

func (r *InstrumentedRepository) MarkNotified(ctx context.Context, ids []string, at time.Time) (n int64, err error) {
	err = r.call(ctx, "mark_notified", func(ctx context.Context) error {
		n, err = r.next.MarkNotified(ctx, ids, at)
		return err
	})
	return n, err
}

func (r *InstrumentedRepository) ListByLocality(ctx context.Context, q report.LocalityQuery) (out []*report.Report, err error) {
	err = r.call(ctx, "list_by_locality", func(ctx context.Context) error {
		out, err = r.next.ListByLocality(ctx, q)
		return err
	})
	return out, err
}

func (r *InstrumentedRepository) SummarizeLocalities(ctx context.Context) (out []report.LocalitySummary, err error) {
	err = r.call(ctx, "summarize_localities", func(ctx context.Context) error {
		out, err = r.next.SummarizeLocalities(ctx)
		return err
	})
	return out, err
}
