// internal/app/notification_service.go
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"road_anomaly_reconciler/internal/domain/media"
	"road_anomaly_reconciler/internal/domain/notification"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/infra/config"
	"road_anomaly_reconciler/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CycleResult describes what one notification cycle did.
type CycleResult struct {
	CycleID     string
	WindowStart time.Time
	Candidates  int
	Collected   int
	Skipped     bool
	Sent        []string // localities whose alert was delivered
	Failed      []string // localities whose alert failed; their reports stay pending
	Marked      int64
}

// NotificationService runs notification cycles: collect pending defect
// clusters, send one alert per locality, then mark the delivered reports.
type NotificationService struct {
	repo    report.Repository
	senders map[notification.Channel]notification.Sender
	media   media.Resolver
	cfg     config.NotifyConfig
	log     *logrus.Entry
}

func NewNotificationService(
	repo report.Repository,
	senders map[notification.Channel]notification.Sender,
	resolver media.Resolver,
	cfg config.NotifyConfig,
	log *logrus.Entry,
) *NotificationService {
	if resolver == nil {
		resolver = media.NoopResolver{}
	}
	return &NotificationService{
		repo:    repo,
		senders: senders,
		media:   resolver,
		cfg:     cfg,
		log:     log,
	}
}

type localityBatch struct {
	locality string
	reports  []*report.Report
	clusters int
}

// RunCycle executes one cycle as of now. A store failure while collecting
// aborts the cycle before anything is sent. Send failures are isolated per
// locality; only localities that were delivered get marked.
func (s *NotificationService) RunCycle(ctx context.Context, now time.Time) (*CycleResult, error) {
	start := time.Now()
	defer func() { metrics.NotificationCycleDuration.Observe(time.Since(start).Seconds()) }()

	result := &CycleResult{
		CycleID:     uuid.NewString(),
		WindowStart: now.Add(-s.cfg.Lookback()),
	}
	logCtx := s.log.WithField("cycle_id", result.CycleID)
	logCtx.WithField("window_start", result.WindowStart).Info("Notification cycle started")

	batches, err := s.collect(ctx, result, logCtx)
	if err != nil {
		metrics.NotificationCyclesTotal.WithLabelValues("failed").Inc()
		logCtx.WithError(err).Error("Notification cycle aborted while collecting clusters")
		return result, err
	}

	if result.Collected <= s.cfg.MinClusterSize {
		result.Skipped = true
		metrics.NotificationCyclesTotal.WithLabelValues("skipped").Inc()
		logCtx.WithFields(logrus.Fields{
			"collected": result.Collected,
			"threshold": s.cfg.MinClusterSize,
		}).Info("Not enough corroborating reports, skipping cycle")
		return result, nil
	}

	delivered := s.dispatch(ctx, result, batches, logCtx)

	var ids []string
	for _, b := range batches {
		if !delivered[b.locality] {
			continue
		}
		for _, r := range b.reports {
			if !r.IsNotified() {
				ids = append(ids, r.ID)
			}
		}
	}
	if len(ids) == 0 {
		metrics.NotificationCyclesTotal.WithLabelValues("failed").Inc()
		logCtx.Warn("No locality alert was delivered, nothing to mark")
		return result, nil
	}

	marked, err := s.repo.MarkNotified(ctx, ids, now)
	if err != nil {
		// The alerts went out; the reports stay pending and will be resent next cycle.
		metrics.NotificationCyclesTotal.WithLabelValues("failed").Inc()
		logCtx.WithError(err).WithField("report_count", len(ids)).Error("Failed to mark reports as notified")
		return result, fmt.Errorf("failed to mark %d reports as notified: %w", len(ids), err)
	}
	result.Marked = marked
	metrics.ReportsNotifiedTotal.Add(float64(marked))
	metrics.NotificationCyclesTotal.WithLabelValues("dispatched").Inc()

	logCtx.WithFields(logrus.Fields{
		"sent":   len(result.Sent),
		"failed": len(result.Failed),
		"marked": marked,
	}).Info("Notification cycle finished")
	return result, nil
}

// collect re-queries the current cluster around every pending candidate and
// groups the distinct reports found by locality. Cluster members notified
// earlier in the window count too; MarkNotified leaves their stamp alone.
func (s *NotificationService) collect(ctx context.Context, result *CycleResult, logCtx *logrus.Entry) ([]localityBatch, error) {
	candidates, err := s.repo.FindSince(ctx, report.SinceQuery{
		ReportedSince: result.WindowStart,
		PendingOnly:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate reports: %w", err)
	}
	result.Candidates = len(candidates)

	collected := make(map[string]*report.Report)
	clusters := make(map[string]int)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, seen := collected[c.ID]

		cluster, err := s.repo.FindNearby(ctx, report.NearbyQuery{
			Latitude:      c.Location.Latitude,
			Longitude:     c.Location.Longitude,
			RadiusMeters:  s.cfg.ClusterRadiusMeters,
			ReportedSince: result.WindowStart,
			Limit:         s.cfg.ClusterPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to re-query cluster around report %s: %w", c.ID, err)
		}

		// A candidate not yet reached by an earlier cluster seeds a new one.
		if !seen {
			clusters[c.Locality]++
			collected[c.ID] = c
		}
		for _, r := range cluster {
			collected[r.ID] = r
		}
	}
	result.Collected = len(collected)
	logCtx.WithFields(logrus.Fields{
		"candidates": result.Candidates,
		"collected":  result.Collected,
	}).Debug("Clusters collected")

	byLocality := make(map[string][]*report.Report)
	for _, r := range collected {
		byLocality[r.Locality] = append(byLocality[r.Locality], r)
	}
	batches := make([]localityBatch, 0, len(byLocality))
	for locality, reports := range byLocality {
		if !hasPending(reports) {
			continue // nothing new to tell this locality
		}
		sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
		n := clusters[locality]
		if n == 0 {
			n = 1 // reached only through a neighbouring locality's cluster
		}
		batches = append(batches, localityBatch{locality: locality, reports: reports, clusters: n})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].locality < batches[j].locality })
	return batches, nil
}

func hasPending(reports []*report.Report) bool {
	for _, r := range reports {
		if !r.IsNotified() {
			return true
		}
	}
	return false
}

// dispatch sends one alert per locality with bounded concurrency and
// returns the set of localities that were delivered.
func (s *NotificationService) dispatch(ctx context.Context, result *CycleResult, batches []localityBatch, logCtx *logrus.Entry) map[string]bool {
	var (
		mu        sync.Mutex
		delivered = make(map[string]bool, len(batches))
	)

	g := new(errgroup.Group)
	if s.cfg.SendConcurrency > 0 {
		g.SetLimit(s.cfg.SendConcurrency)
	}
	for _, b := range batches {
		g.Go(func() error {
			channel := s.cfg.ChannelFor(b.locality)
			batchLog := logCtx.WithFields(logrus.Fields{
				"locality": b.locality,
				"channel":  channel,
				"reports":  len(b.reports),
			})

			err := s.sendBatch(ctx, result.CycleID, channel, b, batchLog)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.NotificationsSentTotal.WithLabelValues(string(channel), "error").Inc()
				batchLog.WithError(err).Error("Failed to send locality alert, reports stay pending")
				result.Failed = append(result.Failed, b.locality)
				return nil
			}
			metrics.NotificationsSentTotal.WithLabelValues(string(channel), "ok").Inc()
			batchLog.Info("Locality alert sent")
			delivered[b.locality] = true
			result.Sent = append(result.Sent, b.locality)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	sort.Strings(result.Sent)
	sort.Strings(result.Failed)
	return delivered
}

func (s *NotificationService) sendBatch(ctx context.Context, cycleID string, channel notification.Channel, b localityBatch, logCtx *logrus.Entry) error {
	sender, ok := s.senders[channel]
	if !ok || sender == nil {
		return fmt.Errorf("no sender configured for channel %s", channel)
	}

	alert := notification.NewAlert(cycleID, b.locality, b.reports, b.clusters)
	if s.cfg.AttachMediaToAlerts && alert.MediaReference != "" {
		url, err := s.media.Resolve(ctx, alert.MediaReference, s.cfg.MediaURLTTL)
		if err != nil {
			logCtx.WithError(err).Warn("Media URL resolution failed, sending alert without media")
		} else {
			alert.MediaURL = url
		}
	}

	sendCtx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	return sender.Send(sendCtx, alert)
}
