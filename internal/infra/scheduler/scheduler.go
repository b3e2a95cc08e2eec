package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"road_anomaly_reconciler/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrCycleInProgress is returned when a cycle is requested while another one is running.
var ErrCycleInProgress = errors.New("notification cycle already running")

// CycleRunner executes one notification cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (*app.CycleResult, error)
}

// NotificationScheduler triggers notification cycles on a cron spec. At most
// one cycle runs at a time, whether started by cron or by TriggerNow.
type NotificationScheduler struct {
	cronEngine   *cron.Cron
	runner       CycleRunner
	logger       *logrus.Entry
	cronSpec     string // e.g., "@every 10m" or "*/10 * * * *"
	cycleTimeout time.Duration

	running atomic.Bool
	rootCtx context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func NewNotificationScheduler(
	runner CycleRunner,
	logger *logrus.Entry,
	cronSpec string,
	cycleTimeout time.Duration,
) *NotificationScheduler {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &NotificationScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.Local), // Use server's local time for cron
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger))),
		),
		runner:       runner,
		logger:       logger,
		cronSpec:     cronSpec,
		cycleTimeout: cycleTimeout,
		rootCtx:      rootCtx,
		cancel:       cancel,
		now:          time.Now,
	}
}

func (s *NotificationScheduler) Start() error {
	s.logger.Info("Starting notification scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Debug("Cron job triggered for notification cycle.")
		if _, err := s.run(s.rootCtx); err != nil {
			if errors.Is(err, ErrCycleInProgress) {
				s.logger.Warn("Previous notification cycle still running, skipping this tick.")
				return
			}
			s.logger.WithError(err).Error("Notification cycle failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add notification cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("cron_spec", s.cronSpec).Info("Notification scheduler started.")
	return nil
}

// TriggerNow runs a cycle immediately unless one is already in progress.
func (s *NotificationScheduler) TriggerNow(ctx context.Context) (*app.CycleResult, error) {
	// Stop also cancels manually triggered cycles.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.rootCtx, cancel)
	defer stop()

	return s.run(ctx)
}

func (s *NotificationScheduler) run(ctx context.Context) (*app.CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}
	return s.runner.RunCycle(ctx, s.now())
}

func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	s.cancel()                 // Cancels the in-flight cycle, if any.
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Notification scheduler gracefully stopped.")
}
