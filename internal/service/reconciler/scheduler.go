// internal/service/reconciler/scheduler.go
package reconciler

import (
	"context"
	"time"

	"billing-service/internal/cache"

	"go.uber.org/zap"
)

// Scheduler fires the reconciliation sweep once a day at the configured UTC
// hour. A short-TTL Redis lease elects one replica per tick; replicas that
// lose the lease skip the run.
type Scheduler struct {
	svc      *Service
	hourUTC  int
	lease    *cache.Lease
	stopChan chan struct{}
	logger   *zap.Logger
}

func NewScheduler(svc *Service, hourUTC int, lease *cache.Lease, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		svc:      svc,
		hourUTC:  hourUTC,
		lease:    lease,
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info("reconciliation scheduler started", zap.Int("hour_utc", s.hourUTC))
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info("reconciliation scheduler stopped")
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Until(s.nextTick(time.Now().UTC())))
	defer timer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case tick := <-timer.C:
			s.fire(tick)
			timer.Reset(time.Until(s.nextTick(time.Now().UTC())))
		}
	}
}

func (s *Scheduler) fire(tick time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bound the run so a hung sweep cannot collide with the next tick.
	ctx, cancelTimeout := context.WithTimeout(ctx, 6*time.Hour)
	defer cancelTimeout()

	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	token := tick.UTC().Format("2006-01-02T15")
	if !s.lease.Acquire(ctx, token) {
		s.logger.Info("reconciliation lease held elsewhere, skipping tick", zap.String("token", token))
		return
	}

	s.logger.Info("starting scheduled reconciliation", zap.String("token", token))
	summary, err := s.svc.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled reconciliation finished",
		zap.Int("tenants", len(summary.Tenants)),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)
}

// nextTick returns the next occurrence of the configured hour, strictly
// after now.
func (s *Scheduler) nextTick(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
