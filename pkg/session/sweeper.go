package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/keystone/pkg/observability"
)

// Sweepable stores need periodic removal of expired rows
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper removes expired sessions on a cron schedule
type Sweeper struct {
	cron    *cron.Cron
	store   Sweepable
	timeout time.Duration
	logger  *observability.Logger
}

// NewSweeper schedules store.Sweep. schedule uses the standard five-field
// cron syntax or descriptors such as "@every 15m".
func NewSweeper(store Sweepable, schedule string, logger *observability.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Sweeper{
		cron:    cron.New(),
		store:   store,
		timeout: time.Minute,
		logger:  logger.WithField("component", "session_sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	return s, nil
}

// RunOnce performs one sweep
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Session sweep failed")
		return
	}
	sessionsSwept.Add(float64(n))
	if n > 0 {
		s.logger.Infof("Removed %d expired sessions", n)
	}
}

// Start begins the schedule
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
