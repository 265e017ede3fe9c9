package lockout

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/agrinova/authd/pkg/observability"
)

// DefaultSweepSchedule runs a sweep every minute
const DefaultSweepSchedule = "@every 1m"

// Sweepable is a tracker that can drop expired records
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically removes expired records from an in-process tracker
// so that memory stays bounded by active keys
type Sweeper struct {
	cron   *cron.Cron
	target Sweepable
	logger *observability.Logger
}

// NewSweeper schedules target.Sweep on a cron schedule
func NewSweeper(target Sweepable, schedule string, logger *observability.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		cron:   cron.New(),
		target: target,
		logger: observability.OrNop(logger).WithComponent("lockout_sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce() {
	defer observability.RecoverPanic(s.logger, "lockout sweep")
	if n := s.target.Sweep(); n > 0 {
		s.logger.WithField("removed", n).Debug("swept expired lockout records")
	}
}

// Start begins running the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
