// Package maintenance runs the server's periodic housekeeping jobs.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/license"
)

// DefaultSchedule runs housekeeping once a minute.
const DefaultSchedule = "@every 1m"

// SessionSweeper removes expired admin sessions.
type SessionSweeper interface {
	Sweep() int
	Len() int
}

// StatsSource reports aggregate license counts.
type StatsSource interface {
	Stats(ctx context.Context) (*license.Stats, error)
}

// Gauges receives the refreshed figures.
type Gauges interface {
	SetAdminSessions(n int)
	SetLicenseStats(stats *license.Stats)
}

// Scheduler sweeps expired admin sessions and refreshes the session and
// license gauges on a cron schedule.
type Scheduler struct {
	sessions SessionSweeper
	stats    StatsSource
	gauges   Gauges
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a maintenance scheduler. stats and gauges may be nil.
func NewScheduler(sessions SessionSweeper, stats StatsSource, gauges Gauges, schedule string, logger zerolog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		sessions: sessions,
		stats:    stats,
		gauges:   gauges,
		schedule: schedule,
		timeout:  30 * time.Second,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "maintenance").Logger(),
	}
}

// Start begins running housekeeping on the configured schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("maintenance scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Msg("maintenance scheduler started")
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping maintenance scheduler")
	return s.cron.Stop()
}

func (s *Scheduler) run() {
	removed := s.sessions.Sweep()
	remaining := s.sessions.Len()
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Int("remaining", remaining).Msg("swept expired admin sessions")
	}

	if s.gauges == nil {
		return
	}
	s.gauges.SetAdminSessions(remaining)

	if s.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh license gauges")
		return
	}
	s.gauges.SetLicenseStats(stats)
}

// RunNow runs housekeeping immediately.
func (s *Scheduler) RunNow() {
	s.run()
}
