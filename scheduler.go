package gatherly

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSyncSchedule replays the outbox every minute.
const DefaultSyncSchedule = "@every 1m"

// Scheduler runs SyncPendingActions on a cron schedule. A run that is still
// going when the next tick fires makes that tick a no-op.
type Scheduler struct {
	core   *SyncCore
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler parses schedule (standard five-field cron or a descriptor such as
// "@every 30s") and prepares the job. Call Start to begin ticking.
func NewScheduler(core *SyncCore, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if schedule == "" {
		schedule = DefaultSyncSchedule
	}
	s := &Scheduler{
		core:   core,
		logger: logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	before, err := s.core.PendingActions(ctx)
	if err != nil {
		s.logger.Warn("scheduled sync skipped", "err", err)
		return
	}
	if len(before) == 0 {
		return
	}
	_ = s.core.SyncPendingActions(ctx)
	after, err := s.core.PendingActions(ctx)
	if err != nil {
		s.logger.Warn("scheduled sync finished, outbox unreadable", "queued", len(before), "err", err)
		return
	}
	s.logger.Info("scheduled sync finished", "queued", len(before), "remaining", len(after))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
