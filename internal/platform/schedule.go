package platform

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ReloadScheduler reloads a Holder on a cron schedule.
type ReloadScheduler struct {
	cron    *cron.Cron
	holder  *Holder
	timeout time.Duration
}

// NewReloadScheduler registers a reload of holder at schedule, e.g.
// "@every 5m" or "*/10 * * * *". Call Start to begin.
func NewReloadScheduler(schedule string, holder *Holder) (*ReloadScheduler, error) {
	s := &ReloadScheduler{
		cron:    cron.New(),
		holder:  holder,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.reload); err != nil {
		return nil, err
	}
	slog.Info("platform config reload scheduled", "schedule", schedule)
	return s, nil
}

func (s *ReloadScheduler) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.holder.Reload(ctx); err != nil {
		slog.Error("scheduled platform config reload failed", "err", err)
	}
}

// Start runs the scheduler in its own goroutine.
func (s *ReloadScheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running reload to finish.
func (s *ReloadScheduler) Stop() {
	<-s.cron.Stop().Done()
}
