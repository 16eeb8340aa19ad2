package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// staleFailer is the part of Service the sweeper needs
type staleFailer interface {
	FailStale(olderThan time.Duration) (int, error)
}

// Sweeper periodically fails analyses whose extraction never finished, e.g.
// after a crash mid-request.
type Sweeper struct {
	cron      *cron.Cron
	service   staleFailer
	olderThan time.Duration
}

// NewSweeper schedules the sweep with a standard cron spec or a descriptor
// such as "@every 5m".
func NewSweeper(service staleFailer, schedule string, olderThan time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		cron:      cron.New(),
		service:   service,
		olderThan: olderThan,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("scheduling sweeper %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in its own goroutine
func (s *Sweeper) Start() {
	slog.Info("Starting stale analysis sweeper", "older_than", s.olderThan)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx is done
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) sweep() {
	failed, err := s.service.FailStale(s.olderThan)
	if err != nil {
		slog.Error("Stale analysis sweep failed", "error", err)
		return
	}
	if failed > 0 {
		slog.Info("Stale analysis sweep finished", "failed", failed)
	}
}
