// Package cleanup prunes idle sessions on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionPruner deletes sessions idle since before a cutoff.
type SessionPruner interface {
	PruneIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Service runs the retention loop. Pruning is idempotent; a run that finds
// nothing to remove is silent.
type Service struct {
	pruner   SessionPruner
	ttl      time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewService creates the reaper. ttl is how long an idle session survives;
// interval is how often the loop runs.
func NewService(pruner SessionPruner, ttl, interval time.Duration) *Service {
	return &Service{
		pruner:   pruner,
		ttl:      ttl,
		interval: interval,
		logger:   slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background loop. The first run happens immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Session cleanup started", "ttl", s.ttl, "interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Session cleanup stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.prune(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	count, err := s.pruner.PruneIdleBefore(ctx, time.Now().Add(-s.ttl))
	if err != nil {
		s.logger.Error("Session pruning failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Pruned idle sessions", "count", count)
	}
}
