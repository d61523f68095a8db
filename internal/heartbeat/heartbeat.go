// Package heartbeat enqueues periodic Heartbeat triggers into every live
// session, giving idle agents a chance to act.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// Enqueuer is the runtime surface the runner needs.
type Enqueuer interface {
	SessionIDs() []string
	EnqueueTrigger(sessionID string, trigger models.Trigger) (uint64, int, error)
}

// Runner ticks at a fixed interval and fans a Heartbeat trigger out to every
// session.
type Runner struct {
	interval time.Duration
	enqueuer Enqueuer
	logger   *slog.Logger
}

// New builds a runner; the interval must be positive.
func New(interval time.Duration, enqueuer Enqueuer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{interval: interval, enqueuer: enqueuer, logger: logger}
}

// Run blocks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	for _, sessionID := range r.enqueuer.SessionIDs() {
		trigger := models.Trigger{
			ID:        models.NewTriggerID(),
			Kind:      models.TriggerHeartbeat,
			CreatedAt: time.Now().UTC(),
		}
		if _, _, err := r.enqueuer.EnqueueTrigger(sessionID, trigger); err != nil {
			r.logger.Warn("heartbeat rejected", "session_id", sessionID, "error", err)
		}
	}
}
