package nodeapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/PetoAdam/lorawatch/internal/store"
)

// Pruner drops telemetry history older than the retention window.
type Pruner struct {
	Repo      *store.Repo
	Retention time.Duration
	Now       func() time.Time
}

func (p *Pruner) Run(ctx context.Context) (int64, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cutoff := now().UTC().Add(-p.Retention)
	n, err := p.Repo.PruneTelemetry(ctx, cutoff)
	if err != nil {
		slog.Error("telemetry prune failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("telemetry pruned", "rows", n, "before", cutoff)
	}
	return n, nil
}

// Schedule starts a cron that prunes on the given schedule. Stop the returned cron on
// shutdown.
func (p *Pruner) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _, _ = p.Run(ctx) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
