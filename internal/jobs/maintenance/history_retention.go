package maintenance

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"proxypool/internal/database"
	"proxypool/internal/support"
)

const (
	envRetention     = "HISTORY_RETENTION"
	envPruneInterval = "HISTORY_PRUNE_INTERVAL"

	defaultRetention     = 7 * 24 * time.Hour
	defaultPruneInterval = time.Hour

	// HistoryRetentionLockKey names the leadership lock held by the pruning routine.
	HistoryRetentionLockKey = "proxypool:leader:history_retention"
)

// PruneFunc deletes checks recorded before cutoff and returns how many went.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// HistoryRetention periodically deletes check history older than the
// retention window.
type HistoryRetention struct {
	prune     PruneFunc
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewHistoryRetention() *HistoryRetention {
	return &HistoryRetention{
		prune:     database.DeleteChecksBefore,
		retention: resolveDuration(envRetention, defaultRetention),
		interval:  resolveDuration(envPruneInterval, defaultPruneInterval),
		now:       time.Now,
	}
}

// Run prunes once immediately and then on every interval until ctx is done.
func (h *HistoryRetention) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.pruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pruneOnce(ctx)
		}
	}
}

func (h *HistoryRetention) pruneOnce(ctx context.Context) {
	start := h.now()
	cutoff := start.Add(-h.retention)

	removed, err := h.prune(ctx, cutoff)
	if err != nil {
		log.Error("Failed to prune check history", "error", err)
		return
	}
	if removed == 0 {
		return
	}

	log.Info(
		"Check history pruned",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration", time.Since(start),
	)
}

func resolveDuration(env string, fallback time.Duration) time.Duration {
	raw := support.GetEnv(env, "")
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		log.Warn("Invalid duration, using default", "env", env, "value", raw, "default", fallback)
		return fallback
	}
	return parsed
}
