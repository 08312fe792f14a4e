package chat

import (
	"context"
	"log/slog"
	"time"
)

// SweepOptions controls the background sweeper.
type SweepOptions struct {
	Interval      time.Duration
	IdleTTL       time.Duration
	MatchCacheTTL time.Duration
}

// RunSweeper periodically drops idle conversations, evicts stale rate
// limiter keys and prunes the match cache. It blocks until ctx is done.
func (r *Router) RunSweeper(ctx context.Context, opts SweepOptions) error {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	slog.Info("Sweeper started", "interval", opts.Interval, "idle_ttl", opts.IdleTTL)

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx, opts)
		case <-ctx.Done():
			slog.Info("Sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func (r *Router) sweep(ctx context.Context, opts SweepOptions) {
	if n := r.SweepIdle(opts.IdleTTL); n > 0 {
		slog.Info("Sweeper dropped idle conversations", "count", n)
	}
	r.limiter.Evict()

	if opts.MatchCacheTTL <= 0 {
		return
	}
	if deleted, err := r.repo.CleanupStaleMatches(ctx, opts.MatchCacheTTL); err != nil {
		slog.Error("Sweeper failed to prune match cache", "error", err)
	} else if deleted > 0 {
		slog.Info("Sweeper pruned match cache", "count", deleted)
	}
}

// SweepIdle drops conversations with no event for longer than ttl,
// abandoning any quiz or valentine in progress. Conversations currently
// handling an event are skipped.
func (r *Router) SweepIdle(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	dropped := 0
	r.convs.Range(func(key, value any) bool {
		conv := value.(*conversation)
		if !conv.mu.TryLock() {
			return true
		}
		defer conv.mu.Unlock()

		if conv.lastSeen.After(cutoff) {
			return true
		}
		if conv.active() {
			slog.Info("Sweeper abandoned idle flow", "user_id", key)
		}
		conv.evicted = true
		r.convs.CompareAndDelete(key, conv)
		dropped++
		return true
	})
	return dropped
}
