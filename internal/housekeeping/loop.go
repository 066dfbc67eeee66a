package housekeeping

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type linkExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

type retentionPurger interface {
	PurgeRetention(ctx context.Context, days int) (int, error)
}

// Loop periodically persists link expiry and, when retention is on, purges
// old clients. Redemption never depends on it.
type Loop struct {
	Links         linkExpirer
	Clients       retentionPurger
	RetentionDays int
	Log           *zap.Logger
}

// Start runs the loop until ctx is done. interval <= 0 disables it.
func (l *Loop) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		l.Log.Info("housekeeping disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce does one pass. Errors are logged; the next tick tries again.
func (l *Loop) RunOnce(ctx context.Context) {
	n, err := l.Links.ExpireStale(ctx)
	if err != nil {
		l.Log.Warn("expire stale links", zap.Error(err))
	} else if n > 0 {
		l.Log.Info("links expired", zap.Int64("count", n))
	}

	if l.RetentionDays <= 0 {
		return
	}
	purged, err := l.Clients.PurgeRetention(ctx, l.RetentionDays)
	if err != nil {
		l.Log.Warn("retention purge", zap.Error(err))
		return
	}
	if purged > 0 {
		l.Log.Info("clients purged", zap.Int("count", purged), zap.Int("retention_days", l.RetentionDays))
	}
}
