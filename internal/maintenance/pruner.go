// Package maintenance deletes expired token bookkeeping and login sessions.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"command-center/backend/internal/logs"
)

// TokenPruner deletes issued and revoked token rows that expired before now.
type TokenPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// SessionPruner deletes login sessions that expired before the cutoff.
type SessionPruner interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Pruner runs both prunes on a fixed interval.
type Pruner struct {
	tokens   TokenPruner
	sessions SessionPruner
	interval time.Duration
	now      func() time.Time
}

// NewPruner returns a Pruner. interval <= 0 means one hour.
func NewPruner(tokens TokenPruner, sessions SessionPruner, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{tokens: tokens, sessions: sessions, interval: interval, now: func() time.Time { return time.Now().UTC() }}
}

// Result counts the rows one pass deleted.
type Result struct {
	Tokens   int64
	Sessions int64
}

// RunOnce prunes tokens, then sessions. A token failure does not stop the session prune.
func (p *Pruner) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var firstErr error
	n, err := p.tokens.Prune(ctx)
	if err != nil {
		firstErr = fmt.Errorf("prune tokens: %w", err)
	}
	res.Tokens = n
	n, err = p.sessions.DeleteExpired(ctx, p.now())
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("prune sessions: %w", err)
	}
	res.Sessions = n
	return res, firstErr
}

// Run prunes immediately and then on every tick until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		res, err := p.RunOnce(ctx)
		entry := logs.Logger.WithFields(logrus.Fields{"tokens": res.Tokens, "sessions": res.Sessions})
		if err != nil {
			entry.WithError(err).Error("prune failed")
		} else {
			entry.Info("pruned expired rows")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
