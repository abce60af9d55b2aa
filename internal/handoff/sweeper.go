// ABOUTME: Periodic eviction of idle sessions
// ABOUTME: Each candidate is re-checked under its session lock so in-flight work is never evicted

package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/handoff-gateway/internal/client"
	"github.com/2389/handoff-gateway/internal/ledger"
	"github.com/2389/handoff-gateway/internal/operator"
)

// RunSweeper evicts idle sessions every SweepInterval until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	o.logger.Info("session sweeper started", "interval", o.cfg.SweepInterval, "idle_timeout", o.cfg.IdleTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Sweep(ctx, o.cfg.Now()); n > 0 {
				o.logger.Info("evicted idle sessions", "count", n, "remaining", o.store.Len())
			}
		}
	}
}

// Sweep evicts sessions idle since before now minus IdleTimeout and returns
// how many were removed.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-o.cfg.IdleTimeout)
	evicted := 0
	for _, id := range o.store.Expired(cutoff) {
		if o.evict(ctx, id, cutoff) {
			evicted++
		}
	}
	return evicted
}

func (o *Orchestrator) evict(ctx context.Context, id string, cutoff time.Time) bool {
	unlock := o.lockSession(id)
	defer unlock()

	sess, ok := o.store.EvictIfIdle(id, cutoff)
	if !ok {
		return false
	}
	o.logger.Debug("session evicted", "session_id", id, "mode", sess.Mode, "last_activity", sess.LastActivityAt)
	o.record(ctx, &ledger.Event{SessionID: id, Type: ledger.EventEviction, FromMode: string(sess.Mode), Text: "idle"})

	if sess.Operator != "" {
		o.tellOperator(ctx, sess.Operator, fmt.Sprintf("Conversation %s expired after inactivity.", operator.ShortCode(id)))
	}
	o.push(id, client.Status(MsgExpired))
	return true
}
