package plan

import (
	"context"
	"log/slog"
)

// reconcile replaces in-memory state with the cloud tier's contents after
// another device changed it. The remote snapshot wins outright: local
// changes not yet synchronized are discarded.
//
// It runs on the plan's queue, never concurrently with another reload.
func (p *Plan) reconcile(ctx context.Context) {
	p.mu.Lock()
	if !p.cloudAuthoritativeLocked() {
		p.mu.Unlock()
		p.logger.Debug("ignoring external change, cloud tier not authoritative")
		return
	}

	snap, readable := p.tier.snapshot(ctx)
	if !readable {
		p.mu.Unlock()
		p.logger.Warn("cloud store unreadable, keeping current plan")
		return
	}
	start, ok := snapTime(snap, KeyStartDate)
	if !ok {
		start = p.now()
	}
	p.startDate = start
	p.selfPaced = snapBool(snap, KeySelfPaced)
	p.selections = p.buildSelectionsLocked(ctx, snap, true, false)
	p.recordProgressLocked()
	n := len(p.selections)
	p.mu.Unlock()

	p.metrics.Reconciliation()
	p.logger.Debug("reloaded plan from cloud",
		slog.Time("start_date", start),
		slog.Int("selections", n),
	)
	p.emit(Event{Kind: PlanReloaded})
}
