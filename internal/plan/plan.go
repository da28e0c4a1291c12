// Package plan tracks progress through the M'Cheyne reading plan.
//
// A Plan owns 365 selections (366 when a February 29 falls within the year
// that starts at the start date), each holding four passages. Read state is
// persisted through one of two tiers: the device-local store, or a cloud
// store replicated between devices. On construction the plan upgrades legacy
// per-reference flags to per-passage keys and, when a cloud store is
// available, promotes local state into it. Once the cloud is authoritative,
// external changes reported by the cloud store reload the plan.
//
// All methods are safe for concurrent use. Observers registered with
// Subscribe are called after the state change, outside the plan's lock.
package plan

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/metrics"
	"github.com/willswire/mcheyne/internal/schedule"
)

// Options configures a Plan.
type Options struct {
	// Local is the device-local store. Required.
	Local kvstore.Store
	// Cloud is the replicated store. Optional.
	Cloud kvstore.CloudStore
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Location is the zone civil days are counted in. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Plan is the reading plan and its progress.
type Plan struct {
	mu sync.Mutex

	local      *localTier
	localStore kvstore.Store
	cloud      kvstore.CloudStore
	tier       tier

	now     func() time.Time
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Metrics

	startDate  time.Time
	selfPaced  bool
	selections []*Selection

	observers observers
	queue     *queue
	stopWatch func()
	closeOnce sync.Once
}

// New loads the plan from the authoritative tier, then runs the legacy
// schema migration and the cloud migration. Storage failures along the way
// are logged and leave a usable plan; the only error is a missing local
// store.
//
// The caller is responsible for calling Close() when done.
func New(ctx context.Context, opts Options) (*Plan, error) {
	if opts.Local == nil {
		return nil, errors.New("plan: local store required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logger := opts.Logger.With(slog.String("component", "plan"))
	p := &Plan{
		local:      newLocalTier(opts.Local, logger, opts.Metrics),
		localStore: opts.Local,
		cloud:      opts.Cloud,
		now:        opts.Now,
		loc:        opts.Location,
		logger:     logger,
		metrics:    opts.Metrics,
		queue:      newQueue(),
	}

	p.mu.Lock()
	if p.cloud != nil && readBool(ctx, p.localStore, KeyMigratedToCloud, logger) {
		p.tier = newCloudTier(p.cloud, logger, opts.Metrics)
	} else {
		p.tier = p.local
	}
	p.loadLocked(ctx)
	p.migrateToV2Locked(ctx)
	p.migrateToCloudLocked(ctx)
	p.recordProgressLocked()
	p.mu.Unlock()

	if p.cloud != nil {
		p.stopWatch = p.cloud.OnExternalChange(func() {
			p.queue.post(func() { p.reconcile(context.Background()) })
		})
	}

	logger.Info("plan loaded",
		slog.String("tier", p.tier.name()),
		slog.Time("start_date", p.startDate),
		slog.Bool("self_paced", p.selfPaced),
		slog.Int("selections", len(p.selections)),
	)

	return p, nil
}

// Close stops listening for external changes and drains pending reloads.
func (p *Plan) Close() {
	p.closeOnce.Do(func() {
		if p.stopWatch != nil {
			p.stopWatch()
		}
		p.queue.close()
	})
}

// loadLocked reads start date, self-paced flag and selections from the
// authoritative tier. A missing start date becomes now and is persisted.
//
// When the tier cannot be read the plan starts from defaults held in memory
// only; nothing is written back over state the store may still hold.
func (p *Plan) loadLocked(ctx context.Context) {
	snap, readable := p.tier.snapshot(ctx)
	if !readable {
		p.logger.Warn("plan store unreadable, using defaults until the next load",
			slog.String("tier", p.tier.name()),
		)
	}

	start, ok := snapTime(snap, KeyStartDate)
	if !ok {
		start = p.now()
		if readable {
			p.tier.put(ctx, KeyStartDate, kvstore.EncodeTime(start))
		}
	}
	p.startDate = start
	p.selfPaced = snapBool(snap, KeySelfPaced)

	_, cloud := p.tier.(*cloudTier)
	p.selections = p.buildSelectionsLocked(ctx, snap, cloud, readable && p.tier.persistsOnLoad())
}

// buildSelectionsLocked creates the selections and loads each passage's read
// state from snap. With fromBlob set, the layout comes from the stored
// "selections" blob, used as-is; otherwise, or when the blob is missing or
// corrupt, the default table is used with a leap placeholder inserted for
// the current start date. With persist set, every passage value is written
// back to the tier.
func (p *Plan) buildSelectionsLocked(ctx context.Context, snap map[string][]byte, fromBlob, persist bool) []*Selection {
	var days [][]string
	if fromBlob {
		decoded, err := schedule.UnmarshalReferences(snap[KeySelections])
		if err != nil {
			p.logger.Warn("stored selections unusable, rebuilding default schedule",
				slog.String("error", err.Error()),
			)
		} else {
			days = decoded
		}
	}
	if days == nil {
		days = schedule.Default()
		if idx, ok := schedule.LeapInsertionIndex(p.startDate, p.loc); ok {
			days = slices.Insert(days, idx, nil)
		}
	}

	var written map[string][]byte
	if persist {
		written = make(map[string][]byte, schedule.Days*schedule.PassagesPerDay)
	}

	selections := make([]*Selection, len(days))
	for day, refs := range days {
		s := &Selection{plan: p, leap: len(refs) == 0}
		for slot, ref := range refs {
			ps := newPassage(p, ref, day, slot, false)
			ps.completed = snapBool(snap, ps.key)
			s.passages = append(s.passages, ps)
			if persist {
				written[ps.key] = kvstore.EncodeBool(ps.completed)
			}
		}
		selections[day] = s
	}

	if persist {
		p.tier.putMany(ctx, written)
	}
	return selections
}

// =============================================================================
// Accessors
// =============================================================================

// StartDate returns the date that anchors selection 0.
func (p *Plan) StartDate() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startDate
}

// IsSelfPaced reports whether today's selection follows completion rather
// than the calendar.
func (p *Plan) IsSelfPaced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selfPaced
}

// IsCloudAuthoritative reports whether state is read from and written to the
// cloud tier.
func (p *Plan) IsCloudAuthoritative() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cloudAuthoritativeLocked()
}

func (p *Plan) cloudAuthoritativeLocked() bool {
	_, ok := p.tier.(*cloudTier)
	return ok
}

// Len returns the number of selections, 365 or 366.
func (p *Plan) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.selections)
}

// Selections returns every selection in order.
func (p *Plan) Selections() []*Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Selection(nil), p.selections...)
}

// Selection returns the selection at index, or today's selection when index
// is nil. It returns nil for an index out of range.
func (p *Plan) Selection(index *int) *Selection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var i int
	if index == nil {
		i = p.indexForTodayLocked()
	} else {
		i = *index
	}
	if i < 0 || i >= len(p.selections) {
		return nil
	}
	return p.selections[i]
}

// CurrentSelection returns today's selection.
func (p *Plan) CurrentSelection() *Selection {
	return p.Selection(nil)
}

// Subscribe registers fn for every state change. The returned func removes
// the registration. fn must not call Flush.
func (p *Plan) Subscribe(fn func(Event)) (unsubscribe func()) {
	return p.observers.add(fn)
}

// Flush blocks until every reload already triggered by an external change
// has been applied.
func (p *Plan) Flush() {
	p.queue.flush()
}

func (p *Plan) emit(e Event) {
	p.observers.emit(e)
}

// =============================================================================
// Mutations
// =============================================================================

// SetStartDate stores a new start date. Read state and leap placement are
// unchanged.
func (p *Plan) SetStartDate(ctx context.Context, d time.Time) {
	p.mu.Lock()
	p.setStartDateLocked(ctx, d)
	p.tier.flush(ctx)
	p.mu.Unlock()

	p.emit(Event{Kind: StartDateChanged})
}

func (p *Plan) setStartDateLocked(ctx context.Context, d time.Time) {
	p.startDate = d
	p.tier.put(ctx, KeyStartDate, kvstore.EncodeTime(d))
}

// SetSelfPaced stores the self-paced flag.
func (p *Plan) SetSelfPaced(ctx context.Context, v bool) {
	p.mu.Lock()
	p.selfPaced = v
	p.tier.put(ctx, KeySelfPaced, kvstore.EncodeBool(v))
	p.tier.flush(ctx)
	p.mu.Unlock()

	p.emit(Event{Kind: SelfPacedChanged})
}

// Reset marks every passage unread and restarts the plan today.
func (p *Plan) Reset(ctx context.Context) {
	p.mu.Lock()
	p.resetLocked(ctx)
	p.tier.flush(ctx)
	p.recordProgressLocked()
	p.mu.Unlock()

	p.emit(Event{Kind: PlanReset})
}

func (p *Plan) resetLocked(ctx context.Context) {
	p.markLocked(ctx, p.selections, false)
	p.setStartDateLocked(ctx, p.now())
}

// ChangeStartDate resets the plan, sets the start date to d, then marks read
// every selection before today's index. A past date therefore credits the
// days already elapsed. In self-paced mode today's index after a reset is 0,
// so nothing is credited.
func (p *Plan) ChangeStartDate(ctx context.Context, d time.Time) {
	p.mu.Lock()
	p.resetLocked(ctx)
	p.setStartDateLocked(ctx, d)
	if idx := p.indexForTodayLocked(); idx > 0 {
		p.markLocked(ctx, p.selections[:idx], true)
	}
	p.tier.flush(ctx)
	p.recordProgressLocked()
	p.mu.Unlock()

	p.emit(Event{Kind: StartDateChanged})
}

// markLocked sets every passage of selections to v in one batch.
func (p *Plan) markLocked(ctx context.Context, selections []*Selection, v bool) {
	entries := make(map[string][]byte)
	for _, s := range selections {
		for _, ps := range s.passages {
			ps.completed = v
			entries[ps.key] = kvstore.EncodeBool(v)
		}
	}
	p.tier.putMany(ctx, entries)
}

func (p *Plan) recordProgressLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetPassagesRead(p.statsLocked().CompletedPassages)
}
