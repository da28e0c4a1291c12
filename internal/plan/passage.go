package plan

import (
	"context"
	"strings"

	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/schedule"
)

// Passage is one reference within a day's selection, with its read state.
type Passage struct {
	plan      *Plan
	reference string
	day       int
	slot      int
	key       string
	completed bool
}

func newPassage(p *Plan, reference string, day, slot int, completed bool) *Passage {
	return &Passage{
		plan:      p,
		reference: reference,
		day:       day,
		slot:      slot,
		key:       schedule.CompositeKey(reference, slot),
		completed: completed,
	}
}

// Reference returns the scripture reference, e.g. "Genesis 1".
func (ps *Passage) Reference() string { return ps.reference }

// Slot returns the passage's position within its day (0-3).
func (ps *Passage) Slot() int { return ps.slot }

// Key returns the composite storage key, reference + "+" + slot.
func (ps *Passage) Key() string { return ps.key }

// Completed reports whether the passage is marked read.
func (ps *Passage) Completed() bool {
	ps.plan.mu.Lock()
	defer ps.plan.mu.Unlock()
	return ps.completed
}

// Read marks the passage read in the authoritative tier.
func (ps *Passage) Read(ctx context.Context) {
	ps.set(ctx, true)
}

// Unread marks the passage unread in the authoritative tier.
func (ps *Passage) Unread(ctx context.Context) {
	ps.set(ctx, false)
}

func (ps *Passage) set(ctx context.Context, v bool) {
	p := ps.plan
	p.mu.Lock()
	ps.completed = v
	if live := p.livePassageLocked(ps); live != ps {
		live.completed = v
	}
	p.tier.put(ctx, ps.key, kvstore.EncodeBool(v))
	p.tier.flush(ctx)
	p.recordProgressLocked()
	p.mu.Unlock()

	p.emit(Event{Kind: PassageChanged, Day: ps.day, Slot: ps.slot})
}

// livePassageLocked returns the passage currently held at ps's position. A
// reload replaces every selection, so ps may belong to a discarded one.
func (p *Plan) livePassageLocked(ps *Passage) *Passage {
	if ps.day >= len(p.selections) {
		return ps
	}
	passages := p.selections[ps.day].passages
	if ps.slot >= len(passages) || passages[ps.slot].key != ps.key {
		return ps
	}
	return passages[ps.slot]
}

// LocalizedDescription splits the reference into its book name and chapter
// part so a presentation layer can translate the book, e.g. "1 Kings 3-4"
// gives ("1 Kings", "3-4"). A reference with no space is returned whole.
func (ps *Passage) LocalizedDescription() (book, chapter string) {
	i := strings.LastIndex(ps.reference, " ")
	if i < 0 {
		return ps.reference, ""
	}
	return ps.reference[:i], ps.reference[i+1:]
}
