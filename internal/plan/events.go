package plan

import "sync"

// EventKind identifies what changed.
type EventKind int

const (
	// PassageChanged is emitted after a passage is marked read or unread.
	PassageChanged EventKind = iota
	// StartDateChanged is emitted after the start date is set, including by
	// ChangeStartDate.
	StartDateChanged
	// SelfPacedChanged is emitted after the self-paced flag is set.
	SelfPacedChanged
	// PlanReset is emitted after Reset.
	PlanReset
	// PlanReloaded is emitted after state was replaced from the cloud tier.
	// Selections and passages obtained earlier are stale.
	PlanReloaded
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case PassageChanged:
		return "passage_changed"
	case StartDateChanged:
		return "start_date_changed"
	case SelfPacedChanged:
		return "self_paced_changed"
	case PlanReset:
		return "plan_reset"
	case PlanReloaded:
		return "plan_reloaded"
	default:
		return "unknown"
	}
}

// Event describes a state change. Day and Slot are set for PassageChanged.
type Event struct {
	Kind EventKind
	Day  int
	Slot int
}

// observers is a registry of event callbacks.
type observers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Event)
}

func (o *observers) add(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[int]func(Event))
	}
	id := o.nextID
	o.nextID++
	o.fns[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
	}
}

func (o *observers) emit(e Event) {
	o.mu.Lock()
	fns := make([]func(Event), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
