package plan

import (
	"time"

	"github.com/willswire/mcheyne/internal/calendar"
)

// IndexForDate maps a date to a selection index in calendar mode. Dates
// before the start give 0, and dates a year or more past it wrap around, so
// the result is always within [0, Len()).
func (p *Plan) IndexForDate(d time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexForDateLocked(d)
}

func (p *Plan) indexForDateLocked(d time.Time) int {
	n := len(p.selections)
	if n == 0 {
		return 0
	}
	days := calendar.DaysBetween(p.startDate, d, p.loc)
	if days < 0 {
		return 0
	}
	return days % n
}

// IndexForToday is the index of today's selection. In self-paced mode it is
// the first selection not yet complete, or 0 once everything is read.
// Otherwise it is IndexForDate(now).
func (p *Plan) IndexForToday() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexForTodayLocked()
}

func (p *Plan) indexForTodayLocked() int {
	if p.selfPaced {
		for i, s := range p.selections {
			if !s.isComplete() {
				return i
			}
		}
		return 0
	}
	return p.indexForDateLocked(p.now())
}

// DateForIndex is the calendar date a selection falls on, counted from the
// start date. It is the inverse of IndexForDate within the first cycle.
func (p *Plan) DateForIndex(index int) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return calendar.AddDays(p.startDate, index, p.loc)
}
