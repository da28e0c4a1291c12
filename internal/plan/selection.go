package plan

// Selection is one day of the plan: four passages, or none for the
// placeholder inserted on February 29.
type Selection struct {
	plan     *Plan
	passages []*Passage
	leap     bool
}

// Passages returns the day's passages in slot order.
func (s *Selection) Passages() []*Passage {
	return append([]*Passage(nil), s.passages...)
}

// Passage returns the passage in slot, or nil when out of range.
func (s *Selection) Passage(slot int) *Passage {
	if slot < 0 || slot >= len(s.passages) {
		return nil
	}
	return s.passages[slot]
}

// IsLeapPlaceholder reports whether this is the February 29 placeholder.
func (s *Selection) IsLeapPlaceholder() bool { return s.leap }

// IsComplete reports whether every passage is read. A placeholder has no
// passages and so is always complete.
func (s *Selection) IsComplete() bool {
	s.plan.mu.Lock()
	defer s.plan.mu.Unlock()
	return s.isComplete()
}

func (s *Selection) isComplete() bool {
	for _, ps := range s.passages {
		if !ps.completed {
			return false
		}
	}
	return true
}

func (s *Selection) references() []string {
	if s.leap {
		return nil
	}
	refs := make([]string, len(s.passages))
	for i, ps := range s.passages {
		refs[i] = ps.reference
	}
	return refs
}
