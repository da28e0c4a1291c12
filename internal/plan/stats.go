package plan

// Stats summarises progress. Leap placeholders are not counted.
type Stats struct {
	TotalSelections     int `json:"total_selections"`
	CompletedSelections int `json:"completed_selections"`
	TotalPassages       int `json:"total_passages"`
	CompletedPassages   int `json:"completed_passages"`
	TodayIndex          int `json:"today_index"`
}

// Stats returns a progress summary.
func (p *Plan) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.statsLocked()
	st.TodayIndex = p.indexForTodayLocked()
	return st
}

func (p *Plan) statsLocked() Stats {
	var st Stats
	for _, s := range p.selections {
		if s.leap {
			continue
		}
		st.TotalSelections++
		if s.isComplete() {
			st.CompletedSelections++
		}
		for _, ps := range s.passages {
			st.TotalPassages++
			if ps.completed {
				st.CompletedPassages++
			}
		}
	}
	return st
}
