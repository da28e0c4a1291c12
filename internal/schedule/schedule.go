// Package schedule holds the fixed M'Cheyne reading table and the rules that
// place it on the calendar.
package schedule

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/willswire/mcheyne/internal/calendar"
)

const (
	// Days is the number of real reading days in the table.
	Days = 365

	// PassagesPerDay is the number of passages assigned to every real day.
	PassagesPerDay = 4
)

//go:embed mcheyne.yaml
var rawTable []byte

type document struct {
	Days [][]string `yaml:"days"`
}

var (
	loadOnce sync.Once
	table    [][]string
	legacy   []string
)

func load() {
	loadOnce.Do(func() {
		days, err := parse(rawTable)
		if err != nil {
			// The table is compiled into the binary; a bad table is a build defect.
			panic(fmt.Sprintf("schedule: embedded reading table: %v", err))
		}
		table = days

		seen := make(map[string]bool, Days*PassagesPerDay)
		for _, day := range table {
			for _, ref := range day {
				if !seen[ref] {
					seen[ref] = true
					legacy = append(legacy, ref)
				}
			}
		}
	})
}

func parse(data []byte) ([][]string, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(doc.Days) != Days {
		return nil, fmt.Errorf("expected %d days, got %d", Days, len(doc.Days))
	}
	for i, day := range doc.Days {
		if len(day) != PassagesPerDay {
			return nil, fmt.Errorf("day %d: expected %d passages, got %d", i, PassagesPerDay, len(day))
		}
	}
	return doc.Days, nil
}

// Default returns a copy of the 365-day reading table.
func Default() [][]string {
	load()
	out := make([][]string, len(table))
	for i, day := range table {
		out[i] = append([]string(nil), day...)
	}
	return out
}

// LegacyKeys returns every distinct reference in the table, in order of first
// appearance. These were the storage keys of the first schema, which kept a
// single flag per reference text.
func LegacyKeys() []string {
	load()
	return append([]string(nil), legacy...)
}

// CompositeKey is the per-occurrence storage key of a passage.
func CompositeKey(reference string, slot int) string {
	return reference + "+" + strconv.Itoa(slot)
}

// LeapInsertionIndex scans the Days calendar days starting at start and
// returns the offset of the first February 29, if there is one. A
// placeholder day inserted at that offset keeps "day N of the plan" aligned
// with calendar day N.
func LeapInsertionIndex(start time.Time, loc *time.Location) (int, bool) {
	for day := 0; day < Days; day++ {
		if calendar.IsLeapDay(calendar.AddDays(start, day, loc), loc) {
			return day, true
		}
	}
	return 0, false
}

// ErrEmptyBlob is returned when decoding an absent selections blob.
var ErrEmptyBlob = errors.New("empty selections blob")

// MarshalReferences encodes per-day reference lists for the "selections"
// blob. Leap placeholders are encoded as empty lists.
func MarshalReferences(days [][]string) ([]byte, error) {
	norm := make([][]string, len(days))
	for i, day := range days {
		if day == nil {
			day = []string{}
		}
		norm[i] = day
	}
	return json.Marshal(norm)
}

// UnmarshalReferences decodes a "selections" blob. The result must contain
// either Days or Days+1 entries.
func UnmarshalReferences(data []byte) ([][]string, error) {
	if len(data) == 0 {
		return nil, ErrEmptyBlob
	}
	var days [][]string
	if err := json.Unmarshal(data, &days); err != nil {
		return nil, fmt.Errorf("decode selections: %w", err)
	}
	if n := len(days); n != Days && n != Days+1 {
		return nil, fmt.Errorf("decode selections: unexpected length %d", n)
	}
	return days, nil
}
