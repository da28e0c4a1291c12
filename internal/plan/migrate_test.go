package plan

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/schedule"
)

// seedLegacy writes first-schema flags as an app that had finished the
// first n days would have left them: one flag per reference text, set by
// the reference's first appearance.
func seedLegacy(t *testing.T, s kvstore.Store, n int, skip func(ref string) bool) {
	t.Helper()
	ctx := context.Background()

	flags := make(map[string]bool)
	for day, refs := range schedule.Default() {
		for _, ref := range refs {
			if _, ok := flags[ref]; !ok {
				flags[ref] = day < n
			}
		}
	}
	for ref, v := range flags {
		if skip != nil && skip(ref) {
			continue
		}
		require.NoError(t, kvstore.SetBool(ctx, s, ref, v))
	}
}

func TestMigrateToV2(t *testing.T) {
	tests := []struct {
		name string
		read int
		skip func(string) bool
	}{
		{name: "nothing read", read: 0},
		{name: "six months", read: 182},
		{name: "six months with some keys missing", read: 182, skip: func(ref string) bool {
			return strings.HasPrefix(ref, "1 Chronicles")
		}},
		{name: "up to first repeated passage", read: 171},
		{name: "all but the last day", read: 364},
		{name: "everything", read: 365},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nonLeapStart)
			seedLegacy(t, f.local, tt.read, tt.skip)

			p := f.open(t)

			for i, s := range p.Selections() {
				if i < tt.read {
					require.True(t, s.IsComplete(), "selection %d should be read", i)
					continue
				}
				for _, ps := range s.Passages() {
					require.False(t, ps.Completed(), "selection %d %q should be unread", i, ps.Reference())
				}
			}

			snap := f.local.Dump()
			for _, key := range schedule.LegacyKeys() {
				assert.NotContains(t, snap, key)
			}
			assert.Equal(t, "true", string(snap[KeyMigratedToV2]))
			assert.Len(t, snap, 1462)
		})
	}
}

func TestMigrateToV2_SecondOccurrenceReverted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nonLeapStart)
	require.NoError(t, kvstore.SetBool(ctx, f.local, "Matthew 1", true))

	p := f.open(t)

	first := p.Selections()[0].Passages()[1]
	require.Equal(t, "Matthew 1", first.Reference())
	assert.True(t, first.Completed())

	second := p.Selections()[171]
	require.Equal(t, "Matthew 1", second.Passages()[3].Reference())
	for _, ps := range second.Passages() {
		assert.False(t, ps.Completed(), ps.Reference())
	}
	assert.Equal(t, 1, p.Stats().CompletedPassages)
}

func TestMigrateToV2_SecondOccurrenceKeptWhenDayComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nonLeapStart)
	for _, ref := range []string{"Deuteronomy 26", "Psalms 117-118", "Isaiah 53", "Matthew 1"} {
		require.NoError(t, kvstore.SetBool(ctx, f.local, ref, true))
	}

	p := f.open(t)

	assert.True(t, p.Selections()[171].IsComplete())
	assert.True(t, p.Selections()[0].Passages()[1].Completed())
}

func TestMigrateToV2_FalseFlagsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nonLeapStart)
	require.NoError(t, kvstore.SetBool(ctx, f.local, "Genesis 1", false))

	p := f.open(t)

	assert.Zero(t, p.Stats().CompletedPassages)
	assert.NotContains(t, f.local.Dump(), "Genesis 1")
}

func TestMigrateToV2_Idempotent(t *testing.T) {
	f := newFixture(nonLeapStart)
	seedLegacy(t, f.local, 100, nil)

	first := f.open(t)
	first.Close()
	after := f.local.Dump()

	// Legacy keys written after the flag is set are left alone.
	require.NoError(t, kvstore.SetBool(context.Background(), f.local, "Genesis 50", true))
	second := f.open(t)

	assert.Equal(t, first.Stats(), second.Stats())
	now := f.local.Dump()
	delete(now, "Genesis 50")
	assert.Equal(t, after, now)
}

func TestMigrateToV2_LeapPlan(t *testing.T) {
	f := newFixture(leapStart)
	seedLegacy(t, f.local, 100, nil)

	p := f.open(t)

	// The placeholder at 55 shifts later days by one.
	for i, s := range p.Selections() {
		switch {
		case i == 55:
			assert.True(t, s.IsLeapPlaceholder())
		case i < 101:
			assert.True(t, s.IsComplete(), "selection %d", i)
		default:
			assert.False(t, s.IsComplete(), "selection %d", i)
		}
	}
}
