package plan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willswire/mcheyne/internal/calendar"
	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/metrics"
)

// unreadableCloud is a MemoryCloud whose full reads can be made to fail.
type unreadableCloud struct {
	*kvstore.MemoryCloud
	failAll atomic.Bool
}

func (c *unreadableCloud) All(ctx context.Context) (map[string][]byte, error) {
	if c.failAll.Load() {
		return nil, errors.New("read timed out")
	}
	return c.MemoryCloud.All(ctx)
}

// unreadableLocal is a MemoryStore whose full reads can be made to fail.
type unreadableLocal struct {
	*kvstore.MemoryStore
	failAll atomic.Bool
}

func (s *unreadableLocal) All(ctx context.Context) (map[string][]byte, error) {
	if s.failAll.Load() {
		return nil, errors.New("database locked")
	}
	return s.MemoryStore.All(ctx)
}

// unwritableStore is a MemoryStore whose batch writes can be made to fail.
type unwritableStore struct {
	*kvstore.MemoryStore
	failSetMany atomic.Bool
}

func (s *unwritableStore) SetMany(ctx context.Context, entries map[string][]byte) error {
	if s.failSetMany.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.SetMany(ctx, entries)
}

func openWith(t *testing.T, local kvstore.Store, cloud kvstore.CloudStore, c *clock) *Plan {
	t.Helper()
	opts := Options{
		Local:    local,
		Now:      c.now,
		Location: time.UTC,
		Logger:   quietLogger(),
		Metrics:  metrics.New(),
	}
	if cloud != nil {
		opts.Cloud = cloud
	}
	p, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestReconcile_UnreadableCloudKeepsState(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: nonLeapStart}
	local := kvstore.NewMemoryStore()
	cloud := &unreadableCloud{MemoryCloud: kvstore.NewMemoryCloud()}

	p := openWith(t, local, cloud, c)
	require.True(t, p.IsCloudAuthoritative())
	p.SetSelfPaced(ctx, true)
	for _, s := range p.Selections()[:30] {
		markSelection(ctx, s, true)
	}
	require.Equal(t, 120, p.Stats().CompletedPassages)

	var reloads int
	p.Subscribe(func(e Event) {
		if e.Kind == PlanReloaded {
			reloads++
		}
	})

	c.t = calendar.AddDays(nonLeapStart, 61, time.UTC)
	cloud.failAll.Store(true)
	cloud.NotifyExternalChange()
	p.Flush()

	assert.True(t, p.StartDate().Equal(nonLeapStart))
	assert.True(t, p.IsSelfPaced())
	assert.Equal(t, 120, p.Stats().CompletedPassages)
	assert.Zero(t, reloads)
}

func TestNew_UnreadableCloudDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: nonLeapStart}
	local := kvstore.NewMemoryStore()
	cloud := &unreadableCloud{MemoryCloud: kvstore.NewMemoryCloud()}

	first := openWith(t, local, cloud, c)
	first.SetSelfPaced(ctx, true)
	for _, s := range first.Selections()[:30] {
		markSelection(ctx, s, true)
	}
	first.Close()

	c.t = calendar.AddDays(nonLeapStart, 61, time.UTC)
	cloud.failAll.Store(true)
	degraded := openWith(t, local, cloud, c)

	assert.True(t, degraded.IsCloudAuthoritative())
	assert.True(t, degraded.StartDate().Equal(c.t), "defaults are used in memory")

	stored, ok, err := kvstore.GetTime(ctx, cloud, KeyStartDate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Equal(nonLeapStart), "stored start date is left alone")
	assert.True(t, cloudBool(t, cloud, KeySelfPaced))
	degraded.Close()

	cloud.failAll.Store(false)
	healthy := openWith(t, local, cloud, c)
	assert.True(t, healthy.StartDate().Equal(nonLeapStart))
	assert.True(t, healthy.IsSelfPaced())
	assert.Equal(t, 120, healthy.Stats().CompletedPassages)
}

func TestNew_UnreadableLocalDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: nonLeapStart}
	local := kvstore.NewMemoryStore()

	first := openWith(t, local, nil, c)
	markSelection(ctx, first.Selections()[0], true)
	first.Close()

	broken := &unreadableLocal{MemoryStore: local}
	broken.failAll.Store(true)
	c.t = calendar.AddDays(nonLeapStart, 5, time.UTC)
	openWith(t, broken, nil, c).Close()

	read, err := kvstore.GetBool(ctx, local, "Genesis 1+0")
	require.NoError(t, err)
	assert.True(t, read, "passage values are not written back from defaults")
	stored, _, err := kvstore.GetTime(ctx, local, KeyStartDate)
	require.NoError(t, err)
	assert.True(t, stored.Equal(nonLeapStart))
}

func TestMigrateToV2_FailedWriteKeepsLegacyFlags(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: nonLeapStart}
	local := &unwritableStore{MemoryStore: kvstore.NewMemoryStore()}
	require.NoError(t, kvstore.SetBool(ctx, local, "Genesis 1", true))
	require.NoError(t, kvstore.SetBool(ctx, local, "Matthew 1", true))

	local.failSetMany.Store(true)
	openWith(t, local, nil, c).Close()

	snap := local.Dump()
	assert.Equal(t, "true", string(snap["Genesis 1"]))
	assert.Equal(t, "true", string(snap["Matthew 1"]))
	assert.NotContains(t, snap, "Genesis 1+0")
	assert.NotContains(t, snap, KeyMigratedToV2)

	local.failSetMany.Store(false)
	p := openWith(t, local, nil, c)

	day := p.Selections()[0].Passages()
	assert.True(t, day[0].Completed())
	assert.True(t, day[1].Completed())
	assert.Equal(t, 2, p.Stats().CompletedPassages)

	snap = local.Dump()
	assert.NotContains(t, snap, "Genesis 1")
	assert.Equal(t, "true", string(snap[KeyMigratedToV2]))
}

func TestPassage_WriteAfterReloadUpdatesLiveSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nonLeapStart).withCloud()
	p := f.open(t)

	stale := p.Selections()[5].Passages()[1]
	f.cloud.NotifyExternalChange()
	p.Flush()
	require.NotSame(t, stale, p.Selections()[5].Passages()[1])

	stale.Read(ctx)

	assert.True(t, p.Selections()[5].Passages()[1].Completed())
	assert.False(t, p.Selections()[5].IsComplete())
	assert.Equal(t, 1, p.Stats().CompletedPassages)
	assert.True(t, cloudBool(t, f.cloud, stale.Key()))
}
