package cloud

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willswire/mcheyne/internal/kvstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := OpenFile(path, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFile_ReadWrite(t *testing.T) {
	ctx := context.Background()
	f := openFile(t, filepath.Join(t.TempDir(), "plan.json"))

	assert.True(t, f.Available(ctx))

	_, err := f.Get(ctx, "selfPaced")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	require.NoError(t, kvstore.SetBool(ctx, f, "selfPaced", true))
	require.NoError(t, kvstore.SetBool(ctx, f, "Genesis 1+0", true))
	require.NoError(t, f.Remove(ctx, "Genesis 1+0"))

	keys, err := f.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"selfPaced"}, keys)
}

func TestFile_SynchronizePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plan.json")

	f := openFile(t, path)
	require.NoError(t, kvstore.SetBool(ctx, f, "migratedToCloud", true))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "document written before Synchronize")

	require.NoError(t, f.Synchronize(ctx))
	require.NoError(t, f.Close())

	reopened := openFile(t, path)
	v, err := kvstore.GetBool(ctx, reopened, "migratedToCloud")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestFile_ExternalChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plan.json")

	phone := openFile(t, path)
	laptop := openFile(t, path)

	var phoneNotified, laptopNotified atomic.Int32
	phone.OnExternalChange(func() { phoneNotified.Add(1) })
	laptop.OnExternalChange(func() { laptopNotified.Add(1) })

	require.NoError(t, kvstore.SetBool(ctx, phone, "selfPaced", true))
	require.NoError(t, phone.Synchronize(ctx))

	assert.Eventually(t, func() bool {
		return laptopNotified.Load() > 0
	}, 2*time.Second, 10*time.Millisecond, "laptop never saw the phone's write")

	v, err := kvstore.GetBool(ctx, laptop, "selfPaced")
	require.NoError(t, err)
	assert.True(t, v)

	// Give the phone's watcher time to see its own rename.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, phoneNotified.Load(), "a store must not report its own write")
}

func TestFile_Unavailable(t *testing.T) {
	dir := t.TempDir()
	f := openFile(t, filepath.Join(dir, "plan.json"))

	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, f.Available(context.Background()))
}

func TestFile_OpenCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	f := openFile(t, path)
	assert.False(t, f.Available(ctx))
	_, err := f.All(ctx)
	assert.Error(t, err)

	require.NoError(t, kvstore.SetBool(ctx, f, "selfPaced", true))
	assert.Error(t, f.Synchronize(ctx), "an unreadable document is not overwritten")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))

	require.NoError(t, os.WriteFile(path, []byte(`{"selfPaced":"true"}`), 0o644))
	assert.Eventually(t, func() bool {
		snap, err := f.All(ctx)
		return err == nil && string(snap["selfPaced"]) == "true"
	}, 2*time.Second, 10*time.Millisecond, "store never recovered")
	assert.True(t, f.Available(ctx))
}

func TestFile_MissingFolder(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "sync")
	path := filepath.Join(dir, "plan.json")

	laptop := openFile(t, path)
	assert.False(t, laptop.Available(ctx))

	var notified atomic.Int32
	laptop.OnExternalChange(func() { notified.Add(1) })

	require.NoError(t, os.MkdirAll(dir, 0o755))
	assert.True(t, laptop.Available(ctx), "store comes online once the folder exists")

	phone := openFile(t, path)
	require.NoError(t, kvstore.SetBool(ctx, phone, "selfPaced", true))
	require.NoError(t, phone.Synchronize(ctx))

	assert.Eventually(t, func() bool {
		return notified.Load() > 0
	}, 2*time.Second, 10*time.Millisecond, "late watch never saw the write")

	v, err := kvstore.GetBool(ctx, laptop, "selfPaced")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestListeners_Cancel(t *testing.T) {
	var l listeners
	calls := 0
	cancel := l.add(func() { calls++ })
	l.notify()
	cancel()
	l.notify()
	assert.Equal(t, 1, calls)
}
