package plan

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/metrics"
)

// Persisted keys.
const (
	KeyStartDate       = "startDate"
	KeySelfPaced       = "selfPaced"
	KeySelections      = "selections"
	KeyMigratedToV2    = "migratedToV2Schema"
	KeyMigratedToCloud = "migratedToCloud"
)

// tier is the storage strategy the plan reads and writes its state through.
// Exactly one tier is authoritative at a time; the plan swaps it only when
// the cloud migration completes.
//
// Failures are logged and counted, never returned: the in-memory plan stays
// usable whatever the store does.
type tier interface {
	name() string
	// snapshot reads every entry. ok is false when the read failed, which
	// callers must not confuse with an empty store.
	snapshot(ctx context.Context) (snap map[string][]byte, ok bool)
	put(ctx context.Context, key string, value []byte) bool
	putMany(ctx context.Context, entries map[string][]byte) bool
	remove(ctx context.Context, keys ...string) bool
	// flush signals that writes should be pushed to other devices.
	flush(ctx context.Context)
	// persistsOnLoad reports whether loaded passage values are written back.
	persistsOnLoad() bool
}

type storeTier struct {
	label   string
	store   kvstore.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (t *storeTier) name() string { return t.label }

func (t *storeTier) snapshot(ctx context.Context) (map[string][]byte, bool) {
	snap, err := kvstore.Snapshot(ctx, t.store)
	if err != nil {
		t.fail("snapshot", "", err)
		return map[string][]byte{}, false
	}
	return snap, true
}

func (t *storeTier) put(ctx context.Context, key string, value []byte) bool {
	if err := t.store.Set(ctx, key, value); err != nil {
		t.fail("set", key, err)
		return false
	}
	t.metrics.StoreWrite(t.label, keyKind(key))
	return true
}

func (t *storeTier) putMany(ctx context.Context, entries map[string][]byte) bool {
	if err := kvstore.SetMany(ctx, t.store, entries); err != nil {
		t.fail("set_many", "", err)
		return false
	}
	for key := range entries {
		t.metrics.StoreWrite(t.label, keyKind(key))
	}
	return true
}

func (t *storeTier) remove(ctx context.Context, keys ...string) bool {
	if err := kvstore.RemoveMany(ctx, t.store, keys); err != nil {
		t.fail("remove", "", err)
		return false
	}
	return true
}

func (t *storeTier) fail(op, key string, err error) {
	t.metrics.StoreError(t.label, op)
	t.logger.Warn("plan store operation failed",
		slog.String("tier", t.label),
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// localTier is the device-local store. Reads of passages persist their value
// back so every passage key exists after the first load.
type localTier struct {
	storeTier
}

func newLocalTier(s kvstore.Store, logger *slog.Logger, m *metrics.Metrics) *localTier {
	return &localTier{storeTier{label: "local", store: s, logger: logger, metrics: m}}
}

func (t *localTier) flush(context.Context) {}

func (t *localTier) persistsOnLoad() bool { return true }

// cloudTier is the replicated store. Every batch of writes is followed by a
// Synchronize.
type cloudTier struct {
	storeTier
	cloud kvstore.CloudStore
}

func newCloudTier(c kvstore.CloudStore, logger *slog.Logger, m *metrics.Metrics) *cloudTier {
	return &cloudTier{
		storeTier: storeTier{label: "cloud", store: c, logger: logger, metrics: m},
		cloud:     c,
	}
}

func (t *cloudTier) flush(ctx context.Context) {
	t.metrics.Synchronize()
	if err := t.cloud.Synchronize(ctx); err != nil {
		t.fail("synchronize", "", err)
	}
}

func (t *cloudTier) persistsOnLoad() bool { return false }

// keyKind labels a key for metrics.
func keyKind(key string) string {
	switch key {
	case KeyStartDate, KeySelfPaced:
		return "setting"
	case KeySelections:
		return "selections"
	case KeyMigratedToV2, KeyMigratedToCloud:
		return "flag"
	}
	if strings.Contains(key, "+") {
		return "passage"
	}
	return "legacy"
}

// =============================================================================
// Snapshot decoding
// =============================================================================

// snapBool reads a boolean from a snapshot; absent or undecodable is false.
func snapBool(snap map[string][]byte, key string) bool {
	raw, ok := snap[key]
	if !ok {
		return false
	}
	v, err := kvstore.DecodeBool(raw)
	return err == nil && v
}

// snapTime reads a timestamp from a snapshot.
func snapTime(snap map[string][]byte, key string) (time.Time, bool) {
	raw, ok := snap[key]
	if !ok {
		return time.Time{}, false
	}
	t, err := kvstore.DecodeTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// readBool reads a flag straight from a store, logging failures as false.
func readBool(ctx context.Context, s kvstore.Store, key string, logger *slog.Logger) bool {
	v, err := kvstore.GetBool(ctx, s, key)
	if err != nil {
		logger.Warn("read flag", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return v
}
