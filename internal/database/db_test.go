package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/willswire/mcheyne/internal/kvstore"
)

// testDB creates a temporary in-memory database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()

	cfg := Config{
		Path:            ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}

	// Quiet logger for tests
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	db, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	ctx := context.Background()
	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// -----------------------------------------------------------------
// DB tests
// -----------------------------------------------------------------

func TestOpen(t *testing.T) {
	db := testDB(t)

	ctx := context.Background()
	if err := db.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plan.db")

	db, err := Open(DefaultConfig(path), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("database directory not created: %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Running again should be a no-op
	count, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Migrate() count = %d, want 0 (already applied)", count)
	}
}

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"default", DefaultConfig("plan.db"), "plan.db?_journal_mode=WAL&_busy_timeout=5000"},
		{"zero timeout", Config{Path: ":memory:"}, ":memory:?_journal_mode=WAL&_busy_timeout=5000"},
		{"custom timeout", Config{Path: "x.db", BusyTimeout: 250 * time.Millisecond}, "x.db?_journal_mode=WAL&_busy_timeout=250"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.dsn(); got != tt.want {
				t.Errorf("dsn() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetMany_RollsBackOnFailure(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		CREATE TRIGGER reject_poison BEFORE INSERT ON kv
		WHEN NEW.key = 'poison'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END
	`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	err := db.SetMany(ctx, map[string][]byte{
		"Genesis 1+0": []byte("true"),
		"poison":      []byte("true"),
	})
	if err == nil {
		t.Fatal("SetMany() error = nil, want trigger failure")
	}
	if _, err := db.Get(ctx, "Genesis 1+0"); !IsNotFound(err) {
		t.Errorf("Get() after rollback error = %v, want not found", err)
	}
}

// -----------------------------------------------------------------
// Key-value tests
// -----------------------------------------------------------------

func TestGet_NotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.Get(context.Background(), "Genesis 1+0")
	if !IsNotFound(err) {
		t.Errorf("Get() error = %v, want not found", err)
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("Get() error = %v, want kvstore.ErrNotFound", err)
	}
}

func TestSetAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := kvstore.SetBool(ctx, db, "Genesis 1+0", false); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if err := kvstore.SetBool(ctx, db, "Genesis 1+0", true); err != nil {
		t.Fatalf("SetBool() overwrite error = %v", err)
	}

	got, err := kvstore.GetBool(ctx, db, "Genesis 1+0")
	if err != nil {
		t.Fatalf("GetBool() error = %v", err)
	}
	if !got {
		t.Error("GetBool() = false, want true after overwrite")
	}

	keys, err := db.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("Keys() returned %d keys, want 1", len(keys))
	}
}

func TestSetEmptyValue(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Set(ctx, "selections", nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := db.Get(ctx, "selections")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Get() = %q, want empty", got)
	}
}

func TestRemove(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Set(ctx, "selfPaced", []byte("true")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := db.Remove(ctx, "selfPaced"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := db.Remove(ctx, "selfPaced"); err != nil {
		t.Errorf("Remove() of absent key error = %v", err)
	}
	if _, err := db.Get(ctx, "selfPaced"); !IsNotFound(err) {
		t.Errorf("Get() after Remove error = %v, want not found", err)
	}
}

func TestSetMany(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	entries := map[string][]byte{
		"Genesis 1":  []byte("true"),
		"Genesis 2":  []byte("false"),
		"Matthew 1":  []byte("true"),
		"startDate":  kvstore.EncodeTime(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)),
		"selections": []byte("[]"),
	}
	if err := db.SetMany(ctx, entries); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	snap, err := kvstore.Snapshot(ctx, db)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != len(entries) {
		t.Errorf("stored %d entries, want %d", len(snap), len(entries))
	}
	if string(snap["Matthew 1"]) != "true" {
		t.Errorf("Matthew 1 = %q, want true", snap["Matthew 1"])
	}
}

func TestRemoveMany(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}
	if err := db.RemoveMany(ctx, []string{"a", "c", "missing"}); err != nil {
		t.Fatalf("RemoveMany() error = %v", err)
	}

	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 1 || string(all["b"]) != "2" {
		t.Errorf("All() = %v, want only b", all)
	}
}

func TestRecent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := db.Set(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	entries, err := db.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.UpdatedAt == nil {
			t.Errorf("entry %q has no UpdatedAt", e.Key)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input sql.NullString
		want  bool
	}{
		{"null", sql.NullString{}, false},
		{"empty", sql.NullString{Valid: true}, false},
		{"sqlite", sql.NullString{String: "2024-01-05 09:56:00", Valid: true}, true},
		{"rfc3339", sql.NullString{String: "2024-01-05T09:56:00Z", Valid: true}, true},
		{"garbage", sql.NullString{String: "yesterday", Valid: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.input)
			if (got != nil) != tt.want {
				t.Errorf("parseTimestamp(%q) = %v, want parsed=%v", tt.input.String, got, tt.want)
			}
		})
	}
}
