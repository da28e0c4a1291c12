// Package kvstore defines the key-value capabilities the reading plan is
// persisted through, plus the value encoding shared by every backend.
//
// Two tiers exist. A Store is the device-local tier. A CloudStore is the
// replicated tier: it adds a best-effort Synchronize, an availability probe,
// and a payload-free notification that some other writer changed it.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("key not found")

// Store is a string-keyed store of opaque values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Keys enumerates every key currently set.
	Keys(ctx context.Context) ([]string, error)
}

// CloudStore is a Store replicated between devices.
type CloudStore interface {
	Store

	// Available reports whether the replicated store can be used right now.
	// It may flip between calls.
	Available(ctx context.Context) bool

	// Synchronize pushes pending writes. Callers treat it as fire-and-forget.
	Synchronize(ctx context.Context) error

	// OnExternalChange registers fn to be called whenever another writer
	// changes the store. The returned func removes the registration.
	OnExternalChange(fn func()) (cancel func())
}

// Batcher is implemented by stores that can apply many writes at once. The
// plan writes every passage key on load, so backends with a per-write cost
// (a SQLite transaction, a network round trip) should implement it.
type Batcher interface {
	SetMany(ctx context.Context, entries map[string][]byte) error
	RemoveMany(ctx context.Context, keys []string) error
}

// Snapshotter is implemented by stores that can read every entry in one
// operation.
type Snapshotter interface {
	All(ctx context.Context) (map[string][]byte, error)
}

// SetMany writes every entry, in one batch when s is a Batcher.
func SetMany(ctx context.Context, s Store, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	if b, ok := s.(Batcher); ok {
		return b.SetMany(ctx, entries)
	}
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMany removes every key, in one batch when s is a Batcher.
func RemoveMany(ctx context.Context, s Store, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if b, ok := s.(Batcher); ok {
		return b.RemoveMany(ctx, keys)
	}
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Value encoding
// =============================================================================

// EncodeBool encodes a boolean value.
func EncodeBool(v bool) []byte {
	return []byte(strconv.FormatBool(v))
}

// DecodeBool decodes a boolean value.
func DecodeBool(raw []byte) (bool, error) {
	return strconv.ParseBool(string(raw))
}

// EncodeTime encodes a timestamp, keeping its zone offset.
func EncodeTime(t time.Time) []byte {
	return []byte(t.Format(time.RFC3339Nano))
}

// DecodeTime decodes a timestamp written by EncodeTime.
func DecodeTime(raw []byte) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, string(raw))
}

// GetBool reads a boolean. Absent keys read as false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	v, err := DecodeBool(raw)
	if err != nil {
		return false, fmt.Errorf("decode bool %q: %w", key, err)
	}
	return v, nil
}

// SetBool writes a boolean.
func SetBool(ctx context.Context, s Store, key string, v bool) error {
	return s.Set(ctx, key, EncodeBool(v))
}

// GetTime reads a timestamp. ok is false when the key is absent.
func GetTime(ctx context.Context, s Store, key string) (t time.Time, ok bool, err error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = DecodeTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode time %q: %w", key, err)
	}
	return t, true, nil
}

// SetTime writes a timestamp.
func SetTime(ctx context.Context, s Store, key string, t time.Time) error {
	return s.Set(ctx, key, EncodeTime(t))
}

// GetData reads an opaque blob. ok is false when the key is absent.
func GetData(ctx context.Context, s Store, key string) (data []byte, ok bool, err error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Snapshot reads every entry of s.
func Snapshot(ctx context.Context, s Store) (map[string][]byte, error) {
	if sn, ok := s.(Snapshotter); ok {
		return sn.All(ctx)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate keys: %w", err)
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		raw, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", key, err)
		}
		out[key] = raw
	}
	return out, nil
}
