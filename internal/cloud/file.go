package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/willswire/mcheyne/internal/kvstore"
)

// File is a CloudStore persisted as a single JSON document inside a folder
// that a sync client (Syncthing, Dropbox, iCloud Drive) replicates.
//
// Writes land in memory; Synchronize writes the document atomically. An
// fsnotify watch on the folder reloads the document when another device
// replaces it and reports an external change.
//
// The store is offline while the folder is missing or the document cannot
// be decoded. Offline, Available reports false, All fails and Synchronize
// refuses to overwrite the document.
type File struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	data     map[string]string
	lastRaw  []byte
	readErr  error
	watching bool

	watcher   *fsnotify.Watcher
	listeners listeners
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var (
	_ kvstore.CloudStore  = (*File)(nil)
	_ kvstore.Snapshotter = (*File)(nil)
)

// OpenFile loads the document at path, if it exists, and starts watching its
// folder. A missing folder or an unreadable document leaves the store
// offline until the folder appears or the document is replaced.
//
// The caller is responsible for calling Close() when done.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f := &File{
		path:   path,
		logger: logger.With(slog.String("store", "file")),
		data:   make(map[string]string),
		done:   make(chan struct{}),
	}

	if _, err := f.reload(); err != nil {
		f.logger.Warn("synced document unreadable, store offline until it is replaced",
			slog.String("error", err.Error()),
		)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	f.watcher = watcher

	f.wg.Add(1)
	go f.processEvents()

	if !f.watch() {
		f.logger.Warn("synced folder missing, store offline until it exists",
			slog.String("dir", f.dir()),
		)
	}

	f.logger.Info("file cloud store opened", slog.String("path", path))
	return f, nil
}

// Close stops watching the folder.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
		f.wg.Wait()
	})
	return err
}

func (f *File) dir() string {
	return filepath.Dir(f.path)
}

// watch adds the folder to the watcher if it is not already watched. When
// the watch starts late, the document is reloaded and listeners hear about
// anything that arrived in the meantime.
func (f *File) watch() bool {
	f.mu.Lock()
	watching := f.watching
	f.mu.Unlock()
	if watching {
		return true
	}

	if err := f.watcher.Add(f.dir()); err != nil {
		f.logger.Debug("folder not watchable", slog.String("error", err.Error()))
		return false
	}
	f.mu.Lock()
	f.watching = true
	f.mu.Unlock()

	changed, err := f.reload()
	if err != nil {
		f.logger.Warn("reload synced document", slog.String("error", err.Error()))
	} else if changed {
		f.listeners.notify()
	}
	return true
}

func (f *File) processEvents() {
	defer f.wg.Done()

	dir := filepath.Clean(f.dir())
	for {
		select {
		case <-f.done:
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name == dir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				// The kernel drops the watch with the folder.
				f.mu.Lock()
				f.watching = false
				f.mu.Unlock()
				continue
			}
			if name != filepath.Clean(f.path) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			changed, err := f.reload()
			if err != nil {
				f.logger.Warn("reload synced document", slog.String("error", err.Error()))
				continue
			}
			if changed {
				f.logger.Debug("external change detected", slog.String("path", f.path))
				f.listeners.notify()
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// reload replaces the in-memory document with the file contents. It reports
// whether the contents differ from what this store last read or wrote. A
// failed read or decode is kept as readErr until a later reload succeeds.
func (f *File) reload() (bool, error) {
	raw, err := os.ReadFile(f.path)

	f.mu.Lock()
	defer f.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		f.readErr = nil
		return false, nil
	}
	if err != nil {
		f.readErr = fmt.Errorf("read %s: %w", f.path, err)
		return false, f.readErr
	}

	if bytes.Equal(raw, f.lastRaw) {
		f.readErr = nil
		return false, nil
	}

	data := make(map[string]string)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			// A half-written file from the sync client; the next event retries.
			f.readErr = fmt.Errorf("decode %s: %w", f.path, err)
			return false, f.readErr
		}
	}

	f.data = data
	f.lastRaw = raw
	f.readErr = nil
	return true, nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.data[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return []byte(v), nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data[key] = string(value)
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.data, key)
	return nil
}

func (f *File) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// All returns a copy of the in-memory document.
func (f *File) All(context.Context) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		out[k] = []byte(v)
	}
	return out, nil
}

// Available reports whether the synced folder exists and the document in it
// could be read. It starts watching a folder that has appeared since open.
func (f *File) Available(context.Context) bool {
	info, err := os.Stat(f.dir())
	if err != nil || !info.IsDir() {
		return false
	}
	if !f.watch() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr == nil
}

// Synchronize writes the document through a temporary file and rename, so the
// sync client never picks up a partial write.
func (f *File) Synchronize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return fmt.Errorf("document unreadable, not overwriting: %w", f.readErr)
	}
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if bytes.Equal(raw, f.lastRaw) {
		return nil
	}

	tmp, err := os.CreateTemp(f.dir(), ".mcheyne-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	// Record before the rename so the watcher sees our own write as unchanged.
	f.lastRaw = raw
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

func (f *File) OnExternalChange(fn func()) func() {
	return f.listeners.add(fn)
}
