// Package cloud provides replicated kvstore.CloudStore backends: a Redis hash
// shared between devices, and a JSON file kept in a folder that some other
// tool syncs between devices.
package cloud

import "sync"

// listeners is a registry of external-change callbacks.
type listeners struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

func (l *listeners) add(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
