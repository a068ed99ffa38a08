package dbx

import (
	"context"
	"sort"
	"sync"
)

// KeyLocker hands out exclusive locks on string keys. Locks for a set of
// keys are always taken in sorted order, so two callers asking for
// overlapping sets cannot deadlock.
//
// Each key is guarded by a one-slot channel rather than a sync.Mutex so a
// waiting caller can give up when its context is cancelled.
type KeyLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{slots: make(map[string]*slot)}
}

// SortedUnique returns the distinct non-empty keys in ascending order.
func SortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LockAll blocks until every key is held or ctx is done. The returned
// function releases all of them and must be called exactly once.
func (l *KeyLocker) LockAll(ctx context.Context, keys []string) (func(), error) {
	keys = SortedUnique(keys)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, k := range keys {
		s := l.acquire(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.drop(k)
			release()
			return nil, ctx.Err()
		}
	}

	return release, nil
}

func (l *KeyLocker) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyLocker) unlock(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.drop(key)
}

// drop forgets the slot once nobody holds or waits for it.
func (l *KeyLocker) drop(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
