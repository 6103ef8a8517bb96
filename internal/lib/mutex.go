package lib

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("timeout")

// Mutex is a channel based mutex which supports context cancellation and timeouts.
// Unlock of an unlocked mutex is a no-op
type Mutex struct {
	ch chan struct{}
}

func NewMutex() Mutex {
	return Mutex{ch: make(chan struct{}, 1)}
}

func (m Mutex) Lock() {
	m.ch <- struct{}{}
}

func (m Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
	}
}

func (m Mutex) LockCtx(ctx context.Context) error {
	if m.TryLock() {
		return nil
	}
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m Mutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m Mutex) LockTimeout(timeout time.Duration) error {
	if m.TryLock() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// KeyedMutex serializes access per key, keys are independent from each other.
// Entries are reference counted and removed when nobody holds or waits for them
type KeyedMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyedEntry
}

type keyedEntry struct {
	mutex Mutex
	refs  int
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{entries: make(map[K]*keyedEntry)}
}

// LockCtx blocks until the key is acquired or ctx is done. The returned function releases the key
func (k *KeyedMutex[K]) LockCtx(ctx context.Context, key K) (unlock func(), err error) {
	entry := k.acquire(key)

	err = entry.mutex.LockCtx(ctx)
	if err != nil {
		k.release(key, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mutex.Unlock()
			k.release(key, entry)
		})
	}, nil
}

// Len returns number of keys currently held or awaited
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *KeyedMutex[K]) acquire(key K) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{mutex: NewMutex()}
		k.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (k *KeyedMutex[K]) release(key K, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
}
