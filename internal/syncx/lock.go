// Package syncx provides locks whose acquisition honours a context deadline.
package syncx

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent shared holders of an RWLock.
const maxReaders = 1 << 20

// Mutex is an exclusive lock acquired with a context.
type Mutex struct {
	sem *semaphore.Weighted
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is held or ctx is done. On ctx expiry the lock is not held.
func (m *Mutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// Unlock releases the lock.
func (m *Mutex) Unlock() {
	m.sem.Release(1)
}

// RWLock is a reader/writer lock acquired with a context. Waiting writers block new readers,
// since the underlying semaphore serves waiters in FIFO order.
type RWLock struct {
	sem *semaphore.Weighted
}

// NewRWLock returns an unlocked RWLock.
func NewRWLock() *RWLock {
	return &RWLock{sem: semaphore.NewWeighted(maxReaders)}
}

// Lock acquires the lock exclusively.
func (l *RWLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, maxReaders)
}

// Unlock releases an exclusive hold.
func (l *RWLock) Unlock() {
	l.sem.Release(maxReaders)
}

// RLock acquires a shared hold.
func (l *RWLock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// RUnlock releases a shared hold.
func (l *RWLock) RUnlock() {
	l.sem.Release(1)
}
