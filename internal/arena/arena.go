// Package arena provides an append-only handle table.
//
// An Arena stores values in insertion order and identifies each one by its
// index. Indices are issued sequentially from zero and are never reused, so a
// handle keeps referring to the same value for the lifetime of the arena.
// Released slots become tombstones: lookups on them fail, but the index is
// not handed out again.
//
// Arena is safe for concurrent use. A single RWMutex serializes insertion,
// release and in-place mutation; lookups take the read lock and therefore
// never observe the table mid-growth.
package arena

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOutOfRange is returned for a handle that was never issued
	// (negative or not less than the arena length).
	ErrOutOfRange = errors.New("arena: handle out of range")

	// ErrReleased is returned for a handle whose slot has been tombstoned.
	ErrReleased = errors.New("arena: handle released")
)

type slot[T any] struct {
	value    T
	released bool
}

// Arena is an append-only table of values addressed by integer handle.
// The zero value is an empty arena ready for use.
type Arena[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	live  int
}

// New returns an empty arena with room for capacity values before growing.
func New[T any](capacity int) *Arena[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena[T]{slots: make([]slot[T], 0, capacity)}
}

// Insert appends v and returns its handle.
func (a *Arena[T]) Insert(v T) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := len(a.slots)
	a.slots = append(a.slots, slot[T]{value: v})
	a.live++
	return h
}

// InsertFunc reserves the next handle, builds the value with it and appends
// the result. If build fails nothing is appended and no handle is consumed.
// build runs with the write lock held and must not call back into the arena.
func (a *Arena[T]) InsertFunc(build func(h int) (T, error)) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := len(a.slots)
	v, err := build(h)
	if err != nil {
		return -1, err
	}
	a.slots = append(a.slots, slot[T]{value: v})
	a.live++
	return h, nil
}

// Get returns the value stored at h.
func (a *Arena[T]) Get(h int) (T, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, err := a.slotLocked(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// Update calls fn with a pointer to the value at h while holding the write
// lock. fn must not call back into the arena.
func (a *Arena[T]) Update(h int, fn func(*T) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.slotLocked(h)
	if err != nil {
		return err
	}
	return fn(&s.value)
}

// View calls fn with the value at h while holding the read lock.
func (a *Arena[T]) View(h int, fn func(T) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, err := a.slotLocked(h)
	if err != nil {
		return err
	}
	return fn(s.value)
}

// Release tombstones h and returns the value it held. The handle is not
// reused; subsequent lookups fail with ErrReleased.
func (a *Arena[T]) Release(h int) (T, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.slotLocked(h)
	if err != nil {
		var zero T
		return zero, err
	}
	v := s.value
	var zero T
	s.value = zero
	s.released = true
	a.live--
	return v, nil
}

// Len returns the number of handles issued so far, released ones included.
// Every handle in [0, Len()) has been issued.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}

// Live returns the number of handles that have not been released.
func (a *Arena[T]) Live() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// Range calls fn for every live value in handle order, holding the read
// lock. Iteration stops early if fn returns false.
func (a *Arena[T]) Range(fn func(h int, v T) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.slots {
		if a.slots[i].released {
			continue
		}
		if !fn(i, a.slots[i].value) {
			return
		}
	}
}

func (a *Arena[T]) slotLocked(h int) (*slot[T], error) {
	if h < 0 || h >= len(a.slots) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, h, len(a.slots))
	}
	s := &a.slots[h]
	if s.released {
		return nil, fmt.Errorf("%w: %d", ErrReleased, h)
	}
	return s, nil
}
