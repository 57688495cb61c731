// Package refreshable provides a subscribable container for live-reloadable
// values. A Value holds the current snapshot; subscribers observe every
// update and may reject one, which surfaces to whoever performed the update
// without blocking other subscribers.
package refreshable

import (
	"errors"
	"sync"
)

// Value holds a current snapshot of T and notifies subscribers on update.
// All methods are safe for concurrent use.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	nextID  int
	subs    map[int]func(T) error
}

// New creates a Value holding the initial snapshot.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[int]func(T) error),
	}
}

// Current returns the most recent snapshot.
func (v *Value[T]) Current() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Update replaces the snapshot and notifies every subscriber with the new
// value. Subscriber rejections are joined and returned; a rejection does not
// roll the snapshot back and does not prevent other subscribers from being
// notified.
func (v *Value[T]) Update(next T) error {
	v.mu.Lock()
	v.current = next
	callbacks := make([]func(T) error, 0, len(v.subs))
	for _, cb := range v.subs {
		callbacks = append(callbacks, cb)
	}
	v.mu.Unlock()

	var errs []error
	for _, cb := range callbacks {
		if err := cb(next); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a callback invoked on every subsequent update. The
// callback is also invoked immediately with the current snapshot so
// subscribers never start stale.
func (v *Value[T]) Subscribe(cb func(T) error) (*Subscription, error) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = cb
	current := v.current
	v.mu.Unlock()

	if err := cb(current); err != nil {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
		return nil, err
	}
	return &Subscription{value: v, id: id}, nil
}

// Subscription identifies one registered subscriber.
type Subscription struct {
	value interface{ unsubscribe(int) }
	id    int
}

// Unsubscribe removes the subscriber. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.value.unsubscribe(s.id)
}

func (v *Value[T]) unsubscribe(id int) {
	v.mu.Lock()
	delete(v.subs, id)
	v.mu.Unlock()
}
