package key

import (
	"sync"

	"github.com/pkg/errors"
)

// CounterStore persists the next free derivation index of each key space.
type CounterStore interface {
	// LoadCounters returns the saved counters,
	// or an empty map if none have been saved.
	LoadCounters() (map[string]uint32, error)

	// SaveCounters durably replaces the saved counters.
	SaveCounters(map[string]uint32) error
}

// Allocator hands out derivation indexes.
// Indexes are never handed out twice,
// even across process restarts,
// since every allocation is saved before it is returned.
// Index 0 of the pointer and scratchpad spaces belongs to the configuration pod,
// so allocation in those spaces starts at 1.
type Allocator struct {
	secret *Secret
	store  CounterStore

	mu   sync.Mutex
	next map[Space]uint32
}

// NewAllocator produces an Allocator for the given secret
// whose counters live in store.
func NewAllocator(secret *Secret, store CounterStore) (*Allocator, error) {
	saved, err := store.LoadCounters()
	if err != nil {
		return nil, errors.Wrap(err, "loading counters")
	}
	a := &Allocator{
		secret: secret,
		store:  store,
		next: map[Space]uint32{
			Pointer:    1,
			Scratchpad: 1,
			Wallet:     0,
		},
	}
	for name, n := range saved {
		sp := Space(name)
		if !sp.valid() {
			continue
		}
		if n > a.next[sp] {
			a.next[sp] = n
		}
	}
	return a, nil
}

// NextFreeIndex reserves and returns the next index in the given space.
func (a *Allocator) NextFreeIndex(space Space) (uint32, error) {
	if !space.valid() {
		return 0, errors.Errorf("unknown key space %q", space)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.next[space]
	a.next[space] = idx + 1
	if err := a.save(); err != nil {
		a.next[space] = idx
		return 0, err
	}
	return idx, nil
}

// Next derives the key at the next free index of the given space.
func (a *Allocator) Next(space Space) (Key, error) {
	idx, err := a.NextFreeIndex(space)
	if err != nil {
		return Key{}, err
	}
	return a.secret.Derive(space, idx)
}

// Raise makes sure the next free index of space is at least n.
// It is used when adopting counters recorded by another installation.
func (a *Allocator) Raise(space Space, n uint32) error {
	if !space.valid() {
		return errors.Errorf("unknown key space %q", space)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= a.next[space] {
		return nil
	}
	old := a.next[space]
	a.next[space] = n
	if err := a.save(); err != nil {
		a.next[space] = old
		return err
	}
	return nil
}

// Counters returns a snapshot of the next free index of each space.
func (a *Allocator) Counters() map[Space]uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[Space]uint32, len(a.next))
	for sp, n := range a.next {
		out[sp] = n
	}
	return out
}

// Caller must hold a.mu.
func (a *Allocator) save() error {
	m := make(map[string]uint32, len(a.next))
	for sp, n := range a.next {
		m[string(sp)] = n
	}
	return errors.Wrap(a.store.SaveCounters(m), "saving counters")
}
