package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

// Removal is a removed pod whose removal has not yet been published to the network.
type Removal struct {
	Address      pod.Address `json:"address"`
	PointerIndex uint32      `json:"pointer_index"`
	Version      uint64      `json:"version"`
}

type queue struct {
	Dirty    []pod.Address `json:"dirty"`
	Removals []Removal     `json:"removals"`
}

func (s *Store) queuepath() string {
	return filepath.Join(s.root, "queue.json")
}

func (s *Store) counterspath() string {
	return filepath.Join(s.root, "counters.json")
}

func (s *Store) lockQueue() error {
	return s.flocker.Lock(s.lockpath())
}

func (s *Store) unlockQueue() error {
	return s.flocker.Unlock(s.lockpath())
}

// File lock must be held.
func (s *Store) readQueue() (*queue, error) {
	q := new(queue)
	b, err := os.ReadFile(s.queuepath())
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading upload queue")
	}
	if err = json.Unmarshal(b, q); err != nil {
		return nil, errors.Wrapf(pod.ErrCorrupt, "parsing upload queue: %s", err)
	}
	return q, nil
}

// File lock must be held.
func (s *Store) writeQueue(q *queue) error {
	b, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling upload queue")
	}
	return errors.Wrap(renameio.WriteFile(s.queuepath(), b, 0600), "writing upload queue")
}

func (s *Store) updateQueue(f func(*queue) bool) error {
	if err := s.lockQueue(); err != nil {
		return errors.Wrap(err, "locking upload queue")
	}
	defer s.unlockQueue()

	q, err := s.readQueue()
	if err != nil {
		return err
	}
	if !f(q) {
		return nil
	}
	return s.writeQueue(q)
}

func (s *Store) viewQueue() (*queue, error) {
	if err := s.lockQueue(); err != nil {
		return nil, errors.Wrap(err, "locking upload queue")
	}
	defer s.unlockQueue()

	return s.readQueue()
}

// MarkDirty puts a pod on the upload queue.
func (s *Store) MarkDirty(addr pod.Address) error {
	return s.updateQueue(func(q *queue) bool {
		for _, a := range q.Dirty {
			if a == addr {
				return false
			}
		}
		q.Dirty = append(q.Dirty, addr)
		return true
	})
}

// ClearDirty takes a pod off the upload queue.
func (s *Store) ClearDirty(addr pod.Address) error {
	return s.updateQueue(func(q *queue) bool {
		for i, a := range q.Dirty {
			if a == addr {
				q.Dirty = append(q.Dirty[:i], q.Dirty[i+1:]...)
				return true
			}
		}
		return false
	})
}

// IsDirty tells whether a pod is on the upload queue.
func (s *Store) IsDirty(addr pod.Address) (bool, error) {
	q, err := s.viewQueue()
	if err != nil {
		return false, err
	}
	for _, a := range q.Dirty {
		if a == addr {
			return true, nil
		}
	}
	return false, nil
}

// Dirty produces the upload queue: the pods with local changes not yet uploaded.
func (s *Store) Dirty() ([]pod.Address, error) {
	q, err := s.viewQueue()
	if err != nil {
		return nil, err
	}
	return q.Dirty, nil
}

// QueueRemoval records a removed pod for publication on the next upload.
func (s *Store) QueueRemoval(r Removal) error {
	return s.updateQueue(func(q *queue) bool {
		for _, other := range q.Removals {
			if other.Address == r.Address {
				return false
			}
		}
		q.Removals = append(q.Removals, r)
		return true
	})
}

// Removals produces the removals not yet published.
func (s *Store) Removals() ([]Removal, error) {
	q, err := s.viewQueue()
	if err != nil {
		return nil, err
	}
	return q.Removals, nil
}

// ClearRemoval forgets a published removal.
func (s *Store) ClearRemoval(addr pod.Address) error {
	return s.updateQueue(func(q *queue) bool {
		for i, r := range q.Removals {
			if r.Address == addr {
				q.Removals = append(q.Removals[:i], q.Removals[i+1:]...)
				return true
			}
		}
		return false
	})
}

// LoadCounters implements key.CounterStore.
func (s *Store) LoadCounters() (map[string]uint32, error) {
	if err := s.lockQueue(); err != nil {
		return nil, errors.Wrap(err, "locking counters")
	}
	defer s.unlockQueue()

	m := make(map[string]uint32)
	b, err := os.ReadFile(s.counterspath())
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading counters")
	}
	if err = json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(pod.ErrCorrupt, "parsing counters: %s", err)
	}
	return m, nil
}

// SaveCounters implements key.CounterStore.
func (s *Store) SaveCounters(m map[string]uint32) error {
	if err := s.lockQueue(); err != nil {
		return errors.Wrap(err, "locking counters")
	}
	defer s.unlockQueue()

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling counters")
	}
	return errors.Wrap(renameio.WriteFile(s.counterspath(), b, 0600), "writing counters")
}
