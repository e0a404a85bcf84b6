// Package cache implements the local, on-disk pod cache.
//
// Each pod has a directory named for its address
// holding a meta.json file
// and one subdirectory per generation of chunks.
// Replacing a pod's chunks writes a whole new generation
// and then switches meta.json to it,
// so a crash part way through leaves the previous generation in force.
// All files are written to a temporary name and renamed into place.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/bobg/flock"
	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

// Store is a file-based pod cache.
// It is safe for concurrent use,
// and for use by several processes sharing one root.
type Store struct {
	root    string
	flocker flock.Locker

	mu    sync.Mutex // protects locks
	locks map[pod.Address]*sync.Mutex
}

// Slot is one chunk slot of a pod:
// a pointer in the scratchpad key space.
type Slot struct {
	Index   uint32      `json:"index"`
	Address pod.Address `json:"address"`
}

// Meta is what the cache knows about a pod besides its chunks.
type Meta struct {
	Address      pod.Address `json:"address"`
	Name         string      `json:"name"`
	Owned        bool        `json:"owned"`
	PointerIndex uint32      `json:"pointer_index"`
	Slots        []Slot      `json:"slots"`
	Sizes        []int       `json:"sizes"`

	// Version is the pointer version last synchronized with the network.
	// Zero means never synchronized.
	Version uint64 `json:"version"`

	// Revision counts local mutations.
	Revision uint64 `json:"revision"`

	// Depth is the reference distance from the nearest owned pod.
	Depth int `json:"depth"`

	Generation uint64 `json:"generation"`
}

// New produces a new Store storing data beneath root.
func New(root string) (*Store, error) {
	dir := filepath.Join(root, "pods")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "ensuring path %s exists", dir)
	}
	s := &Store{
		root:  root,
		locks: make(map[pod.Address]*sync.Mutex),
	}
	path := s.lockpath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	f.Close()
	return s, nil
}

// Root is the directory holding the cache.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) lockpath() string {
	return filepath.Join(s.root, "lock")
}

func (s *Store) podroot() string {
	return filepath.Join(s.root, "pods")
}

func (s *Store) poddir(addr pod.Address) string {
	return filepath.Join(s.podroot(), addr.String())
}

func (s *Store) metapath(addr pod.Address) string {
	return filepath.Join(s.poddir(addr), "meta.json")
}

func (s *Store) gendir(addr pod.Address, gen uint64) string {
	return filepath.Join(s.poddir(addr), strconv.FormatUint(gen, 10))
}

func (s *Store) chunkpath(addr pod.Address, gen uint64, idx int) string {
	return filepath.Join(s.gendir(addr, gen), strconv.Itoa(idx))
}

// Lock obtains the in-process lock for one pod
// and returns the function that releases it.
// Every read-modify-write sequence on a pod's chunks or meta must hold it.
func (s *Store) Lock(addr pod.Address) func() {
	s.mu.Lock()
	l, ok := s.locks[addr]
	if !ok {
		l = new(sync.Mutex)
		s.locks[addr] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Meta gets the metadata of a pod.
// If the pod is not in the cache the error is pod.ErrNotFound.
func (s *Store) Meta(addr pod.Address) (*Meta, error) {
	path := s.metapath(addr)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pod.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var m Meta
	if err = json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(pod.ErrCorrupt, "parsing %s: %s", path, err)
	}
	return &m, nil
}

// PutMeta writes the metadata of a pod, creating the pod if needed.
func (s *Store) PutMeta(m *Meta) error {
	dir := s.poddir(m.Address)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling meta")
	}
	path := s.metapath(m.Address)
	return errors.Wrapf(renameio.WriteFile(path, b, 0600), "writing %s", path)
}

// WriteChunk writes one chunk of a pod's current generation.
// The write either lands completely or not at all.
func (s *Store) WriteChunk(addr pod.Address, idx int, b []byte) error {
	m, err := s.Meta(addr)
	if err != nil {
		return errors.Wrapf(err, "getting meta of %s", addr)
	}
	return s.writeChunk(addr, m.Generation, idx, b)
}

func (s *Store) writeChunk(addr pod.Address, gen uint64, idx int, b []byte) error {
	dir := s.gendir(addr, gen)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}
	path := s.chunkpath(addr, gen, idx)
	return errors.Wrapf(renameio.WriteFile(path, b, 0600), "writing %s", path)
}

// ReadChunk reads one chunk of a pod's current generation.
// If the pod or the chunk is missing the error is pod.ErrNotFound.
func (s *Store) ReadChunk(addr pod.Address, idx int) ([]byte, error) {
	m, err := s.Meta(addr)
	if err != nil {
		return nil, err
	}
	return s.readChunk(addr, m.Generation, idx)
}

func (s *Store) readChunk(addr pod.Address, gen uint64, idx int) ([]byte, error) {
	path := s.chunkpath(addr, gen, idx)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pod.ErrNotFound
	}
	return b, errors.Wrapf(err, "opening %s", path)
}

// ReadChunks reads all chunks of a pod, in index order,
// together with the pod's metadata.
// A missing chunk is an ErrCorrupt,
// since the metadata says it should be there.
func (s *Store) ReadChunks(addr pod.Address) (*Meta, [][]byte, error) {
	m, err := s.Meta(addr)
	if err != nil {
		return nil, nil, err
	}
	chunks := make([][]byte, len(m.Sizes))
	for i := range chunks {
		chunks[i], err = s.readChunk(addr, m.Generation, i)
		if errors.Is(err, pod.ErrNotFound) {
			return nil, nil, errors.Wrapf(pod.ErrCorrupt, "chunk %d of %s missing", i, addr)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return m, chunks, nil
}

// ReplaceChunks atomically replaces a pod's whole chunk set and its metadata.
// The new chunks go into a fresh generation directory;
// only once all of them are written is meta.json switched to it.
// The Generation and Sizes fields of m are updated.
func (s *Store) ReplaceChunks(m *Meta, chunks [][]byte) error {
	var (
		oldgen = m.Generation
		newgen = oldgen + 1
	)

	// A stale directory may be left over from an interrupted write.
	if err := os.RemoveAll(s.gendir(m.Address, newgen)); err != nil {
		return errors.Wrap(err, "clearing stale generation")
	}
	for i, c := range chunks {
		if err := s.writeChunk(m.Address, newgen, i, c); err != nil {
			return err
		}
	}

	updated := *m
	updated.Generation = newgen
	updated.Sizes = make([]int, len(chunks))
	for i, c := range chunks {
		updated.Sizes[i] = len(c)
	}
	if err := s.PutMeta(&updated); err != nil {
		return err
	}
	*m = updated

	return errors.Wrap(os.RemoveAll(s.gendir(m.Address, oldgen)), "removing old generation")
}

// ListPods produces the addresses of all pods in the cache, in lexicographic order.
func (s *Store) ListPods() ([]pod.Address, error) {
	infos, err := os.ReadDir(s.podroot())
	if err != nil {
		return nil, errors.Wrapf(err, "reading dir %s", s.podroot())
	}
	var out []pod.Address
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		addr, err := pod.AddressFromHex(info.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(s.metapath(addr)); err != nil {
			continue
		}
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// ListMetas produces the metadata of all pods in the cache.
func (s *Store) ListMetas() ([]*Meta, error) {
	addrs, err := s.ListPods()
	if err != nil {
		return nil, err
	}
	var out []*Meta
	for _, addr := range addrs {
		m, err := s.Meta(addr)
		if errors.Is(err, pod.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RemovePod deletes a pod from the cache.
// It also takes the pod off the upload queue.
func (s *Store) RemovePod(addr pod.Address) error {
	if err := s.ClearDirty(addr); err != nil {
		return err
	}
	// Removing meta.json first makes the pod disappear at once.
	path := s.metapath(addr)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", path)
	}
	return errors.Wrapf(os.RemoveAll(s.poddir(addr)), "removing %s", s.poddir(addr))
}
