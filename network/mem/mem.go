// Package mem implements an in-memory network.
package mem

import (
	"context"
	"sync"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = &Network{}

// Network is a memory-based implementation of a pod.Network.
// Besides the network operations it counts calls,
// and it allows pointers to be forced to any state,
// which is useful for simulating faults in tests.
type Network struct {
	mu       sync.Mutex
	blobs    map[pod.Address][]byte
	pointers map[pod.Address]pointer

	writes   int
	resolves map[pod.Address]int
}

type pointer struct {
	target  pod.Address
	version uint64
}

// New produces a new Network.
func New() *Network {
	return &Network{
		blobs:    make(map[pod.Address][]byte),
		pointers: make(map[pod.Address]pointer),
		resolves: make(map[pod.Address]int),
	}
}

// ResolvePointer implements pod.Getter.
func (n *Network) ResolvePointer(_ context.Context, addr pod.Address) (pod.Address, uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.resolves[addr]++
	p, ok := n.pointers[addr]
	if !ok {
		return pod.Zero, 0, pod.ErrNotFound
	}
	return p.target, p.version, nil
}

// FetchBlob implements pod.Getter.
func (n *Network) FetchBlob(_ context.Context, addr pod.Address) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if b, ok := n.blobs[addr]; ok {
		return append([]byte(nil), b...), nil
	}
	return nil, pod.ErrNotFound
}

// PutBlob implements pod.Network.
func (n *Network) PutBlob(_ context.Context, b []byte) (pod.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.writes++
	addr := pod.BlobAddress(b)
	if _, ok := n.blobs[addr]; !ok {
		n.blobs[addr] = append([]byte(nil), b...)
	}
	return addr, nil
}

// UpdatePointer implements pod.Network.
func (n *Network) UpdatePointer(_ context.Context, u *pod.PointerUpdate) (uint64, error) {
	if err := u.Verify(); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.writes++
	p := n.pointers[u.Pointer]
	if p.version != u.Expected {
		return 0, &pod.ConflictError{Pointer: u.Pointer, Expected: u.Expected, Actual: p.version}
	}
	p = pointer{target: u.Target, version: u.Expected + 1}
	n.pointers[u.Pointer] = p
	return p.version, nil
}

// SetPointer forces a pointer to the given target and version,
// bypassing signature and version checks.
func (n *Network) SetPointer(addr, target pod.Address, version uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pointers[addr] = pointer{target: target, version: version}
}

// Writes counts the PutBlob and UpdatePointer calls so far.
func (n *Network) Writes() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.writes
}

// Resolves counts the ResolvePointer calls so far for one pointer.
func (n *Network) Resolves(addr pod.Address) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.resolves[addr]
}

// ResetCounts zeroes the call counters.
func (n *Network) ResetCounts() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.writes = 0
	n.resolves = make(map[pod.Address]int)
}

func init() {
	network.Register("mem", func(context.Context, map[string]interface{}) (pod.Network, error) {
		return New(), nil
	})
}
