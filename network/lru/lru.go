// Package lru implements a network that acts as a least-recently-used blob cache for a nested network.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = &Network{}

// Network implements a memory-based least-recently-used cache for a network.
// It caches only blobs, which are immutable, and never pointers, which are not.
// Writes pass through to the underlying network.
type Network struct {
	c *lru.Cache // Address->[]byte
	n pod.Network
}

// New produces a new Network backed by `n` and caching up to `size` blobs.
func New(n pod.Network, size int) (*Network, error) {
	c, err := lru.New(size)
	return &Network{n: n, c: c}, err
}

// FetchBlob gets the blob with address `addr`.
func (n *Network) FetchBlob(ctx context.Context, addr pod.Address) ([]byte, error) {
	if got, ok := n.c.Get(addr); ok {
		return append([]byte(nil), got.([]byte)...), nil
	}
	b, err := n.n.FetchBlob(ctx, addr)
	if err != nil {
		return nil, err
	}
	n.c.Add(addr, append([]byte(nil), b...))
	return b, nil
}

// ResolvePointer passes through to the underlying network.
func (n *Network) ResolvePointer(ctx context.Context, addr pod.Address) (pod.Address, uint64, error) {
	return n.n.ResolvePointer(ctx, addr)
}

// PutBlob adds a blob to the underlying network and to the cache.
func (n *Network) PutBlob(ctx context.Context, b []byte) (pod.Address, error) {
	addr, err := n.n.PutBlob(ctx, b)
	if err != nil {
		return addr, err
	}
	n.c.Add(addr, append([]byte(nil), b...))
	return addr, nil
}

// UpdatePointer passes through to the underlying network.
func (n *Network) UpdatePointer(ctx context.Context, u *pod.PointerUpdate) (uint64, error) {
	return n.n.UpdatePointer(ctx, u)
}

// Len tells how many blobs are cached.
func (n *Network) Len() int {
	return n.c.Len()
}

func init() {
	network.Register("lru", func(ctx context.Context, conf map[string]interface{}) (pod.Network, error) {
		// Sizes decoded from JSON arrive as float64.
		var size int
		switch v := conf["size"].(type) {
		case int:
			size = v
		case float64:
			size = int(v)
		default:
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedNetwork, err := network.FromConfig(ctx, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested network")
		}
		return New(nestedNetwork, size)
	})
}
