// Package replica implements a network that mirrors writes across several nested networks.
package replica

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = (*Network)(nil)

// Network delegates to a primary network and a set of mirrors.
// Blobs are written to all of them,
// and an error from any causes PutBlob to fail.
// Pointers are versioned by the primary alone:
// it decides conflicts,
// and a successful update is then forwarded to the mirrors.
// A mirror that rejects the forwarded update is logged and otherwise ignored.
type Network struct {
	primary pod.Network
	mirrors []pod.Network
}

// New produces a new Network.
func New(primary pod.Network, mirrors ...pod.Network) *Network {
	return &Network{primary: primary, mirrors: mirrors}
}

func (n *Network) all() []pod.Network {
	return append([]pod.Network{n.primary}, n.mirrors...)
}

// PutBlob implements pod.Network.
// The blob is stored in all nested networks.
func (n *Network) PutBlob(ctx context.Context, b []byte) (pod.Address, error) {
	g, ctx := errgroup.WithContext(ctx)
	for _, nested := range n.all() {
		nested := nested
		g.Go(func() error {
			_, err := nested.PutBlob(ctx, b)
			return err
		})
	}
	return pod.BlobAddress(b), g.Wait()
}

// FetchBlob implements pod.Getter.
// It delegates the request to all of the nested networks,
// returning the result from the first one to respond without error
// and canceling the request to the others.
// If all of them respond with an error,
// one of those errors is returned.
func (n *Network) FetchBlob(ctx context.Context, addr pod.Address) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group

	ch := make(chan []byte)
	for _, nested := range n.all() {
		nested := nested
		g.Go(func() error {
			blob, err := nested.FetchBlob(ctx, addr)
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch <- blob:
			}
			return nil
		})
	}

	errch := make(chan error, 1)
	go func() {
		errch <- g.Wait()
	}()

	select {
	case blob := <-ch:
		return blob, nil
	case err := <-errch:
		if err == nil {
			err = pod.ErrNotFound
		}
		return nil, err
	}
}

// ResolvePointer implements pod.Getter.
// Only the primary is consulted.
func (n *Network) ResolvePointer(ctx context.Context, addr pod.Address) (pod.Address, uint64, error) {
	return n.primary.ResolvePointer(ctx, addr)
}

// UpdatePointer implements pod.Network.
func (n *Network) UpdatePointer(ctx context.Context, u *pod.PointerUpdate) (uint64, error) {
	version, err := n.primary.UpdatePointer(ctx, u)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	for i, m := range n.mirrors {
		i, m := i, m
		g.Go(func() error {
			if _, err := m.UpdatePointer(ctx, u); err != nil {
				log.WithFields(log.Fields{
					"mirror":  i,
					"pointer": u.Pointer,
					"version": version,
				}).WithError(err).Warn("mirror rejected pointer update")
			}
			return nil
		})
	}
	g.Wait()

	return version, nil
}

func init() {
	network.Register("replica", func(ctx context.Context, conf map[string]interface{}) (pod.Network, error) {
		primaryConf, ok := conf["primary"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "primary" parameter`)
		}
		primary, err := network.FromConfig(ctx, primaryConf)
		if err != nil {
			return nil, errors.Wrap(err, "creating primary network")
		}

		var mirrors []pod.Network
		if items, ok := conf["mirrors"].([]interface{}); ok {
			for i, item := range items {
				nested, ok := item.(map[string]interface{})
				if !ok {
					return nil, errors.Errorf(`"mirrors" item %d is not an object`, i)
				}
				m, err := network.FromConfig(ctx, nested)
				if err != nil {
					return nil, errors.Wrapf(err, "creating mirror %d", i)
				}
				mirrors = append(mirrors, m)
			}
		}

		return New(primary, mirrors...), nil
	})
}
