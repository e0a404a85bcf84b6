// Package file implements a network as a file hierarchy.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobg/flock"
	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = &Network{}

// Network is a file-based implementation of a network.
// Several processes may share one root.
type Network struct {
	root    string
	flocker flock.Locker

	mu sync.Mutex // serializes pointer updates within this process
}

// New produces a new Network storing data beneath root.
func New(root string) *Network {
	return &Network{root: root}
}

func (n *Network) blobroot() string {
	return filepath.Join(n.root, "blobs")
}

func (n *Network) blobpath(addr pod.Address) string {
	h := addr.String()
	return filepath.Join(n.blobroot(), h[:2], h[:4], h)
}

func (n *Network) pointerpath(addr pod.Address) string {
	h := addr.String()
	return filepath.Join(n.root, "pointers", h[:2], h)
}

func (n *Network) lockpath() string {
	return filepath.Join(n.root, "pointers.lock")
}

// FetchBlob implements pod.Getter.
func (n *Network) FetchBlob(_ context.Context, addr pod.Address) ([]byte, error) {
	path := n.blobpath(addr)
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pod.ErrNotFound
	}
	return b, errors.Wrapf(err, "opening %s", path)
}

// PutBlob implements pod.Network.
func (n *Network) PutBlob(_ context.Context, b []byte) (pod.Address, error) {
	var (
		addr = pod.BlobAddress(b)
		path = n.blobpath(addr)
		dir  = filepath.Dir(path)
	)

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return pod.Zero, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	if _, err = os.Stat(path); err == nil {
		return addr, nil
	}
	err = renameio.WriteFile(path, b, 0444)
	return addr, errors.Wrapf(err, "writing %s", path)
}

type pointerRecord struct {
	Target  pod.Address `json:"target"`
	Version uint64      `json:"version"`
}

// ResolvePointer implements pod.Getter.
func (n *Network) ResolvePointer(_ context.Context, addr pod.Address) (pod.Address, uint64, error) {
	p, err := n.readPointer(addr)
	return p.Target, p.Version, err
}

func (n *Network) readPointer(addr pod.Address) (pointerRecord, error) {
	path := n.pointerpath(addr)
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return pointerRecord{}, pod.ErrNotFound
	}
	if err != nil {
		return pointerRecord{}, errors.Wrapf(err, "reading %s", path)
	}

	var p pointerRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&p); err != nil {
		return pointerRecord{}, errors.Wrapf(pod.ErrCorrupt, "decoding %s: %s", path, err)
	}
	if p.Version == 0 {
		return pointerRecord{}, errors.Wrapf(pod.ErrCorrupt, "pointer in %s has version 0", path)
	}
	return p, nil
}

// UpdatePointer implements pod.Network.
func (n *Network) UpdatePointer(_ context.Context, u *pod.PointerUpdate) (uint64, error) {
	if err := u.Verify(); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := os.MkdirAll(n.root, 0755); err != nil {
		return 0, errors.Wrapf(err, "ensuring path %s exists", n.root)
	}
	if err := n.flocker.Lock(n.lockpath()); err != nil {
		return 0, errors.Wrap(err, "locking pointers")
	}
	defer n.flocker.Unlock(n.lockpath())

	p, err := n.readPointer(u.Pointer)
	if err != nil && !errors.Is(err, pod.ErrNotFound) {
		return 0, err
	}
	if p.Version != u.Expected {
		return 0, &pod.ConflictError{Pointer: u.Pointer, Expected: u.Expected, Actual: p.Version}
	}

	next := pointerRecord{Target: u.Target, Version: u.Expected + 1}
	b, err := json.Marshal(next)
	if err != nil {
		return 0, errors.Wrap(err, "encoding pointer record")
	}
	path := n.pointerpath(u.Pointer)
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, errors.Wrapf(err, "ensuring path %s exists", filepath.Dir(path))
	}
	if err = renameio.WriteFile(path, b, 0644); err != nil {
		return 0, errors.Wrapf(err, "writing %s", path)
	}
	return next.Version, nil
}

func init() {
	network.Register("file", func(_ context.Context, conf map[string]interface{}) (pod.Network, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
