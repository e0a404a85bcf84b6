// Package gcs implements a network on Google Cloud Storage.
// Blobs are objects named b:<hex address>.
// Pointers are objects named p:<hex address>,
// whose contents record the current target and version,
// and whose updates are guarded by object-generation preconditions.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	stderrs "errors"
	"io/ioutil"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = &Network{}

// Network is a Google Cloud Storage-based implementation of a pod.Network.
type Network struct {
	bucket *storage.BucketHandle
}

// New produces a new Network.
func New(bucket *storage.BucketHandle) *Network {
	return &Network{bucket: bucket}
}

// ResolvePointer implements pod.Getter.
func (n *Network) ResolvePointer(ctx context.Context, addr pod.Address) (pod.Address, uint64, error) {
	p, _, err := n.readPointer(ctx, addr)
	if err != nil {
		return pod.Zero, 0, err
	}
	return p.Target, p.Version, nil
}

// FetchBlob implements pod.Getter.
func (n *Network) FetchBlob(ctx context.Context, addr pod.Address) ([]byte, error) {
	name := blobObjName(addr)
	r, err := n.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, pod.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b, err := ioutil.ReadAll(r)
	return b, errors.Wrapf(err, "reading contents of object %s", name)
}

// PutBlob adds a blob to the network if it wasn't already present.
func (n *Network) PutBlob(ctx context.Context, b []byte) (pod.Address, error) {
	var (
		addr = pod.BlobAddress(b)
		name = blobObjName(addr)
		obj  = n.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
	)
	err := write(ctx, obj, b)
	if isPreconditionFailed(err) {
		return addr, nil
	}
	return addr, errors.Wrapf(err, "writing object %s", name)
}

// UpdatePointer moves a pointer to a new target,
// provided the pointer is still at the expected version.
func (n *Network) UpdatePointer(ctx context.Context, u *pod.PointerUpdate) (uint64, error) {
	if err := u.Verify(); err != nil {
		return 0, err
	}

	cur, gen, err := n.readPointer(ctx, u.Pointer)
	if err != nil && !stderrs.Is(err, pod.ErrNotFound) {
		return 0, err
	}
	if cur.Version != u.Expected {
		return 0, &pod.ConflictError{Pointer: u.Pointer, Expected: u.Expected, Actual: cur.Version}
	}

	next := pointerRecord{Target: u.Target, Version: u.Expected + 1}
	b, err := json.Marshal(next)
	if err != nil {
		return 0, errors.Wrap(err, "encoding pointer record")
	}

	cond := storage.Conditions{DoesNotExist: true}
	if gen != 0 {
		cond = storage.Conditions{GenerationMatch: gen}
	}
	name := pointerObjName(u.Pointer)
	err = write(ctx, n.bucket.Object(name).If(cond), b)
	if isPreconditionFailed(err) {
		// Someone else got there between our read and our write.
		_, actual, rerr := n.ResolvePointer(ctx, u.Pointer)
		if rerr != nil && !stderrs.Is(rerr, pod.ErrNotFound) {
			return 0, rerr
		}
		return 0, &pod.ConflictError{Pointer: u.Pointer, Expected: u.Expected, Actual: actual}
	}
	if err != nil {
		return 0, errors.Wrapf(err, "writing object %s", name)
	}
	return next.Version, nil
}

type pointerRecord struct {
	Target  pod.Address `json:"target"`
	Version uint64      `json:"version"`
}

// readPointer returns the pointer's record and the generation of the object holding it.
func (n *Network) readPointer(ctx context.Context, addr pod.Address) (pointerRecord, int64, error) {
	name := pointerObjName(addr)
	r, err := n.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return pointerRecord{}, 0, pod.ErrNotFound
	}
	if err != nil {
		return pointerRecord{}, 0, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b, err := ioutil.ReadAll(r)
	if err != nil {
		return pointerRecord{}, 0, errors.Wrapf(err, "reading contents of object %s", name)
	}
	p, err := decodePointer(b)
	if err != nil {
		return pointerRecord{}, 0, errors.Wrapf(err, "in object %s", name)
	}
	return p, r.Attrs.Generation, nil
}

func decodePointer(b []byte) (pointerRecord, error) {
	var p pointerRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return pointerRecord{}, errors.Wrapf(pod.ErrCorrupt, "decoding pointer record: %s", err)
	}
	if p.Version == 0 {
		return pointerRecord{}, errors.Wrap(pod.ErrCorrupt, "pointer record has version 0")
	}
	return p, nil
}

func write(ctx context.Context, obj *storage.ObjectHandle, b []byte) error {
	w := obj.NewWriter(ctx)
	if _, err := w.Write(b); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

func blobObjName(addr pod.Address) string {
	return "b:" + addr.String()
}

func pointerObjName(addr pod.Address) string {
	return "p:" + addr.String()
}

// addrFromObjName parses the address out of a blob or pointer object name.
func addrFromObjName(name string) (pod.Address, error) {
	switch {
	case strings.HasPrefix(name, "b:"), strings.HasPrefix(name, "p:"):
		return pod.AddressFromHex(name[2:])
	}
	return pod.Zero, errors.Errorf("malformed object name %s", name)
}

func init() {
	network.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (pod.Network, error) {
		var options []option.ClientOption
		creds, ok := conf["creds"].(string)
		if !ok {
			return nil, errors.New(`missing "creds" parameter`)
		}
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		options = append(options, option.WithCredentialsFile(creds))
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
