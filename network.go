package pod

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Getter is the read-only part of a Network.
type Getter interface {
	// ResolvePointer returns the blob address a pointer targets
	// and the pointer's current version.
	// Versions start at 1 when a pointer is created
	// and increase by one with every update.
	// If the pointer does not exist,
	// the error is ErrNotFound.
	ResolvePointer(context.Context, Address) (target Address, version uint64, err error)

	// FetchBlob gets the blob at the given address.
	// If it does not exist,
	// the error is ErrNotFound.
	FetchBlob(context.Context, Address) ([]byte, error)
}

// Network is the storage network:
// immutable blobs addressed by content
// and mutable, signed, versioned pointers.
//
// Implementations must be safe for concurrent use.
type Network interface {
	Getter

	// PutBlob stores a blob and returns its address.
	// Storing a blob that is already present is not an error.
	PutBlob(context.Context, []byte) (Address, error)

	// UpdatePointer points a pointer at a new target.
	// The update must carry a valid signature by the pointer's key
	// (the pointer address is the ed25519 public key),
	// otherwise the error is ErrAuth.
	// The pointer's current version must equal the update's Expected field
	// (zero for a pointer that does not exist yet),
	// otherwise the error is a *ConflictError.
	// On success the new version,
	// Expected+1,
	// is returned.
	UpdatePointer(context.Context, *PointerUpdate) (uint64, error)
}

// PointerUpdate is a signed request to retarget a pointer.
type PointerUpdate struct {
	Pointer   Address
	Target    Address
	Expected  uint64
	Signature []byte
}

// SignPointerUpdate produces a PointerUpdate for the pointer whose key is priv.
func SignPointerUpdate(priv ed25519.PrivateKey, target Address, expected uint64) *PointerUpdate {
	u := &PointerUpdate{
		Pointer:  AddressFromBytes(priv.Public().(ed25519.PublicKey)),
		Target:   target,
		Expected: expected,
	}
	u.Signature = ed25519.Sign(priv, u.message())
	return u
}

// Verify checks the signature on u.
func (u *PointerUpdate) Verify() error {
	if len(u.Signature) != ed25519.SignatureSize {
		return errors.Wrapf(ErrAuth, "bad signature length %d for pointer %s", len(u.Signature), u.Pointer)
	}
	if !ed25519.Verify(ed25519.PublicKey(u.Pointer[:]), u.message(), u.Signature) {
		return errors.Wrapf(ErrAuth, "bad signature for pointer %s", u.Pointer)
	}
	return nil
}

func (u *PointerUpdate) message() []byte {
	msg := make([]byte, 0, 2*len(u.Pointer)+8)
	msg = append(msg, u.Pointer[:]...)
	msg = append(msg, u.Target[:]...)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], u.Expected+1)
	return append(msg, v[:]...)
}
