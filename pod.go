package pod

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Address is the address of a pointer or a blob on the network.
// Pointer addresses are ed25519 public keys.
// Blob addresses are the sha256 hash of the blob's content.
type Address [sha256.Size]byte

// Zero is the zero value of an Address.
var Zero Address

// BlobAddress computes the address of a blob.
func BlobAddress(b []byte) Address {
	return sha256.Sum256(b)
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IRI is the address in the form used for subjects and named graphs in the graph index.
func (a Address) IRI() string {
	return "ant://" + a.String()
}

func (a Address) Less(other Address) bool {
	return bytes.Compare(a[:], other[:]) < 0
}

func (a Address) IsZero() bool {
	return a == Zero
}

func (a *Address) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return errors.New("wrong length")
	}
	_, err := hex.Decode(a[:], []byte(s))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	return a.FromHex(string(text))
}

func AddressFromBytes(b []byte) Address {
	var out Address
	copy(out[:], b)
	return out
}

func AddressFromHex(s string) (Address, error) {
	var out Address
	err := out.FromHex(s)
	return out, err
}

// SortAddresses sorts a slice of addresses in place.
func SortAddresses(addrs []Address) {
	sortAddresses(addrs)
}
