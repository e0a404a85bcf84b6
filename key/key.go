// Package key derives every key a user needs from a single seed phrase.
//
// Keys live in separate spaces
// (pointer, scratchpad, wallet),
// each derived independently from the master secret,
// so that a key from one space reveals nothing about another.
// Within a space,
// keys are numbered by a derivation index.
package key

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/pkg/errors"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/podgraph/pod"
)

// Space is a named partition of the derivation tree.
type Space string

const (
	// Pointer keys address pods.
	Pointer Space = "pointer"

	// Scratchpad keys address the chunk slots of pods.
	Scratchpad Space = "scratchpad"

	// Wallet keys are for payments and are never used for storage.
	Wallet Space = "wallet"
)

// Spaces lists the known key spaces.
var Spaces = []Space{Pointer, Scratchpad, Wallet}

func (s Space) valid() bool {
	switch s {
	case Pointer, Scratchpad, Wallet:
		return true
	}
	return false
}

// Secret is the master secret from which all keys are derived.
type Secret [32]byte

// Key is a derived key.
type Key struct {
	Space   Space
	Index   uint32
	Private ed25519.PrivateKey
}

// Address is the network address of the key: its public half.
func (k Key) Address() pod.Address {
	return pod.AddressFromBytes(k.Private.Public().(ed25519.PublicKey))
}

// Sign produces a signed update moving the pointer addressed by k to target.
func (k Key) Sign(target pod.Address, expected uint64) *pod.PointerUpdate {
	return pod.SignPointerUpdate(k.Private, target, expected)
}

// NewMnemonic produces a fresh 24-word seed phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", errors.Wrap(err, "generating entropy")
	}
	m, err := bip39.NewMnemonic(entropy)
	return m, errors.Wrap(err, "generating mnemonic")
}

// FromMnemonic turns a seed phrase into a master secret.
// A phrase with a bad checksum or unknown words is an ErrValidation.
func FromMnemonic(phrase string) (*Secret, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, errors.Wrap(pod.ErrValidation, "invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return nil, errors.Wrapf(pod.ErrValidation, "invalid mnemonic: %s", err)
	}

	var s Secret
	r := hkdf.New(sha256.New, seed, nil, []byte("pod/master"))
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return nil, errors.Wrap(err, "deriving master secret")
	}
	return &s, nil
}

// Derive produces the key at the given index in the given space.
// It is a pure function of the secret, the space, and the index.
func (s *Secret) Derive(space Space, index uint32) (Key, error) {
	if !space.valid() {
		return Key{}, errors.Wrapf(pod.ErrValidation, "unknown key space %q", space)
	}

	info := fmt.Sprintf("pod/%s/%d", space, index)
	r := hkdf.New(sha256.New, s[:], nil, []byte(info))

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return Key{}, errors.Wrapf(err, "deriving %s key %d", space, index)
	}

	return Key{
		Space:   space,
		Index:   index,
		Private: ed25519.NewKeyFromSeed(seed),
	}, nil
}

// MustDerive is like Derive but panics on an unknown space.
// It is for use with the constant spaces of this package.
func (s *Secret) MustDerive(space Space, index uint32) Key {
	k, err := s.Derive(space, index)
	if err != nil {
		panic(err)
	}
	return k
}

// ConfigPointer is the pointer key of the configuration pod.
func (s *Secret) ConfigPointer() Key {
	return s.MustDerive(Pointer, 0)
}

// ConfigScratchpad is the first chunk slot of the configuration pod.
func (s *Secret) ConfigScratchpad() Key {
	return s.MustDerive(Scratchpad, 0)
}

// WalletKey is the wallet key at the given index.
func (s *Secret) WalletKey(index uint32) Key {
	return s.MustDerive(Wallet, index)
}
