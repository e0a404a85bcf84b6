package key

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

var walletMagic = []byte("podwl1\n")

// Order of the secp256k1 group.
// A wallet private key is a scalar in [1, n).
var secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

// Wallets is a set of named wallet keys imported from elsewhere.
// Unlike the keys from Secret.WalletKey,
// these are not derived from the seed phrase,
// so they live in a sealed file of their own.
type Wallets struct {
	Keys   map[string][]byte `json:"keys"`
	Active string            `json:"active,omitempty"`
}

// Add stores a wallet key under a name, replacing any key already there.
// The key is 32 bytes of hex, with or without a 0x prefix,
// and must be a valid secp256k1 private key.
func (w *Wallets) Add(name, hexKey string) error {
	if name == "" {
		return errors.Wrap(pod.ErrValidation, "empty wallet name")
	}
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return errors.Wrapf(pod.ErrValidation, "decoding wallet key: %s", err)
	}
	if len(b) != 32 {
		return errors.Wrapf(pod.ErrValidation, "wallet key has %d bytes, want 32", len(b))
	}
	if d := new(big.Int).SetBytes(b); d.Sign() == 0 || d.Cmp(secp256k1N) >= 0 {
		return errors.Wrap(pod.ErrValidation, "wallet key out of range for secp256k1")
	}
	if w.Keys == nil {
		w.Keys = make(map[string][]byte)
	}
	w.Keys[name] = b
	return nil
}

// Remove deletes the named key.
// If it was the active one, no key is active afterwards.
func (w *Wallets) Remove(name string) error {
	if _, ok := w.Keys[name]; !ok {
		return errors.Wrapf(pod.ErrNotFound, "wallet %s", name)
	}
	delete(w.Keys, name)
	if w.Active == name {
		w.Active = ""
	}
	return nil
}

// Get produces the named key in hex.
func (w *Wallets) Get(name string) (string, error) {
	b, ok := w.Keys[name]
	if !ok {
		return "", errors.Wrapf(pod.ErrNotFound, "wallet %s", name)
	}
	return hex.EncodeToString(b), nil
}

// Names lists the wallet names in order.
func (w *Wallets) Names() []string {
	out := make([]string, 0, len(w.Keys))
	for name := range w.Keys {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetActive marks the named key as the active one.
func (w *Wallets) SetActive(name string) error {
	if _, ok := w.Keys[name]; !ok {
		return errors.Wrapf(pod.ErrNotFound, "wallet %s", name)
	}
	w.Active = name
	return nil
}

// SealWallets encrypts a set of wallet keys under a password,
// the same way Seal does a secret.
func SealWallets(w *Wallets, password []byte) ([]byte, error) {
	plain, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "encoding wallets")
	}
	return seal(walletMagic, plain, password)
}

// OpenWallets decrypts a sealed set of wallet keys.
func OpenWallets(sealed, password []byte) (*Wallets, error) {
	plain, err := open(walletMagic, sealed, password)
	if err != nil {
		return nil, err
	}
	w := new(Wallets)
	if err = json.Unmarshal(plain, w); err != nil {
		return nil, errors.Wrapf(pod.ErrCorrupt, "decoding wallets: %s", err)
	}
	if w.Active != "" {
		if _, ok := w.Keys[w.Active]; !ok {
			return nil, errors.Wrapf(pod.ErrCorrupt, "active wallet %s has no key", w.Active)
		}
	}
	return w, nil
}

// SaveWalletsFile seals w and writes it to path atomically.
func SaveWalletsFile(path string, w *Wallets, password []byte) error {
	sealed, err := SealWallets(w, password)
	if err != nil {
		return err
	}
	return errors.Wrapf(renameio.WriteFile(path, sealed, 0600), "writing %s", path)
}

// LoadWalletsFile reads and opens the wallet file at path.
// A missing file is an empty set.
func LoadWalletsFile(path string, password []byte) (*Wallets, error) {
	sealed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return new(Wallets), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return OpenWallets(sealed, password)
}
