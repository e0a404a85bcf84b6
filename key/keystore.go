package key

import (
	"bytes"
	"crypto/rand"
	"os"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/podgraph/pod"
)

const (
	saltSize = 16

	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

var magic = []byte("podks1\n")

// Seal encrypts the secret under a password.
// The result is magic | salt | nonce | ciphertext.
func Seal(secret *Secret, password []byte) ([]byte, error) {
	return seal(magic, secret[:], password)
}

// Open decrypts a sealed secret.
// A wrong password is an ErrAuth.
// Input that is not a sealed keystore at all is an ErrCorrupt.
func Open(sealed, password []byte) (*Secret, error) {
	plain, err := open(magic, sealed, password)
	if err != nil {
		return nil, err
	}
	var s Secret
	if len(plain) != len(s) {
		return nil, errors.Wrapf(pod.ErrCorrupt, "keystore secret has length %d", len(plain))
	}
	copy(s[:], plain)
	return &s, nil
}

// seal encrypts plain under a key derived from password with argon2id.
// The magic prefix is also the additional data,
// so a file of one kind does not open as another.
func seal(prefix, plain, password []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "generating salt")
	}
	aead, err := chacha20poly1305.NewX(argon2.IDKey(password, salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize))
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}

	out := make([]byte, 0, len(prefix)+len(salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, prefix...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, prefix), nil
}

func open(prefix, sealed, password []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, prefix) {
		return nil, errors.Wrap(pod.ErrCorrupt, "not a keystore")
	}
	rest := sealed[len(prefix):]
	if len(rest) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errors.Wrap(pod.ErrCorrupt, "truncated keystore")
	}
	salt, rest := rest[:saltSize], rest[saltSize:]
	nonce, ciphertext := rest[:chacha20poly1305.NonceSizeX], rest[chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(argon2.IDKey(password, salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize))
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}
	plain, err := aead.Open(nil, nonce, ciphertext, prefix)
	if err != nil {
		return nil, errors.Wrap(pod.ErrAuth, "opening keystore")
	}
	return plain, nil
}

// SaveFile seals the secret and writes it to path,
// replacing any previous keystore atomically.
func SaveFile(path string, secret *Secret, password []byte) error {
	sealed, err := Seal(secret, password)
	if err != nil {
		return err
	}
	return errors.Wrapf(renameio.WriteFile(path, sealed, 0600), "writing %s", path)
}

// LoadFile reads and opens the keystore at path.
// If there is no file the error is pod.ErrNotFound.
func LoadFile(path string, password []byte) (*Secret, error) {
	sealed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pod.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Open(sealed, password)
}
