// Package manager ties together key derivation, the local pod cache, the pod codec,
// the graph index, and a storage network.
// It is the only place where those subsystems meet:
// none of them calls another.
//
// All operations work on the local cache and are available offline,
// except for UploadPod, UploadAll, RefreshCache, and RefreshReferences,
// which synchronize the cache with the network.
package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/cache"
	"github.com/podgraph/pod/graph"
	"github.com/podgraph/pod/key"
	"github.com/podgraph/pod/split"
)

// Config tells New where and how to open a manager.
type Config struct {
	// Root is the directory holding the keystore, the pod cache, and the graph index.
	// It is created if needed.
	Root string

	// Password seals and unseals the keystore.
	Password []byte

	// Mnemonic is the seed phrase.
	// It is required when Root has no keystore yet,
	// and must match the keystore when it does.
	// Once a keystore exists it may be left empty.
	Mnemonic string

	// ChunkSize is the chunk capacity.
	// Zero means split.MaxChunkSize.
	ChunkSize int

	// Logger receives warnings and progress.
	// Nil means the standard logrus logger.
	Logger *log.Logger
}

// Manager is the pod metadata engine.
// It is safe for concurrent use.
type Manager struct {
	net       pod.Network
	secret    *key.Secret
	alloc     *key.Allocator
	cache     *cache.Store
	graph     *graph.Index
	chunkSize int
	logger    log.FieldLogger

	cfg pod.Address

	walletsPath string
	password    []byte

	// Held by operations that change the set of owned pods
	// or the configuration pod.
	// It is always acquired before any per-pod lock.
	mu sync.Mutex
}

const configName = "configuration"

// KeystoreFile is the name of the keystore within the root directory.
const KeystoreFile = "keystore"

// WalletsFile is the name of the imported wallet keys within the root directory.
const WalletsFile = "wallets"

// New opens the manager rooted at conf.Root,
// creating the keystore, cache, and configuration pod on first use.
func New(ctx context.Context, conf Config, net pod.Network) (*Manager, error) {
	if conf.Root == "" {
		return nil, errors.Wrap(pod.ErrValidation, "no root directory")
	}
	if err := os.MkdirAll(conf.Root, 0700); err != nil {
		return nil, errors.Wrapf(err, "ensuring path %s exists", conf.Root)
	}

	secret, err := openSecret(filepath.Join(conf.Root, KeystoreFile), conf.Password, conf.Mnemonic)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(filepath.Join(conf.Root, "cache"))
	if err != nil {
		return nil, errors.Wrap(err, "opening cache")
	}
	alloc, err := key.NewAllocator(secret, c)
	if err != nil {
		return nil, err
	}
	x, err := graph.Open(ctx, filepath.Join(conf.Root, "graph.db"))
	if err != nil {
		return nil, errors.Wrap(err, "opening graph index")
	}

	logger := conf.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	chunkSize := conf.ChunkSize
	if chunkSize <= 0 || chunkSize > split.MaxChunkSize {
		chunkSize = split.MaxChunkSize
	}

	m := &Manager{
		net:       net,
		secret:    secret,
		alloc:     alloc,
		cache:     c,
		graph:     x,
		chunkSize: chunkSize,
		cfg:       secret.ConfigPointer().Address(),

		walletsPath: filepath.Join(conf.Root, WalletsFile),
		password:    conf.Password,
	}
	m.logger = logger.WithField("config", m.cfg)

	if err = m.ensureConfig(); err != nil {
		x.Close()
		return nil, err
	}
	if err = m.Reindex(ctx); err != nil {
		x.Close()
		return nil, errors.Wrap(err, "reindexing")
	}
	return m, nil
}

func openSecret(path string, password []byte, mnemonic string) (*key.Secret, error) {
	secret, err := key.LoadFile(path, password)
	switch {
	case errors.Is(err, pod.ErrNotFound):
		if mnemonic == "" {
			return nil, errors.Wrapf(pod.ErrValidation, "no keystore at %s and no mnemonic", path)
		}
		secret, err = key.FromMnemonic(mnemonic)
		if err != nil {
			return nil, err
		}
		return secret, errors.Wrap(key.SaveFile(path, secret, password), "saving keystore")

	case err != nil:
		return nil, errors.Wrap(err, "loading keystore")

	case mnemonic != "":
		other, err := key.FromMnemonic(mnemonic)
		if err != nil {
			return nil, err
		}
		if *other != *secret {
			return nil, errors.Wrap(pod.ErrValidation, "mnemonic does not match keystore")
		}
	}
	return secret, nil
}

// Close releases the graph index.
func (m *Manager) Close() error {
	return m.graph.Close()
}

// ConfigAddress is the address of the configuration pod.
func (m *Manager) ConfigAddress() pod.Address {
	return m.cfg
}

// Pod gets the cached metadata of a pod.
func (m *Manager) Pod(addr pod.Address) (*cache.Meta, error) {
	return m.cache.Meta(addr)
}

// load reads and decodes the cached document of a pod.
func (m *Manager) load(addr pod.Address) (*cache.Meta, *split.Document, error) {
	meta, chunks, err := m.cache.ReadChunks(addr)
	if err != nil {
		return nil, nil, err
	}
	doc, err := split.Decode(chunks, meta.Sizes)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decoding pod %s", addr)
	}
	return meta, doc, nil
}

// save encodes doc into the chunks of the pod described by meta,
// growing or shrinking its slots to fit,
// and counts a revision.
// It does not mark the pod dirty.
// The caller must hold the pod's lock.
func (m *Manager) save(meta *cache.Meta, doc *split.Document) error {
	chunks, err := split.Encode(doc, m.chunkSize)
	if err != nil {
		return err
	}
	if err = m.growSlots(meta, len(chunks)); err != nil {
		return err
	}
	// Freed slot indexes are not reused.
	meta.Slots = meta.Slots[:len(chunks)]
	meta.Name = doc.Name
	meta.Revision++
	return errors.Wrapf(m.cache.ReplaceChunks(meta, chunks), "storing pod %s", meta.Address)
}

func (m *Manager) growSlots(meta *cache.Meta, n int) error {
	for len(meta.Slots) < n {
		k, err := m.alloc.Next(key.Scratchpad)
		if err != nil {
			return errors.Wrap(err, "allocating chunk slot")
		}
		meta.Slots = append(meta.Slots, cache.Slot{Index: k.Index, Address: k.Address()})
	}
	return nil
}

// commit saves a mutated owned pod, queues it for upload, and reloads its partition.
func (m *Manager) commit(ctx context.Context, meta *cache.Meta, doc *split.Document) error {
	if err := m.save(meta, doc); err != nil {
		return err
	}
	if err := m.cache.MarkDirty(meta.Address); err != nil {
		return err
	}
	return m.graph.LoadGraph(ctx, meta.Address, meta.Depth, meta.Generation, doc)
}

// netErr classifies an error from the network.
// Errors with a kind of their own keep it;
// anything else is a transport failure.
func netErr(err error, op string) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{pod.ErrNotFound, pod.ErrVersionConflict, pod.ErrAuth, pod.ErrCorrupt, pod.ErrNetwork, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, kind) {
			return errors.Wrap(err, op)
		}
	}
	return &pod.NetworkError{Op: op, Err: err}
}
