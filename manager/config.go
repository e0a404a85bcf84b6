package manager

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/cache"
	"github.com/podgraph/pod/key"
	"github.com/podgraph/pod/split"
)

// ensureConfig creates the configuration pod in the cache if it is not there.
// A new configuration pod is clean:
// it has nothing to publish until some pod is created or fetched.
func (m *Manager) ensureConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.cache.Meta(m.cfg)
	if err == nil || !errors.Is(err, pod.ErrNotFound) {
		return err
	}

	pad := m.secret.ConfigScratchpad()
	meta := &cache.Meta{
		Address: m.cfg,
		Name:    configName,
		Owned:   true,
		Slots:   []cache.Slot{{Index: pad.Index, Address: pad.Address()}},
	}
	if err = m.cache.PutMeta(meta); err != nil {
		return err
	}
	doc, err := m.configDocument()
	if err != nil {
		return err
	}
	return m.save(meta, doc)
}

// configDocument builds the configuration pod's document
// from the cached metadata of the owned pods
// and the allocator's counters.
// Pods never published are left out,
// since another installation could not read them.
func (m *Manager) configDocument() (*split.Document, error) {
	metas, err := m.cache.ListMetas()
	if err != nil {
		return nil, err
	}
	doc := &split.Document{
		Name:     configName,
		Counters: make(map[string]uint32),
	}
	for sp, n := range m.alloc.Counters() {
		doc.Counters[string(sp)] = n
	}
	for _, meta := range metas {
		if !meta.Owned || meta.Address == m.cfg || meta.Version == 0 {
			continue
		}
		e := split.Entry{
			Pod:          meta.Address,
			Name:         meta.Name,
			PointerIndex: meta.PointerIndex,
			Sizes:        meta.Sizes,
			Version:      meta.Version,
		}
		for _, s := range meta.Slots {
			e.Slots = append(e.Slots, s.Index)
		}
		doc.Entries = append(doc.Entries, e)
	}
	return doc, nil
}

// rebuildConfig brings the configuration pod's document up to date
// and marks it dirty if that changed it.
// The caller must hold m.mu.
func (m *Manager) rebuildConfig() error {
	unlock := m.cache.Lock(m.cfg)
	defer unlock()

	meta, chunks, err := m.cache.ReadChunks(m.cfg)
	if err != nil {
		return errors.Wrap(err, "reading configuration pod")
	}

	// Growing the slots moves the counters, which are part of the document,
	// so settle the slots first.
	var (
		doc       *split.Document
		newChunks [][]byte
	)
	for {
		doc, err = m.configDocument()
		if err != nil {
			return err
		}
		newChunks, err = split.Encode(doc, m.chunkSize)
		if err != nil {
			return errors.Wrap(err, "encoding configuration pod")
		}
		if len(newChunks) <= len(meta.Slots) {
			if sameChunks(chunks, newChunks) {
				return nil
			}
			break
		}
		if err = m.growSlots(meta, len(newChunks)); err != nil {
			return err
		}
	}

	if err = m.save(meta, doc); err != nil {
		return err
	}
	return m.cache.MarkDirty(m.cfg)
}

func sameChunks(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// adoptConfig installs a newer configuration document fetched from the network.
// Counters are raised to the remote values,
// owned pods unknown to this cache are registered (at version 0, so they will be fetched),
// and clean, previously synchronized owned pods missing from the remote index are dropped,
// since another installation removed them.
// Pods removed here but not yet published as removed stay removed.
// It returns the newly registered pods.
// The caller must hold m.mu.
func (m *Manager) adoptConfig(ctx context.Context, doc *split.Document) ([]pod.Address, error) {
	for name, n := range doc.Counters {
		if err := m.alloc.Raise(key.Space(name), n); err != nil {
			return nil, errors.Wrapf(err, "raising %s counter", name)
		}
	}

	removals, err := m.cache.Removals()
	if err != nil {
		return nil, err
	}
	removed := make(map[pod.Address]bool, len(removals))
	for _, r := range removals {
		removed[r.Address] = true
	}

	listed := make(map[pod.Address]bool)
	var added []pod.Address
	for _, e := range doc.Entries {
		listed[e.Pod] = true
		if removed[e.Pod] {
			continue
		}

		k, err := m.secret.Derive(key.Pointer, e.PointerIndex)
		if err != nil {
			return nil, err
		}
		if k.Address() != e.Pod {
			return nil, errors.Wrapf(pod.ErrCorrupt, "configuration entry %s does not match pointer index %d", e.Pod, e.PointerIndex)
		}

		_, err = m.cache.Meta(e.Pod)
		if err == nil {
			continue
		}
		if !errors.Is(err, pod.ErrNotFound) {
			return nil, err
		}

		meta := &cache.Meta{
			Address:      e.Pod,
			Name:         e.Name,
			Owned:        true,
			PointerIndex: e.PointerIndex,
			Sizes:        e.Sizes,
		}
		for _, idx := range e.Slots {
			pad, err := m.secret.Derive(key.Scratchpad, idx)
			if err != nil {
				return nil, err
			}
			meta.Slots = append(meta.Slots, cache.Slot{Index: idx, Address: pad.Address()})
		}
		if err = m.cache.PutMeta(meta); err != nil {
			return nil, err
		}
		added = append(added, e.Pod)
	}

	metas, err := m.cache.ListMetas()
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if !meta.Owned || meta.Address == m.cfg || listed[meta.Address] || meta.Version == 0 {
			continue
		}
		dirty, err := m.cache.IsDirty(meta.Address)
		if err != nil {
			return nil, err
		}
		if dirty {
			continue
		}
		m.logger.WithField("pod", meta.Address).Info("pod removed elsewhere, dropping")
		if err = m.dropPod(ctx, meta.Address); err != nil {
			return nil, err
		}
	}

	return added, nil
}

// dropPod removes a pod from the cache and the graph index.
func (m *Manager) dropPod(ctx context.Context, addr pod.Address) error {
	unlock := m.cache.Lock(addr)
	defer unlock()

	if err := m.graph.DropGraph(ctx, addr); err != nil {
		return err
	}
	return m.cache.RemovePod(addr)
}

func (m *Manager) warn(addr pod.Address, err error, msg string) {
	m.logger.WithFields(log.Fields{"pod": addr}).WithError(err).Warn(msg)
}
