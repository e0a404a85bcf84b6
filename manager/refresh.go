package manager

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/cache"
	"github.com/podgraph/pod/split"
)

type remote struct {
	target  pod.Address
	version uint64
}

// resolve reads a pod pointer.
// A pointer that does not exist is at version 0.
func (m *Manager) resolve(ctx context.Context, addr pod.Address) (remote, error) {
	target, version, err := m.net.ResolvePointer(ctx, addr)
	if errors.Is(err, pod.ErrNotFound) {
		return remote{}, nil
	}
	if err != nil {
		return remote{}, netErr(err, "resolving pointer "+addr.String())
	}
	return remote{target: target, version: version}, nil
}

// RefreshCache brings every cached pod up to date with the network.
//
// First every pod pointer is resolved.
// If any has a version lower than the cached one,
// the network has regressed
// (or another writer holds the same keys),
// and the error is pod.ErrCorrupt with the cache left untouched.
//
// Then, if the configuration pod has advanced,
// its index is adopted (see adoptConfig),
// and every pod whose remote version is newer than the cached one is fetched
// and replaces the cached copy.
// The network wins over local changes not yet uploaded;
// a warning is logged when a dirty pod is overwritten.
// Finally the graph index is checked against the cache (see Reindex).
func (m *Manager) RefreshCache(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metas, err := m.cache.ListMetas()
	if err != nil {
		return err
	}

	var (
		remotes = make(map[pod.Address]remote, len(metas))
		mu      sync.Mutex // protects remotes
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, meta := range metas {
		meta := meta
		g.Go(func() error {
			r, err := m.resolve(gctx, meta.Address)
			if err != nil {
				return err
			}
			if r.version < meta.Version {
				return errors.Wrapf(pod.ErrCorrupt, "pointer %s regressed from version %d to %d", meta.Address, meta.Version, r.version)
			}
			mu.Lock()
			remotes[meta.Address] = r
			mu.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	cfgDoc, err := m.refreshPod(ctx, m.cfg, remotes[m.cfg])
	if err != nil {
		return errors.Wrap(err, "refreshing configuration pod")
	}
	if cfgDoc != nil {
		added, err := m.adoptConfig(ctx, cfgDoc)
		if err != nil {
			return errors.Wrap(err, "adopting configuration")
		}
		for _, addr := range added {
			r, err := m.resolve(ctx, addr)
			if err != nil {
				return err
			}
			if r.version == 0 {
				m.logger.WithField("pod", addr).Warn("configuration lists a pod that was never published, skipping")
				if err = m.dropPod(ctx, addr); err != nil {
					return err
				}
				continue
			}
			remotes[addr] = r
		}
	}

	var fetched int
	for addr, r := range remotes {
		if addr == m.cfg {
			continue
		}
		doc, err := m.refreshPod(ctx, addr, r)
		if err != nil {
			return errors.Wrapf(err, "refreshing pod %s", addr)
		}
		if doc != nil {
			fetched++
		}
	}

	m.logger.WithFields(log.Fields{"pods": len(remotes), "fetched": fetched}).Info("refresh finished")
	return m.reindex(ctx)
}

// refreshPod replaces the cached copy of a pod with the network's
// if the network's is newer,
// returning the new document.
// It returns nil if the pod was already up to date,
// is no longer cached,
// or was replaced on the network by a tombstone
// (in which case it is dropped).
func (m *Manager) refreshPod(ctx context.Context, addr pod.Address, r remote) (*split.Document, error) {
	unlock := m.cache.Lock(addr)
	defer unlock()

	meta, err := m.cache.Meta(addr)
	if errors.Is(err, pod.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.version <= meta.Version {
		return nil, nil
	}
	return m.fetchPod(ctx, meta, r)
}

// fetchPod downloads the pod at r into the cache and the graph index.
// The caller must hold the pod's lock.
func (m *Manager) fetchPod(ctx context.Context, meta *cache.Meta, r remote) (*split.Document, error) {
	manifest, chunks, err := m.fetchRemote(ctx, r.target)
	if err != nil {
		return nil, err
	}
	if manifest.Removed {
		if meta.Address == m.cfg {
			return nil, errors.Wrap(pod.ErrCorrupt, "configuration pod has a tombstone")
		}
		m.logger.WithField("pod", meta.Address).Info("pod removed on the network, dropping")
		if err = m.graph.DropGraph(ctx, meta.Address); err != nil {
			return nil, err
		}
		return nil, m.cache.RemovePod(meta.Address)
	}
	doc, err := split.Decode(chunks, manifest.Sizes())
	if err != nil {
		return nil, errors.Wrapf(err, "decoding pod %s", meta.Address)
	}

	dirty, err := m.cache.IsDirty(meta.Address)
	if err != nil {
		return nil, err
	}
	if dirty {
		m.logger.WithFields(log.Fields{
			"pod":      meta.Address,
			"local":    meta.Version,
			"remote":   r.version,
			"revision": meta.Revision,
		}).Warn("network has a newer version; discarding local changes")
	}

	meta.Version = r.version
	meta.Name = doc.Name
	if err = m.cache.ReplaceChunks(meta, chunks); err != nil {
		return nil, err
	}
	if dirty {
		if err = m.cache.ClearDirty(meta.Address); err != nil {
			return nil, err
		}
	}
	if meta.Address != m.cfg {
		if err = m.graph.LoadGraph(ctx, meta.Address, meta.Depth, meta.Generation, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// fetchRemote gets a pod's manifest and, unless it is a tombstone, its chunks.
func (m *Manager) fetchRemote(ctx context.Context, target pod.Address) (*split.Manifest, [][]byte, error) {
	b, err := m.net.FetchBlob(ctx, target)
	if errors.Is(err, pod.ErrNotFound) {
		return nil, nil, errors.Wrapf(pod.ErrCorrupt, "manifest %s missing", target)
	}
	if err != nil {
		return nil, nil, netErr(err, "fetching manifest")
	}
	manifest, err := split.UnmarshalManifest(b)
	if err != nil || manifest.Removed {
		return manifest, nil, err
	}

	addrs := manifest.Blobs()
	blobs, err := pod.FetchMulti(ctx, m.net, addrs)
	var merr pod.MultiErr
	if errors.As(err, &merr) {
		for addr, e := range merr {
			if errors.Is(e, pod.ErrNotFound) {
				return nil, nil, errors.Wrapf(pod.ErrCorrupt, "chunk blob %s missing", addr)
			}
		}
	}
	if err != nil {
		return nil, nil, netErr(err, "fetching chunks")
	}

	chunks := make([][]byte, len(addrs))
	for i, addr := range addrs {
		chunks[i] = blobs[addr]
		if pod.BlobAddress(chunks[i]) != addr {
			return nil, nil, errors.Wrapf(pod.ErrCorrupt, "chunk %d does not match its address", i)
		}
	}
	return manifest, chunks, nil
}

// RefreshReferences follows references breadth-first from the owned pods,
// caching every pod within maxDepth references
// and labeling it with its distance from the nearest owned pod.
// A referenced pod is fetched only when the network has a newer version than the cache.
// Each pod is visited at most once,
// so cycles and diamonds in the reference graph are harmless.
// A pod that cannot be fetched is logged and skipped,
// as are the pods reachable only through it.
func (m *Manager) RefreshReferences(ctx context.Context, maxDepth int) error {
	if maxDepth < 0 {
		return errors.Wrap(pod.ErrValidation, "negative depth")
	}

	owned, err := m.ListOwnedPods(ctx)
	if err != nil {
		return err
	}

	type item struct {
		addr  pod.Address
		depth int
	}
	var (
		visited = make(map[pod.Address]bool)
		queue   []item
	)
	for _, addr := range owned {
		visited[addr] = true
		queue = append(queue, item{addr: addr})
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		it := queue[0]
		queue = queue[1:]

		doc, err := m.visit(ctx, it.addr, it.depth)
		if err != nil {
			m.warn(it.addr, err, "cannot follow reference")
			continue
		}
		if doc == nil || it.depth >= maxDepth {
			continue
		}
		for _, ref := range doc.References {
			if visited[ref] {
				continue
			}
			visited[ref] = true
			queue = append(queue, item{addr: ref, depth: it.depth + 1})
		}
	}
	return nil
}

// visit produces the document of a pod reached at the given depth,
// fetching it first if it is a referenced pod and the network has a newer version.
// It returns nil for a pod that has been removed.
func (m *Manager) visit(ctx context.Context, addr pod.Address, depth int) (*split.Document, error) {
	unlock := m.cache.Lock(addr)
	defer unlock()

	meta, err := m.cache.Meta(addr)
	isNew := errors.Is(err, pod.ErrNotFound)
	switch {
	case isNew:
		meta = &cache.Meta{Address: addr, Depth: depth}
	case err != nil:
		return nil, err
	case meta.Owned:
		_, doc, err := m.load(addr)
		return doc, err
	}

	r, err := m.resolve(ctx, addr)
	if err != nil {
		return nil, err
	}
	if r.version < meta.Version {
		return nil, errors.Wrapf(pod.ErrCorrupt, "pointer %s regressed from version %d to %d", addr, meta.Version, r.version)
	}

	lowered := depth < meta.Depth
	if lowered {
		meta.Depth = depth
	}

	if r.version > meta.Version {
		return m.fetchPod(ctx, meta, r)
	}
	if isNew {
		return nil, errors.Wrapf(pod.ErrNotFound, "pod %s", addr)
	}

	if lowered {
		if err = m.cache.PutMeta(meta); err != nil {
			return nil, err
		}
		if err = m.graph.SetDepth(ctx, addr, depth); err != nil {
			return nil, err
		}
	}
	_, doc, err := m.load(addr)
	return doc, err
}
