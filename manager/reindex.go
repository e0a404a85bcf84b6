package manager

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/graph"
)

// Reindex brings the graph index into line with the cache.
// A pod whose partition is missing,
// or was loaded from a different generation of its cached chunks or at a different depth,
// is reloaded from the cache.
// A partition with no cached pod behind it is dropped.
//
// New calls Reindex,
// so an index that was deleted or fell behind
// (say, after a crash between a cache write and the index load)
// is repaired on the next start.
func (m *Manager) Reindex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reindex(ctx)
}

// The caller must hold m.mu.
func (m *Manager) reindex(ctx context.Context) error {
	metas, err := m.cache.ListMetas()
	if err != nil {
		return err
	}
	infos, err := m.graph.Pods(ctx)
	if err != nil {
		return err
	}
	indexed := make(map[pod.Address]graph.PodInfo, len(infos))
	for _, info := range infos {
		indexed[info.Pod] = info
	}

	var loaded, dropped int
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if meta.Address == m.cfg {
			continue
		}
		info, ok := indexed[meta.Address]
		delete(indexed, meta.Address)
		if meta.Generation == 0 {
			// Nothing cached yet.
			if ok {
				if err = m.graph.DropGraph(ctx, meta.Address); err != nil {
					return err
				}
				dropped++
			}
			continue
		}
		if ok && info.Generation == meta.Generation && info.Depth == meta.Depth {
			continue
		}
		if err = m.reload(ctx, meta.Address); err != nil {
			return errors.Wrapf(err, "reindexing pod %s", meta.Address)
		}
		loaded++
	}

	for addr := range indexed {
		if err = m.graph.DropGraph(ctx, addr); err != nil {
			return err
		}
		dropped++
	}

	if loaded > 0 || dropped > 0 {
		m.logger.WithFields(log.Fields{"loaded": loaded, "dropped": dropped}).Info("graph index repaired")
	}
	return nil
}

// reload loads the cached copy of a pod into the graph index.
func (m *Manager) reload(ctx context.Context, addr pod.Address) error {
	unlock := m.cache.Lock(addr)
	defer unlock()

	meta, doc, err := m.load(addr)
	if err != nil {
		return err
	}
	return m.graph.LoadGraph(ctx, addr, meta.Depth, meta.Generation, doc)
}
