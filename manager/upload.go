package manager

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/cache"
	"github.com/podgraph/pod/key"
	"github.com/podgraph/pod/split"
)

// UploadPod publishes one dirty owned pod.
// A clean pod is skipped.
// Afterwards the configuration pod is dirty,
// since its index entry for the pod has a new version;
// UploadAll publishes it.
func (m *Manager) UploadPod(ctx context.Context, addr pod.Address) error {
	uploaded, err := m.uploadPod(ctx, addr)
	if err != nil || !uploaded || addr == m.cfg {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildConfig()
}

// UploadAll publishes pending removals,
// then every dirty content pod,
// then the configuration pod.
// Clean pods are skipped,
// so a repeated call with no intervening change writes nothing to the network.
//
// Failure to publish the configuration pod is returned as is.
// Otherwise, if some content pods or removals failed,
// the error is a *pod.PartialFailure.
// Either way it is safe to call UploadAll again.
func (m *Manager) UploadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		uploaded []pod.Address
		failed   = make(map[pod.Address]error)
	)

	removals, err := m.cache.Removals()
	if err != nil {
		return err
	}
	for _, r := range removals {
		if err := m.publishRemoval(ctx, r); err != nil {
			m.warn(r.Address, err, "publishing removal failed")
			failed[r.Address] = err
			continue
		}
		uploaded = append(uploaded, r.Address)
	}

	dirty, err := m.cache.Dirty()
	if err != nil {
		return err
	}
	for _, addr := range dirty {
		if addr == m.cfg {
			continue
		}
		ok, err := m.uploadPod(ctx, addr)
		if err != nil {
			m.warn(addr, err, "upload failed")
			failed[addr] = err
			continue
		}
		if ok {
			uploaded = append(uploaded, addr)
		}
	}

	if err = m.rebuildConfig(); err != nil {
		return errors.Wrap(err, "updating configuration pod")
	}
	ok, err := m.uploadPod(ctx, m.cfg)
	if err != nil {
		return errors.Wrap(err, "uploading configuration pod")
	}
	if ok {
		uploaded = append(uploaded, m.cfg)
	}

	m.logger.WithFields(log.Fields{"uploaded": len(uploaded), "failed": len(failed)}).Info("upload finished")

	if len(failed) > 0 {
		return &pod.PartialFailure{Uploaded: uploaded, Failed: failed}
	}
	return nil
}

// uploadPod publishes a pod if it is dirty, reporting whether it did.
func (m *Manager) uploadPod(ctx context.Context, addr pod.Address) (bool, error) {
	unlock := m.cache.Lock(addr)
	defer unlock()

	dirty, err := m.cache.IsDirty(addr)
	if err != nil || !dirty {
		return false, err
	}

	meta, chunks, err := m.cache.ReadChunks(addr)
	if err != nil {
		return false, err
	}
	if !meta.Owned {
		return false, errors.Wrapf(pod.ErrValidation, "pod %s is not owned", addr)
	}
	if len(meta.Slots) < len(chunks) {
		return false, errors.Wrapf(pod.ErrCorrupt, "pod %s has %d chunks but %d slots", addr, len(chunks), len(meta.Slots))
	}

	blobs, err := pod.PutMulti(ctx, m.net, chunks)
	if err != nil {
		return false, netErr(err, "putting chunk blobs")
	}

	refs := make([]split.ChunkRef, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, blob := range blobs {
		i, blob := i, blob
		refs[i] = split.ChunkRef{Slot: meta.Slots[i].Address, Blob: blob, Size: len(chunks[i])}
		g.Go(func() error {
			return errors.Wrapf(m.updateSlot(gctx, meta.Slots[i], blob), "chunk %d", i)
		})
	}
	if err = g.Wait(); err != nil {
		return false, err
	}

	manifest := &split.Manifest{Name: meta.Name, Chunks: refs}
	version, err := m.publish(ctx, meta.PointerIndex, meta.Version, manifest)
	if err != nil {
		return false, err
	}

	meta.Version = version
	if err = m.cache.PutMeta(meta); err != nil {
		return false, err
	}
	if err = m.cache.ClearDirty(addr); err != nil {
		return false, err
	}

	m.logger.WithFields(log.Fields{"pod": addr, "version": version, "chunks": len(chunks)}).Debug("uploaded pod")
	return true, nil
}

// updateSlot moves a slot pointer to a stored chunk blob.
// A slot that already targets the blob is left alone.
func (m *Manager) updateSlot(ctx context.Context, slot cache.Slot, blob pod.Address) error {
	target, version, err := m.net.ResolvePointer(ctx, slot.Address)
	if errors.Is(err, pod.ErrNotFound) {
		target, version = pod.Zero, 0
	} else if err != nil {
		return netErr(err, "resolving slot pointer")
	}
	if version > 0 && target == blob {
		return nil
	}

	pad, err := m.secret.Derive(key.Scratchpad, slot.Index)
	if err != nil {
		return err
	}
	if pad.Address() != slot.Address {
		return errors.Wrapf(pod.ErrCorrupt, "slot %d address mismatch", slot.Index)
	}
	_, err = m.net.UpdatePointer(ctx, pad.Sign(blob, version))
	return netErr(err, "updating slot pointer")
}

// publish stores a manifest and moves a pod pointer to it,
// expecting the pointer to be at the given version.
func (m *Manager) publish(ctx context.Context, pointerIndex uint32, expected uint64, manifest *split.Manifest) (uint64, error) {
	b, err := manifest.Marshal()
	if err != nil {
		return 0, err
	}
	target, err := m.net.PutBlob(ctx, b)
	if err != nil {
		return 0, netErr(err, "putting manifest")
	}
	k, err := m.secret.Derive(key.Pointer, pointerIndex)
	if err != nil {
		return 0, err
	}
	version, err := m.net.UpdatePointer(ctx, k.Sign(target, expected))
	return version, netErr(err, "updating pod pointer")
}

// publishRemoval replaces a removed pod's manifest with a tombstone.
func (m *Manager) publishRemoval(ctx context.Context, r cache.Removal) error {
	if _, err := m.publish(ctx, r.PointerIndex, r.Version, &split.Manifest{Removed: true}); err != nil {
		return errors.Wrapf(err, "publishing removal of %s", r.Address)
	}
	return m.cache.ClearRemoval(r.Address)
}
