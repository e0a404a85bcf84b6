package manager

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/cache"
	"github.com/podgraph/pod/graph"
	"github.com/podgraph/pod/key"
	"github.com/podgraph/pod/split"
)

// CreatePod creates a new, empty owned pod
// at the next free pointer index.
func (m *Manager) CreatePod(ctx context.Context, name string) (pod.Address, *cache.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := m.alloc.Next(key.Pointer)
	if err != nil {
		return pod.Zero, nil, errors.Wrap(err, "allocating pod key")
	}
	meta := &cache.Meta{
		Address:      k.Address(),
		Name:         name,
		Owned:        true,
		PointerIndex: k.Index,
	}

	err = func() error {
		unlock := m.cache.Lock(meta.Address)
		defer unlock()

		if err := m.cache.PutMeta(meta); err != nil {
			return err
		}
		return m.commit(ctx, meta, &split.Document{Name: name})
	}()
	if err != nil {
		return pod.Zero, nil, err
	}

	if err = m.rebuildConfig(); err != nil {
		return pod.Zero, nil, err
	}

	m.logger.WithField("pod", meta.Address).Infof("created pod %q", name)
	return meta.Address, meta, nil
}

// RemovePod removes a pod from the cache.
// An owned pod that was ever uploaded is queued for removal from the network:
// the next UploadAll publishes a tombstone in its place.
// The configuration pod cannot be removed.
func (m *Manager) RemovePod(ctx context.Context, addr pod.Address) error {
	if addr == m.cfg {
		return errors.Wrapf(pod.ErrProtectedPod, "removing %s", addr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.cache.Meta(addr)
	if err != nil {
		return errors.Wrapf(err, "removing %s", addr)
	}
	if meta.Owned && meta.Version > 0 {
		r := cache.Removal{Address: addr, PointerIndex: meta.PointerIndex, Version: meta.Version}
		if err = m.cache.QueueRemoval(r); err != nil {
			return err
		}
	}
	if err = m.dropPod(ctx, addr); err != nil {
		return err
	}
	if !meta.Owned {
		return nil
	}
	return m.rebuildConfig()
}

// RenamePod gives an owned pod a new name.
func (m *Manager) RenamePod(ctx context.Context, addr pod.Address, name string) error {
	if addr == m.cfg {
		return errors.Wrapf(pod.ErrProtectedPod, "renaming %s", addr)
	}
	err := m.mutate(ctx, addr, func(doc *split.Document) (bool, error) {
		if doc.Name == name {
			return false, nil
		}
		doc.Name = name
		return true, nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildConfig()
}

// AddReference records that the pod at from references the pod at to.
// The referenced pod need not be cached,
// nor owned.
// Adding a reference that already exists does nothing.
func (m *Manager) AddReference(ctx context.Context, from, to pod.Address) error {
	if from == to {
		return errors.Wrap(pod.ErrValidation, "pod cannot reference itself")
	}
	if to.IsZero() {
		return errors.Wrap(pod.ErrValidation, "zero reference")
	}
	return m.mutate(ctx, from, func(doc *split.Document) (bool, error) {
		if doc.HasReference(to) {
			return false, nil
		}
		doc.References = append(doc.References, to)
		return true, nil
	})
}

// RemoveReference deletes a reference.
func (m *Manager) RemoveReference(ctx context.Context, from, to pod.Address) error {
	return m.mutate(ctx, from, func(doc *split.Document) (bool, error) {
		for i, ref := range doc.References {
			if ref == to {
				doc.References = append(doc.References[:i], doc.References[i+1:]...)
				return true, nil
			}
		}
		return false, errors.Wrapf(pod.ErrNotFound, "reference from %s to %s", from, to)
	})
}

// PutSubject adds or replaces the metadata of a subject in an owned pod.
// The metadata must be a JSON object;
// it is stored in canonical form.
func (m *Manager) PutSubject(ctx context.Context, addr pod.Address, id string, data []byte) error {
	if id == "" {
		return errors.Wrap(pod.ErrValidation, "empty subject ID")
	}
	canon, err := split.Canonical(data)
	if err != nil {
		return errors.Wrapf(err, "subject %s", id)
	}
	return m.mutate(ctx, addr, func(doc *split.Document) (bool, error) {
		if s, ok := doc.Subject(id); ok && string(s.Data) == string(canon) {
			return false, nil
		}
		doc.Subjects = append(doc.Subjects, split.Subject{ID: id, Data: canon})
		return true, nil
	})
}

// RemoveSubject deletes a subject from an owned pod.
func (m *Manager) RemoveSubject(ctx context.Context, addr pod.Address, id string) error {
	return m.mutate(ctx, addr, func(doc *split.Document) (bool, error) {
		for i, s := range doc.Subjects {
			if s.ID == id {
				doc.Subjects = append(doc.Subjects[:i], doc.Subjects[i+1:]...)
				return true, nil
			}
		}
		return false, errors.Wrapf(pod.ErrNotFound, "subject %s in pod %s", id, addr)
	})
}

// mutate applies f to the document of an owned pod under the pod's lock.
// If f reports a change,
// the pod is saved, queued for upload, and reindexed.
func (m *Manager) mutate(ctx context.Context, addr pod.Address, f func(*split.Document) (bool, error)) error {
	if addr == m.cfg {
		return errors.Wrapf(pod.ErrProtectedPod, "modifying %s", addr)
	}

	unlock := m.cache.Lock(addr)
	defer unlock()

	meta, doc, err := m.load(addr)
	if err != nil {
		return errors.Wrapf(err, "loading pod %s", addr)
	}
	if !meta.Owned {
		return errors.Wrapf(pod.ErrValidation, "pod %s is not owned", addr)
	}
	changed, err := f(doc)
	if err != nil || !changed {
		return err
	}
	return m.commit(ctx, meta, doc)
}

// GetSubject gets the metadata of a subject
// and the pod it came from.
// When several cached pods describe the subject,
// the nearest one wins.
func (m *Manager) GetSubject(ctx context.Context, id string) (json.RawMessage, pod.Address, error) {
	doc, addr, err := m.graph.Subject(ctx, id)
	return doc, addr, errors.Wrapf(err, "getting subject %s", id)
}

// ListSubjects lists the subject IDs of a cached pod, in order.
func (m *Manager) ListSubjects(ctx context.Context, addr pod.Address) ([]string, error) {
	unlock := m.cache.Lock(addr)
	defer unlock()

	_, doc, err := m.load(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "loading pod %s", addr)
	}
	var out []string
	for _, s := range doc.Subjects {
		out = append(out, s.ID)
	}
	return out, nil
}

// ListReferences lists the pods a cached pod references, in order.
func (m *Manager) ListReferences(ctx context.Context, addr pod.Address) ([]pod.Address, error) {
	unlock := m.cache.Lock(addr)
	defer unlock()

	_, doc, err := m.load(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "loading pod %s", addr)
	}
	return doc.References, nil
}

// ListOwnedPods lists the owned pods, in address order,
// not including the configuration pod.
func (m *Manager) ListOwnedPods(ctx context.Context) ([]pod.Address, error) {
	metas, err := m.cache.ListMetas()
	if err != nil {
		return nil, err
	}
	var out []pod.Address
	for _, meta := range metas {
		if meta.Owned && meta.Address != m.cfg {
			out = append(out, meta.Address)
		}
	}
	return out, nil
}

// Search runs a query across all cached pods, owned and referenced.
func (m *Manager) Search(ctx context.Context, q graph.Query) ([]graph.Match, error) {
	return m.graph.Search(ctx, q)
}

// Query finds the statements matching a triple pattern
// across all cached pods, owned and referenced.
func (m *Manager) Query(ctx context.Context, p graph.Pattern) ([]graph.Quad, error) {
	return m.graph.Query(ctx, p)
}
