package split

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

// Manifest is the blob a pod's pointer targets.
// It lists the pod's chunks in index order.
// A removed pod publishes a manifest with Removed set and no chunks.
type Manifest struct {
	Name    string     `json:"name,omitempty"`
	Removed bool       `json:"removed,omitempty"`
	Chunks  []ChunkRef `json:"chunks"`
}

// ChunkRef locates one chunk:
// the slot pointer that owns it,
// the blob holding it at the time of upload,
// and its length.
type ChunkRef struct {
	Slot pod.Address `json:"slot"`
	Blob pod.Address `json:"blob"`
	Size int         `json:"size"`
}

// Marshal produces the manifest's blob.
func (m *Manifest) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "marshaling manifest")
}

// Sizes lists the length of each chunk.
func (m *Manifest) Sizes() []int {
	out := make([]int, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.Size
	}
	return out
}

// Blobs lists the blob address of each chunk.
func (m *Manifest) Blobs() []pod.Address {
	out := make([]pod.Address, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.Blob
	}
	return out
}

// UnmarshalManifest parses a manifest blob.
// Failure is an ErrCorrupt.
func UnmarshalManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(pod.ErrCorrupt, "parsing manifest: %s", err)
	}
	if !m.Removed && len(m.Chunks) == 0 {
		return nil, errors.Wrap(pod.ErrCorrupt, "manifest lists no chunks")
	}
	return &m, nil
}
