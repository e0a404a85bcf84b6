// Package split encodes a pod's metadata document into chunks
// no larger than a network blob,
// and reassembles chunks into a document.
//
// The encoded form is JSON Lines:
// one record per line,
// in a canonical order,
// so that equal documents encode to equal bytes.
// Chunks break only between lines,
// so every chunk is a whole number of records.
package split

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

// MaxChunkSize is the largest blob the network accepts.
const MaxChunkSize = 4 << 20

// Document is the logical content of a pod.
type Document struct {
	Name       string
	Subjects   []Subject
	References []pod.Address

	// Configuration pod only.
	Counters map[string]uint32
	Entries  []Entry
}

// Subject is one described resource in a pod.
// Data is a JSON object in canonical form (see Canonical).
type Subject struct {
	ID   string
	Data json.RawMessage
}

// Entry is the configuration pod's record of one owned pod.
type Entry struct {
	Pod          pod.Address `json:"pod"`
	Name         string      `json:"name"`
	PointerIndex uint32      `json:"pointer_index"`
	Slots        []uint32    `json:"slots"`
	Sizes        []int       `json:"sizes"`
	Version      uint64      `json:"version"`
}

const (
	kindHeader  = "header"
	kindCounter = "counter"
	kindEntry   = "entry"
	kindSubject = "subject"
	kindRef     = "ref"
)

type record struct {
	Kind  string          `json:"kind"`
	Name  string          `json:"name,omitempty"`
	Space string          `json:"space,omitempty"`
	Next  uint32          `json:"next,omitempty"`
	Entry *Entry          `json:"entry,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Pod   *pod.Address    `json:"pod,omitempty"`
}

// Normalize puts the document's lists into canonical order.
// Duplicate references are removed.
// Of several subjects with the same ID, the last one wins.
func (d *Document) Normalize() {
	if len(d.Subjects) > 0 {
		byID := make(map[string]Subject, len(d.Subjects))
		for _, s := range d.Subjects {
			byID[s.ID] = s
		}
		d.Subjects = d.Subjects[:0]
		for _, s := range byID {
			d.Subjects = append(d.Subjects, s)
		}
		sort.Slice(d.Subjects, func(i, j int) bool { return d.Subjects[i].ID < d.Subjects[j].ID })
	}

	if len(d.References) > 0 {
		pod.SortAddresses(d.References)
		out := d.References[:1]
		for _, r := range d.References[1:] {
			if r != out[len(out)-1] {
				out = append(out, r)
			}
		}
		d.References = out
	}

	sort.Slice(d.Entries, func(i, j int) bool { return d.Entries[i].Pod.Less(d.Entries[j].Pod) })
}

// Subject returns the subject with the given ID and whether it was found.
func (d *Document) Subject(id string) (Subject, bool) {
	for _, s := range d.Subjects {
		if s.ID == id {
			return s, true
		}
	}
	return Subject{}, false
}

// HasReference tells whether the document references the given pod.
func (d *Document) HasReference(addr pod.Address) bool {
	for _, r := range d.References {
		if r == addr {
			return true
		}
	}
	return false
}

func (d *Document) records() ([][]byte, error) {
	var recs []record

	recs = append(recs, record{Kind: kindHeader, Name: d.Name})

	spaces := make([]string, 0, len(d.Counters))
	for sp := range d.Counters {
		spaces = append(spaces, sp)
	}
	sort.Strings(spaces)
	for _, sp := range spaces {
		recs = append(recs, record{Kind: kindCounter, Space: sp, Next: d.Counters[sp]})
	}

	for i := range d.Entries {
		recs = append(recs, record{Kind: kindEntry, Entry: &d.Entries[i]})
	}
	for _, s := range d.Subjects {
		if s.ID == "" {
			return nil, errors.Wrap(pod.ErrValidation, "subject with empty ID")
		}
		recs = append(recs, record{Kind: kindSubject, ID: s.ID, Data: s.Data})
	}
	for i := range d.References {
		recs = append(recs, record{Kind: kindRef, Pod: &d.References[i]})
	}

	lines := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		buf := new(bytes.Buffer)
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(rec); err != nil {
			return nil, errors.Wrapf(pod.ErrValidation, "encoding %s record: %s", rec.Kind, err)
		}
		lines = append(lines, buf.Bytes())
	}
	return lines, nil
}

// Encode serializes the document and splits it into chunks
// of at most capacity bytes each.
// Chunks break only between records.
// The result always has at least one chunk and never has an empty one.
// A single record longer than capacity is an ErrValidation.
//
// Encode normalizes d as a side effect.
func Encode(d *Document, capacity int) ([][]byte, error) {
	if capacity <= 0 {
		capacity = MaxChunkSize
	}

	d.Normalize()
	lines, err := d.records()
	if err != nil {
		return nil, err
	}

	var (
		chunks [][]byte
		cur    []byte
	)
	for _, line := range lines {
		if len(line) > capacity {
			return nil, errors.Wrapf(pod.ErrValidation, "record of %d bytes exceeds chunk capacity %d", len(line), capacity)
		}
		if len(cur)+len(line) > capacity {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, line...)
	}
	chunks = append(chunks, cur)
	return chunks, nil
}

// Decode reassembles a document from its chunks, in index order.
// If sizes is non-nil,
// it must list the expected length of every chunk.
// Any inconsistency is an ErrCorrupt:
// a wrong number of chunks,
// a missing or truncated chunk,
// a chunk that does not end on a record boundary,
// or a record that does not parse.
func Decode(chunks [][]byte, sizes []int) (*Document, error) {
	if len(chunks) == 0 {
		return nil, errors.Wrap(pod.ErrCorrupt, "no chunks")
	}
	if sizes != nil && len(sizes) != len(chunks) {
		return nil, errors.Wrapf(pod.ErrCorrupt, "got %d chunks, want %d", len(chunks), len(sizes))
	}

	var all []byte
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			return nil, errors.Wrapf(pod.ErrCorrupt, "chunk %d missing", i)
		}
		if sizes != nil && len(chunk) != sizes[i] {
			return nil, errors.Wrapf(pod.ErrCorrupt, "chunk %d has %d bytes, want %d", i, len(chunk), sizes[i])
		}
		if chunk[len(chunk)-1] != '\n' {
			return nil, errors.Wrapf(pod.ErrCorrupt, "chunk %d does not end on a record boundary", i)
		}
		all = append(all, chunk...)
	}

	d := new(Document)
	lines := bytes.Split(all[:len(all)-1], []byte("\n"))
	for i, line := range lines {
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errors.Wrapf(pod.ErrCorrupt, "record %d: %s", i, err)
		}
		if i == 0 {
			if rec.Kind != kindHeader {
				return nil, errors.Wrapf(pod.ErrCorrupt, "first record is %q, want header", rec.Kind)
			}
			d.Name = rec.Name
			continue
		}
		switch rec.Kind {
		case kindCounter:
			if d.Counters == nil {
				d.Counters = make(map[string]uint32)
			}
			d.Counters[rec.Space] = rec.Next

		case kindEntry:
			if rec.Entry == nil {
				return nil, errors.Wrapf(pod.ErrCorrupt, "record %d: entry without body", i)
			}
			d.Entries = append(d.Entries, *rec.Entry)

		case kindSubject:
			if rec.ID == "" || len(rec.Data) == 0 {
				return nil, errors.Wrapf(pod.ErrCorrupt, "record %d: incomplete subject", i)
			}
			d.Subjects = append(d.Subjects, Subject{ID: rec.ID, Data: rec.Data})

		case kindRef:
			if rec.Pod == nil {
				return nil, errors.Wrapf(pod.ErrCorrupt, "record %d: reference without pod", i)
			}
			d.References = append(d.References, *rec.Pod)

		default:
			return nil, errors.Wrapf(pod.ErrCorrupt, "record %d: unknown kind %q", i, rec.Kind)
		}
	}

	return d, nil
}

// Sizes returns the length of each chunk.
func Sizes(chunks [][]byte) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = len(c)
	}
	return out
}
