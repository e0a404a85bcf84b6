// Package pod is a metadata and knowledge-graph layer
// for a decentralized storage network.
//
// The network offers two primitives.
// A _blob_ is an immutable sequence of bytes,
// addressed by its hash.
// A _pointer_ is a small mutable record,
// addressed by a public key,
// that targets one blob.
// Only the holder of the pointer's private key can move it,
// and every move bumps the pointer's version,
// so versions only ever go up.
//
// A _pod_ is a unit of metadata ownership built from those primitives.
// Its address is a pointer;
// the pointer targets a small manifest blob
// listing the pod's chunks.
// Each chunk lives behind a pointer of its own
// so that a pod whose metadata outgrows one blob
// (4 MiB on the network)
// spills over into as many chunks as it needs.
// Inside a pod are _subjects_,
// each an opaque address annotated with a JSON-LD-style document,
// and _references_ to other pods.
//
// Every key needed to own pods is derived deterministically
// from a seed phrase
// (see the key subpackage),
// so a user who reinstalls can recover all of their pods.
// One distinguished pod,
// the _configuration pod_,
// sits at derivation index zero
// and records the user's other pods
// and the next free derivation index in each key space.
//
// Pods are kept in a local cache
// (the cache subpackage)
// that can be read, searched, and changed offline.
// The manager subpackage ties everything together:
// it encodes pods into chunks
// (the split subpackage),
// loads them into a searchable graph index
// (the graph subpackage),
// and synchronizes the cache with a Network
// (implementations are in the network subpackages)
// when asked to.
package pod
