package pod

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is the error returned when a pod, chunk, subject, blob, or pointer is missing.
	ErrNotFound = errors.New("not found")

	// ErrValidation is the error kind for malformed input:
	// a bad mnemonic, a malformed metadata document, an oversize record.
	// It is always returned before any state changes.
	ErrValidation = errors.New("invalid input")

	// ErrAuth is the error kind for a wrong keystore password or a bad pointer signature.
	ErrAuth = errors.New("authentication failed")

	// ErrCorrupt is the error kind for local-cache or protocol inconsistencies:
	// missing or truncated chunks, unparseable documents, pointer regressions.
	ErrCorrupt = errors.New("corrupt data")

	// ErrVersionConflict is the error kind for a pointer update whose expected version is stale.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNetwork is the error kind for transport failures of a network client.
	ErrNetwork = errors.New("network failure")

	// ErrProtectedPod is returned when trying to remove the configuration pod.
	ErrProtectedPod = errors.New("protected pod")
)

// ConflictError is a version conflict on a pointer update.
// It matches ErrVersionConflict with errors.Is.
type ConflictError struct {
	Pointer  Address
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pointer %s: expected version %d, found %d: %s", e.Pointer, e.Expected, e.Actual, ErrVersionConflict)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// NetworkError is a transport failure of a network client.
// It matches ErrNetwork with errors.Is
// and unwraps to the underlying failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrNetwork, e.Err)
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PartialFailure is returned by an upload of several pods
// when some pods were uploaded and others were not.
type PartialFailure struct {
	Uploaded []Address
	Failed   map[Address]error
}

func (e *PartialFailure) Error() string {
	var addrs []Address
	for addr := range e.Failed {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)

	var strs []string
	for _, addr := range addrs {
		strs = append(strs, fmt.Sprintf("%s: %s", addr, e.Failed[addr]))
	}
	return fmt.Sprintf("uploaded %d pod(s), %d failed: %s", len(e.Uploaded), len(e.Failed), strings.Join(strs, "; "))
}

// MultiErr is a type of error returned by FetchMulti and PutMulti.
// It maps individual addresses to errors encountered trying to fetch or put them.
type MultiErr map[Address]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	var strs []string
	for addr, err := range e {
		strs = append(strs, fmt.Sprintf("%s: %s", addr, err))
	}
	sort.Strings(strs)
	return "error(s): " + strings.Join(strs, "; ")
}

func sortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
