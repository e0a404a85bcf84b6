package key

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/podgraph/pod"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testSecret(t *testing.T) *Secret {
	t.Helper()
	s, err := FromMnemonic(testMnemonic)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFromMnemonic(t *testing.T) {
	cases := []struct {
		phrase  string
		wantErr error
	}{
		{phrase: testMnemonic},
		{phrase: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", wantErr: pod.ErrValidation},
		{phrase: "not a mnemonic", wantErr: pod.ErrValidation},
		{phrase: "", wantErr: pod.ErrValidation},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			_, err := FromMnemonic(c.phrase)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Errorf("got error %v, want %s", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestNewMnemonic(t *testing.T) {
	m, err := NewMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	if _, err = FromMnemonic(m); err != nil {
		t.Fatal(err)
	}
}

func TestDeriveDeterminism(t *testing.T) {
	var (
		s1 = testSecret(t)
		s2 = testSecret(t)
	)

	err := quick.Check(func(idx uint32, spaceIdx uint8) bool {
		space := Spaces[int(spaceIdx)%len(Spaces)]
		k1, err := s1.Derive(space, idx)
		if err != nil {
			t.Log(err)
			return false
		}
		k2, err := s2.Derive(space, idx)
		if err != nil {
			t.Log(err)
			return false
		}
		if !k1.Private.Equal(k2.Private) {
			return false
		}

		other, err := s1.Derive(space, idx+1)
		if err != nil {
			t.Log(err)
			return false
		}
		return other.Address() != k1.Address()
	}, nil)
	if err != nil {
		t.Error(err)
	}
}

func TestDeriveSpacesDiffer(t *testing.T) {
	s := testSecret(t)

	seen := make(map[pod.Address]string)
	for _, space := range Spaces {
		for idx := uint32(0); idx < 16; idx++ {
			k, err := s.Derive(space, idx)
			if err != nil {
				t.Fatal(err)
			}
			name := fmt.Sprintf("%s/%d", space, idx)
			if prev, ok := seen[k.Address()]; ok {
				t.Fatalf("%s collides with %s", name, prev)
			}
			seen[k.Address()] = name
		}
	}

	if _, err := s.Derive("bogus", 0); !errors.Is(err, pod.ErrValidation) {
		t.Errorf("got error %v for unknown space, want %s", err, pod.ErrValidation)
	}
}

type memCounters struct {
	mu sync.Mutex
	m  map[string]uint32
}

func (c *memCounters) LoadCounters() (map[string]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint32)
	for k, v := range c.m {
		out[k] = v
	}
	return out, nil
}

func (c *memCounters) SaveCounters(m map[string]uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]uint32)
	for k, v := range m {
		c.m[k] = v
	}
	return nil
}

func TestAllocator(t *testing.T) {
	var (
		s        = testSecret(t)
		counters = &memCounters{}
	)

	a, err := NewAllocator(s, counters)
	if err != nil {
		t.Fatal(err)
	}

	for want := uint32(1); want <= 3; want++ {
		got, err := a.NextFreeIndex(Pointer)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("got pointer index %d, want %d", got, want)
		}
	}

	w, err := a.NextFreeIndex(Wallet)
	if err != nil {
		t.Fatal(err)
	}
	if w != 0 {
		t.Errorf("got wallet index %d, want 0", w)
	}

	// Reopening continues where the last allocator left off.
	a2, err := NewAllocator(s, counters)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a2.NextFreeIndex(Pointer)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("got pointer index %d after reopen, want 4", got)
	}

	if err = a2.Raise(Scratchpad, 10); err != nil {
		t.Fatal(err)
	}
	if err = a2.Raise(Scratchpad, 5); err != nil {
		t.Fatal(err)
	}
	want := map[Space]uint32{Pointer: 5, Scratchpad: 10, Wallet: 1}
	if diff := cmp.Diff(want, a2.Counters()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocatorConcurrent(t *testing.T) {
	a, err := NewAllocator(testSecret(t), &memCounters{})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint32]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := a.NextFreeIndex(Scratchpad)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[idx] {
				t.Errorf("index %d handed out twice", idx)
			}
			seen[idx] = true
		}()
	}
	wg.Wait()
}

func TestKeystore(t *testing.T) {
	dir, err := os.MkdirTemp("", "keystore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	var (
		s    = testSecret(t)
		path = filepath.Join(dir, "keystore")
	)

	if _, err = LoadFile(path, []byte("pw")); !errors.Is(err, pod.ErrNotFound) {
		t.Errorf("got error %v for missing keystore, want %s", err, pod.ErrNotFound)
	}

	if err = SaveFile(path, s, []byte("pw")); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	if *got != *s {
		t.Error("secret mismatch after reload")
	}

	if _, err = LoadFile(path, []byte("wrong")); !errors.Is(err, pod.ErrAuth) {
		t.Errorf("got error %v for wrong password, want %s", err, pod.ErrAuth)
	}

	if _, err = Open([]byte("garbage"), []byte("pw")); !errors.Is(err, pod.ErrCorrupt) {
		t.Errorf("got error %v for garbage keystore, want %s", err, pod.ErrCorrupt)
	}
}
