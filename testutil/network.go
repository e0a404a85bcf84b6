// Package testutil holds tests shared by the implementations of pod.Network.
package testutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/podgraph/pod"
)

// Key produces a deterministic pointer key for tests.
func Key(n byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	seed[1] = 0x5a
	return ed25519.NewKeyFromSeed(seed)
}

// Network permits testing a pod.Network implementation
// by exercising its blob and pointer operations.
func Network(ctx context.Context, t *testing.T, n pod.Network) {
	t.Run("blobs", func(t *testing.T) { Blobs(ctx, t, n) })
	t.Run("pointers", func(t *testing.T) { Pointers(ctx, t, n) })
	t.Run("concurrent_updates", func(t *testing.T) { ConcurrentUpdates(ctx, t, n) })
}

// Blobs checks storing and fetching blobs.
func Blobs(ctx context.Context, t *testing.T, n pod.Network) {
	blobs := [][]byte{
		[]byte("hello, world\n"),
		bytes.Repeat([]byte{0, 1, 2, 3}, 10000),
		[]byte("hello, world\n"),
	}
	for i, b := range blobs {
		addr, err := n.PutBlob(ctx, b)
		if err != nil {
			t.Fatalf("putting blob %d: %s", i, err)
		}
		if want := pod.BlobAddress(b); addr != want {
			t.Errorf("blob %d: got address %s, want %s", i, addr, want)
		}
		got, err := n.FetchBlob(ctx, addr)
		if err != nil {
			t.Fatalf("fetching blob %d: %s", i, err)
		}
		if !bytes.Equal(got, b) {
			t.Errorf("blob %d: content mismatch", i)
		}
	}

	if _, err := n.FetchBlob(ctx, pod.BlobAddress([]byte("never stored"))); !errors.Is(err, pod.ErrNotFound) {
		t.Errorf("got error %v for missing blob, want %s", err, pod.ErrNotFound)
	}
}

// Pointers checks creating, moving, and resolving pointers,
// including version conflicts and bad signatures.
func Pointers(ctx context.Context, t *testing.T, n pod.Network) {
	var (
		priv  = Key(1)
		other = Key(2)
		addr  = pod.AddressFromBytes(priv.Public().(ed25519.PublicKey))
	)

	if _, _, err := n.ResolvePointer(ctx, addr); !errors.Is(err, pod.ErrNotFound) {
		t.Fatalf("got error %v for missing pointer, want %s", err, pod.ErrNotFound)
	}

	targets := []pod.Address{{1}, {2}, {3}}

	cases := []struct {
		update  *pod.PointerUpdate
		want    uint64
		wantErr error
	}{
		{update: pod.SignPointerUpdate(priv, targets[0], 1), wantErr: pod.ErrVersionConflict},
		{update: pod.SignPointerUpdate(priv, targets[0], 0), want: 1},
		{update: pod.SignPointerUpdate(priv, targets[1], 0), wantErr: pod.ErrVersionConflict},
		{update: pod.SignPointerUpdate(priv, targets[1], 1), want: 2},
		{update: forged(other, addr, targets[2], 2), wantErr: pod.ErrAuth},
		{update: pod.SignPointerUpdate(priv, targets[2], 2), want: 3},
		{update: pod.SignPointerUpdate(priv, targets[0], 5), wantErr: pod.ErrVersionConflict},
	}

	var (
		wantTarget  pod.Address
		wantVersion uint64
	)
	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, err := n.UpdatePointer(ctx, c.update)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("got error %v, want %s", err, c.wantErr)
				}
			} else {
				if err != nil {
					t.Fatal(err)
				}
				if got != c.want {
					t.Errorf("got version %d, want %d", got, c.want)
				}
				wantTarget, wantVersion = c.update.Target, c.want
			}

			target, version, err := n.ResolvePointer(ctx, addr)
			if err != nil && wantVersion > 0 {
				t.Fatal(err)
			}
			if target != wantTarget || version != wantVersion {
				t.Errorf("pointer is at %s/%d, want %s/%d", target, version, wantTarget, wantVersion)
			}
		})
	}
}

// forged is an update for addr signed with the wrong key.
func forged(wrong ed25519.PrivateKey, addr, target pod.Address, expected uint64) *pod.PointerUpdate {
	u := pod.SignPointerUpdate(wrong, target, expected)
	u.Pointer = addr
	return u
}

// ConcurrentUpdates checks that of several updates expecting the same version,
// exactly one wins.
func ConcurrentUpdates(ctx context.Context, t *testing.T, n pod.Network) {
	const racers = 8

	var (
		priv = Key(3)
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := n.UpdatePointer(ctx, pod.SignPointerUpdate(priv, pod.Address{byte(i)}, 0))
			if err != nil {
				if !errors.Is(err, pod.ErrVersionConflict) {
					t.Errorf("racer %d: %s", i, err)
				}
				return
			}
			mu.Lock()
			won++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d racers won, want 1", won)
	}
}
