package replica

import (
	"context"
	"errors"
	"testing"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network/mem"
	"github.com/podgraph/pod/testutil"
)

func TestNetwork(t *testing.T) {
	testutil.Network(context.Background(), t, New(mem.New(), mem.New(), mem.New()))
}

func TestReplicaSets(t *testing.T) {
	var (
		ctx = context.Background()
		m1  = mem.New()
		m2  = mem.New()
		n   = New(m1, m2)
	)

	addr1, err := m1.PutBlob(ctx, []byte("foo"))
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := m2.PutBlob(ctx, []byte("bar"))
	if err != nil {
		t.Fatal(err)
	}
	addr3, err := n.PutBlob(ctx, []byte("baz"))
	if err != nil {
		t.Fatal(err)
	}

	checkHas(ctx, t, "m1", m1, addr1, addr3)
	checkHas(ctx, t, "m2", m2, addr2, addr3)
	checkHas(ctx, t, "replica", n, addr1, addr2, addr3)

	if _, err = n.FetchBlob(ctx, pod.BlobAddress([]byte("nowhere"))); !errors.Is(err, pod.ErrNotFound) {
		t.Errorf("got error %v for missing blob, want %s", err, pod.ErrNotFound)
	}
}

func checkHas(ctx context.Context, t *testing.T, name string, g pod.Getter, want ...pod.Address) {
	t.Run(name, func(t *testing.T) {
		for _, addr := range want {
			if _, err := g.FetchBlob(ctx, addr); err != nil {
				t.Errorf("fetching %s: %s", addr, err)
			}
		}
	})
}

func TestPointerForwarding(t *testing.T) {
	var (
		ctx     = context.Background()
		primary = mem.New()
		mirror  = mem.New()
		n       = New(primary, mirror)
		priv    = testutil.Key(7)
		u       = pod.SignPointerUpdate(priv, pod.Address{1}, 0)
	)

	if _, err := n.UpdatePointer(ctx, u); err != nil {
		t.Fatal(err)
	}
	target, version, err := mirror.ResolvePointer(ctx, u.Pointer)
	if err != nil {
		t.Fatal(err)
	}
	if target != (pod.Address{1}) || version != 1 {
		t.Errorf("mirror has %s/%d, want %s/1", target, version, pod.Address{1})
	}

	// A mirror that is ahead does not block the primary.
	mirror.SetPointer(u.Pointer, pod.Address{9}, 5)
	if _, err = n.UpdatePointer(ctx, pod.SignPointerUpdate(priv, pod.Address{2}, 1)); err != nil {
		t.Fatal(err)
	}
	if _, version, _ = primary.ResolvePointer(ctx, u.Pointer); version != 2 {
		t.Errorf("primary at version %d, want 2", version)
	}

	// Conflicts are decided by the primary.
	if _, err = n.UpdatePointer(ctx, pod.SignPointerUpdate(priv, pod.Address{3}, 1)); !errors.Is(err, pod.ErrVersionConflict) {
		t.Errorf("got error %v, want %s", err, pod.ErrVersionConflict)
	}
}
