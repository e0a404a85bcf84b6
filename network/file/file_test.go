package file

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/testutil"
)

func TestNetwork(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "podfiletest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpdir)

	testutil.Network(context.Background(), t, New(tmpdir))
}

func TestCorruptPointer(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "podfiletest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpdir)

	n := New(tmpdir)
	addr := pod.Address{1, 2, 3}
	path := n.pointerpath(addr)
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	for _, contents := range []string{`{"target": "x"`, `{"version": 0}`, `{"version": 1, "extra": true}`} {
		if err = ioutil.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
		if _, _, err = n.ResolvePointer(context.Background(), addr); !errors.Is(err, pod.ErrCorrupt) {
			t.Errorf("got error %v for %s, want %s", err, contents, pod.ErrCorrupt)
		}
	}
}
