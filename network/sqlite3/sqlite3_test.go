package sqlite3

import (
	"context"
	"database/sql"
	"io/ioutil"
	"os"
	"testing"

	"github.com/podgraph/pod/testutil"
)

func TestNetwork(t *testing.T) {
	ctx := context.Background()
	err := withTestNetwork(ctx, func(n *Network) error {
		testutil.Network(ctx, t, n)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func withTestNetwork(ctx context.Context, fn func(*Network) error) error {
	f, err := ioutil.TempFile("", "podsqlite3test")
	if err != nil {
		return err
	}

	tmpfile := f.Name()
	f.Close()
	defer os.Remove(tmpfile)

	db, err := sql.Open("sqlite3", tmpfile+"?_busy_timeout=5000")
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := New(ctx, db)
	if err != nil {
		return err
	}

	return fn(n)
}
