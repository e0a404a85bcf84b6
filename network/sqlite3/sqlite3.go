// Package sqlite3 implements a network in a sqlite database.
// It is useful as a persistent, single-host stand-in for the real network.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = &Network{}

// Network is a Sqlite-based network.
type Network struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` and `pointers` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  addr BLOB PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS pointers (
  addr BLOB PRIMARY KEY NOT NULL,
  target BLOB NOT NULL,
  version INTEGER NOT NULL
);
`

// New produces a new Network using db for storage.
// It expects to create tables `blobs` and `pointers`,
// or for those tables already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Network, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Network{db: db}, err
}

// ResolvePointer implements pod.Getter.
func (n *Network) ResolvePointer(ctx context.Context, addr pod.Address) (pod.Address, uint64, error) {
	const q = `SELECT target, version FROM pointers WHERE addr = $1`

	var (
		target  []byte
		version int64
	)
	err := n.db.QueryRowContext(ctx, q, addr[:]).Scan(&target, &version)
	if stderrs.Is(err, sql.ErrNoRows) {
		return pod.Zero, 0, pod.ErrNotFound
	}
	if err != nil {
		return pod.Zero, 0, errors.Wrapf(err, "resolving pointer %s", addr)
	}
	return pod.AddressFromBytes(target), uint64(version), nil
}

// FetchBlob implements pod.Getter.
func (n *Network) FetchBlob(ctx context.Context, addr pod.Address) ([]byte, error) {
	const q = `SELECT data FROM blobs WHERE addr = $1`

	var b []byte
	err := n.db.QueryRowContext(ctx, q, addr[:]).Scan(&b)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, pod.ErrNotFound
	}
	return b, errors.Wrapf(err, "fetching blob %s", addr)
}

// PutBlob implements pod.Network.
func (n *Network) PutBlob(ctx context.Context, b []byte) (pod.Address, error) {
	const q = `INSERT INTO blobs (addr, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	addr := pod.BlobAddress(b)
	if b == nil {
		b = []byte{}
	}
	_, err := n.db.ExecContext(ctx, q, addr[:], b)
	return addr, errors.Wrap(err, "inserting blob")
}

// UpdatePointer implements pod.Network.
func (n *Network) UpdatePointer(ctx context.Context, u *pod.PointerUpdate) (uint64, error) {
	if err := u.Verify(); err != nil {
		return 0, err
	}

	var (
		res sql.Result
		err error
	)
	if u.Expected == 0 {
		const q = `INSERT INTO pointers (addr, target, version) VALUES ($1, $2, 1) ON CONFLICT DO NOTHING`
		res, err = n.db.ExecContext(ctx, q, u.Pointer[:], u.Target[:])
	} else {
		const q = `UPDATE pointers SET target = $1, version = version + 1 WHERE addr = $2 AND version = $3`
		res, err = n.db.ExecContext(ctx, q, u.Target[:], u.Pointer[:], int64(u.Expected))
	}
	if err != nil {
		return 0, errors.Wrapf(err, "updating pointer %s", u.Pointer)
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		_, actual, err := n.ResolvePointer(ctx, u.Pointer)
		if err != nil && !stderrs.Is(err, pod.ErrNotFound) {
			return 0, err
		}
		return 0, &pod.ConflictError{Pointer: u.Pointer, Expected: u.Expected, Actual: actual}
	}
	return u.Expected + 1, nil
}

func init() {
	network.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (pod.Network, error) {
		path, ok := conf["path"].(string)
		if !ok {
			return nil, errors.New(`missing "path" parameter`)
		}
		db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", path)
		}
		return New(ctx, db)
	})
}
