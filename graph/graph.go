// Package graph is the searchable index of pod metadata.
//
// Each pod's document is loaded into its own named graph
// (a partition keyed by pod address)
// of a triple store kept in sqlite.
// Reloading a pod replaces its partition in a single transaction,
// so readers see either the old content or the new, never a mix.
package graph

import (
	"context"
	"database/sql"
	stderrs "errors"
	"strconv"
	"sync"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/split"
)

// Index is a sqlite-based triple store partitioned by pod.
type Index struct {
	db *sql.DB

	// Loads take the write lock; searches and lookups take the read lock.
	mu sync.RWMutex
}

// Schema is the SQL that New executes.
// It creates the `pods`, `subjects`, and `quads` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS pods (
  graph TEXT PRIMARY KEY NOT NULL,
  name TEXT NOT NULL,
  depth INTEGER NOT NULL,
  generation INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subjects (
  graph TEXT NOT NULL,
  subject TEXT NOT NULL,
  doc BLOB NOT NULL,
  PRIMARY KEY (graph, subject)
);

CREATE INDEX IF NOT EXISTS subject_idx ON subjects (subject);

CREATE TABLE IF NOT EXISTS quads (
  graph TEXT NOT NULL,
  subject TEXT NOT NULL,
  predicate TEXT NOT NULL,
  object TEXT NOT NULL,
  literal INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS quad_graph_idx ON quads (graph, subject);
CREATE INDEX IF NOT EXISTS quad_predicate_idx ON quads (predicate, object);
`

// New produces a new Index using db for storage.
// It expects to create its tables,
// or for those tables already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Index{db: db}, errors.Wrap(err, "creating schema")
}

// Open opens (creating if needed) a sqlite database at path and produces an Index on it.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	x, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

// PodInfo describes one partition.
type PodInfo struct {
	Pod   pod.Address
	Name  string
	Depth int

	// Generation is the caller's label for the copy of the pod that was loaded.
	// Comparing it against the current copy tells whether the partition is stale.
	Generation uint64
}

// LoadGraph replaces the partition of the pod at addr with the content of doc.
func (x *Index) LoadGraph(ctx context.Context, addr pod.Address, depth int, generation uint64, doc *split.Document) error {
	triples, err := Triples(addr, doc)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	graph := addr.String()
	if err = dropGraph(ctx, tx, graph); err != nil {
		return err
	}

	const q1 = `INSERT INTO pods (graph, name, depth, generation) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, q1, graph, doc.Name, depth, int64(generation)); err != nil {
		return errors.Wrapf(err, "inserting pod %s", graph)
	}

	const q2 = `INSERT INTO subjects (graph, subject, doc) VALUES ($1, $2, $3)`
	for _, s := range doc.Subjects {
		if _, err = tx.ExecContext(ctx, q2, graph, s.ID, []byte(s.Data)); err != nil {
			return errors.Wrapf(err, "inserting subject %s", s.ID)
		}
	}

	const q3 = `INSERT INTO quads (graph, subject, predicate, object, literal) VALUES ($1, $2, $3, $4, $5)`
	for _, t := range triples {
		lit := 0
		if t.Literal {
			lit = 1
		}
		if _, err = tx.ExecContext(ctx, q3, graph, t.Subject, t.Predicate, t.Object, lit); err != nil {
			return errors.Wrap(err, "inserting triple")
		}
	}

	return errors.Wrap(tx.Commit(), "committing")
}

// DropGraph removes the partition of the pod at addr.
// Dropping a partition that does not exist is not an error.
func (x *Index) DropGraph(ctx context.Context, addr pod.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if err = dropGraph(ctx, tx, addr.String()); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing")
}

func dropGraph(ctx context.Context, tx *sql.Tx, graph string) error {
	for _, table := range []string{"pods", "subjects", "quads"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE graph = $1`, graph); err != nil {
			return errors.Wrapf(err, "clearing %s of %s", table, graph)
		}
	}
	return nil
}

// SetDepth lowers the depth label of a pod's partition.
// A depth greater than the current one is ignored.
func (x *Index) SetDepth(ctx context.Context, addr pod.Address, depth int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	const q = `UPDATE pods SET depth = $1 WHERE graph = $2 AND depth > $1`
	_, err := x.db.ExecContext(ctx, q, depth, addr.String())
	return errors.Wrapf(err, "updating depth of %s", addr)
}

// Pod gets the description of one partition.
func (x *Index) Pod(ctx context.Context, addr pod.Address) (*PodInfo, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	const q = `SELECT name, depth, generation FROM pods WHERE graph = $1`
	var (
		info = &PodInfo{Pod: addr}
		gen  int64
	)
	err := x.db.QueryRowContext(ctx, q, addr.String()).Scan(&info.Name, &info.Depth, &gen)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, pod.ErrNotFound
	}
	info.Generation = uint64(gen)
	return info, errors.Wrapf(err, "getting pod %s", addr)
}

// Pods lists all partitions in address order.
func (x *Index) Pods(ctx context.Context) ([]PodInfo, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	const q = `SELECT graph, name, depth, generation FROM pods ORDER BY graph`
	var out []PodInfo
	err := sqlutil.ForQueryRows(ctx, x.db, q, func(graph, name string, depth int, gen int64) error {
		addr, err := pod.AddressFromHex(graph)
		if err != nil {
			return errors.Wrapf(err, "decoding graph name %s", graph)
		}
		out = append(out, PodInfo{Pod: addr, Name: name, Depth: depth, Generation: uint64(gen)})
		return nil
	})
	return out, errors.Wrap(err, "listing pods")
}

// Subject gets the metadata document of a subject.
// If several pods describe the subject,
// the one with the lowest depth wins.
func (x *Index) Subject(ctx context.Context, id string) ([]byte, pod.Address, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	const q = `
SELECT s.doc, s.graph FROM subjects s JOIN pods p ON s.graph = p.graph
  WHERE s.subject = $1
  ORDER BY p.depth, s.graph
  LIMIT 1`

	var (
		doc   []byte
		graph string
	)
	err := x.db.QueryRowContext(ctx, q, id).Scan(&doc, &graph)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, pod.Zero, pod.ErrNotFound
	}
	if err != nil {
		return nil, pod.Zero, errors.Wrapf(err, "getting subject %s", id)
	}
	addr, err := pod.AddressFromHex(graph)
	return doc, addr, errors.Wrapf(err, "decoding graph name %s", graph)
}

// Subjects lists the subject IDs in the partition of one pod, in order.
func (x *Index) Subjects(ctx context.Context, addr pod.Address) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	const q = `SELECT subject FROM subjects WHERE graph = $1 ORDER BY subject`
	var out []string
	err := sqlutil.ForQueryRows(ctx, x.db, q, addr.String(), func(subject string) {
		out = append(out, subject)
	})
	return out, errors.Wrapf(err, "listing subjects of %s", addr)
}

// Pattern is a triple pattern for Query.
// Empty fields match anything.
type Pattern struct {
	Graph     *pod.Address
	Subject   string
	Predicate string
	Object    string
}

// Quad is a triple together with the partition holding it.
type Quad struct {
	Graph pod.Address
	Triple
}

// Query finds all statements matching a pattern, across all partitions.
func (x *Index) Query(ctx context.Context, p Pattern) ([]Quad, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	q := `SELECT graph, subject, predicate, object, literal FROM quads WHERE 1 = 1`
	var args []interface{}
	add := func(col, val string) {
		args = append(args, val)
		q += ` AND ` + col + ` = $` + strconv.Itoa(len(args))
	}
	if p.Graph != nil {
		add("graph", p.Graph.String())
	}
	if p.Subject != "" {
		add("subject", p.Subject)
	}
	if p.Predicate != "" {
		add("predicate", p.Predicate)
	}
	if p.Object != "" {
		add("object", p.Object)
	}
	q += ` ORDER BY graph, subject, predicate, object`

	var out []Quad
	args = append(args, func(graph, subject, predicate, object string, literal int) error {
		addr, err := pod.AddressFromHex(graph)
		if err != nil {
			return errors.Wrapf(err, "decoding graph name %s", graph)
		}
		out = append(out, Quad{
			Graph:  addr,
			Triple: Triple{Subject: subject, Predicate: predicate, Object: object, Literal: literal != 0},
		})
		return nil
	})
	err := sqlutil.ForQueryRows(ctx, x.db, q, args...)
	return out, errors.Wrap(err, "querying")
}
