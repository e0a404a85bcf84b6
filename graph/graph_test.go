package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/split"
)

func withIndex(t *testing.T, f func(context.Context, *Index)) {
	dirname, err := os.MkdirTemp("", "podgraph")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dirname)

	ctx := context.Background()
	x, err := Open(ctx, filepath.Join(dirname, "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	f(ctx, x)
}

func subject(t *testing.T, id, data string) split.Subject {
	t.Helper()
	c, err := split.Canonical([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return split.Subject{ID: id, Data: c}
}

func TestTriples(t *testing.T) {
	addr := pod.Address{1}
	doc := &split.Document{
		Name: "music",
		Subjects: []split.Subject{
			subject(t, "s1", `{"@context": "http://schema.org/", "@type": "MediaObject", "name": "a.mp3", "author": {"@id": "ant://bob"}, "size": 12, "tags": ["x", "y"]}`),
		},
		References: []pod.Address{{2}},
	}
	got, err := Triples(addr, doc)
	if err != nil {
		t.Fatal(err)
	}
	want := []Triple{
		{Subject: addr.IRI(), Predicate: NamePredicate, Object: "music", Literal: true},
		{Subject: addr.IRI(), Predicate: ReferencesPredicate, Object: pod.Address{2}.IRI()},
		{Subject: "s1", Predicate: TypePredicate, Object: "http://schema.org/MediaObject"},
		{Subject: "s1", Predicate: "http://schema.org/author", Object: "ant://bob"},
		{Subject: "s1", Predicate: "http://schema.org/name", Object: "a.mp3", Literal: true},
		{Subject: "s1", Predicate: "http://schema.org/size", Object: "12", Literal: true},
		{Subject: "s1", Predicate: "http://schema.org/tags", Object: "x", Literal: true},
		{Subject: "s1", Predicate: "http://schema.org/tags", Object: "y", Literal: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAndDrop(t *testing.T) {
	withIndex(t, func(ctx context.Context, x *Index) {
		addr := pod.Address{1}
		doc := &split.Document{
			Name:     "first",
			Subjects: []split.Subject{subject(t, "s1", `{"name": "one"}`), subject(t, "s2", `{"name": "two"}`)},
		}
		if err := x.LoadGraph(ctx, addr, 0, 1, doc); err != nil {
			t.Fatal(err)
		}

		subjects, err := x.Subjects(ctx, addr)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"s1", "s2"}, subjects); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}

		// Reloading replaces the whole partition.
		doc2 := &split.Document{
			Name:     "renamed",
			Subjects: []split.Subject{subject(t, "s3", `{"name": "three"}`)},
		}
		if err = x.LoadGraph(ctx, addr, 0, 2, doc2); err != nil {
			t.Fatal(err)
		}
		subjects, err = x.Subjects(ctx, addr)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"s3"}, subjects); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		info, err := x.Pod(ctx, addr)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(&PodInfo{Pod: addr, Name: "renamed", Generation: 2}, info); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		if _, _, err = x.Subject(ctx, "s1"); !errors.Is(err, pod.ErrNotFound) {
			t.Errorf("got error %v for replaced subject, want %s", err, pod.ErrNotFound)
		}

		if err = x.DropGraph(ctx, addr); err != nil {
			t.Fatal(err)
		}
		if _, err = x.Pod(ctx, addr); !errors.Is(err, pod.ErrNotFound) {
			t.Errorf("got error %v after drop, want %s", err, pod.ErrNotFound)
		}
		quads, err := x.Query(ctx, Pattern{Graph: &addr})
		if err != nil {
			t.Fatal(err)
		}
		if len(quads) != 0 {
			t.Errorf("got %d quads after drop, want 0", len(quads))
		}
	})
}

func TestSubjectLowestDepth(t *testing.T) {
	withIndex(t, func(ctx context.Context, x *Index) {
		var (
			near = pod.Address{2}
			far  = pod.Address{1}
		)
		if err := x.LoadGraph(ctx, far, 3, 1, &split.Document{Subjects: []split.Subject{subject(t, "s", `{"v": "far"}`)}}); err != nil {
			t.Fatal(err)
		}
		if err := x.LoadGraph(ctx, near, 1, 1, &split.Document{Subjects: []split.Subject{subject(t, "s", `{"v": "near"}`)}}); err != nil {
			t.Fatal(err)
		}
		_, got, err := x.Subject(ctx, "s")
		if err != nil {
			t.Fatal(err)
		}
		if got != near {
			t.Errorf("got subject from %s, want %s", got, near)
		}

		// Depth only goes down.
		if err = x.SetDepth(ctx, far, 5); err != nil {
			t.Fatal(err)
		}
		info, err := x.Pod(ctx, far)
		if err != nil {
			t.Fatal(err)
		}
		if info.Depth != 3 {
			t.Errorf("got depth %d, want 3", info.Depth)
		}
		if err = x.SetDepth(ctx, far, 0); err != nil {
			t.Fatal(err)
		}
		_, got, err = x.Subject(ctx, "s")
		if err != nil {
			t.Fatal(err)
		}
		if got != far {
			t.Errorf("got subject from %s after lowering depth, want %s", got, far)
		}
	})
}

func TestQuery(t *testing.T) {
	withIndex(t, func(ctx context.Context, x *Index) {
		var (
			a = pod.Address{1}
			b = pod.Address{2}
		)
		if err := x.LoadGraph(ctx, a, 0, 1, &split.Document{References: []pod.Address{b}}); err != nil {
			t.Fatal(err)
		}
		if err := x.LoadGraph(ctx, b, 1, 1, &split.Document{References: []pod.Address{a}}); err != nil {
			t.Fatal(err)
		}
		got, err := x.Query(ctx, Pattern{Predicate: ReferencesPredicate, Object: b.IRI()})
		if err != nil {
			t.Fatal(err)
		}
		want := []Quad{{Graph: a, Triple: Triple{Subject: a.IRI(), Predicate: ReferencesPredicate, Object: b.IRI()}}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSearch(t *testing.T) {
	withIndex(t, func(ctx context.Context, x *Index) {
		var (
			owned = pod.Address{9}
			ref2  = pod.Address{1}
		)
		err := x.LoadGraph(ctx, owned, 0, 1, &split.Document{
			Name: "mine",
			Subjects: []split.Subject{
				subject(t, "song", `{"@type": "MediaObject", "name": "beach party.mp3"}`),
				subject(t, "book", `{"@type": "Book", "name": "Dune", "author": "Frank Herbert"}`),
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		err = x.LoadGraph(ctx, ref2, 2, 1, &split.Document{
			Name: "theirs",
			Subjects: []split.Subject{
				subject(t, "song2", `{"@type": "MediaObject", "name": "beach walk.mp3"}`),
				subject(t, "both", `{"@type": "MediaObject", "name": "beach party remix.mp3"}`),
			},
		})
		if err != nil {
			t.Fatal(err)
		}

		type result struct {
			Subject string
			Score   int
			Depth   int
		}

		cases := []struct {
			q    Query
			want []result
		}{
			{
				// Equal scores: the owned pod ranks first.
				q: Query{Text: "beach"},
				want: []result{
					{Subject: "song", Score: 1, Depth: 0},
					{Subject: "both", Score: 1, Depth: 2},
					{Subject: "song2", Score: 1, Depth: 2},
				},
			},
			{
				q: Query{Text: "beach party"},
				want: []result{
					{Subject: "song", Score: 2, Depth: 0},
					{Subject: "both", Score: 2, Depth: 2},
					{Subject: "song2", Score: 1, Depth: 2},
				},
			},
			{
				q:    Query{Type: "Book"},
				want: []result{{Subject: "book", Score: 1, Depth: 0}},
			},
			{
				q:    Query{Type: "MediaObject", Text: "walk"},
				want: []result{{Subject: "song2", Score: 2, Depth: 2}},
			},
			{
				q:    Query{Property: "author", Value: "herbert"},
				want: []result{{Subject: "book", Score: 1, Depth: 0}},
			},
			{
				// Approximate terms still match.
				q:    Query{Text: "dne"},
				want: []result{{Subject: "book", Score: 1, Depth: 0}},
			},
			{
				q:    Query{Text: "beach", Limit: 1},
				want: []result{{Subject: "song", Score: 1, Depth: 0}},
			},
			{
				q: Query{Text: "zzzz"},
			},
		}

		for i, c := range cases {
			t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
				matches, err := x.Search(ctx, c.q)
				if err != nil {
					t.Fatal(err)
				}
				var got []result
				for _, m := range matches {
					got = append(got, result{Subject: m.Subject, Score: m.Score, Depth: m.Depth})
				}
				if diff := cmp.Diff(c.want, got); diff != "" {
					t.Errorf("mismatch (-want +got):\n%s", diff)
				}
			})
		}

		if _, err = x.Search(ctx, Query{}); !errors.Is(err, pod.ErrValidation) {
			t.Errorf("got error %v for empty query, want %s", err, pod.ErrValidation)
		}
	})
}

func TestConcurrentSearchAndLoad(t *testing.T) {
	withIndex(t, func(ctx context.Context, x *Index) {
		addr := pod.Address{1}
		load := func(n int) error {
			doc := &split.Document{Name: "p"}
			for i := 0; i < 5; i++ {
				doc.Subjects = append(doc.Subjects, subject(t, fmt.Sprintf("s%d", i), fmt.Sprintf(`{"name": "gen%d"}`, n)))
			}
			return x.LoadGraph(ctx, addr, 0, 1, doc)
		}
		if err := load(0); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 1; n <= 10; n++ {
				if err := load(n); err != nil {
					t.Error(err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				matches, err := x.Search(ctx, Query{Property: "name"})
				if err != nil {
					t.Error(err)
					return
				}
				// A reload is all or nothing.
				if len(matches) != 5 {
					t.Errorf("got %d matches mid-reload, want 5", len(matches))
					return
				}
			}
		}()
		wg.Wait()
	})
}
