package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"
	"github.com/sahilm/fuzzy"

	"github.com/podgraph/pod"
)

// Query is a search across all partitions.
// Every non-empty field is a criterion.
// Type and Property are filters:
// a subject that fails one is not a match.
// Each whitespace-separated term of Text is a separate criterion,
// satisfied when it fuzzily matches a word of any literal value of the subject.
type Query struct {
	Text string

	// Type matches an rdf:type by full IRI or by local name.
	Type string

	// Property matches a predicate by full IRI or by local name.
	// If Value is also set,
	// some value of that property must fuzzily match it.
	Property string
	Value    string

	// Limit caps the number of results; zero means no limit.
	Limit int
}

// Match is one search result.
type Match struct {
	Pod     pod.Address
	PodName string
	Subject string
	Depth   int

	// Score is the number of criteria the subject met.
	Score int

	Doc []byte
}

type candidate struct {
	graph, subject string
	name           string
	depth          int
	doc            []byte
	triples        []Triple
}

// Search runs a query.
// Results are ordered by Score (descending),
// then by Depth (ascending),
// then by pod address and subject ID.
func (x *Index) Search(ctx context.Context, q Query) ([]Match, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 && q.Type == "" && q.Property == "" {
		return nil, errors.Wrap(pod.ErrValidation, "empty query")
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var (
		cands  []*candidate
		byName = make(map[[2]string]*candidate)
	)

	const q1 = `SELECT s.graph, s.subject, s.doc, p.name, p.depth FROM subjects s JOIN pods p ON s.graph = p.graph`
	err := sqlutil.ForQueryRows(ctx, x.db, q1, func(graph, subject string, doc []byte, name string, depth int) {
		c := &candidate{graph: graph, subject: subject, doc: doc, name: name, depth: depth}
		cands = append(cands, c)
		byName[[2]string{graph, subject}] = c
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading subjects")
	}

	const q2 = `SELECT graph, subject, predicate, object, literal FROM quads`
	err = sqlutil.ForQueryRows(ctx, x.db, q2, func(graph, subject, predicate, object string, literal int) {
		if c, ok := byName[[2]string{graph, subject}]; ok {
			c.triples = append(c.triples, Triple{Subject: subject, Predicate: predicate, Object: object, Literal: literal != 0})
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading triples")
	}

	var out []Match
	for _, c := range cands {
		score, ok := c.score(q, terms)
		if !ok {
			continue
		}
		addr, err := pod.AddressFromHex(c.graph)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding graph name %s", c.graph)
		}
		out = append(out, Match{
			Pod:     addr,
			PodName: c.name,
			Subject: c.subject,
			Depth:   c.depth,
			Score:   score,
			Doc:     c.doc,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Pod != b.Pod {
			return a.Pod.Less(b.Pod)
		}
		return a.Subject < b.Subject
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (c *candidate) score(q Query, terms []string) (int, bool) {
	var score int

	if q.Type != "" {
		found := false
		for _, t := range c.triples {
			if t.Predicate == TypePredicate && termMatches(t.Object, q.Type) {
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
		score++
	}

	if q.Property != "" {
		found := false
		for _, t := range c.triples {
			if !termMatches(t.Predicate, q.Property) {
				continue
			}
			if q.Value == "" || fuzzyAny(strings.ToLower(q.Value), []string{strings.ToLower(t.Object)}) {
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
		score++
	}

	if len(terms) > 0 {
		var vocab []string
		for _, t := range c.triples {
			if t.Literal {
				vocab = append(vocab, words(t.Object)...)
			}
		}
		var textScore int
		for _, term := range terms {
			if fuzzyAny(term, vocab) {
				textScore++
			}
		}
		if textScore == 0 {
			return 0, false
		}
		score += textScore
	}

	return score, true
}

func termMatches(iri, want string) bool {
	return iri == want || strings.EqualFold(localName(iri), want)
}

func words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func fuzzyAny(term string, vocab []string) bool {
	if len(vocab) == 0 {
		return false
	}
	return len(fuzzy.Find(term, vocab)) > 0
}
