package graph

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/split"
)

const (
	// Vocabulary is the namespace of predicates this package generates itself.
	Vocabulary = "colonylib://vocabulary/0.1/"

	// ReferencesPredicate links a pod to a pod it references.
	ReferencesPredicate = Vocabulary + "predicate#references"

	// NamePredicate gives a pod's name.
	NamePredicate = Vocabulary + "predicate#name"

	// TypePredicate is rdf:type.
	TypePredicate = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

	// DefaultContext expands terms of documents that name no @context.
	DefaultContext = "http://schema.org/"
)

// Triple is one statement.
// When Literal is false, Object is an IRI.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
	Literal   bool
}

// Triples flattens a pod document into statements.
// Subject documents are read as JSON-LD:
// @type becomes rdf:type,
// @id values become IRIs,
// other keys are expanded against the document's @context.
// The pod itself contributes its name and its references.
func Triples(addr pod.Address, doc *split.Document) ([]Triple, error) {
	var out []Triple

	podIRI := addr.IRI()
	if doc.Name != "" {
		out = append(out, Triple{Subject: podIRI, Predicate: NamePredicate, Object: doc.Name, Literal: true})
	}
	for _, ref := range doc.References {
		out = append(out, Triple{Subject: podIRI, Predicate: ReferencesPredicate, Object: ref.IRI()})
	}

	for _, s := range doc.Subjects {
		var obj map[string]interface{}
		if err := json.Unmarshal(s.Data, &obj); err != nil {
			return nil, errors.Wrapf(pod.ErrCorrupt, "parsing subject %s: %s", s.ID, err)
		}
		ctx := DefaultContext
		if c, ok := obj["@context"].(string); ok && c != "" {
			ctx = c
		}
		out = flatten(out, s.ID, ctx, obj)
	}
	return out, nil
}

func flatten(out []Triple, subject, ctx string, obj map[string]interface{}) []Triple {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch k {
		case "@context", "@id":
			continue
		case "@type":
			for _, v := range values(obj[k]) {
				if s, ok := v.(string); ok {
					out = append(out, Triple{Subject: subject, Predicate: TypePredicate, Object: expand(s, ctx)})
				}
			}
			continue
		}
		pred := expand(k, ctx)
		for _, v := range values(obj[k]) {
			out = flattenValue(out, subject, pred, ctx, v)
		}
	}
	return out
}

func flattenValue(out []Triple, subject, pred, ctx string, v interface{}) []Triple {
	switch v := v.(type) {
	case nil:
		return out
	case string:
		return append(out, Triple{Subject: subject, Predicate: pred, Object: v, Literal: true})
	case float64:
		return append(out, Triple{Subject: subject, Predicate: pred, Object: strconv.FormatFloat(v, 'f', -1, 64), Literal: true})
	case bool:
		return append(out, Triple{Subject: subject, Predicate: pred, Object: strconv.FormatBool(v), Literal: true})
	case map[string]interface{}:
		if id, ok := v["@id"].(string); ok {
			return append(out, Triple{Subject: subject, Predicate: pred, Object: id})
		}
		if val, ok := v["@value"]; ok {
			return flattenValue(out, subject, pred, ctx, val)
		}
		// Anonymous nodes are folded into the enclosing subject.
		return flatten(out, subject, ctx, v)
	}
	return out
}

func values(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

func expand(term, ctx string) string {
	if strings.Contains(term, ":") {
		return term
	}
	if !strings.HasSuffix(ctx, "/") && !strings.HasSuffix(ctx, "#") {
		ctx += "/"
	}
	return ctx + term
}

// localName is the part of an IRI after its last slash or hash.
func localName(iri string) string {
	if i := strings.LastIndexAny(iri, "/#"); i >= 0 {
		return iri[i+1:]
	}
	return iri
}
