// Package rdfio adapts external RDF serializations to the engine's term
// model. N-Triples decoding is delegated to the knakk/rdf parser.
package rdfio

import (
	"fmt"
	"io"
	"strings"

	knakk "github.com/knakk/rdf"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

const xsdStringIRI = "http://www.w3.org/2001/XMLSchema#string"

// Source streams triples from an N-Triples document.
type Source struct {
	dec knakk.TripleDecoder
}

// NewSource creates a streaming N-Triples reader.
func NewSource(r io.Reader) *Source {
	return &Source{dec: knakk.NewTripleDecoder(r, knakk.NTriples)}
}

// Next returns the next triple, or io.EOF when the document is exhausted.
func (s *Source) Next() (*rdf.Triple, error) {
	t, err := s.dec.Decode()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode n-triples: %w", err)
	}

	subject, err := convertTerm(t.Subj)
	if err != nil {
		return nil, err
	}
	predicate, err := convertTerm(t.Pred)
	if err != nil {
		return nil, err
	}
	object, err := convertTerm(t.Obj)
	if err != nil {
		return nil, err
	}

	return rdf.NewTriple(subject, predicate, object), nil
}

// DecodeAll reads an entire N-Triples document.
func DecodeAll(r io.Reader) ([]*rdf.Triple, error) {
	src := NewSource(r)
	var triples []*rdf.Triple
	for {
		t, err := src.Next()
		if err == io.EOF {
			return triples, nil
		}
		if err != nil {
			return nil, err
		}
		triples = append(triples, t)
	}
}

func convertTerm(t knakk.Term) (rdf.Term, error) {
	switch t.Type() {
	case knakk.TermIRI:
		return rdf.NewNamedNode(t.String()), nil
	case knakk.TermBlank:
		return rdf.NewBlankNode(strings.TrimPrefix(t.String(), "_:")), nil
	case knakk.TermLiteral:
		lit, ok := t.(knakk.Literal)
		if !ok {
			return nil, fmt.Errorf("unexpected literal representation: %T", t)
		}
		if lang := lit.Lang(); lang != "" {
			return rdf.NewLiteralWithLanguage(lit.String(), lang), nil
		}
		if dt := lit.DataType.String(); dt != "" && dt != xsdStringIRI {
			return rdf.NewLiteralWithDatatype(lit.String(), rdf.NewNamedNode(dt)), nil
		}
		return rdf.NewLiteral(lit.String()), nil
	default:
		return nil, fmt.Errorf("unsupported term type: %v", t.Type())
	}
}
