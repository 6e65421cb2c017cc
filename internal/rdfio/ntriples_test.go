package rdfio

import (
	"io"
	"strings"
	"testing"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

const sample = `<http://example.org/a> <http://example.org/knows> <http://example.org/b> .
<http://example.org/b> <http://example.org/name> "Bob" .
<http://example.org/b> <http://example.org/label> "Bob"@en .
<http://example.org/b> <http://example.org/age> "30"^^<http://www.w3.org/2001/XMLSchema#integer> .
_:x <http://example.org/p> <http://example.org/o> .
`

func TestDecodeAll(t *testing.T) {
	triples, err := DecodeAll(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(triples) != 5 {
		t.Fatalf("expected 5 triples, got %d", len(triples))
	}

	if !triples[0].Subject.Equals(rdf.NewNamedNode("http://example.org/a")) {
		t.Errorf("unexpected subject: %s", triples[0].Subject)
	}
	if !triples[1].Object.Equals(rdf.NewLiteral("Bob")) {
		t.Errorf("expected plain literal, got %s", triples[1].Object)
	}
	if !triples[2].Object.Equals(rdf.NewLiteralWithLanguage("Bob", "en")) {
		t.Errorf("expected language-tagged literal, got %s", triples[2].Object)
	}
	if !triples[3].Object.Equals(rdf.NewIntegerLiteral(30)) {
		t.Errorf("expected typed literal, got %s", triples[3].Object)
	}
	if triples[4].Subject.Type() != rdf.TermTypeBlankNode {
		t.Errorf("expected blank node subject, got %s", triples[4].Subject)
	}
}

func TestSource_Streaming(t *testing.T) {
	src := NewSource(strings.NewReader(sample))

	count := 0
	for {
		_, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		count++
	}
	if count != 5 {
		t.Errorf("expected 5 triples, got %d", count)
	}
}

func TestDecodeAll_Malformed(t *testing.T) {
	if _, err := DecodeAll(strings.NewReader("this is not n-triples\n")); err == nil {
		t.Error("expected an error for malformed input")
	}
}
