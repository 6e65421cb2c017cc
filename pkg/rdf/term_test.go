package rdf

import (
	"testing"
)

// ===== NamedNode Tests =====

func TestNamedNode_Type(t *testing.T) {
	node := NewNamedNode("http://example.org/resource")
	if node.Type() != TermTypeNamedNode {
		t.Errorf("Expected TermTypeNamedNode, got %v", node.Type())
	}
}

func TestNamedNode_String(t *testing.T) {
	node := NewNamedNode("http://example.org/resource")
	expected := "<http://example.org/resource>"
	if node.String() != expected {
		t.Errorf("Expected %s, got %s", expected, node.String())
	}
}

func TestNamedNode_Equals(t *testing.T) {
	node1 := NewNamedNode("http://example.org/resource")
	node2 := NewNamedNode("http://example.org/resource")
	node3 := NewNamedNode("http://example.org/different")

	if !node1.Equals(node2) {
		t.Error("Expected equal NamedNodes to be equal")
	}

	if node1.Equals(node3) {
		t.Error("Expected different NamedNodes to not be equal")
	}

	// Test with different term type
	literal := NewLiteral("test")
	if node1.Equals(literal) {
		t.Error("NamedNode should not equal Literal")
	}
}

func TestNamedNode_IsHTTP(t *testing.T) {
	if !NewNamedNode("http://example.org/x").IsHTTP() {
		t.Error("Expected http IRI to be dereferenceable")
	}
	if !NewNamedNode("https://example.org/x").IsHTTP() {
		t.Error("Expected https IRI to be dereferenceable")
	}
	if NewNamedNode("urn:isbn:0451450523").IsHTTP() {
		t.Error("Expected urn IRI to not be dereferenceable")
	}
}

// ===== BlankNode Tests =====

func TestBlankNode_String(t *testing.T) {
	node := NewBlankNode("b1")
	expected := "_:b1"
	if node.String() != expected {
		t.Errorf("Expected %s, got %s", expected, node.String())
	}
}

func TestBlankNode_Equals(t *testing.T) {
	node1 := NewBlankNode("b1")
	node2 := NewBlankNode("b1")
	node3 := NewBlankNode("b2")

	if !node1.Equals(node2) {
		t.Error("Expected equal BlankNodes to be equal")
	}
	if node1.Equals(node3) {
		t.Error("Expected different BlankNodes to not be equal")
	}
}

// ===== Literal Tests =====

func TestLiteral_String(t *testing.T) {
	plain := NewLiteral("hello")
	if plain.String() != `"hello"` {
		t.Errorf("Expected \"hello\", got %s", plain.String())
	}

	tagged := NewLiteralWithLanguage("hello", "en")
	if tagged.String() != `"hello"@en` {
		t.Errorf("Expected \"hello\"@en, got %s", tagged.String())
	}

	typed := NewIntegerLiteral(42)
	expected := `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`
	if typed.String() != expected {
		t.Errorf("Expected %s, got %s", expected, typed.String())
	}
}

func TestLiteral_Equals(t *testing.T) {
	if !NewLiteral("a").Equals(NewLiteral("a")) {
		t.Error("Expected equal plain literals to be equal")
	}
	if NewLiteral("a").Equals(NewLiteral("b")) {
		t.Error("Expected different values to not be equal")
	}
	if NewLiteral("a").Equals(NewLiteralWithLanguage("a", "en")) {
		t.Error("Expected plain and tagged literals to not be equal")
	}
	if NewLiteral("42").Equals(NewIntegerLiteral(42)) {
		t.Error("Expected plain and typed literals to not be equal")
	}
	if !NewIntegerLiteral(42).Equals(NewIntegerLiteral(42)) {
		t.Error("Expected equal typed literals to be equal")
	}
}

// ===== Triple Tests =====

func TestTriple_String(t *testing.T) {
	triple := NewTriple(
		NewNamedNode("http://example.org/s"),
		NewNamedNode("http://example.org/p"),
		NewLiteral("o"),
	)
	expected := `<http://example.org/s> <http://example.org/p> "o" .`
	if triple.String() != expected {
		t.Errorf("Expected %s, got %s", expected, triple.String())
	}
}

func TestTriple_Terms(t *testing.T) {
	s := NewNamedNode("http://example.org/s")
	p := NewNamedNode("http://example.org/p")
	o := NewLiteral("o")

	terms := NewTriple(s, p, o).Terms()
	if len(terms) != 3 {
		t.Fatalf("Expected 3 terms, got %d", len(terms))
	}
	if !terms[0].Equals(s) || !terms[1].Equals(p) || !terms[2].Equals(o) {
		t.Error("Expected terms in (subject, predicate, object) order")
	}
}
