package core

import (
	"strings"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// Term is one position of a triple pattern: either a constant RDF value or a
// named variable. The zero Term is invalid.
type Term struct {
	value rdf.Term
	name  string
}

// Constant creates a term holding a concrete RDF value.
func Constant(v rdf.Term) Term {
	return Term{value: v}
}

// Variable creates a term holding a variable name.
func Variable(name string) Term {
	return Term{name: name}
}

// IsVariable returns true if this term is a variable rather than a constant.
func (t Term) IsVariable() bool {
	return t.value == nil
}

// Value returns the constant value, or nil for a variable term.
func (t Term) Value() rdf.Term {
	return t.value
}

// Name returns the variable name, or "" for a constant term.
func (t Term) Name() string {
	return t.name
}

func (t Term) String() string {
	if t.IsVariable() {
		return "?" + t.name
	}
	return t.value.String()
}

// unify matches a pattern position-wise against a concrete tuple.
// A constant term must equal the tuple element at its position; a variable
// term binds its name to the tuple element. If the same variable occurs at
// multiple positions it must bind to equal values.
// Returns the newly-bound names and values, or ok=false on mismatch.
func unify(p *Pattern, tuple []rdf.Term) (names []string, values []rdf.Term, ok bool) {
	for i, t := range p.terms {
		if !t.IsVariable() {
			if !t.value.Equals(tuple[i]) {
				return nil, nil, false
			}
			continue
		}

		bound := false
		for j, n := range names {
			if n == t.name {
				if !values[j].Equals(tuple[i]) {
					return nil, nil, false
				}
				bound = true
				break
			}
		}
		if !bound {
			names = append(names, t.name)
			values = append(values, tuple[i])
		}
	}

	return names, values, true
}

// substitute rewrites a pattern by replacing each variable term whose name
// appears in the given bindings with the bound constant. Returns nil if no
// variable was substituted; the caller re-interns any non-nil result.
func substitute(p *Pattern, names []string, values []rdf.Term) []Term {
	var next []Term

	for i, t := range p.terms {
		if !t.IsVariable() {
			continue
		}
		for j, n := range names {
			if n == t.name {
				if next == nil {
					next = make([]Term, len(p.terms))
					copy(next, p.terms)
				}
				next[i] = Constant(values[j])
				break
			}
		}
	}

	return next
}

func termsString(terms []Term) string {
	var sb strings.Builder
	for i, t := range terms {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.String())
	}
	return sb.String()
}
