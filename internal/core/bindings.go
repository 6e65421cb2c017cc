package core

import (
	"strings"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// Bindings is a persistent, prepend-only list of variable bindings.
// Extending a binding set never copies the parent; a child partial solution
// shares its ancestors' frames. Lookup walks frames newest-first, so the most
// recently bound value for a name wins (the matching algorithm never binds
// the same name to conflicting values, so any frame's value is authoritative).
type Bindings struct {
	names  []string
	values []rdf.Term
	rest   *Bindings
}

// prepend creates a new binding frame holding the given pairs in front of b.
// b may be nil (the empty binding set).
func (b *Bindings) prepend(names []string, values []rdf.Term) *Bindings {
	if len(names) == 0 {
		return b
	}
	return &Bindings{names: names, values: values, rest: b}
}

// Get returns the value bound to name, or nil if name is unbound.
func (b *Bindings) Get(name string) rdf.Term {
	for cur := b; cur != nil; cur = cur.rest {
		for i, n := range cur.names {
			if n == name {
				return cur.values[i]
			}
		}
	}
	return nil
}

// Each visits every distinct bound name once, newest frame first.
func (b *Bindings) Each(f func(name string, value rdf.Term)) {
	seen := make(map[string]bool)
	for cur := b; cur != nil; cur = cur.rest {
		for i, n := range cur.names {
			if !seen[n] {
				seen[n] = true
				f(n, cur.values[i])
			}
		}
	}
}

// Size returns the number of distinct bound names.
func (b *Bindings) Size() int {
	n := 0
	b.Each(func(string, rdf.Term) { n++ })
	return n
}

// equals compares the distinct name→value mappings of two binding sets.
func (b *Bindings) equals(other *Bindings) bool {
	if b.Size() != other.Size() {
		return false
	}
	same := true
	b.Each(func(name string, value rdf.Term) {
		v := other.Get(name)
		if v == nil || !v.Equals(value) {
			same = false
		}
	})
	return same
}

func (b *Bindings) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	b.Each(func(name string, value rdf.Term) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(value.String())
	})
	sb.WriteByte('}')
	return sb.String()
}
