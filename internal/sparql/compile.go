package sparql

import (
	"fmt"

	"github.com/aleksaelezovic/tristream/internal/core"
	"github.com/aleksaelezovic/tristream/pkg/rdf"
	"github.com/aleksaelezovic/tristream/pkg/stream"
)

// CompiledQuery is the engine-facing form of a parsed query: triple patterns
// for the query index, plus everything needed to turn raw bindings into
// final solutions.
type CompiledQuery struct {
	// BindingNames are the projected variable names in projection order
	// (pre-rename).
	BindingNames []string

	// Renames maps a projected source name to its AS target, for names
	// that are renamed.
	Renames map[string]string

	// Constants are fixed bindings added to every solution, keyed by their
	// target name. They are added after filter evaluation.
	Constants map[string]rdf.Term

	// Filters are evaluated against the pre-projection binding set.
	Filters []*Filter

	// Modifier applies DISTINCT / REDUCED / OFFSET / LIMIT.
	Modifier *SequenceModifier

	// Patterns are the query's triple patterns in index form.
	Patterns [][]core.Term
}

// Compile lowers a parsed SELECT query into its engine-facing form.
func Compile(q *Query) (*CompiledQuery, error) {
	cq := &CompiledQuery{
		Renames:   make(map[string]string),
		Constants: make(map[string]rdf.Term),
		Filters:   q.Where.Filters,
		Modifier:  newSequenceModifier(q),
	}

	for _, tp := range q.Where.Patterns {
		terms := make([]core.Term, 0, 3)
		for _, tv := range []TermOrVariable{tp.Subject, tp.Predicate, tp.Object} {
			if tv.IsVariable() {
				terms = append(terms, core.Variable(tv.Variable.Name))
			} else {
				terms = append(terms, core.Constant(tv.Term))
			}
		}
		cq.Patterns = append(cq.Patterns, terms)
	}

	if q.Projection == nil {
		// SELECT *: project every variable, in order of first occurrence
		seen := make(map[string]bool)
		for _, tp := range q.Where.Patterns {
			for _, tv := range []TermOrVariable{tp.Subject, tp.Predicate, tp.Object} {
				if tv.IsVariable() && !seen[tv.Variable.Name] {
					seen[tv.Variable.Name] = true
					cq.BindingNames = append(cq.BindingNames, tv.Variable.Name)
				}
			}
		}
		return cq, nil
	}

	for _, item := range q.Projection {
		if item.Constant != nil {
			if item.Alias == "" {
				return nil, fmt.Errorf("%w: constant projection without AS target", stream.ErrIncompatibleQuery)
			}
			cq.Constants[item.Alias] = item.Constant
			continue
		}

		cq.BindingNames = append(cq.BindingNames, item.Variable.Name)
		// projections of x onto x happen quite often; save some space
		if item.Alias != "" && item.Alias != item.Variable.Name {
			cq.Renames[item.Variable.Name] = item.Alias
		}
	}

	return cq, nil
}
