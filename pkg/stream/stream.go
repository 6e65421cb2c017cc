// Package stream defines the public API of the continuous SPARQL query
// engine: queries are registered before the data arrives, and every ingested
// triple is matched forward-chaining style against all active queries.
package stream

import (
	"strings"
	"time"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// TTLInfinite is the time-to-live value meaning "never expires".
const TTLInfinite = 0

// BindingSetHandler receives query solutions as they are computed.
// Handlers are invoked after the triggering ingest has released the engine
// lock, so they may freely add further queries or statements.
type BindingSetHandler func(solution BindingSet)

// BindingSet is an ordered mapping from variable names to RDF terms.
// Projected variables come first, in the query's projection order; constant
// projections follow them, in name order rather than projection order.
type BindingSet struct {
	names  []string
	values map[string]rdf.Term
}

// NewBindingSet creates an empty binding set.
func NewBindingSet() BindingSet {
	return BindingSet{values: make(map[string]rdf.Term)}
}

// Add appends a binding, preserving insertion order. Re-adding a name
// overwrites the value without changing its position.
func (bs *BindingSet) Add(name string, value rdf.Term) {
	if _, ok := bs.values[name]; !ok {
		bs.names = append(bs.names, name)
	}
	bs.values[name] = value
}

// Get returns the term bound to name, or nil.
func (bs BindingSet) Get(name string) rdf.Term {
	return bs.values[name]
}

// Names returns the bound names in insertion order.
func (bs BindingSet) Names() []string {
	return bs.names
}

// Size returns the number of bindings.
func (bs BindingSet) Size() int {
	return len(bs.names)
}

func (bs BindingSet) String() string {
	var sb strings.Builder
	for i, n := range bs.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n)
		sb.WriteByte(':')
		sb.WriteString(bs.values[n].String())
	}
	return sb.String()
}

// Subscription ties a registered query to its handler. Cancelling is
// idempotent and immediate: future matches are silently dropped and the
// query's index storage is reclaimed at once.
type Subscription interface {
	// ID returns the unique identifier of this subscription.
	ID() string

	// IsActive returns true until the subscription is cancelled or expires.
	IsActive() bool

	// Cancel deactivates the subscription and removes its query from the
	// index.
	Cancel()

	// Renew resets the query's expiration to now + ttl seconds.
	// A ttl of TTLInfinite makes the query permanent.
	Renew(ttl int)
}

// QueryEngine is a continuous query engine over an unbounded stream of RDF
// triples.
type QueryEngine interface {
	// AddQuery admits a SPARQL SELECT query with a time-to-live in seconds
	// (TTLInfinite for no expiration). The handler receives each solution as
	// it is computed. Fails with ErrInvalidQuery if the text cannot be
	// parsed, or ErrIncompatibleQuery if it uses an unsupported feature.
	AddQuery(ttl int, queryText string, handler BindingSetHandler) (Subscription, error)

	// AddStatement ingests a single triple with a time-to-live in seconds.
	AddStatement(ttl int, statement *rdf.Triple)

	// AddStatements ingests a batch of triples with a shared time-to-live.
	AddStatements(ttl int, statements ...*rdf.Triple)

	// Clear drops all queries, statements-derived state, and counters.
	Clear()

	// ShutDown terminates the cleanup task and releases resources.
	// No new solutions are produced thereafter.
	ShutDown()

	// SetClock injects the time source (test hook).
	SetClock(clock Clock)

	// SetCleanupPolicy injects the policy deciding when expired entries are
	// evicted (test hook).
	SetCleanupPolicy(policy CleanupPolicy)
}

// Clock supplies the current time to the engine.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default wall-clock time source.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// CleanupPolicy decides whether a TTL cleanup pass should run, given the
// seconds elapsed since the last pass and the number of queries and
// statements added since then.
type CleanupPolicy func(secondsElapsed, queriesAdded, statementsAdded int) bool

// DefaultCleanupPolicy runs a cleanup pass every 30 seconds.
func DefaultCleanupPolicy(secondsElapsed, queriesAdded, statementsAdded int) bool {
	return secondsElapsed >= 30
}
