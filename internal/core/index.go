package core

import (
	"fmt"
	"time"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// SolutionHandler receives completed solutions for a query as tuples are
// added to the index. Handlers may reenter the index (add queries or tuples);
// the index iterates over snapshots to tolerate this.
type SolutionHandler func(queryID string, b *Bindings)

// PatternListener observes the lifecycle of canonical patterns in the index.
// PatternFirstSeen fires on the first-ever subscription to a pattern; the
// Linked Data subsystem uses it to dereference the pattern's constant IRIs.
// PatternForgotten fires when a pattern's last subscriber is removed.
type PatternListener interface {
	PatternFirstSeen(p *Pattern)
	PatternForgotten(p *Pattern)
}

// Query is a registered continuous query: a set of triple patterns matched
// incrementally against the stream, owned by a subscription.
type Query struct {
	id        string
	expiresAt time.Time // zero means never
	raw       [][]Term
	patterns  []*Pattern // canonical, set when added to an index
	root      *PartialSolution
}

// NewQuery creates a query from raw (un-interned) triple patterns.
// The expiration time zero means the query never expires.
func NewQuery(id string, patterns [][]Term, expiresAt time.Time) *Query {
	return &Query{id: id, raw: patterns, expiresAt: expiresAt}
}

// ID returns the query's subscription identifier.
func (q *Query) ID() string {
	return q.id
}

// ExpiresAt returns the query's current expiration time (zero for never).
func (q *Query) ExpiresAt() time.Time {
	return q.expiresAt
}

// Patterns returns the query's canonical patterns. Only valid after the
// query has been added to an index.
func (q *Query) Patterns() []*Pattern {
	return q.patterns
}

// Expired reports whether the query's TTL has elapsed.
func (q *Query) Expired(now time.Time) bool {
	return !q.expiresAt.IsZero() && !q.expiresAt.After(now)
}

// QueryIndex holds all active queries broken into canonical triple patterns,
// the partial solutions produced as those patterns are progressively
// satisfied, and the forward-chaining matching algorithm. It is not safe for
// concurrent use; callers serialize access (see engine).
type QueryIndex struct {
	arity    int
	store    *patternStore
	queries  map[string]*Query
	listener PatternListener
}

// NewQueryIndex creates an empty index for tuples of the given arity.
// Arity is 3 for triples.
func NewQueryIndex(arity int) *QueryIndex {
	if arity < 3 {
		panic(fmt.Sprintf("tuple arity must be at least 3, got %d", arity))
	}
	return &QueryIndex{
		arity:   arity,
		store:   newPatternStore(),
		queries: make(map[string]*Query),
	}
}

// SetPatternListener installs an observer for pattern lifecycle events.
func (ix *QueryIndex) SetPatternListener(l PatternListener) {
	ix.listener = l
}

// Add admits a query: its patterns are interned and a root partial solution
// holding all of them with empty bindings is subscribed to each.
func (ix *QueryIndex) Add(q *Query) error {
	if _, ok := ix.queries[q.id]; ok {
		return fmt.Errorf("duplicate query id: %s", q.id)
	}
	if len(q.raw) == 0 {
		return fmt.Errorf("query %s has no patterns", q.id)
	}

	for _, terms := range q.raw {
		if len(terms) != ix.arity {
			return fmt.Errorf("pattern arity %d does not match index arity %d", len(terms), ix.arity)
		}
	}

	patterns := make([]*Pattern, 0, len(q.raw))
	for _, terms := range q.raw {
		patterns = appendPattern(patterns, ix.store.intern(terms))
	}

	q.patterns = patterns
	q.root = &PartialSolution{
		queryID:   q.id,
		patterns:  patterns,
		expiresAt: q.expiresAt,
	}
	ix.queries[q.id] = q

	for _, p := range patterns {
		if first := ix.store.subscribe(p, q.root); first {
			ix.patternFirstSeen(p)
		}
	}

	return nil
}

// Remove drops a query and every partial solution it has spawned,
// reclaiming index storage.
func (ix *QueryIndex) Remove(q *Query) {
	if _, ok := ix.queries[q.id]; !ok {
		return
	}
	delete(ix.queries, q.id)
	ix.removeSolutions(func(ps *PartialSolution) bool {
		return ps.queryID == q.id
	})
}

// Renew resets the query's expiration time. Only the root partial solution
// is renewed; partial solutions already derived from ingested tuples keep
// the expiration they were clamped to at creation.
func (ix *QueryIndex) Renew(q *Query, expiresAt time.Time) {
	if _, ok := ix.queries[q.id]; !ok {
		return
	}
	q.expiresAt = expiresAt
	q.root.expiresAt = expiresAt
}

// AddTuple matches a concrete tuple against all subscribed patterns,
// extending partial solutions and emitting completed solutions to h.
// Returns true if the tuple matched at least one pattern.
//
// Both the outer pattern iteration and the inner subscriber iteration use
// buffered snapshots: h may reenter the index (add queries or tuples) while
// the iteration is in progress.
func (ix *QueryIndex) AddTuple(tuple []rdf.Term, h SolutionHandler, expiresAt, now time.Time) bool {
	if len(tuple) != ix.arity {
		return false
	}

	changed := false
	for _, p := range ix.store.snapshotPatterns() {
		names, values, ok := unify(p, tuple)
		if !ok {
			continue
		}
		changed = true

		for _, ps := range ix.store.snapshotSubscribers(p) {
			if ps.Expired(now) {
				continue
			}
			ix.extend(ps, p, names, values, minExpiry(expiresAt, ps.expiresAt), h)
		}
	}

	return changed
}

// extend incorporates a satisfied pattern into a partial solution. If the
// pattern was the last one, a solution is emitted; otherwise a child partial
// solution is spawned with the remaining patterns rewritten by the new
// bindings and subscribed in the store.
func (ix *QueryIndex) extend(ps *PartialSolution, satisfied *Pattern,
	names []string, values []rdf.Term, childExpiresAt time.Time, h SolutionHandler) {

	nextBindings := ps.bindings.prepend(names, values)

	if len(ps.patterns) == 1 {
		h(ps.queryID, nextBindings)
		return
	}

	nextPatterns := make([]*Pattern, 0, len(ps.patterns)-1)
	for _, p := range ps.patterns {
		// identity comparison is valid: patterns are canonicalized
		if p == satisfied {
			continue
		}
		if rewritten := substitute(p, names, values); rewritten != nil {
			nextPatterns = appendPattern(nextPatterns, ix.store.intern(rewritten))
		} else {
			nextPatterns = appendPattern(nextPatterns, p)
		}
	}

	child := &PartialSolution{
		queryID:   ps.queryID,
		patterns:  nextPatterns,
		bindings:  nextBindings,
		expiresAt: childExpiresAt,
	}

	// A duplicate tuple spawns a child identical to one already subscribed.
	// Keep the one instance, with the longer of the two lifetimes.
	for _, existing := range ix.store.subscribers[nextPatterns[0]] {
		if existing.equals(child) {
			existing.expiresAt = maxExpiry(existing.expiresAt, childExpiresAt)
			return
		}
	}

	for _, p := range nextPatterns {
		if first := ix.store.subscribe(p, child); first {
			ix.patternFirstSeen(p)
		}
	}
}

// RemoveExpired evicts all expired queries and partial solutions.
// Returns the IDs of the queries that expired, so the caller can
// deactivate their subscriptions.
func (ix *QueryIndex) RemoveExpired(now time.Time) []string {
	var expired []string
	for id, q := range ix.queries {
		if q.Expired(now) {
			expired = append(expired, id)
			delete(ix.queries, id)
		}
	}

	ix.removeSolutions(func(ps *PartialSolution) bool {
		if ps.Expired(now) {
			return true
		}
		_, alive := ix.queries[ps.queryID]
		return !alive
	})

	return expired
}

// Clear drops all queries, patterns, and partial solutions.
func (ix *QueryIndex) Clear() {
	ix.store.clear()
	ix.queries = make(map[string]*Query)
}

// QueryCount returns the number of active queries.
func (ix *QueryIndex) QueryCount() int {
	return len(ix.queries)
}

// PatternCount returns the number of currently-subscribed canonical patterns.
func (ix *QueryIndex) PatternCount() int {
	return len(ix.store.subscribers)
}

// SolutionCount returns the number of live partial solutions.
func (ix *QueryIndex) SolutionCount() int {
	seen := make(map[*PartialSolution]bool)
	for _, subs := range ix.store.subscribers {
		for _, ps := range subs {
			seen[ps] = true
		}
	}
	return len(seen)
}

// removeSolutions drops every partial solution for which drop returns true,
// removing emptied pattern entries from the store.
func (ix *QueryIndex) removeSolutions(drop func(ps *PartialSolution) bool) {
	for _, p := range ix.store.snapshotPatterns() {
		subs := ix.store.subscribers[p]
		kept := make([]*PartialSolution, 0, len(subs))
		for _, ps := range subs {
			if !drop(ps) {
				kept = append(kept, ps)
			}
		}
		if len(kept) == len(subs) {
			continue
		}
		if len(kept) == 0 {
			delete(ix.store.subscribers, p)
			ix.store.forget(p)
			ix.patternForgotten(p)
		} else {
			ix.store.subscribers[p] = kept
		}
	}
}

func (ix *QueryIndex) patternFirstSeen(p *Pattern) {
	if ix.listener != nil {
		ix.listener.PatternFirstSeen(p)
	}
}

func (ix *QueryIndex) patternForgotten(p *Pattern) {
	if ix.listener != nil {
		ix.listener.PatternForgotten(p)
	}
}

// appendPattern adds a canonical pattern to a small set, preserving the
// set property by identity.
func appendPattern(patterns []*Pattern, p *Pattern) []*Pattern {
	for _, cur := range patterns {
		if cur == p {
			return patterns
		}
	}
	return append(patterns, p)
}
