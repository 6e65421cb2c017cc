package core

import (
	"testing"
	"time"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

func nn(iri string) rdf.Term {
	return rdf.NewNamedNode("http://example.org/" + iri)
}

func lit(value string) rdf.Term {
	return rdf.NewLiteral(value)
}

func tuple(s, p, o rdf.Term) []rdf.Term {
	return []rdf.Term{s, p, o}
}

type recorder struct {
	queryIDs []string
	bindings []*Bindings
}

func (r *recorder) handle(queryID string, b *Bindings) {
	r.queryIDs = append(r.queryIDs, queryID)
	r.bindings = append(r.bindings, b)
}

func (r *recorder) count() int {
	return len(r.bindings)
}

// ===== Single pattern =====

func TestQueryIndex_SinglePattern(t *testing.T) {
	ix := NewQueryIndex(3)
	q := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	now := at(0)

	if !ix.AddTuple(tuple(nn("a"), nn("p"), nn("o")), r.handle, time.Time{}, now) {
		t.Error("expected tuple to match")
	}
	if ix.AddTuple(tuple(nn("b"), nn("p"), nn("o2")), r.handle, time.Time{}, now) {
		t.Error("expected tuple not to match")
	}
	if !ix.AddTuple(tuple(nn("c"), nn("p"), nn("o")), r.handle, time.Time{}, now) {
		t.Error("expected tuple to match")
	}

	if r.count() != 2 {
		t.Fatalf("expected 2 solutions, got %d", r.count())
	}
	if !r.bindings[0].Get("s").Equals(nn("a")) {
		t.Errorf("expected first solution s=<a>, got %s", r.bindings[0].Get("s"))
	}
	if !r.bindings[1].Get("s").Equals(nn("c")) {
		t.Errorf("expected second solution s=<c>, got %s", r.bindings[1].Get("s"))
	}
}

// ===== Two-pattern join =====

func twoPatternQuery(id string, expiresAt time.Time) *Query {
	return NewQuery(id, [][]Term{
		{Variable("x"), Constant(nn("knows")), Variable("y")},
		{Variable("y"), Constant(nn("age")), Constant(lit("30"))},
	}, expiresAt)
}

func TestQueryIndex_TwoPatternJoin(t *testing.T) {
	ix := NewQueryIndex(3)
	if err := ix.Add(twoPatternQuery("q1", time.Time{})); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	now := at(0)

	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, time.Time{}, now)
	if r.count() != 0 {
		t.Fatalf("expected no solution yet, got %d", r.count())
	}

	ix.AddTuple(tuple(nn("B"), nn("age"), lit("30")), r.handle, time.Time{}, now)
	if r.count() != 1 {
		t.Fatalf("expected 1 solution, got %d", r.count())
	}

	// a duplicate statement produces the solution again (no DISTINCT here)
	ix.AddTuple(tuple(nn("B"), nn("age"), lit("30")), r.handle, time.Time{}, now)
	if r.count() != 2 {
		t.Fatalf("expected 2 solutions after duplicate, got %d", r.count())
	}

	for i, b := range r.bindings {
		if !b.Get("x").Equals(nn("A")) || !b.Get("y").Equals(nn("B")) {
			t.Errorf("solution %d: expected x=<A> y=<B>, got %s", i, b)
		}
	}
}

func TestQueryIndex_JoinReverseArrivalOrder(t *testing.T) {
	ix := NewQueryIndex(3)
	if err := ix.Add(twoPatternQuery("q1", time.Time{})); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	now := at(0)

	ix.AddTuple(tuple(nn("B"), nn("age"), lit("30")), r.handle, time.Time{}, now)
	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, time.Time{}, now)

	if r.count() != 1 {
		t.Fatalf("expected exactly 1 solution, got %d", r.count())
	}
	if !r.bindings[0].Get("x").Equals(nn("A")) || !r.bindings[0].Get("y").Equals(nn("B")) {
		t.Errorf("expected x=<A> y=<B>, got %s", r.bindings[0])
	}
}

// ===== Order independence =====

func TestQueryIndex_OrderIndependence(t *testing.T) {
	triples := [][]rdf.Term{
		tuple(nn("A"), nn("knows"), nn("B")),
		tuple(nn("C"), nn("knows"), nn("B")),
		tuple(nn("B"), nn("age"), lit("30")),
	}

	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, perm := range permutations {
		ix := NewQueryIndex(3)
		if err := ix.Add(twoPatternQuery("q1", time.Time{})); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		r := &recorder{}
		for _, i := range perm {
			ix.AddTuple(triples[i], r.handle, time.Time{}, at(0))
		}

		if r.count() != 2 {
			t.Fatalf("permutation %v: expected 2 solutions, got %d", perm, r.count())
		}
		seenA, seenC := false, false
		for _, b := range r.bindings {
			switch {
			case b.Get("x").Equals(nn("A")):
				seenA = true
			case b.Get("x").Equals(nn("C")):
				seenC = true
			}
		}
		if !seenA || !seenC {
			t.Errorf("permutation %v: expected solutions for both <A> and <C>", perm)
		}
	}
}

// ===== Repeated variable in one pattern =====

func TestQueryIndex_RepeatedVariableMustAgree(t *testing.T) {
	ix := NewQueryIndex(3)
	q := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("likes")), Variable("s")},
	}, time.Time{})
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}

	if ix.AddTuple(tuple(nn("a"), nn("likes"), nn("b")), r.handle, time.Time{}, at(0)) {
		t.Error("expected mismatched repeated variable not to match")
	}
	if !ix.AddTuple(tuple(nn("a"), nn("likes"), nn("a")), r.handle, time.Time{}, at(0)) {
		t.Error("expected matching repeated variable to match")
	}
	if r.count() != 1 {
		t.Fatalf("expected 1 solution, got %d", r.count())
	}
}

// ===== Canonicalization =====

func TestQueryIndex_PatternCanonicalization(t *testing.T) {
	ix := NewQueryIndex(3)

	q1 := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})
	q2 := NewQuery("q2", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})

	if err := ix.Add(q1); err != nil {
		t.Fatalf("Add q1 failed: %v", err)
	}
	if err := ix.Add(q2); err != nil {
		t.Fatalf("Add q2 failed: %v", err)
	}

	if q1.Patterns()[0] != q2.Patterns()[0] {
		t.Error("structurally equal patterns must share one canonical instance")
	}
	if ix.PatternCount() != 1 {
		t.Errorf("expected 1 canonical pattern, got %d", ix.PatternCount())
	}

	// one matching tuple answers both queries
	r := &recorder{}
	ix.AddTuple(tuple(nn("a"), nn("p"), nn("o")), r.handle, time.Time{}, at(0))
	if r.count() != 2 {
		t.Fatalf("expected a solution per query, got %d", r.count())
	}
}

// ===== Reverse index consistency =====

func TestQueryIndex_ReverseIndexConsistency(t *testing.T) {
	ix := NewQueryIndex(3)
	q := twoPatternQuery("q1", time.Time{})
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	assertConsistent := func() {
		t.Helper()
		for p, subs := range ix.store.subscribers {
			if len(subs) == 0 {
				t.Fatal("empty subscriber list retained in store")
			}
			for _, ps := range subs {
				found := false
				for _, pp := range ps.patterns {
					if pp == p {
						found = true
						break
					}
				}
				if !found {
					t.Fatalf("partial solution indexed under pattern %s it does not await", p)
				}
			}
			if ix.store.representatives[p.sig] != p {
				t.Fatalf("subscribed pattern %s missing from representatives", p)
			}
		}
	}

	assertConsistent()
	r := &recorder{}
	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, time.Time{}, at(0))
	assertConsistent()
	ix.AddTuple(tuple(nn("B"), nn("age"), lit("30")), r.handle, time.Time{}, at(0))
	assertConsistent()
	ix.Remove(q)
	assertConsistent()

	if ix.PatternCount() != 0 {
		t.Errorf("expected no patterns after query removal, got %d", ix.PatternCount())
	}
	if ix.SolutionCount() != 0 {
		t.Errorf("expected no partial solutions after query removal, got %d", ix.SolutionCount())
	}
}

// ===== No duplicate partial solutions =====

func TestQueryIndex_NoDuplicatePartialSolutions(t *testing.T) {
	ix := NewQueryIndex(3)
	if err := ix.Add(twoPatternQuery("q1", time.Time{})); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	for i := 0; i < 3; i++ {
		ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, time.Time{}, at(0))
	}

	seen := make(map[*PartialSolution]bool)
	var all []*PartialSolution
	for _, subs := range ix.store.subscribers {
		for _, ps := range subs {
			if !seen[ps] {
				seen[ps] = true
				all = append(all, ps)
			}
		}
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[i].equals(all[j]) {
				t.Errorf("duplicate partial solutions coexist: %s and %s", all[i], all[j])
			}
		}
	}
}

// ===== TTL =====

func TestQueryIndex_ExpiredPartialSolutionDoesNotMatch(t *testing.T) {
	ix := NewQueryIndex(3)
	// query lives 10s
	if err := ix.Add(twoPatternQuery("q1", at(10))); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}

	// statement lives 5s from t=1
	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, at(6), at(1))

	// at t=7 the derived partial solution has expired with its statement
	ix.AddTuple(tuple(nn("B"), nn("age"), lit("30")), r.handle, at(12), at(7))
	if r.count() != 0 {
		t.Fatalf("expected no solution from expired partial solution, got %d", r.count())
	}
}

func TestQueryIndex_SolutionBeforeExpiry(t *testing.T) {
	ix := NewQueryIndex(3)
	if err := ix.Add(twoPatternQuery("q1", at(10))); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, at(6), at(1))

	// at t=3 the partial solution is still alive
	ix.AddTuple(tuple(nn("B"), nn("age"), lit("30")), r.handle, at(8), at(3))
	if r.count() != 1 {
		t.Fatalf("expected 1 solution before expiry, got %d", r.count())
	}
}

func TestQueryIndex_RemoveExpired(t *testing.T) {
	ix := NewQueryIndex(3)
	q := twoPatternQuery("q1", at(10))
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, at(6), at(1))

	if expired := ix.RemoveExpired(at(7)); len(expired) != 0 {
		t.Errorf("query should not have expired yet, got %v", expired)
	}
	// the statement-derived partial solution is gone; the root remains
	if ix.SolutionCount() != 1 {
		t.Errorf("expected only the root partial solution after reap, got %d", ix.SolutionCount())
	}
	for _, subs := range ix.store.subscribers {
		for _, ps := range subs {
			if ps.Expired(at(7)) {
				t.Errorf("expired partial solution survived reap: %s", ps)
			}
		}
	}

	expired := ix.RemoveExpired(at(11))
	if len(expired) != 1 || expired[0] != "q1" {
		t.Errorf("expected query q1 to expire, got %v", expired)
	}
	if ix.QueryCount() != 0 || ix.SolutionCount() != 0 || ix.PatternCount() != 0 {
		t.Error("expected empty index after query expiry")
	}
}

func TestQueryIndex_Renew(t *testing.T) {
	ix := NewQueryIndex(3)
	q := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, at(5))
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// renewed at t=4 for 10 more seconds
	ix.Renew(q, at(14))

	r := &recorder{}
	ix.AddTuple(tuple(nn("a"), nn("p"), nn("o")), r.handle, time.Time{}, at(9))
	if r.count() != 1 {
		t.Fatalf("expected a solution after renewal, got %d", r.count())
	}

	if expired := ix.RemoveExpired(at(9)); len(expired) != 0 {
		t.Errorf("renewed query must not expire at t=9, got %v", expired)
	}
}

func TestQueryIndex_WithoutRenewExpires(t *testing.T) {
	ix := NewQueryIndex(3)
	q := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, at(5))
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r := &recorder{}
	ix.AddTuple(tuple(nn("a"), nn("p"), nn("o")), r.handle, time.Time{}, at(9))
	if r.count() != 0 {
		t.Fatalf("expected no solution from expired query, got %d", r.count())
	}
}

// ===== Removal and clear =====

func TestQueryIndex_RemoveQuery(t *testing.T) {
	ix := NewQueryIndex(3)
	q := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ix.Remove(q)

	r := &recorder{}
	if ix.AddTuple(tuple(nn("a"), nn("p"), nn("o")), r.handle, time.Time{}, at(0)) {
		t.Error("expected no match after query removal")
	}
	if r.count() != 0 {
		t.Errorf("expected no solutions after removal, got %d", r.count())
	}
}

func TestQueryIndex_Clear(t *testing.T) {
	ix := NewQueryIndex(3)
	if err := ix.Add(twoPatternQuery("q1", time.Time{})); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	r := &recorder{}
	ix.AddTuple(tuple(nn("A"), nn("knows"), nn("B")), r.handle, time.Time{}, at(0))

	ix.Clear()
	if ix.QueryCount() != 0 || ix.PatternCount() != 0 || ix.SolutionCount() != 0 {
		t.Error("expected empty index after Clear")
	}
}

// ===== Pattern lifecycle events =====

type eventLog struct {
	firstSeen []string
	forgotten []string
}

func (l *eventLog) PatternFirstSeen(p *Pattern) { l.firstSeen = append(l.firstSeen, p.String()) }
func (l *eventLog) PatternForgotten(p *Pattern) { l.forgotten = append(l.forgotten, p.String()) }

func TestQueryIndex_PatternEvents(t *testing.T) {
	ix := NewQueryIndex(3)
	events := &eventLog{}
	ix.SetPatternListener(events)

	q1 := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})
	q2 := NewQuery("q2", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})

	ix.Add(q1)
	if len(events.firstSeen) != 1 {
		t.Fatalf("expected 1 first-seen event, got %d", len(events.firstSeen))
	}

	// same structural pattern: no second first-seen event
	ix.Add(q2)
	if len(events.firstSeen) != 1 {
		t.Errorf("expected no first-seen event for a known pattern, got %d", len(events.firstSeen))
	}

	ix.Remove(q1)
	if len(events.forgotten) != 0 {
		t.Errorf("pattern still subscribed by q2, got %d forgotten events", len(events.forgotten))
	}
	ix.Remove(q2)
	if len(events.forgotten) != 1 {
		t.Errorf("expected 1 forgotten event after last unsubscribe, got %d", len(events.forgotten))
	}
}

// ===== Reentrancy =====

func TestQueryIndex_HandlerReentrancy(t *testing.T) {
	ix := NewQueryIndex(3)
	q := NewQuery("q1", [][]Term{
		{Variable("s"), Constant(nn("p")), Constant(nn("o"))},
	}, time.Time{})
	if err := ix.Add(q); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	var solutions []*Bindings
	var handler SolutionHandler
	registered := false
	handler = func(queryID string, b *Bindings) {
		solutions = append(solutions, b)
		if !registered {
			registered = true
			// register another query from inside the handler
			q2 := NewQuery("q2", [][]Term{
				{Variable("s"), Constant(nn("p2")), Constant(nn("o2"))},
			}, time.Time{})
			if err := ix.Add(q2); err != nil {
				t.Errorf("reentrant Add failed: %v", err)
			}
			// and inject another matching tuple
			ix.AddTuple(tuple(nn("b"), nn("p"), nn("o")), handler, time.Time{}, at(0))
		}
	}

	ix.AddTuple(tuple(nn("a"), nn("p"), nn("o")), handler, time.Time{}, at(0))

	if len(solutions) != 2 {
		t.Fatalf("expected 2 solutions (one reentrant), got %d", len(solutions))
	}
	if ix.QueryCount() != 2 {
		t.Errorf("expected 2 queries after reentrant registration, got %d", ix.QueryCount())
	}
}
