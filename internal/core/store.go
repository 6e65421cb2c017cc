package core

// patternStore deduplicates patterns and maintains the reverse index from
// each canonical pattern to the partial solutions awaiting it.
type patternStore struct {
	representatives map[signature]*Pattern
	subscribers     map[*Pattern][]*PartialSolution
}

func newPatternStore() *patternStore {
	return &patternStore{
		representatives: make(map[signature]*Pattern),
		subscribers:     make(map[*Pattern][]*PartialSolution),
	}
}

// intern returns the canonical instance for the given terms, inserting a new
// representative if this structural pattern has not been seen before.
func (s *patternStore) intern(terms []Term) *Pattern {
	sig := signatureOf(terms)
	if p, ok := s.representatives[sig]; ok {
		return p
	}
	p := &Pattern{terms: terms, sig: sig}
	s.representatives[sig] = p
	return p
}

// subscribe registers a partial solution as awaiting the given canonical
// pattern. Returns true if this is the first subscription to the pattern,
// which the index surfaces as a pattern-first-seen event.
func (s *patternStore) subscribe(p *Pattern, ps *PartialSolution) bool {
	subs, known := s.subscribers[p]
	s.subscribers[p] = append(subs, ps)
	return !known
}

// forget drops a pattern's representative once nothing subscribes to it.
// Unsubscription happens in bulk (see QueryIndex.removeSolutions); a pattern
// whose subscriber list empties is deleted and forgotten together.
func (s *patternStore) forget(p *Pattern) {
	delete(s.representatives, p.sig)
}

// snapshotPatterns returns a buffered copy of the currently-subscribed
// patterns. The copy is required: solution handlers may reenter the index
// and grow or shrink the subscriber map mid-iteration.
func (s *patternStore) snapshotPatterns() []*Pattern {
	patterns := make([]*Pattern, 0, len(s.subscribers))
	for p := range s.subscribers {
		patterns = append(patterns, p)
	}
	return patterns
}

// snapshotSubscribers returns a buffered copy of a pattern's subscribers.
func (s *patternStore) snapshotSubscribers(p *Pattern) []*PartialSolution {
	subs := s.subscribers[p]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*PartialSolution, len(subs))
	copy(out, subs)
	return out
}

func (s *patternStore) clear() {
	s.representatives = make(map[signature]*Pattern)
	s.subscribers = make(map[*Pattern][]*PartialSolution)
}
