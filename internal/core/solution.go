package core

import (
	"fmt"
	"time"
)

// PartialSolution is a query in progress: the patterns still to be satisfied
// and the bindings accumulated while satisfying the others. A partial
// solution expires at the minimum of the TTLs that contributed to it.
type PartialSolution struct {
	queryID   string
	patterns  []*Pattern
	bindings  *Bindings
	expiresAt time.Time // zero means never
}

// QueryID identifies the owning query subscription.
func (ps *PartialSolution) QueryID() string {
	return ps.queryID
}

// Patterns returns the canonical patterns still to be satisfied.
func (ps *PartialSolution) Patterns() []*Pattern {
	return ps.patterns
}

// Bindings returns the accumulated binding set.
func (ps *PartialSolution) Bindings() *Bindings {
	return ps.bindings
}

// Expired reports whether the partial solution's TTL has elapsed.
func (ps *PartialSolution) Expired(now time.Time) bool {
	return !ps.expiresAt.IsZero() && !ps.expiresAt.After(now)
}

func (ps *PartialSolution) String() string {
	return fmt.Sprintf("partial{query=%s patterns=%d bindings=%s}",
		ps.queryID, len(ps.patterns), ps.bindings)
}

// equals reports structural equality of (queryID, patterns, bindings).
// Pattern sets compare by identity thanks to canonicalization.
func (ps *PartialSolution) equals(other *PartialSolution) bool {
	if ps.queryID != other.queryID || len(ps.patterns) != len(other.patterns) {
		return false
	}
	for _, p := range ps.patterns {
		found := false
		for _, q := range other.patterns {
			if p == q {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return ps.bindings.equals(other.bindings)
}

// minExpiry combines two expiration times, treating the zero time as never.
func minExpiry(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if a.Before(b) {
		return a
	}
	return b
}

// maxExpiry keeps the later of two expiration times, treating the zero time
// as never.
func maxExpiry(a, b time.Time) time.Time {
	if a.IsZero() || b.IsZero() {
		return time.Time{}
	}
	if a.After(b) {
		return a
	}
	return b
}
