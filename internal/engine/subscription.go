package engine

import (
	"github.com/aleksaelezovic/tristream/internal/core"
	"github.com/aleksaelezovic/tristream/internal/sparql"
	"github.com/aleksaelezovic/tristream/pkg/stream"
)

// subscription ties a registered query to its handler. It implements
// stream.Subscription.
type subscription struct {
	id       string
	engine   *Engine
	query    *core.Query
	compiled *sparql.CompiledQuery
	handler  stream.BindingSetHandler
	active   bool // guarded by engine.mu
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) IsActive() bool {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.active
}

// Cancel deactivates the subscription and eagerly reclaims its index
// storage. Idempotent.
func (s *subscription) Cancel() {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.deactivateLocked(s)
}

// Renew resets the query's expiration to now + ttl. Partial solutions
// already derived from ingested statements keep the expiration they were
// clamped to at creation.
func (s *subscription) Renew(ttl int) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if !s.active {
		return
	}
	now := s.engine.clock.Now()
	s.engine.index.Renew(s.query, expiration(ttl, now))
}
