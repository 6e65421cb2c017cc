// Package engine implements the continuous query engine: it ties the query
// index to the SPARQL front-end, owns the subscription table, and runs the
// TTL cleanup task. All index access is serialized by a single mutex; user
// handlers are invoked after the lock is released, so they may reenter the
// engine freely.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aleksaelezovic/tristream/internal/core"
	"github.com/aleksaelezovic/tristream/internal/sparql"
	"github.com/aleksaelezovic/tristream/pkg/rdf"
	"github.com/aleksaelezovic/tristream/pkg/stream"
)

// LinkedData is the optional fetch-on-reference collaborator. It observes
// pattern and statement activity and may asynchronously inject statements
// back into the engine.
type LinkedData interface {
	core.PatternListener

	// TupleMatched is called when an ingested tuple matched at least one
	// indexed pattern.
	TupleMatched(tuple []rdf.Term)

	// Invalidate clears cached dereference state; called when a new query
	// is admitted, as its evaluation may need sources already processed.
	Invalidate()

	// Close stops the fetch workers.
	Close()
}

// defaultCleanupSchedule fires a policy check even when the engine is idle.
const defaultCleanupSchedule = "@every 30s"

// Engine is the concrete stream.QueryEngine.
type Engine struct {
	mu            sync.Mutex
	index         *core.QueryIndex
	subscriptions map[string]*subscription
	evaluator     *sparql.Evaluator

	clock  stream.Clock
	policy stream.CleanupPolicy

	timeOfLastCleanup time.Time
	queriesAdded      int
	statementsAdded   int

	metrics *metrics
	linked  LinkedData

	// deliveries accumulated while the lock is held, flushed after release
	pending []delivery

	cleanupCh chan time.Time
	done      chan struct{}
	cron      *cron.Cron
	active    bool
}

type delivery struct {
	handler  stream.BindingSetHandler
	solution stream.BindingSet
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics enables performance-metric TSV output on w.
func WithMetrics(w io.Writer) Option {
	return func(e *Engine) {
		e.metrics = newMetrics(w)
	}
}

// WithLinkedData attaches the Linked Data fetch-on-reference subsystem.
func WithLinkedData(ld LinkedData) Option {
	return func(e *Engine) {
		e.linked = ld
	}
}

// New creates an engine with an empty index and starts its cleanup task.
func New(opts ...Option) *Engine {
	e := &Engine{
		index:         core.NewQueryIndex(3),
		subscriptions: make(map[string]*subscription),
		evaluator:     sparql.NewEvaluator(),
		clock:         stream.SystemClock{},
		policy:        stream.DefaultCleanupPolicy,
		cleanupCh:     make(chan time.Time, 1),
		done:          make(chan struct{}),
		active:        true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.linked != nil {
		e.index.SetPatternListener(e.linked)
	}
	if e.metrics != nil {
		e.metrics.logHeader()
	}

	go e.cleanupLoop()

	// a scheduled policy check keeps TTLs honored on an idle stream
	e.cron = cron.New()
	e.cron.AddFunc(defaultCleanupSchedule, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.active {
			e.checkCleanupLocked(e.clock.Now())
		}
	})
	e.cron.Start()

	return e
}

// AddQuery admits a SPARQL SELECT query. See stream.QueryEngine.
func (e *Engine) AddQuery(ttl int, queryText string, handler stream.BindingSetHandler) (stream.Subscription, error) {
	parsed, err := sparql.Parse(queryText)
	if err != nil {
		return nil, err
	}
	compiled, err := sparql.Compile(parsed)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("nil binding set handler")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return nil, errors.New("engine is shut down")
	}

	now := e.clock.Now()
	e.metrics.beginOperation(now)
	e.metrics.countQuery()

	// cached dereference state may exclude sources the new query needs
	if e.linked != nil {
		e.linked.Invalidate()
	}

	sub := &subscription{
		id:       uuid.New().String(),
		engine:   e,
		compiled: compiled,
		handler:  handler,
		active:   true,
	}
	sub.query = core.NewQuery(sub.id, compiled.Patterns, expiration(ttl, now))

	if err := e.index.Add(sub.query); err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrIncompatibleQuery, err)
	}
	e.subscriptions[sub.id] = sub

	if e.linked != nil {
		for _, p := range sub.query.Patterns() {
			e.linked.PatternFirstSeen(p)
		}
	}

	e.metrics.logEntry(e.clock.Now())

	e.queriesAdded++
	e.checkCleanupLocked(now)

	return sub, nil
}

// AddStatement ingests a single triple. See stream.QueryEngine.
func (e *Engine) AddStatement(ttl int, statement *rdf.Triple) {
	e.AddStatements(ttl, statement)
}

// AddStatements ingests a batch of triples. See stream.QueryEngine.
func (e *Engine) AddStatements(ttl int, statements ...*rdf.Triple) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}

	for _, s := range statements {
		e.ingestLocked(ttl, s)
		e.statementsAdded++
	}
	e.checkCleanupLocked(e.clock.Now())

	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	// handlers run outside the lock: they may add queries or statements,
	// and a panic propagates to the ingestion caller
	for _, d := range pending {
		d.handler(d.solution)
	}
}

func (e *Engine) ingestLocked(ttl int, statement *rdf.Triple) {
	now := e.clock.Now()
	e.metrics.beginOperation(now)
	e.metrics.countStatement()

	tuple := statement.Terms()
	changed := e.index.AddTuple(tuple, e.handleCandidateSolution, expiration(ttl, now), now)

	// cue dereferencing of the statement's subject and object IRIs, but
	// only if at least one pattern in the index matched the tuple
	if changed && e.linked != nil {
		e.linked.TupleMatched(tuple)
	}

	e.metrics.logEntry(e.clock.Now())
}

// handleCandidateSolution filters, projects, and sequences a raw solution
// from the query index. Called with the engine lock held.
func (e *Engine) handleCandidateSolution(queryID string, b *core.Bindings) {
	sub, ok := e.subscriptions[queryID]
	if !ok {
		return
	}

	// after a query is removed, a few more answers from the statement
	// that completed it may still arrive here
	if !sub.active {
		return
	}

	// the raw binding set still contains non-selected variables, suitable
	// for filtering but not yet a final query result
	for _, f := range sub.compiled.Filters {
		pass, err := e.evaluator.Apply(f, b.Get)
		if err != nil {
			slog.Error("filter evaluation failed, rejecting candidate solution",
				"query", queryID, "error", err)
			return
		}
		if !pass {
			return
		}
	}

	solution := stream.NewBindingSet()

	// drop non-selected variables and project the final names
	for _, name := range sub.compiled.BindingNames {
		value := b.Get(name)
		if value == nil {
			continue
		}
		target := name
		if renamed, ok := sub.compiled.Renames[name]; ok {
			target = renamed
		}
		solution.Add(target, value)
	}

	// adding constants after filter application assumes constants are
	// never filtered on; they go in name order so that equal solutions
	// always render alike (DISTINCT keys on the rendering)
	constNames := make([]string, 0, len(sub.compiled.Constants))
	for name := range sub.compiled.Constants {
		constNames = append(constNames, name)
	}
	sort.Strings(constNames)
	for _, name := range constNames {
		solution.Add(name, sub.compiled.Constants[name])
	}

	if !sub.compiled.Modifier.TrySolution(solution, func() { e.deactivateLocked(sub) }) {
		return
	}

	e.metrics.countSolution()
	e.metrics.logSolution(e.clock.Now(), solution)

	e.pending = append(e.pending, delivery{handler: sub.handler, solution: solution})
}

// deactivateLocked cancels a subscription and frees its index storage.
// Idempotent. Called with the engine lock held.
func (e *Engine) deactivateLocked(sub *subscription) {
	if !sub.active {
		return
	}
	sub.active = false
	e.index.Remove(sub.query)
	delete(e.subscriptions, sub.id)
}

// Clear drops all queries, partial solutions, and counters.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subscriptions {
		sub.active = false
	}
	e.subscriptions = make(map[string]*subscription)
	e.index.Clear()
	e.metrics.reset()
	e.metrics.logHeader()
}

// ShutDown terminates the cleanup task and the Linked Data workers.
func (e *Engine) ShutDown() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.mu.Unlock()

	close(e.done)
	e.cron.Stop()
	if e.linked != nil {
		e.linked.Close()
	}
}

// SetClock injects the engine's time source.
func (e *Engine) SetClock(clock stream.Clock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetCleanupPolicy injects the cleanup decision policy.
func (e *Engine) SetCleanupPolicy(policy stream.CleanupPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
}

// Get returns a performance-metric quantity. Metrics must be enabled.
func (e *Engine) Get(q Quantity) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.metrics == nil {
		return 0, errors.New("performance metrics are disabled; quantities are not counted")
	}
	return e.metrics.get(q)
}

// checkCleanupLocked consults the cleanup policy and signals the cleanup
// task when a pass is due. Called with the engine lock held.
func (e *Engine) checkCleanupLocked(now time.Time) {
	seconds := int(now.Sub(e.timeOfLastCleanup) / time.Second)

	if e.policy(seconds, e.queriesAdded, e.statementsAdded) {
		e.timeOfLastCleanup = now
		e.queriesAdded = 0
		e.statementsAdded = 0

		select {
		case e.cleanupCh <- now:
		default: // a pass is already scheduled
		}
	}
}

// cleanupLoop is the TTL reaper task. Eviction happens under the same lock
// as ingestion, so reaping never observes a half-extended partial solution.
func (e *Engine) cleanupLoop() {
	for {
		select {
		case <-e.done:
			return
		case now := <-e.cleanupCh:
			e.removeExpired(now)
		}
	}
}

func (e *Engine) removeExpired(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.index.RemoveExpired(now) {
		if sub, ok := e.subscriptions[id]; ok {
			sub.active = false
			delete(e.subscriptions, id)
		}
	}
}

// expiration converts a TTL in seconds to an absolute expiration time.
// The zero time means never.
func expiration(ttl int, now time.Time) time.Time {
	if ttl == stream.TTLInfinite {
		return time.Time{}
	}
	return now.Add(time.Duration(ttl) * time.Second)
}
