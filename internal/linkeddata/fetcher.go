// Package linkeddata implements the optional fetch-on-reference subsystem:
// when a triple pattern is first indexed, the constant HTTP IRIs it mentions
// are dereferenced, and any statements in the retrieved documents flow back
// into the engine where they may contribute to solutions and trigger further
// fetches.
package linkeddata

import (
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/aleksaelezovic/tristream/internal/core"
	"github.com/aleksaelezovic/tristream/internal/rdfio"
	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// Ingester receives statements extracted from dereferenced documents.
type Ingester interface {
	AddStatements(ttl int, statements ...*rdf.Triple)
}

const (
	fetchTimeout = 30 * time.Second
	queueSize    = 1024
)

// Fetcher dereferences HTTP IRIs on a pool of worker goroutines and records
// what it has already fetched in a Badger-backed cache, so each IRI is
// retrieved at most once per cache lifetime.
type Fetcher struct {
	db       *badger.DB
	client   *http.Client
	ingester Ingester
	ttl      int // TTL in seconds applied to fetched statements

	tasks chan string
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// New creates a fetcher with its dereference cache at path. An empty path
// keeps the cache in memory. The statement TTL is applied to every triple
// extracted from fetched documents.
func New(path string, statementTTL int) (*Fetcher, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable default logger
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	f := &Fetcher{
		db:     db,
		client: &http.Client{Timeout: fetchTimeout},
		ttl:    statementTTL,
		tasks:  make(chan string, queueSize),
	}

	// these workers are in addition to any goroutines created externally
	workers := runtime.NumCPU() + 1
	f.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go f.worker()
	}

	return f, nil
}

// SetIngester wires the engine that receives fetched statements. Must be
// called before any pattern events arrive.
func (f *Fetcher) SetIngester(i Ingester) {
	f.ingester = i
}

// PatternFirstSeen dereferences the constant HTTP IRIs in the subject and
// object positions of a newly-indexed pattern.
func (f *Fetcher) PatternFirstSeen(p *core.Pattern) {
	terms := p.Terms()
	f.maybeEnqueue(terms[0])
	if len(terms) >= 3 {
		f.maybeEnqueue(terms[2])
	}
}

// PatternForgotten is part of core.PatternListener; nothing to undo.
func (f *Fetcher) PatternForgotten(p *core.Pattern) {}

// TupleMatched dereferences the subject or object of a matched statement
// when exactly one of the two is already cached: the uncached end of the
// link is likely to carry further relevant data.
func (f *Fetcher) TupleMatched(tuple []rdf.Term) {
	if len(tuple) < 3 {
		return
	}
	subject, sok := httpIRI(tuple[0])
	object, ook := httpIRI(tuple[2])
	if !sok || !ook {
		return
	}

	subjectCached := f.cached(subject)
	objectCached := f.cached(object)

	if subjectCached && !objectCached {
		f.enqueue(object)
	} else if objectCached && !subjectCached {
		f.enqueue(subject)
	}
}

// Invalidate clears the dereference cache; previously-fetched sources will
// be retrieved again when referenced.
func (f *Fetcher) Invalidate() {
	if err := f.db.DropAll(); err != nil {
		slog.Error("failed to clear linked data cache", "error", err)
	}
}

// Close stops the workers and closes the cache.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		close(f.tasks)
		f.wg.Wait()
		if err := f.db.Close(); err != nil {
			slog.Error("failed to close linked data cache", "error", err)
		}
	})
}

func (f *Fetcher) maybeEnqueue(t core.Term) {
	if t.IsVariable() {
		return
	}
	if uri, ok := httpIRI(t.Value()); ok {
		f.enqueue(uri)
	}
}

// enqueue hands a URI to the worker pool without blocking; pattern events
// fire under the engine lock.
func (f *Fetcher) enqueue(uri string) {
	select {
	case f.tasks <- uri:
	default:
		slog.Warn("linked data fetch queue full, dropping", "uri", uri)
	}
}

func (f *Fetcher) worker() {
	defer f.wg.Done()
	for uri := range f.tasks {
		if !f.markFetched(uri) {
			continue
		}
		f.fetch(uri)
	}
}

// markFetched records the URI in the cache; returns false if it was already
// present.
func (f *Fetcher) markFetched(uri string) bool {
	first := false
	err := f.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(uri))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		first = true
		return txn.Set([]byte(uri), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		slog.Error("linked data cache update failed", "uri", uri, "error", err)
		return false
	}
	return first
}

func (f *Fetcher) cached(uri string) bool {
	found := false
	err := f.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(uri))
		if err == nil {
			found = true
			return nil
		}
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		slog.Error("linked data cache read failed", "uri", uri, "error", err)
	}
	return found
}

// fetch retrieves one document and feeds its statements back into the
// engine. Solutions may therefore be produced on this goroutine.
func (f *Fetcher) fetch(uri string) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		slog.Error("invalid linked data uri", "uri", uri, "error", err)
		return
	}
	req.Header.Set("Accept", "application/n-triples, text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Error("linked data fetch failed", "uri", uri, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("linked data fetch rejected", "uri", uri, "status", resp.StatusCode)
		return
	}

	triples, err := rdfio.DecodeAll(resp.Body)
	if err != nil {
		slog.Error("linked data parse failed", "uri", uri, "error", err)
		return
	}
	if len(triples) == 0 || f.ingester == nil {
		return
	}

	f.ingester.AddStatements(f.ttl, triples...)
	slog.Debug("linked data document ingested", "uri", uri, "statements", len(triples))
}

func httpIRI(t rdf.Term) (string, bool) {
	if n, ok := t.(*rdf.NamedNode); ok && n.IsHTTP() {
		return n.IRI, true
	}
	return "", false
}
