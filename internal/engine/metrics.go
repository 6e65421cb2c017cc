package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/aleksaelezovic/tristream/pkg/stream"
)

// Quantity names a performance-metric counter.
type Quantity string

const (
	QuantityQueries    Quantity = "Queries"
	QuantityStatements Quantity = "Statements"
	QuantitySolutions  Quantity = "Solutions"
)

// metrics tracks operation counters and writes the TSV side-channel log.
// All methods except get are nil-safe so the engine can call them
// unconditionally; a nil metrics means the feature is disabled. Callers of
// get check for nil first.
type metrics struct {
	w io.Writer

	queries    int64
	statements int64
	solutions  int64

	operationBegan time.Time
}

func newMetrics(w io.Writer) *metrics {
	return &metrics{w: w}
}

func (m *metrics) beginOperation(now time.Time) {
	if m == nil {
		return
	}
	m.operationBegan = now
}

func (m *metrics) countQuery() {
	if m == nil {
		return
	}
	m.queries++
}

func (m *metrics) countStatement() {
	if m == nil {
		return
	}
	m.statements++
}

func (m *metrics) countSolution() {
	if m == nil {
		return
	}
	m.solutions++
}

func (m *metrics) reset() {
	if m == nil {
		return
	}
	m.queries = 0
	m.statements = 0
	m.solutions = 0
}

func (m *metrics) get(q Quantity) (int64, error) {
	switch q {
	case QuantityQueries:
		return m.queries, nil
	case QuantityStatements:
		return m.statements, nil
	case QuantitySolutions:
		return m.solutions, nil
	default:
		return 0, fmt.Errorf("no counter for quantity: %s", q)
	}
}

func (m *metrics) logHeader() {
	if m == nil {
		return
	}
	fmt.Fprintf(m.w, "LOG\ttime1,time2,%s,%s,%s\n",
		QuantityQueries, QuantityStatements, QuantitySolutions)
}

func (m *metrics) logEntry(now time.Time) {
	if m == nil {
		return
	}
	fmt.Fprintf(m.w, "LOG\t%d,%d,%d,%d,%d\n",
		m.operationBegan.UnixMilli(), now.UnixMilli(),
		m.queries, m.statements, m.solutions)
}

func (m *metrics) logSolution(now time.Time, solution stream.BindingSet) {
	if m == nil {
		return
	}
	fmt.Fprintf(m.w, "SOLUTION\t%d\t%s\n", now.UnixMilli(), solution)
}
