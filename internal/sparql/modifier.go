package sparql

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aleksaelezovic/tristream/pkg/stream"
)

// DistinctWindow bounds the number of solution keys remembered for DISTINCT
// bookkeeping. The stream is unbounded, so exact DISTINCT over its whole
// lifetime is not possible in constant memory; solutions older than the
// window may be re-emitted.
const DistinctWindow = 16384

// SequenceModifier applies a query's DISTINCT / REDUCED / OFFSET / LIMIT
// behavior to the stream of candidate solutions. It is stateful and owned by
// a single subscription.
type SequenceModifier struct {
	distinct bool
	reduced  bool
	offset   int64
	limit    int64
	hasLimit bool

	seen    *lru.Cache[string, struct{}]
	last    string
	hasLast bool
	skipped int64
	emitted int64
}

func newSequenceModifier(q *Query) *SequenceModifier {
	m := &SequenceModifier{
		distinct: q.Distinct,
		reduced:  q.Reduced,
	}
	if q.Offset != nil {
		m.offset = *q.Offset
	}
	if q.Limit != nil {
		m.limit = *q.Limit
		m.hasLimit = true
	}
	if m.distinct {
		// size is always positive, so the error path is unreachable
		m.seen, _ = lru.New[string, struct{}](DistinctWindow)
	}
	return m
}

// TrySolution decides whether a computed solution is delivered. It may call
// deactivate to cancel the owning subscription once a LIMIT is reached.
func (m *SequenceModifier) TrySolution(solution stream.BindingSet, deactivate func()) bool {
	if m.distinct {
		key := solution.String()
		if m.seen.Contains(key) {
			return false
		}
		m.seen.Add(key, struct{}{})
	} else if m.reduced {
		key := solution.String()
		if m.hasLast && m.last == key {
			return false
		}
		m.last = key
		m.hasLast = true
	}

	if m.skipped < m.offset {
		m.skipped++
		return false
	}

	if m.hasLimit {
		if m.emitted >= m.limit {
			return false
		}
		m.emitted++
		if m.emitted >= m.limit {
			deactivate()
		}
	}

	return true
}
