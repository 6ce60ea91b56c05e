// Package index defines the vector index boundary: named collections of
// (id, vector, payload) points with predicate-filtered similarity search.
//
// Implementations:
//   - qdrant: remote Qdrant over its REST API
//   - chromem: embedded chromem-go database (local / testing)
package index

import "context"

// Condition is a single equality predicate on a payload field. Exactly one
// of Match or MatchAny is set; MatchAny is an OR over values, AND-combined
// with the other conditions.
type Condition struct {
	Field    string
	Match    interface{}
	MatchAny []string
}

// Filter is a conjunction of conditions. An empty filter matches everything;
// callers building filters for data operations must go through
// memory.BuildFilter, which makes the owner predicate non-optional.
type Filter struct {
	Must []Condition
}

// Point is a stored (id, vector, payload) triple.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a search hit with its native similarity score.
type ScoredPoint struct {
	Point
	Score float64
}

// Index is the storage engine contract consumed by the memory repository.
// All methods are safe for concurrent use.
type Index interface {
	// EnsureCollection checks whether the collection exists and creates it
	// (with the declared vector dimension, cosine metric, and keyword
	// indexes on the filterable fields) only when absent.
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert inserts or fully replaces a point.
	Upsert(ctx context.Context, point Point) error

	// Retrieve fetches points by id. Missing ids are simply absent from the
	// result; no error is returned for them.
	Retrieve(ctx context.Context, ids []string) ([]Point, error)

	// Search runs a filtered nearest-neighbor query, returning up to limit
	// hits ordered by descending similarity.
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredPoint, error)

	// Scroll enumerates points matching the filter without similarity
	// ranking. offset is an opaque pagination cursor; the returned cursor
	// is empty when the enumeration is exhausted.
	Scroll(ctx context.Context, filter Filter, limit int, offset string) ([]Point, string, error)

	// SetPayload replaces a point's payload in place, leaving its vector
	// untouched.
	SetPayload(ctx context.Context, id string, payload map[string]interface{}) error
}

// FilterableFields are the payload fields that get keyword indexes at
// collection creation time. Query-time acceleration only; filters work
// without them.
var FilterableFields = []string{"user", "scope", "project", "memory_type", "entity", "deleted"}

// Matches evaluates the filter against a payload. Used by the embedded
// backend and by tests; the Qdrant backend translates the filter to its
// native representation instead.
func (f Filter) Matches(payload map[string]interface{}) bool {
	for _, c := range f.Must {
		v, ok := payload[c.Field]
		if len(c.MatchAny) > 0 {
			s, _ := v.(string)
			if !ok || !containsString(c.MatchAny, s) {
				return false
			}
			continue
		}
		if !ok || !looseEqual(v, c.Match) {
			return false
		}
	}
	return true
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// looseEqual compares payload values that may have round-tripped through
// JSON (bools stay bools, but numbers become float64).
func looseEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
