// Package store implements the document store facade (spec.md §4.2 / §9):
// a small, enumerated command set over keyed documents rather than an
// opaque query AST, grounded on the teacher's pebble-backed persistence
// layer (pkg/storage/pebble_store.go) generalized from per-entity methods
// to one generic, collection-keyed codec.
package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/futureshock/meeray-core/pkg/bigmath"
)

// Document is a keyed, MongoDB-like document. Every document must carry an
// "_id" field identifying it within its collection.
type Document map[string]interface{}

// M is a query or filter clause.
type M map[string]interface{}

// In matches when the field's value is one of Values.
type In struct{ Values []interface{} }

// Lt matches when the field's value is strictly less than Value (numeric
// comparison when both sides parse as decimal integers, lexicographic
// string comparison otherwise — sufficient for ISO-8601 timestamps).
type Lt struct{ Value interface{} }

// Update is the operator set spec.md §4.2 requires: $set and $inc.
// Field paths use "." to address nested documents (e.g. "balances.MRY").
type Update struct {
	Set map[string]interface{}
	Inc map[string]interface{}
}

// SortSpec names the field and direction FindOneAndUpdate sorts candidates
// by before picking the first match (spec.md §4.2's "pick-oldest" pattern).
type SortSpec struct {
	Field     string
	Ascending bool
}

// FindOneAndUpdateOptions configures FindOneAndUpdate. ReturnAfter is always
// honored (the facade only ever returns the post-update document).
type FindOneAndUpdateOptions struct {
	Sort *SortSpec
}

// Store is the facade every component mutates state through (spec.md §5:
// "every writer to a given document must go through C2").
type Store interface {
	FindOne(collection string, query M) (Document, bool, error)
	Find(collection string, query M) ([]Document, error)
	InsertOne(collection string, doc Document) error
	UpdateOne(collection string, query M, upd Update) (bool, error)
	FindOneAndUpdate(collection string, query M, upd Update, opts FindOneAndUpdateOptions) (Document, bool, error)
	UpdateMany(collection string, query M, upd Update) (int, error)
}

// Matches reports whether doc satisfies query. Exported so components that
// need to pre-filter in-memory copies (e.g. the order book warmup scan) can
// reuse the exact same semantics as the facade.
func Matches(doc Document, query M) bool {
	for k, v := range query {
		if k == "$or" {
			clauses, ok := v.([]M)
			if !ok {
				return false
			}
			matched := false
			for _, c := range clauses {
				if Matches(doc, c) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		fieldVal := getPath(doc, k)
		switch vv := v.(type) {
		case In:
			found := false
			for _, cand := range vv.Values {
				if equalVal(fieldVal, cand) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case Lt:
			if !lessVal(fieldVal, vv.Value) {
				return false
			}
		default:
			if !equalVal(fieldVal, v) {
				return false
			}
		}
	}
	return true
}

// ApplyUpdate mutates doc in place per upd, and returns it.
func ApplyUpdate(doc Document, upd Update) Document {
	for k, v := range upd.Set {
		setPath(doc, k, v)
	}
	for k, v := range upd.Inc {
		cur := toBigInt(getPath(doc, k))
		delta := toBigInt(v)
		setPath(doc, k, cur.Add(delta).String())
	}
	return doc
}

// CloneDoc returns a shallow-independent copy sufficient for safe return
// from the facade (callers must not mutate nested maps concurrently; the
// executor is strictly serial so this is never a race).
func CloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if m, ok := v.(Document); ok {
			out[k] = CloneDoc(m)
		} else if m, ok := v.(map[string]interface{}); ok {
			out[k] = CloneDoc(Document(m))
		} else {
			out[k] = v
		}
	}
	return out
}

func getPath(doc Document, path string) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func setPath(doc Document, path string, value interface{}) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := asMap(cur[p])
		if !ok {
			next = Document{}
			cur[p] = next
		}
		cur = next
	}
}

func asMap(v interface{}) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]interface{}:
		return Document(m), true
	default:
		return nil, false
	}
}

func toBigInt(v interface{}) *bigmath.Int {
	switch t := v.(type) {
	case nil:
		return bigmath.Zero()
	case string:
		return bigmath.Parse(t)
	case *bigmath.Int:
		return t
	case int64:
		return bigmath.New(t)
	case int:
		return bigmath.New(int64(t))
	default:
		return bigmath.Parse(fmt.Sprintf("%v", t))
	}
}

func equalVal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	// Numeric-string fields compare by value, not by representation, so
	// "007" and "7" (or differing big.Int normalizations) still match.
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		if looksNumeric(as) && looksNumeric(bs) {
			return bigmath.Parse(as).Cmp(bigmath.Parse(bs)) == 0
		}
		return as == bs
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func lessVal(a, b interface{}) bool {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		if looksNumeric(as) && looksNumeric(bs) {
			return bigmath.Parse(as).Cmp(bigmath.Parse(bs)) < 0
		}
		return as < bs
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start >= len(s) {
		return false
	}
	for _, c := range s[start:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// mu serializes all store mutation; the executor is single-threaded per
// block (spec.md §5) so this only needs to prevent accidental reentrancy,
// not provide real concurrent throughput.
type guard struct{ mu sync.Mutex }

func (g *guard) lock()   { g.mu.Lock() }
func (g *guard) unlock() { g.mu.Unlock() }
