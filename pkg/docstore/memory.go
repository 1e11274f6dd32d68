package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used by unit tests, seed
// scenarios, and mock-mode runs. Concurrency-safe; sequence numbers
// are global so CAS semantics match the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	indices map[string]map[string]*memDoc
	seq     int64
}

type memDoc struct {
	source      map[string]any
	seqNo       int64
	primaryTerm int64
}

// memoryPrimaryTerm is fixed for the store's lifetime; the Postgres
// store bumps its term on migration instead.
const memoryPrimaryTerm = 1

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: make(map[string]map[string]*memDoc)}
}

func (m *MemoryStore) Get(_ context.Context, index, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indices[index]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, ErrNotFound)
	}
	doc, ok := idx[id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, ErrNotFound)
	}
	return m.toDocument(index, id, doc), nil
}

func (m *MemoryStore) Index(_ context.Context, index, id string, doc any) (*Document, error) {
	source, err := toSource(doc)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	stored := &memDoc{source: source, seqNo: m.seq, primaryTerm: memoryPrimaryTerm}
	m.index(index)[id] = stored
	return m.toDocument(index, id, stored), nil
}

func (m *MemoryStore) Create(_ context.Context, index, id string, doc any) (*Document, error) {
	source, err := toSource(doc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index(index)[id]; exists {
		return nil, fmt.Errorf("create %s/%s: %w", index, id, ErrConflict)
	}
	m.seq++
	stored := &memDoc{source: source, seqNo: m.seq, primaryTerm: memoryPrimaryTerm}
	m.indices[index][id] = stored
	return m.toDocument(index, id, stored), nil
}

func (m *MemoryStore) Update(_ context.Context, index, id string, doc any, seqNo, primaryTerm int64) (*Document, error) {
	source, err := toSource(doc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.index(index)[id]
	if !ok {
		return nil, fmt.Errorf("update %s/%s: %w", index, id, ErrNotFound)
	}
	if existing.seqNo != seqNo || existing.primaryTerm != primaryTerm {
		return nil, fmt.Errorf("update %s/%s: seq_no %d≠%d: %w", index, id, existing.seqNo, seqNo, ErrConflict)
	}
	m.seq++
	stored := &memDoc{source: source, seqNo: m.seq, primaryTerm: memoryPrimaryTerm}
	m.indices[index][id] = stored
	return m.toDocument(index, id, stored), nil
}

func (m *MemoryStore) Search(_ context.Context, index string, q Query) (*SearchResult, error) {
	start := time.Now()

	m.mu.RLock()
	var hits []Hit
	for name, docs := range m.indices {
		if !indexMatches(index, name) {
			continue
		}
		for id, doc := range docs {
			score, ok := matches(doc.source, q)
			if !ok {
				continue
			}
			hits = append(hits, Hit{ID: id, Score: score, Source: doc.source})
		}
	}
	m.mu.RUnlock()

	sortHits(hits, q.Sort)
	total := len(hits)
	if q.Size > 0 && len(hits) > q.Size {
		hits = hits[:q.Size]
	}
	return &SearchResult{Hits: hits, Total: total, TookMS: time.Since(start).Milliseconds()}, nil
}

func (m *MemoryStore) Count(ctx context.Context, index string, q Query) (int, error) {
	res, err := m.Search(ctx, index, q)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

func (m *MemoryStore) DeleteByQuery(_ context.Context, index string, q Query) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for name, docs := range m.indices {
		if !indexMatches(index, name) {
			continue
		}
		for id, doc := range docs {
			if _, ok := matches(doc.source, q); ok {
				delete(docs, id)
				deleted++
			}
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Bulk(ctx context.Context, ops []BulkOp) error {
	for _, op := range ops {
		if _, err := m.Index(ctx, op.Index, op.ID, op.Doc); err != nil {
			return fmt.Errorf("bulk op %s/%s: %w", op.Index, op.ID, err)
		}
	}
	return nil
}

// index returns the named index map, creating it if needed.
// Caller must hold the write lock.
func (m *MemoryStore) index(name string) map[string]*memDoc {
	idx, ok := m.indices[name]
	if !ok {
		idx = make(map[string]*memDoc)
		m.indices[name] = idx
	}
	return idx
}

func (m *MemoryStore) toDocument(index, id string, doc *memDoc) *Document {
	return &Document{
		Index:       index,
		ID:          id,
		Source:      doc.source,
		SeqNo:       doc.seqNo,
		PrimaryTerm: doc.primaryTerm,
	}
}

// toSource normalizes any value to a JSON object map, so stored
// documents look the same regardless of input type.
func toSource(doc any) (map[string]any, error) {
	if src, ok := doc.(map[string]any); ok {
		// Round-trip anyway so nested structs normalize too.
		doc = src
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	var source map[string]any
	if err := json.Unmarshal(raw, &source); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return source, nil
}

// indexMatches reports whether a concrete index name matches the
// requested index or pattern.
func indexMatches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// matches evaluates the query conjunction against a source document.
// Returns a relevance score (1.0 for pure filters).
func matches(source map[string]any, q Query) (float64, bool) {
	for field, want := range q.Terms {
		got, ok := LookupField(source, field)
		if !ok || !looselyEqual(got, want) {
			return 0, false
		}
	}
	for field, r := range q.Ranges {
		got, ok := LookupField(source, field)
		if !ok {
			return 0, false
		}
		if r.GTE != nil && compareValues(got, r.GTE) < 0 {
			return 0, false
		}
		if r.LTE != nil && compareValues(got, r.LTE) > 0 {
			return 0, false
		}
	}

	if q.Match == "" {
		return 1.0, true
	}
	score := textScore(source, q.Match, q.MatchFields)
	if score <= 0 {
		return 0, false
	}
	if q.MinScore > 0 && score < q.MinScore {
		return 0, false
	}
	return score, true
}

// textScore is token-overlap relevance: the fraction of query tokens
// present in the matched fields. A stand-in for real keyword scoring,
// good enough for tests and mock runs.
func textScore(source map[string]any, query string, fields []string) float64 {
	var haystack strings.Builder
	if len(fields) == 0 {
		raw, _ := json.Marshal(source)
		haystack.Write(raw)
	} else {
		for _, f := range fields {
			if v, ok := LookupField(source, f); ok {
				fmt.Fprintf(&haystack, "%v ", v)
			}
		}
	}
	hay := strings.ToLower(haystack.String())

	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(hay, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// LookupField resolves a dotted field path in a source document.
func LookupField(source map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var cur any = source
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looselyEqual compares values across JSON type boundaries (ints vs
// float64, time.Time vs RFC3339 strings).
func looselyEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues orders two values: numerically when both are numbers,
// temporally when both parse as RFC3339, lexically otherwise.
func compareValues(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := stringValue(a), stringValue(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(as, bs)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}

func sortHits(hits []Hit, fields []SortField) {
	if len(fields) == 0 {
		// Default: score descending, id ascending for stability.
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].ID < hits[j].ID
		})
		return
	}
	sort.SliceStable(hits, func(i, j int) bool {
		for _, f := range fields {
			av, _ := LookupField(hits[i].Source, f.Field)
			bv, _ := LookupField(hits[j].Source, f.Field)
			cmp := compareValues(av, bv)
			if cmp == 0 {
				continue
			}
			if f.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return hits[i].ID < hits[j].ID
	})
}
