// Package chromem implements the index.Index contract on chromem-go, an
// embedded pure-Go vector database. It serves local deployments and tests;
// production setups point at Qdrant instead.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/keepcontext/mnemo/memory/index"
)

// Index wraps a single chromem collection. chromem filters on string
// metadata only, so the point id is mirrored into metadata for id lookups
// and the full payload travels as JSON in the document content.
type Index struct {
	db         *chromem.DB
	name       string
	mu         sync.Mutex
	collection *chromem.Collection
	dim        int
}

// New creates an in-memory index.
func New(collection string) *Index {
	return &Index{db: chromem.NewDB(), name: collection}
}

// NewPersistent creates an index persisted under dir.
func NewPersistent(collection, dir string) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &Index{db: db, name: collection}, nil
}

// EnsureCollection looks the collection up first and creates it only when
// absent. The dimension is remembered for the probe vector used by
// enumeration.
func (c *Index) EnsureCollection(ctx context.Context, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dim = dim

	if col := c.db.GetCollection(c.name, nil); col != nil {
		c.collection = col
		return nil
	}
	slog.Info("creating chromem collection", "collection", c.name, "dim", dim)
	col, err := c.db.CreateCollection(c.name, nil, nil)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.collection = col
	return nil
}

func (c *Index) col() (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collection == nil {
		return nil, fmt.Errorf("collection %q not initialized", c.name)
	}
	return c.collection, nil
}

// Upsert replaces any existing document with the same id.
func (c *Index) Upsert(ctx context.Context, p index.Point) error {
	col, err := c.col()
	if err != nil {
		return err
	}
	// chromem has no replace; delete-then-add gives upsert semantics.
	if err := col.Delete(ctx, nil, nil, p.ID); err != nil {
		return fmt.Errorf("delete before upsert: %w", err)
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Retrieve fetches points by id via the mirrored id metadata field.
func (c *Index) Retrieve(ctx context.Context, ids []string) ([]index.Point, error) {
	col, err := c.col()
	if err != nil {
		return nil, err
	}
	var points []index.Point
	for _, id := range ids {
		results, err := c.queryAll(ctx, col, map[string]string{"id": id}, 1)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			continue
		}
		p, err := decodeResult(results[0])
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// Search runs a similarity query and applies the filter in Go, since
// chromem's where clause only covers string equality.
func (c *Index) Search(ctx context.Context, vector []float32, filter index.Filter, limit int) ([]index.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	col, err := c.col()
	if err != nil {
		return nil, err
	}
	results, err := c.queryAll(ctx, col, nil, col.Count())
	if err != nil {
		return nil, err
	}
	hits := make([]index.ScoredPoint, 0, limit)
	for _, r := range results {
		p, err := decodeResult(r)
		if err != nil {
			slog.Warn("skipping undecodable point", "id", r.ID, "err", err)
			continue
		}
		if !filter.Matches(p.Payload) {
			continue
		}
		hits = append(hits, index.ScoredPoint{Point: p, Score: cosine(vector, r.Embedding)})
		// Results come back ordered by similarity to the probe vector, not
		// to the caller's vector; collect everything and rank below.
	}
	sortByScore(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Scroll enumerates matching points in id order. The cursor is a numeric
// position into the filtered set; ids are immutable, so the order holds
// across pages even when callers rewrite payloads mid-scan.
func (c *Index) Scroll(ctx context.Context, filter index.Filter, limit int, offset string) ([]index.Point, string, error) {
	col, err := c.col()
	if err != nil {
		return nil, "", err
	}
	start := 0
	if offset != "" {
		start, err = strconv.Atoi(offset)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("bad scroll cursor %q", offset)
		}
	}
	results, err := c.queryAll(ctx, col, nil, col.Count())
	if err != nil {
		return nil, "", err
	}
	var matched []index.Point
	for _, r := range results {
		p, err := decodeResult(r)
		if err != nil {
			continue
		}
		if !filter.Matches(p.Payload) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if start >= len(matched) {
		return nil, "", nil
	}
	end := len(matched)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	next := ""
	if end < len(matched) {
		next = strconv.Itoa(end)
	}
	return matched[start:end], next, nil
}

// SetPayload re-adds the document with its stored embedding and the new
// payload.
func (c *Index) SetPayload(ctx context.Context, id string, payload map[string]interface{}) error {
	points, err := c.Retrieve(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("point %s not found", id)
	}
	return c.Upsert(ctx, index.Point{ID: id, Vector: points[0].Vector, Payload: payload})
}

// queryAll reads up to want matching documents. chromem rejects nResults
// larger than what is available, so retry downward the way it has to be
// done with this library.
func (c *Index) queryAll(ctx context.Context, col *chromem.Collection, where map[string]string, want int) ([]chromem.Result, error) {
	if want <= 0 {
		return nil, nil
	}
	probe := c.probeVector()
	for n := want; n >= 1; n-- {
		results, err := col.QueryEmbedding(ctx, probe, n, where, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
	}
	// Collection (or the filtered subset) is empty.
	return nil, nil
}

// probeVector is an arbitrary unit vector; enumeration only needs chromem
// to return documents, relevance to the probe is irrelevant.
func (c *Index) probeVector() []float32 {
	c.mu.Lock()
	dim := c.dim
	c.mu.Unlock()
	if dim <= 0 {
		dim = 1
	}
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func encodeDocument(p index.Point) (chromem.Document, error) {
	content, err := json.Marshal(p.Payload)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal payload: %w", err)
	}
	meta := map[string]string{"id": p.ID}
	for _, field := range index.FilterableFields {
		if v, ok := p.Payload[field]; ok && v != nil {
			meta[field] = fmt.Sprintf("%v", v)
		}
	}
	return chromem.Document{
		ID:        p.ID,
		Content:   string(content),
		Embedding: p.Vector,
		Metadata:  meta,
	}, nil
}

func decodeResult(r chromem.Result) (index.Point, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(r.Content), &payload); err != nil {
		return index.Point{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return index.Point{ID: r.ID, Vector: r.Embedding, Payload: payload}, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortByScore(hits []index.ScoredPoint) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
