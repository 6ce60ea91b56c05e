// Package qdrant implements the index.Index contract against a Qdrant
// server's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keepcontext/mnemo/memory/index"
)

// envelope is Qdrant's standard response wrapper.
type envelope[T any] struct {
	Status status  `json:"status"`
	Time   float64 `json:"time"`
	Result T       `json:"result"`
}

// status supports both `status: "ok"` and `status: {"error":"..."}`.
type status struct {
	State string
	Error string
}

func (s *status) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type pointResult struct {
	ID      json.RawMessage        `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
	Vector  []float32              `json:"vector"`
}

type scrollResult struct {
	Points []pointResult   `json:"points"`
	Offset json.RawMessage `json:"next_page_offset"`
}

// Index is a Qdrant-backed index.Index. Safe for concurrent use; the
// embedded http.Client handles connection pooling.
type Index struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// New creates a Qdrant index client for the given collection.
func New(baseURL, collection, apiKey string) *Index {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &Index{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// EnsureCollection checks for the collection first and creates it, with
// cosine vectors of the given dimension plus keyword indexes on the
// filterable fields, only when the existence check reports not-found.
func (q *Index) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("qdrant collection present", "collection", q.collection)
		return nil
	}

	slog.Info("creating qdrant collection", "collection", q.collection, "dim", dim)
	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": dim, "distance": "Cosine"},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionPath(""), body, nil); err != nil {
		// A concurrent creator is fine.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return fmt.Errorf("create collection: %w", err)
	}

	for _, field := range index.FilterableFields {
		req := map[string]interface{}{"field_name": field, "field_schema": "keyword"}
		if err := q.do(ctx, http.MethodPut, q.collectionPath("/index"), req, nil); err != nil {
			return fmt.Errorf("create payload index %q: %w", field, err)
		}
	}
	return nil
}

// collectionExists is an explicit existence probe: 200 means found, 404
// means not found, anything else is an error.
func (q *Index) collectionExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+q.collectionPath(""), nil)
	if err != nil {
		return false, err
	}
	q.setHeaders(req)
	resp, err := q.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe collection: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("probe collection: http %d", resp.StatusCode)
	}
}

// Upsert inserts or fully replaces a point.
func (q *Index) Upsert(ctx context.Context, p index.Point) error {
	req := map[string]interface{}{
		"points": []map[string]interface{}{{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}},
	}
	var resp envelope[json.RawMessage]
	if err := q.do(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

// Retrieve fetches points by id with payloads and vectors.
func (q *Index) Retrieve(ctx context.Context, ids []string) ([]index.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	req := map[string]interface{}{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp envelope[[]pointResult]
	if err := q.do(ctx, http.MethodPost, q.collectionPath("/points"), req, &resp); err != nil {
		return nil, err
	}
	points := make([]index.Point, 0, len(resp.Result))
	for _, pr := range resp.Result {
		points = append(points, toPoint(pr))
	}
	return points, nil
}

// Search runs a filtered similarity query.
func (q *Index) Search(ctx context.Context, vector []float32, filter index.Filter, limit int) ([]index.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := encodeFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp envelope[[]pointResult]
	if err := q.do(ctx, http.MethodPost, q.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]index.ScoredPoint, 0, len(resp.Result))
	for _, pr := range resp.Result {
		hits = append(hits, index.ScoredPoint{Point: toPoint(pr), Score: pr.Score})
	}
	return hits, nil
}

// Scroll enumerates matching points one page at a time. The returned
// cursor is "" once the server stops advancing, guarding against offset
// loops.
func (q *Index) Scroll(ctx context.Context, filter index.Filter, limit int, offset string) ([]index.Point, string, error) {
	req := map[string]interface{}{
		"limit":        limit,
		"with_payload": true,
	}
	if f := encodeFilter(filter); f != nil {
		req["filter"] = f
	}
	if offset != "" {
		req["offset"] = json.RawMessage(offset)
	}
	var resp envelope[scrollResult]
	if err := q.do(ctx, http.MethodPost, q.collectionPath("/points/scroll"), req, &resp); err != nil {
		return nil, "", err
	}
	points := make([]index.Point, 0, len(resp.Result.Points))
	for _, pr := range resp.Result.Points {
		points = append(points, toPoint(pr))
	}
	next := strings.TrimSpace(string(resp.Result.Offset))
	if next == "" || strings.EqualFold(next, "null") || next == offset || len(points) == 0 {
		next = ""
	}
	return points, next, nil
}

// SetPayload overwrites a point's payload, leaving the vector in place.
func (q *Index) SetPayload(ctx context.Context, id string, payload map[string]interface{}) error {
	req := map[string]interface{}{
		"payload": payload,
		"points":  []string{id},
	}
	var resp envelope[json.RawMessage]
	if err := q.do(ctx, http.MethodPut, q.collectionPath("/points/payload?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

func (q *Index) collectionPath(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(q.collection), suffix)
}

func (q *Index) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
}

func (q *Index) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, buf)
	if err != nil {
		return err
	}
	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant %s %s: http %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("qdrant %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// encodeFilter translates the portable filter into Qdrant's must/match
// representation. Returns nil for an empty filter.
func encodeFilter(f index.Filter) map[string]interface{} {
	if len(f.Must) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(f.Must))
	for _, c := range f.Must {
		cond := map[string]interface{}{"key": c.Field}
		if len(c.MatchAny) > 0 {
			cond["match"] = map[string]interface{}{"any": c.MatchAny}
		} else {
			cond["match"] = map[string]interface{}{"value": c.Match}
		}
		must = append(must, cond)
	}
	return map[string]interface{}{"must": must}
}

func toPoint(pr pointResult) index.Point {
	return index.Point{
		ID:      decodeID(pr.ID),
		Vector:  pr.Vector,
		Payload: pr.Payload,
	}
}

// decodeID tolerates both string and integer point ids on the wire.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
