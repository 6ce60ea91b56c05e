package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keepcontext/mnemo/memory/index"
)

// Repository owns the record lifecycle against an injected vector index
// and embedder. It has no mutable state of its own; all methods are safe
// for concurrent use.
type Repository struct {
	index    index.Index
	embedder Embedder
}

// NewRepository creates a repository over the given index and embedder.
func NewRepository(idx index.Index, embedder Embedder) *Repository {
	return &Repository{index: idx, embedder: embedder}
}

// Init makes sure the backing collection exists, sized to the embedder.
func (r *Repository) Init(ctx context.Context) error {
	return r.index.EnsureCollection(ctx, r.embedder.Dimensions())
}

// Embed exposes the repository's embedder for layers (retrieval engine)
// that need the query vector themselves.
func (r *Repository) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return vec, nil
}

// StoreParams are the caller-supplied fields for a new record. User is
// passed separately: it comes from the identity gate, never from the
// argument map.
type StoreParams struct {
	Text          string
	MemoryType    MemoryType
	Scope         Scope
	Entity        string
	Project       string
	TaskID        string
	RelatedTo     []string
	RelationTypes map[string]string
	Tags          []string
	Status        string
	Priority      *int
}

// StoreResult reports a successful store.
type StoreResult struct {
	MemoryID string `json:"memory_id"`
	Status   string `json:"status"`
}

// Store validates, embeds, and persists a new record, returning its
// deterministic id. Validation happens before the embedding call so bad
// input costs nothing.
func (r *Repository) Store(ctx context.Context, user string, p StoreParams) (*StoreResult, error) {
	now := Now()
	rec := &Record{
		User:          user,
		Text:          p.Text,
		MemoryType:    p.MemoryType,
		Scope:         p.Scope,
		Entity:        p.Entity,
		Project:       StrPtr(p.Project),
		TaskID:        StrPtr(p.TaskID),
		RelatedTo:     emptyIfNil(p.RelatedTo),
		RelationTypes: emptyMapIfNil(p.RelationTypes),
		Tags:          emptyIfNil(p.Tags),
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StrPtr(p.Status),
		Priority:      p.Priority,
		Deleted:       false,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	vector, err := r.Embed(ctx, rec.Text)
	if err != nil {
		return nil, err
	}
	payload, err := rec.Payload()
	if err != nil {
		return nil, err
	}
	id := rec.ID()
	if err := r.index.Upsert(ctx, index.Point{ID: id, Vector: vector, Payload: payload}); err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}

	slog.Info("stored memory", "memory_id", id, "user", user, "scope", rec.Scope, "entity", rec.Entity)
	return &StoreResult{MemoryID: id, Status: "stored"}, nil
}

// Fetch returns a record's text. Ownership is checked after retrieval: a
// foreign record reads as unauthorized to the caller but is logged here
// with the real identities.
func (r *Repository) Fetch(ctx context.Context, user, id string) (string, error) {
	rec, _, err := r.getOwned(ctx, user, id, "fetch")
	if err != nil {
		return "", err
	}
	return rec.Text, nil
}

// Get returns a full owned record. Used by the retrieval engine to resolve
// related ids; foreign and missing ids surface as the same errors Fetch
// produces.
func (r *Repository) Get(ctx context.Context, user, id string) (*Record, error) {
	rec, _, err := r.getOwned(ctx, user, id, "get")
	return rec, err
}

// LinkResult reports a completed link operation.
type LinkResult struct {
	Status       string `json:"status"`
	MemoryID     string `json:"memory_id"`
	RelatedID    string `json:"related_id"`
	RelationType string `json:"relation_type"`
}

// Link records a typed relation from memoryID to relatedID. Adding the
// same related id twice is a no-op on the set; the relation type is
// overwritten on re-link (last link wins).
func (r *Repository) Link(ctx context.Context, user, memoryID, relatedID, relationType string) (*LinkResult, error) {
	if !RelationTypes[relationType] {
		return nil, fmt.Errorf("%w: unknown relation type %q", ErrValidation, relationType)
	}
	rec, _, err := r.getOwned(ctx, user, memoryID, "link")
	if err != nil {
		return nil, err
	}

	if !containsID(rec.RelatedTo, relatedID) {
		rec.RelatedTo = append(rec.RelatedTo, relatedID)
	}
	if rec.RelationTypes == nil {
		rec.RelationTypes = map[string]string{}
	}
	rec.RelationTypes[relatedID] = relationType
	rec.UpdatedAt = Now()

	if err := r.replacePayload(ctx, memoryID, rec); err != nil {
		return nil, err
	}
	slog.Info("linked memories", "memory_id", memoryID, "related_id", relatedID, "relation", relationType, "user", user)
	return &LinkResult{Status: "linked", MemoryID: memoryID, RelatedID: relatedID, RelationType: relationType}, nil
}

// DeleteResult reports a soft delete. Status is "deleted" or, for a record
// already soft-deleted, "already_deleted".
type DeleteResult struct {
	Status    string  `json:"status"`
	MemoryID  string  `json:"memory_id"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

// SoftDelete hides a record from normal reads. Never removes the point;
// repeating the call is not an error.
func (r *Repository) SoftDelete(ctx context.Context, user, memoryID string) (*DeleteResult, error) {
	rec, _, err := r.getOwned(ctx, user, memoryID, "delete")
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return &DeleteResult{Status: "already_deleted", MemoryID: memoryID}, nil
	}

	now := Now()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	if err := r.replacePayload(ctx, memoryID, rec); err != nil {
		return nil, err
	}
	slog.Info("soft deleted memory", "memory_id", memoryID, "user", user)
	return &DeleteResult{Status: "deleted", MemoryID: memoryID, DeletedAt: &now}, nil
}

// SearchRow is a flat search hit: id, a short title, and a fetchable URL.
type SearchRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Search runs an unscoped (user-wide) similarity search and returns
// compact rows for listing.
func (r *Repository) Search(ctx context.Context, user, query string, limit int) ([]SearchRow, error) {
	if limit <= 0 {
		limit = 10
	}
	vector, err := r.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.SearchVector(ctx, user, vector, FilterOptions{}, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]SearchRow, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, SearchRow{
			ID:    h.ID,
			Title: truncate(h.Record.Text, 80),
			URL:   "mcp://memory/" + h.ID,
		})
	}
	return rows, nil
}

// Hit is a similarity search result carrying the decoded record.
type Hit struct {
	ID     string
	Score  float64
	Record *Record
}

// SearchVector runs a filtered similarity search with a pre-computed query
// vector. The user predicate is forced through BuildFilter regardless of
// the remaining options.
func (r *Repository) SearchVector(ctx context.Context, user string, vector []float32, opts FilterOptions, limit int) ([]Hit, error) {
	points, err := r.index.Search(ctx, vector, BuildFilter(user, opts), limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	hits := make([]Hit, 0, len(points))
	for _, sp := range points {
		rec, err := RecordFromPayload(sp.Payload)
		if err != nil {
			slog.Warn("skipping undecodable search hit", "memory_id", sp.ID, "err", err)
			continue
		}
		hits = append(hits, Hit{ID: sp.ID, Score: sp.Score, Record: rec})
	}
	return hits, nil
}

// ProjectSummary describes what a project already holds, or that it was
// just created.
type ProjectSummary struct {
	Project     string         `json:"project"`
	Exists      bool           `json:"exists"`
	Created     bool           `json:"created,omitempty"`
	MemoryCount int            `json:"memory_count"`
	ByType      map[string]int `json:"by_type"`
	LastUpdated *string        `json:"last_updated,omitempty"`
}

// EnsureProject checks whether any record exists for the project and
// creates a placeholder project_context record when none does. Otherwise
// it returns a count, a by-type histogram, and the newest update time.
func (r *Repository) EnsureProject(ctx context.Context, user, project string) (*ProjectSummary, error) {
	points, _, err := r.index.Scroll(ctx, BuildFilter(user, FilterOptions{Project: project}), 1000, "")
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	if len(points) == 0 {
		text := "Project: " + project
		res, err := r.Store(ctx, user, StoreParams{
			Text:       text,
			MemoryType: TypeProjectContext,
			Scope:      ScopeProject,
			Entity:     project,
			Project:    project,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("created project placeholder", "project", project, "memory_id", res.MemoryID, "user", user)
		return &ProjectSummary{
			Project:     project,
			Exists:      false,
			Created:     true,
			MemoryCount: 1,
			ByType:      map[string]int{string(TypeProjectContext): 1},
		}, nil
	}

	byType := map[string]int{}
	var lastUpdated string
	for _, p := range points {
		rec, err := RecordFromPayload(p.Payload)
		if err != nil {
			continue
		}
		byType[string(rec.MemoryType)]++
		if laterTimestamp(rec.UpdatedAt, lastUpdated) {
			lastUpdated = rec.UpdatedAt
		}
	}
	summary := &ProjectSummary{
		Project:     project,
		Exists:      true,
		MemoryCount: len(points),
		ByType:      byType,
	}
	if lastUpdated != "" {
		summary.LastUpdated = &lastUpdated
	}
	return summary, nil
}

// getOwned retrieves a record by id and enforces ownership. The caller
// cannot distinguish "someone else's record" from "no record"; the log can.
func (r *Repository) getOwned(ctx context.Context, user, id, op string) (*Record, index.Point, error) {
	points, err := r.index.Retrieve(ctx, []string{id})
	if err != nil {
		return nil, index.Point{}, fmt.Errorf("retrieve memory: %w", err)
	}
	if len(points) == 0 {
		return nil, index.Point{}, ErrNotFound
	}
	rec, err := RecordFromPayload(points[0].Payload)
	if err != nil {
		return nil, index.Point{}, fmt.Errorf("decode memory %s: %w", id, err)
	}
	if rec.User != user {
		slog.Warn("cross-user access denied", "op", op, "memory_id", id, "user", user, "owner", rec.User)
		return nil, index.Point{}, ErrUnauthorized
	}
	return rec, points[0], nil
}

func (r *Repository) replacePayload(ctx context.Context, id string, rec *Record) error {
	payload, err := rec.Payload()
	if err != nil {
		return err
	}
	if err := r.index.SetPayload(ctx, id, payload); err != nil {
		return fmt.Errorf("replace payload: %w", err)
	}
	return nil
}

// laterTimestamp reports whether a is strictly later than b; empty b loses
// to any parseable a.
func laterTimestamp(a, b string) bool {
	ta, ok := ParseTimestamp(a)
	if !ok {
		return false
	}
	if b == "" {
		return true
	}
	tb, ok := ParseTimestamp(b)
	if !ok {
		return true
	}
	return ta.After(tb)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMapIfNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
