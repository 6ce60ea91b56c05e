// Package engine implements context retrieval on top of the memory
// repository. When a project is set and no explicit scope is given it
// merges global and project results so cross-project knowledge still
// surfaces alongside project-local detail.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/keepcontext/mnemo/memory"
)

// RetrieveOptions shape a context retrieval.
type RetrieveOptions struct {
	// Scope, when set, disables hierarchical merging and searches that
	// scope only.
	Scope memory.Scope

	// Project is the active project. With no explicit Scope it triggers
	// the global + project merge.
	Project string

	TaskID      string
	MemoryTypes []memory.MemoryType

	// Limit caps total results. In hierarchical mode each half gets
	// Limit/2 (integer division, odd limits lose one slot). Defaults to 10.
	Limit int

	// ScoreThreshold drops hits scoring below it. The zero default keeps
	// every non-negative similarity.
	ScoreThreshold float64

	// IncludeRelated resolves each hit's linked memories. Defaults on at
	// the tool layer; here false means skip.
	IncludeRelated bool
}

// RelatedMemory is a resolved link attached to a context hit.
type RelatedMemory struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Relation string `json:"relation"`
}

// ContextMemory is one retrieved memory in scoring order.
type ContextMemory struct {
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	MemoryType string          `json:"memory_type"`
	Scope      string          `json:"scope"`
	Entity     string          `json:"entity"`
	Project    *string         `json:"project"`
	Score      float64         `json:"score"`
	CreatedAt  string          `json:"created_at"`
	Tags       []string        `json:"tags"`
	Related    []RelatedMemory `json:"related_memories,omitempty"`
}

// Retriever runs scoped similarity retrieval against a repository.
type Retriever struct {
	repo *memory.Repository
}

// NewRetriever creates a retriever over the given repository.
func NewRetriever(repo *memory.Repository) *Retriever {
	return &Retriever{repo: repo}
}

// RetrieveContext embeds the query once and searches either hierarchically
// (project set, no scope) or flat, then applies the score threshold and
// optionally resolves related memories.
func (r *Retriever) RetrieveContext(ctx context.Context, user, query string, opts RetrieveOptions) ([]ContextMemory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector, err := r.repo.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	types := opts.MemoryTypes

	var hits []memory.Hit
	if opts.Project != "" && opts.Scope == "" {
		half := limit / 2
		global, err := r.repo.SearchVector(ctx, user, vector, memory.FilterOptions{
			Scope:       memory.ScopeGlobal,
			TaskID:      opts.TaskID,
			MemoryTypes: types,
		}, half)
		if err != nil {
			return nil, err
		}
		scoped, err := r.repo.SearchVector(ctx, user, vector, memory.FilterOptions{
			Project:     opts.Project,
			TaskID:      opts.TaskID,
			MemoryTypes: types,
		}, half)
		if err != nil {
			return nil, err
		}
		hits = append(global, scoped...)
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > limit {
			hits = hits[:limit]
		}
	} else {
		hits, err = r.repo.SearchVector(ctx, user, vector, memory.FilterOptions{
			Scope:       opts.Scope,
			Project:     opts.Project,
			TaskID:      opts.TaskID,
			MemoryTypes: types,
		}, limit)
		if err != nil {
			return nil, err
		}
	}

	out := make([]ContextMemory, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.ScoreThreshold {
			continue
		}
		cm := ContextMemory{
			ID:         h.ID,
			Text:       h.Record.Text,
			MemoryType: string(h.Record.MemoryType),
			Scope:      string(h.Record.Scope),
			Entity:     h.Record.Entity,
			Project:    h.Record.Project,
			Score:      h.Score,
			CreatedAt:  h.Record.CreatedAt,
			Tags:       h.Record.Tags,
		}
		if opts.IncludeRelated && len(h.Record.RelatedTo) > 0 {
			cm.Related = r.resolveRelated(ctx, user, h.Record)
		}
		out = append(out, cm)
	}
	return out, nil
}

// resolveRelated follows a record's links. Foreign and missing records are
// skipped silently; transport errors are logged and skipped so one bad
// link never sinks the whole retrieval.
func (r *Retriever) resolveRelated(ctx context.Context, user string, rec *memory.Record) []RelatedMemory {
	var related []RelatedMemory
	for _, relID := range rec.RelatedTo {
		relRec, err := r.repo.Get(ctx, user, relID)
		if err != nil {
			if !errors.Is(err, memory.ErrNotFound) && !errors.Is(err, memory.ErrUnauthorized) {
				slog.Warn("failed to resolve related memory", "related_id", relID, "err", err)
			}
			continue
		}
		relation := rec.RelationTypes[relID]
		if relation == "" {
			relation = "related"
		}
		related = append(related, RelatedMemory{ID: relID, Text: relRec.Text, Relation: relation})
	}
	return related
}
