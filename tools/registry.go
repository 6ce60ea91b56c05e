// Package tools exposes the memory operations as named tools with JSON
// Schema inputs and dispatches invocations onto the repository and the
// retrieval engine. All failures a caller can act on come back as in-band
// error results; only transport-level problems surface as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/keepcontext/mnemo/core"
	"github.com/keepcontext/mnemo/engine"
	"github.com/keepcontext/mnemo/memory"
)

// Registry routes tool calls by name.
type Registry struct {
	repo      *memory.Repository
	retriever *engine.Retriever
}

// NewRegistry creates a registry over the repository and retriever.
func NewRegistry(repo *memory.Repository, retriever *engine.Retriever) *Registry {
	return &Registry{repo: repo, retriever: retriever}
}

// Dispatch runs a named tool for an authenticated user. Unknown names and
// domain failures produce error results, not errors; a non-nil error means
// the result could not be produced at all.
func (r *Registry) Dispatch(ctx context.Context, ident core.Identity, name string, args map[string]interface{}) *core.ToolResult {
	if !ident.Valid() {
		return core.ErrorResult("Error: Unauthorized - no valid user context")
	}
	user := ident.UserID

	switch name {
	case "search":
		return r.search(ctx, user, args)
	case "fetch":
		return r.fetch(ctx, user, args)
	case "store_memory":
		return r.storeMemory(ctx, user, args)
	case "retrieve_context":
		return r.retrieveContext(ctx, user, args)
	case "set_project":
		return r.setProject(ctx, user, args)
	case "get_context_info":
		return r.contextInfo(user)
	case "link_memories":
		return r.linkMemories(ctx, user, args)
	case "list_entities":
		return r.listEntities(ctx, user, args)
	case "search_entities":
		return r.searchEntities(ctx, user, args)
	case "delete_memory":
		return r.deleteMemory(ctx, user, args)
	default:
		return core.ErrorResult("Unknown tool")
	}
}

func (r *Registry) search(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	query, ok := strArg(args, "query")
	if !ok {
		return core.ErrorResult("Error: query is required")
	}
	rows, err := r.repo.Search(ctx, user, query, 10)
	if err != nil {
		slog.Error("search failed", "user", user, "err", err)
		return core.ErrorResult("Error: search failed")
	}
	return jsonResult(rows, true)
}

func (r *Registry) fetch(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	id, ok := strArg(args, "id")
	if !ok {
		return core.ErrorResult("Error: id is required")
	}
	text, err := r.repo.Fetch(ctx, user, id)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return core.ErrorResult("Error: Memory not found")
	case errors.Is(err, memory.ErrUnauthorized):
		return core.ErrorResult("Error: Unauthorized")
	case err != nil:
		slog.Error("fetch failed", "memory_id", id, "err", err)
		return core.ErrorResult("Error: Could not fetch memory.")
	}
	return core.TextResult(text)
}

func (r *Registry) storeMemory(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	text, _ := strArg(args, "text")
	memType, _ := strArg(args, "memory_type")
	scope, _ := strArg(args, "scope")
	entity, _ := strArg(args, "entity")
	project, _ := strArg(args, "project")
	taskID, _ := strArg(args, "task_id")
	status, _ := strArg(args, "status")

	params := memory.StoreParams{
		Text:          text,
		MemoryType:    memory.MemoryType(memType),
		Scope:         memory.Scope(scope),
		Entity:        entity,
		Project:       project,
		TaskID:        taskID,
		RelatedTo:     strSliceArg(args, "related_to"),
		RelationTypes: strMapArg(args, "relation_types"),
		Tags:          strSliceArg(args, "tags"),
		Status:        status,
		Priority:      intPtrArg(args, "priority"),
	}
	res, err := r.repo.Store(ctx, user, params)
	if err != nil {
		if errors.Is(err, memory.ErrValidation) {
			return core.ErrorResult("Error: " + validationMessage(err))
		}
		slog.Error("store failed", "user", user, "err", err)
		return core.ErrorResult("Error: could not store memory")
	}
	return jsonResult(res, false)
}

func (r *Registry) retrieveContext(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	query, ok := strArg(args, "query")
	if !ok {
		return core.ErrorResult("Error: query is required")
	}
	scope, _ := strArg(args, "scope")
	project, _ := strArg(args, "project")
	taskID, _ := strArg(args, "task_id")

	var types []memory.MemoryType
	for _, t := range strSliceArg(args, "memory_type") {
		types = append(types, memory.MemoryType(t))
	}

	opts := engine.RetrieveOptions{
		Scope:          memory.Scope(scope),
		Project:        project,
		TaskID:         taskID,
		MemoryTypes:    types,
		Limit:          intArg(args, "limit", 10),
		ScoreThreshold: floatArg(args, "score_threshold", 0),
		IncludeRelated: boolArg(args, "include_related", true),
	}
	memories, err := r.retriever.RetrieveContext(ctx, user, query, opts)
	if err != nil {
		slog.Error("retrieve_context failed", "user", user, "err", err)
		return core.ErrorResult("Error: retrieval failed")
	}
	return jsonResult(memories, true)
}

func (r *Registry) setProject(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	project, ok := strArg(args, "project")
	if !ok {
		return core.ErrorResult("Error: project is required")
	}
	summary, err := r.repo.EnsureProject(ctx, user, project)
	if err != nil {
		slog.Error("set_project failed", "project", project, "err", err)
		return core.ErrorResult("Error: could not set project")
	}
	return jsonResult(summary, false)
}

func (r *Registry) linkMemories(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	memoryID, ok := strArg(args, "memory_id")
	if !ok {
		return core.ErrorResult("Error: memory_id is required")
	}
	relatedID, ok := strArg(args, "related_id")
	if !ok {
		return core.ErrorResult("Error: related_id is required")
	}
	relationType, ok := strArg(args, "relation_type")
	if !ok {
		return core.ErrorResult("Error: relation_type is required")
	}

	res, err := r.repo.Link(ctx, user, memoryID, relatedID, relationType)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return core.ErrorResult("Error: Memory " + memoryID + " not found")
	case errors.Is(err, memory.ErrUnauthorized):
		return core.ErrorResult("Error: Unauthorized - cannot modify other user's memories")
	case errors.Is(err, memory.ErrValidation):
		return core.ErrorResult("Error: " + validationMessage(err))
	case err != nil:
		slog.Error("link failed", "memory_id", memoryID, "err", err)
		return core.ErrorResult("Error: " + err.Error())
	}
	return jsonResult(res, false)
}

func (r *Registry) listEntities(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	scope, _ := strArg(args, "scope")
	project, _ := strArg(args, "project")
	memType, _ := strArg(args, "memory_type")

	opts := memory.FilterOptions{Scope: memory.Scope(scope), Project: project}
	if memType != "" {
		opts.MemoryTypes = []memory.MemoryType{memory.MemoryType(memType)}
	}
	entities, err := r.repo.ListEntities(ctx, user, opts)
	if err != nil {
		slog.Error("list_entities failed", "user", user, "err", err)
		return core.ErrorResult("Error: could not list entities")
	}
	return jsonResult(map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	}, true)
}

func (r *Registry) searchEntities(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	query, ok := strArg(args, "query")
	if !ok {
		return core.ErrorResult("Error: query is required")
	}
	scope, _ := strArg(args, "scope")
	limit := intArg(args, "limit", 5)

	matches, err := r.repo.SearchEntities(ctx, user, query, memory.FilterOptions{Scope: memory.Scope(scope)}, limit)
	if err != nil {
		slog.Error("search_entities failed", "user", user, "err", err)
		return core.ErrorResult("Error: could not search entities")
	}
	return jsonResult(map[string]interface{}{"matches": matches}, true)
}

func (r *Registry) deleteMemory(ctx context.Context, user string, args map[string]interface{}) *core.ToolResult {
	memoryID, ok := strArg(args, "memory_id")
	if !ok {
		return core.ErrorResult("Error: memory_id is required")
	}
	res, err := r.repo.SoftDelete(ctx, user, memoryID)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return core.ErrorResult("Error: Memory " + memoryID + " not found")
	case errors.Is(err, memory.ErrUnauthorized):
		return core.ErrorResult("Error: Unauthorized - cannot delete other user's memories")
	case err != nil:
		slog.Error("delete failed", "memory_id", memoryID, "err", err)
		return core.ErrorResult("Error: " + err.Error())
	}
	return jsonResult(res, false)
}

func jsonResult(v interface{}, indent bool) *core.ToolResult {
	var (
		raw []byte
		err error
	)
	if indent {
		raw, err = json.MarshalIndent(v, "", "  ")
	} else {
		raw, err = json.Marshal(v)
	}
	if err != nil {
		slog.Error("marshal tool result", "err", err)
		return core.ErrorResult("Error: could not encode result")
	}
	return core.TextResult(string(raw))
}

// validationMessage strips the sentinel prefix so callers see only the
// actionable part of a validation failure.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func strArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func strSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strMapArg(args map[string]interface{}, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func intPtrArg(args map[string]interface{}, key string) *int {
	switch v := args[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	default:
		return nil
	}
}

func floatArg(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func boolArg(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
