package tools

import (
	"github.com/keepcontext/mnemo/core"
)

// Definitions returns every tool the server advertises, in the order
// tools/list reports them.
func Definitions() []core.ToolDefinition {
	return []core.ToolDefinition{
		{
			Name:        "search",
			Description: "Search for memories based on a query string.",
			InputSchema: ObjectSchema(map[string]interface{}{
				"query": StringProperty("The query to search for."),
			}, "query"),
		},
		{
			Name:        "fetch",
			Description: "Fetch a specific memory by its ID.",
			InputSchema: ObjectSchema(map[string]interface{}{
				"id": StringProperty("The ID of the memory to fetch."),
			}, "id"),
		},
		{
			Name:        "store_memory",
			Description: "Store any type of memory with appropriate scope",
			InputSchema: ObjectSchema(map[string]interface{}{
				"text":           StringProperty(""),
				"memory_type":    StringEnumProperty("", "core_identity", "project_context", "task_instruction", "episodic"),
				"scope":          StringEnumProperty("", "global", "project", "task"),
				"entity":         StringProperty(""),
				"project":        StringProperty(""),
				"task_id":        StringProperty(""),
				"related_to":     ArrayProperty("", StringItems()),
				"relation_types": ObjectProperty(""),
				"tags":           ArrayProperty("", StringItems()),
				"status":         StringProperty(""),
				"priority":       IntegerProperty(""),
			}, "text", "memory_type", "scope", "entity"),
		},
		{
			Name:        "retrieve_context",
			Description: "Hierarchical context retrieval with scoping",
			InputSchema: ObjectSchema(map[string]interface{}{
				"query":           StringProperty(""),
				"scope":           StringProperty(""),
				"memory_type":     ArrayProperty("", StringItems()),
				"project":         StringProperty(""),
				"task_id":         StringProperty(""),
				"include_related": WithDefault(BooleanProperty(""), true),
				"limit":           WithDefault(IntegerProperty(""), 10),
				"score_threshold": WithDefault(NumberProperty(""), 0.0),
			}, "query"),
		},
		{
			Name:        "set_project",
			Description: "Validate project exists and return summary",
			InputSchema: ObjectSchema(map[string]interface{}{
				"project": StringProperty(""),
			}, "project"),
		},
		{
			Name:        "get_context_info",
			Description: "Get environment information for project detection",
			InputSchema: ObjectSchema(map[string]interface{}{}),
		},
		{
			Name:        "link_memories",
			Description: "Create explicit relationship between memories",
			InputSchema: ObjectSchema(map[string]interface{}{
				"memory_id":  StringProperty(""),
				"related_id": StringProperty(""),
				"relation_type": StringEnumProperty("",
					"supports", "contradicts", "supersedes", "refines",
					"depends_on", "implements", "example_of"),
			}, "memory_id", "related_id", "relation_type"),
		},
		{
			Name:        "list_entities",
			Description: "List all known entities with optional filtering",
			InputSchema: ObjectSchema(map[string]interface{}{
				"scope":       StringProperty(""),
				"project":     StringProperty(""),
				"memory_type": StringProperty(""),
			}),
		},
		{
			Name:        "search_entities",
			Description: "Fuzzy search for entities to prevent fragmentation",
			InputSchema: ObjectSchema(map[string]interface{}{
				"query": StringProperty(""),
				"scope": StringProperty(""),
				"limit": WithDefault(IntegerProperty(""), 5),
			}, "query"),
		},
		{
			Name:        "delete_memory",
			Description: "Soft delete a memory by ID (sets deleted=true, filters from future retrievals)",
			InputSchema: ObjectSchema(map[string]interface{}{
				"memory_id": StringProperty(""),
			}, "memory_id"),
		},
	}
}
