package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies what kind of knowledge a record holds.
type MemoryType string

const (
	TypeCoreIdentity    MemoryType = "core_identity"
	TypeProjectContext  MemoryType = "project_context"
	TypeTaskInstruction MemoryType = "task_instruction"
	TypeEpisodic        MemoryType = "episodic"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeCoreIdentity, TypeProjectContext, TypeTaskInstruction, TypeEpisodic:
		return true
	}
	return false
}

// Scope is the visibility breadth of a record.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	ScopeTask    Scope = "task"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeProject, ScopeTask:
		return true
	}
	return false
}

// RelationTypes are the allowed kinds of links between records.
var RelationTypes = map[string]bool{
	"supports":    true,
	"contradicts": true,
	"supersedes":  true,
	"refines":     true,
	"depends_on":  true,
	"implements":  true,
	"example_of":  true,
}

// TimestampFormat is fixed-width UTC so stored timestamps sort
// lexicographically as well as temporally.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Now returns the current time in the stored timestamp format.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}

// Record is the unit of storage. Optional fields are pointers so "absent"
// is explicit rather than a maybe-missing map key; a Record is validated
// once at construction and the payload shape never varies after that.
type Record struct {
	User          string            `json:"user"`
	Text          string            `json:"text"`
	MemoryType    MemoryType        `json:"memory_type"`
	Scope         Scope             `json:"scope"`
	Entity        string            `json:"entity"`
	Project       *string           `json:"project"`
	TaskID        *string           `json:"task_id"`
	RelatedTo     []string          `json:"related_to"`
	RelationTypes map[string]string `json:"relation_types"`
	Tags          []string          `json:"tags"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	Status        *string           `json:"status"`
	Priority      *int              `json:"priority"`
	Deleted       bool              `json:"deleted"`
	DeletedAt     *string           `json:"deleted_at,omitempty"`
}

// Validate enforces the scope/project/task invariants. Called before any
// embedding or storage work so invalid input never reaches the index.
func (r *Record) Validate() error {
	if r.User == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	if r.Entity == "" {
		return fmt.Errorf("%w: entity is required", ErrValidation)
	}
	if !r.MemoryType.Valid() {
		return fmt.Errorf("%w: unknown memory_type %q", ErrValidation, r.MemoryType)
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrValidation, r.Scope)
	}
	if (r.Scope == ScopeProject || r.Scope == ScopeTask) && deref(r.Project) == "" {
		return fmt.Errorf("%w: project is required when scope is %q", ErrValidation, r.Scope)
	}
	if r.Scope == ScopeTask && deref(r.TaskID) == "" {
		return fmt.Errorf("%w: task_id is required when scope is task", ErrValidation)
	}
	for _, rel := range r.RelationTypes {
		if !RelationTypes[rel] {
			return fmt.Errorf("%w: unknown relation type %q", ErrValidation, rel)
		}
	}
	return nil
}

// ID derives the record's deterministic identifier from its entity and
// creation timestamp: a v5 UUID over the nil namespace, so re-running an
// identical creation is idempotent at the identity level. Two creations
// for the same entity within one timestamp tick still collide; that
// matches the upstream scheme and is kept as-is.
func (r *Record) ID() string {
	return DeriveID(r.Entity, r.CreatedAt)
}

// DeriveID computes the deterministic record id for an entity/timestamp
// pair.
func DeriveID(entity, timestamp string) string {
	return uuid.NewSHA1(uuid.Nil, []byte(entity+":"+timestamp)).String()
}

// Payload converts the record to the index payload map.
func (r *Record) Payload() (map[string]interface{}, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal record payload: %w", err)
	}
	return payload, nil
}

// RecordFromPayload decodes an index payload back into a Record.
func RecordFromPayload(payload map[string]interface{}) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

// ParseTimestamp parses a stored timestamp, tolerating both the fixed
// format and plain RFC 3339 written by older processes.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{TimestampFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns a pointer to s, or nil when s is empty. Helper for the
// optional string fields.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
