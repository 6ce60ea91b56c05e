package memory

import "github.com/keepcontext/mnemo/memory/index"

// FilterOptions are the optional scoping parameters accepted by read
// operations. Zero values mean "no constraint".
type FilterOptions struct {
	Scope   Scope
	Project string
	TaskID  string
	Entity  string

	// MemoryTypes with one element becomes an equality predicate; more
	// become a match-any, OR-combined internally and AND-combined with the
	// rest.
	MemoryTypes []MemoryType

	// IncludeDeleted opts in to soft-deleted records. Off by default on
	// every read path.
	IncludeDeleted bool
}

// BuildFilter translates scoping parameters into the mandatory predicate
// conjunction applied to every index operation. The user predicate is
// always present and always first; nothing built here can read another
// user's records regardless of the remaining options.
func BuildFilter(user string, opts FilterOptions) index.Filter {
	must := []index.Condition{{Field: "user", Match: user}}

	if !opts.IncludeDeleted {
		must = append(must, index.Condition{Field: "deleted", Match: false})
	}
	if opts.Scope != "" {
		must = append(must, index.Condition{Field: "scope", Match: string(opts.Scope)})
	}
	if opts.Project != "" {
		must = append(must, index.Condition{Field: "project", Match: opts.Project})
	}
	switch len(opts.MemoryTypes) {
	case 0:
	case 1:
		must = append(must, index.Condition{Field: "memory_type", Match: string(opts.MemoryTypes[0])})
	default:
		any := make([]string, len(opts.MemoryTypes))
		for i, t := range opts.MemoryTypes {
			any[i] = string(t)
		}
		must = append(must, index.Condition{Field: "memory_type", MatchAny: any})
	}
	if opts.TaskID != "" {
		must = append(must, index.Condition{Field: "task_id", Match: opts.TaskID})
	}
	if opts.Entity != "" {
		must = append(must, index.Condition{Field: "entity", Match: opts.Entity})
	}

	return index.Filter{Must: must}
}
