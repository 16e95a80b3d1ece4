package mirror

import "strings"

// ChangeKind is the type of a document change.
type ChangeKind uint8

const (
	ChangeUnknown ChangeKind = iota
	ChangeAdded
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ParseChangeKind resolves a kind by its feed name. "deleted" is accepted as
// an alias of "removed".
func ParseChangeKind(name string) (ChangeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "added", "add", "insert":
		return ChangeAdded, true
	case "modified", "update":
		return ChangeModified, true
	case "removed", "deleted", "delete":
		return ChangeRemoved, true
	default:
		return ChangeUnknown, false
	}
}

// Record is one mirrored document.
type Record struct {
	ID         string
	Properties map[string]any
}

// Clone returns a deep copy. Nested maps and slices are copied too, so the
// caller may mutate any level without touching the stored record.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Properties: cloneMap(r.Properties)}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Change is one event of a collection change feed.
type Change struct {
	Kind       ChangeKind
	ID         string
	Properties map[string]any
}

// Batch is a group of ordered changes for one collection.
type Batch struct {
	Collection string
	Changes    []Change
	// Snapshot marks batches that belong to the initial snapshot.
	Snapshot bool
	// Complete marks the batch that finishes the initial snapshot.
	Complete bool
}
