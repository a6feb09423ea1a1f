// Package docpath applies field-path scoped updates to JSON-like documents.
//
// Backends that support partial updates natively (Mongo) translate an Update
// into their own operators via Update.Key. Backends that store whole documents
// (memory, Postgres JSONB) read the document inside their transaction and
// call Apply, which touches only the paths it is given.
package docpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Document = map[string]any

type Op uint8

const (
	OpSet Op = iota
	OpIncrement
)

var (
	ErrEmptyPath    = errors.New("docpath: empty path")
	ErrPathConflict = errors.New("docpath: path crosses a non-map value")
	ErrNotNumeric   = errors.New("docpath: increment target is not numeric")
)

type Update struct {
	Path  []string
	Op    Op
	Value any
}

func Set(value any, path ...string) Update {
	return Update{Path: path, Op: OpSet, Value: value}
}

func Increment(delta float64, path ...string) Update {
	return Update{Path: path, Op: OpIncrement, Value: delta}
}

// Key joins the path with dots. Segments must already be escaped.
func (u Update) Key() string {
	return strings.Join(u.Path, ".")
}

// Apply mutates doc in place. Intermediate maps are created as needed.
func Apply(doc Document, updates []Update) error {
	for _, u := range updates {
		if len(u.Path) == 0 {
			return ErrEmptyPath
		}
		parent, err := ensureParent(doc, u.Path[:len(u.Path)-1])
		if err != nil {
			return fmt.Errorf("%s: %w", u.Key(), err)
		}
		leaf := u.Path[len(u.Path)-1]
		switch u.Op {
		case OpSet:
			parent[leaf] = u.Value
		case OpIncrement:
			delta, ok := ToFloat(u.Value)
			if !ok {
				return fmt.Errorf("%s: %w", u.Key(), ErrNotNumeric)
			}
			current := 0.0
			if existing, found := parent[leaf]; found && existing != nil {
				current, ok = ToFloat(existing)
				if !ok {
					return fmt.Errorf("%s: %w", u.Key(), ErrNotNumeric)
				}
			}
			parent[leaf] = current + delta
		default:
			return fmt.Errorf("docpath: unknown op %d", u.Op)
		}
	}
	return nil
}

func ensureParent(doc Document, path []string) (Document, error) {
	current := doc
	for _, segment := range path {
		next, ok := current[segment]
		if !ok || next == nil {
			child := Document{}
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, ErrPathConflict
		}
		current = child
	}
	return current, nil
}

func Get(doc Document, path ...string) (any, bool) {
	var current any = doc
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Clone deep-copies nested maps and slices. Leaf values are shared.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return Clone(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
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

var (
	keyEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", "$", "%24")
	keyUnescaper = strings.NewReplacer("%2E", ".", "%24", "$", "%25", "%")
)

// EscapeKey makes a user-supplied map key safe to use as a single path segment.
func EscapeKey(key string) string {
	return keyEscaper.Replace(key)
}

func UnescapeKey(key string) string {
	return keyUnescaper.Replace(key)
}
