// Package docstore defines the reactive document store capability the rest
// of the system is built on: JSON-shaped documents addressed by collection
// and id, atomic partial updates with dotted-path sets, array-union appends
// and numeric increments, and push subscriptions that deliver the full
// document on every change.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
)

var ErrNotFound = errors.New("document not found")

// Increment marks a numeric field for atomic increment in an Update.
type Increment struct{ N int64 }

// ArrayUnion marks an array field for append in an Update. Values already
// present in the array (deep equality) are not appended again.
type ArrayUnion struct{ Values []any }

func Inc(n int64) Increment { return Increment{N: n} }

func Union(values ...any) ArrayUnion { return ArrayUnion{Values: values} }

type Store interface {
	// Set writes the document, replacing any previous value.
	Set(ctx context.Context, collection, id string, doc map[string]any) error

	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (map[string]any, error)

	// Update applies a partial update atomically. Keys are dotted field
	// paths; values may be plain JSON values or the Increment/ArrayUnion
	// markers. Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Subscribe delivers the full current document to onChange after every
	// write, starting with the state at subscription time if the document
	// exists. The returned func cancels delivery.
	Subscribe(collection, id string, onChange func(map[string]any), onError func(error)) (func(), error)
}

// Apply merges an Update field set into doc, resolving dotted paths and the
// Increment/ArrayUnion markers. doc is modified in place and returned.
// Both backends share this so their merge semantics cannot drift.
func Apply(doc map[string]any, fields map[string]any) map[string]any {
	if doc == nil {
		doc = map[string]any{}
	}
	for path, value := range fields {
		parts := strings.Split(path, ".")
		node := doc
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		switch v := value.(type) {
		case Increment:
			node[leaf] = asInt64(node[leaf]) + v.N
		case ArrayUnion:
			current, _ := node[leaf].([]any)
			for _, item := range v.Values {
				if !contains(current, item) {
					current = append(current, item)
				}
			}
			node[leaf] = current
		default:
			node[leaf] = value
		}
	}
	return doc
}

// ToDoc converts a struct to its JSON document shape.
func ToDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func contains(list []any, item any) bool {
	for _, existing := range list {
		if reflect.DeepEqual(existing, item) {
			return true
		}
	}
	return false
}
