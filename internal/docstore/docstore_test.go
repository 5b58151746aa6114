package docstore

import (
	"reflect"
	"testing"
)

func TestApplyDottedPathSet(t *testing.T) {
	doc := map[string]any{"participants": map[string]any{"Alice": "key-a"}}
	Apply(doc, map[string]any{"participants.Bob": "key-b"})

	participants := doc["participants"].(map[string]any)
	if participants["Alice"] != "key-a" {
		t.Errorf("Expected Alice to survive, got %v", participants["Alice"])
	}
	if participants["Bob"] != "key-b" {
		t.Errorf("Expected Bob = key-b, got %v", participants["Bob"])
	}
}

func TestApplyDottedPathCreatesIntermediateMaps(t *testing.T) {
	doc := map[string]any{}
	Apply(doc, map[string]any{"participants.Alice": "key-a"})

	participants, ok := doc["participants"].(map[string]any)
	if !ok {
		t.Fatalf("Expected participants map, got %T", doc["participants"])
	}
	if participants["Alice"] != "key-a" {
		t.Errorf("Expected Alice = key-a, got %v", participants["Alice"])
	}
}

func TestApplyIncrement(t *testing.T) {
	doc := map[string]any{"messageCount": int64(3)}
	Apply(doc, map[string]any{"messageCount": Inc(2)})
	if doc["messageCount"] != int64(5) {
		t.Errorf("Expected 5, got %v", doc["messageCount"])
	}

	// Missing and float64 (JSON round-tripped) fields both count from
	// their current value.
	doc = map[string]any{}
	Apply(doc, map[string]any{"messageCount": Inc(2)})
	if doc["messageCount"] != int64(2) {
		t.Errorf("Expected 2 on missing field, got %v", doc["messageCount"])
	}

	doc = map[string]any{"messageCount": float64(4)}
	Apply(doc, map[string]any{"messageCount": Inc(1)})
	if doc["messageCount"] != int64(5) {
		t.Errorf("Expected 5 from float64 base, got %v", doc["messageCount"])
	}
}

func TestApplyArrayUnion(t *testing.T) {
	doc := map[string]any{"messages": []any{"a"}}
	Apply(doc, map[string]any{"messages": Union("a", "b")})

	want := []any{"a", "b"}
	if !reflect.DeepEqual(doc["messages"], want) {
		t.Errorf("Expected %v, got %v", want, doc["messages"])
	}
}

func TestApplyArrayUnionOnMissingField(t *testing.T) {
	doc := map[string]any{}
	Apply(doc, map[string]any{"messages": Union("a")})
	if !reflect.DeepEqual(doc["messages"], []any{"a"}) {
		t.Errorf("Expected [a], got %v", doc["messages"])
	}
}

func TestToDoc(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	doc, err := ToDoc(payload{Name: "x", N: 2})
	if err != nil {
		t.Fatalf("ToDoc failed: %v", err)
	}
	if doc["name"] != "x" {
		t.Errorf("Expected name x, got %v", doc["name"])
	}
	if doc["n"] != float64(2) {
		t.Errorf("Expected JSON number 2, got %v (%T)", doc["n"], doc["n"])
	}
}
