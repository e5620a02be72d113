package query

import (
	"testing"
)

func TestDefinitionMaterialize(t *testing.T) {
	def := &Definition{
		Name:       "activeByCity",
		Collection: "users",
		Action:     ActionFind,
		Query: &Spec{Where: map[string]any{
			"city":   "$city",
			"active": true,
		}},
	}
	req, err := def.Materialize(map[string]any{"city": "berlin"})
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if req.Query.Where["city"] != "berlin" {
		t.Errorf("expected substituted city, got %v", req.Query.Where["city"])
	}
	if req.Query.Where["active"] != true {
		t.Errorf("literal value was altered: %v", req.Query.Where["active"])
	}
	// The stored definition must stay untouched.
	if def.Query.Where["city"] != "$city" {
		t.Errorf("definition was mutated: %v", def.Query.Where["city"])
	}
}

func TestDefinitionMaterialize_MissingParam(t *testing.T) {
	def := &Definition{
		Name:       "byCity",
		Collection: "users",
		Action:     ActionFind,
		Query:      &Spec{Where: map[string]any{"city": "$city"}},
	}
	if _, err := def.Materialize(nil); err == nil {
		t.Fatal("expected an error for a missing parameter")
	}
}

func TestDefinitionMaterialize_NestedAndRegexLiteral(t *testing.T) {
	def := &Definition{
		Name:       "search",
		Collection: "users",
		Action:     ActionFind,
		Query: &Spec{Where: map[string]any{
			"age":  map[string]any{"$gte": "$minAge"},
			"name": map[string]any{"$regex": "$pattern"},
		}},
	}
	req, err := def.Materialize(map[string]any{"minAge": float64(21)})
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	age := req.Query.Where["age"].(map[string]any)
	if age["$gte"] != float64(21) {
		t.Errorf("expected substituted operand, got %v", age["$gte"])
	}
	name := req.Query.Where["name"].(map[string]any)
	if name["$regex"] != "$pattern" {
		t.Errorf("$regex operand must stay literal, got %v", name["$regex"])
	}
}

func TestDefinitionMaterialize_DataSubstitution(t *testing.T) {
	def := &Definition{
		Name:       "promote",
		Collection: "users",
		Action:     ActionUpdate,
		Query:      &Spec{Where: map[string]any{"_id": "$id"}},
		Data:       map[string]any{"$set": map[string]any{"role": "$role"}},
	}
	req, err := def.Materialize(map[string]any{"id": "u1", "role": "admin"})
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	set := req.Data["$set"].(map[string]any)
	if set["role"] != "admin" {
		t.Errorf("expected substituted role, got %v", set["role"])
	}
	if req.Query.Where["_id"] != "u1" {
		t.Errorf("expected substituted id, got %v", req.Query.Where["_id"])
	}
}
