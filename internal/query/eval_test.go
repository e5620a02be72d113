package query

import (
	"encoding/json"
	"testing"
)

func mustConds(t *testing.T, raw string) []Condition {
	t.Helper()
	conds, err := ParseWhere(mustWhere(t, raw))
	if err != nil {
		t.Fatalf("bad test fixture %s: %v", raw, err)
	}
	return conds
}

func mustDoc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}
	return doc
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name  string
		where string
		doc   string
		want  bool
	}{
		{"eq string", `{"name": "ada"}`, `{"name": "ada"}`, true},
		{"eq mismatch", `{"name": "ada"}`, `{"name": "bob"}`, false},
		{"eq null matches missing", `{"name": null}`, `{"age": 3}`, true},
		{"eq null matches null", `{"name": null}`, `{"name": null}`, true},
		{"ne of missing field", `{"name": {"$ne": "ada"}}`, `{"age": 3}`, true},
		{"gt number", `{"age": {"$gt": 20}}`, `{"age": 21}`, true},
		{"gt mixed types never match", `{"age": {"$gt": 20}}`, `{"age": "30"}`, false},
		{"gte equal", `{"age": {"$gte": 21}}`, `{"age": 21}`, true},
		{"lt string ordering", `{"name": {"$lt": "m"}}`, `{"name": "ada"}`, true},
		{"in", `{"tag": {"$in": ["a", "b"]}}`, `{"tag": "b"}`, true},
		{"in with null matches missing", `{"tag": {"$in": [null, "a"]}}`, `{}`, true},
		{"nin", `{"tag": {"$nin": ["a"]}}`, `{"tag": "b"}`, true},
		{"nin missing field", `{"tag": {"$nin": ["a"]}}`, `{}`, true},
		{"exists true", `{"tag": {"$exists": true}}`, `{"tag": null}`, true},
		{"exists false", `{"tag": {"$exists": false}}`, `{"age": 1}`, true},
		{"type number", `{"age": {"$type": "number"}}`, `{"age": 3}`, true},
		{"type mismatch", `{"age": {"$type": "string"}}`, `{"age": 3}`, false},
		{"regex", `{"name": {"$regex": "^ad"}}`, `{"name": "ada"}`, true},
		{"regex non-string", `{"name": {"$regex": "^ad"}}`, `{"name": 3}`, false},
		{"mod", `{"n": {"$mod": [4, 0]}}`, `{"n": 8}`, true},
		{"mod truncates", `{"n": {"$mod": [4, 1]}}`, `{"n": 5.5}`, true},
		{"size", `{"tags": {"$size": 2}}`, `{"tags": ["a", "b"]}`, true},
		{"size non-array", `{"tags": {"$size": 0}}`, `{"tags": "ab"}`, false},
		{"all", `{"tags": {"$all": ["a", "b"]}}`, `{"tags": ["b", "c", "a"]}`, true},
		{"all missing element", `{"tags": {"$all": ["a", "z"]}}`, `{"tags": ["a", "b"]}`, false},
		{"elemMatch object", `{"items": {"$elemMatch": {"qty": {"$gt": 2}}}}`, `{"items": [{"qty": 1}, {"qty": 5}]}`, true},
		{"elemMatch scalar", `{"scores": {"$elemMatch": {"$gt": 80, "$lt": 90}}}`, `{"scores": [70, 85]}`, true},
		{"elemMatch no element", `{"scores": {"$elemMatch": {"$gt": 80, "$lt": 90}}}`, `{"scores": [70, 95]}`, false},
		{"dotted path", `{"a.b": 2}`, `{"a": {"b": 2}}`, true},
		{"dotted path missing", `{"a.b": 2}`, `{"a": 1}`, false},
		{"or", `{"$or": [{"a": 1}, {"b": 2}]}`, `{"b": 2}`, true},
		{"nor", `{"$nor": [{"a": 1}, {"b": 2}]}`, `{"c": 3}`, true},
		{"not", `{"$not": {"a": {"$gt": 5}}}`, `{"a": 3}`, true},
		{"object equality ignores key order", `{"meta": {"a": 1, "b": 2}}`, `{"meta": {"b": 2, "a": 1}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(mustDoc(t, tt.doc), mustConds(t, tt.where), "$and")
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestValueEqual_NumericUnification(t *testing.T) {
	if !ValueEqual(float64(1), int64(1)) {
		t.Error("expected 1.0 == 1")
	}
	if ValueEqual("1", float64(1)) {
		t.Error("expected \"1\" != 1")
	}
}
