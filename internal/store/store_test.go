package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/b3vet/swiftbase/internal/logger"
	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUsers(t *testing.T, s *Store, indexes ...model.IndexSpec) {
	t.Helper()
	err := s.CreateCollection(context.Background(), &model.Collection{Name: "users", Indexes: indexes})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
}

func insertDoc(t *testing.T, s *Store, collection, id string, payload map[string]any) *model.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := &model.Document{ID: id, Version: 1, Payload: payload, CreatedAt: now, UpdatedAt: now}
	err := s.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		return s.InsertTx(context.Background(), tx, collection, doc)
	})
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	return doc
}

func parseWhere(t *testing.T, where map[string]any) *query.ParsedQuery {
	t.Helper()
	pq, err := query.Parse(&query.Request{Action: query.ActionFind, Collection: "users", Query: &query.Spec{Where: where}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return pq
}

func TestCreateCollection_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)

	if _, err := s.Collection("users"); err != nil {
		t.Fatalf("expected collection to exist: %v", err)
	}
	err := s.CreateCollection(context.Background(), &model.Collection{Name: "users"})
	if !errors.Is(err, model.Conflict("", nil)) {
		t.Errorf("expected Conflict on duplicate, got %v", err)
	}

	if err := s.DropCollection(context.Background(), "users"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err = s.Collection("users")
	if !errors.Is(err, model.CollectionNotFound("users")) {
		t.Errorf("expected CollectionNotFound after drop, got %v", err)
	}
}

func TestCreateCollection_InvalidName(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"", "1abc", "a b", "users; DROP"} {
		err := s.CreateCollection(context.Background(), &model.Collection{Name: name})
		if err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestFind_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	insertDoc(t, s, "users", "u1", map[string]any{"name": "ada", "age": float64(36), "tags": []any{"x", "y"}})
	insertDoc(t, s, "users", "u2", map[string]any{"name": "bob", "age": float64(20)})

	docs, err := s.Find(context.Background(), "users", parseWhere(t, map[string]any{"age": map[string]any{"$gte": float64(30)}}))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "u1" {
		t.Fatalf("expected u1 only, got %+v", docs)
	}
	if docs[0].Payload["name"] != "ada" {
		t.Errorf("payload lost in round trip: %v", docs[0].Payload)
	}
	tags, ok := docs[0].Payload["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("array payload lost: %v", docs[0].Payload["tags"])
	}
}

func TestFind_UnknownCollection(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Find(context.Background(), "ghosts", parseWhere(t, nil))
	if !errors.Is(err, model.CollectionNotFound("ghosts")) {
		t.Errorf("expected CollectionNotFound, got %v", err)
	}
}

func TestFind_RegexAndJSONEq(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	insertDoc(t, s, "users", "u1", map[string]any{"name": "ada", "meta": map[string]any{"a": float64(1), "b": float64(2)}})
	insertDoc(t, s, "users", "u2", map[string]any{"name": "bob"})

	docs, err := s.Find(context.Background(), "users", parseWhere(t, map[string]any{"name": map[string]any{"$regex": "^a"}}))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "u1" {
		t.Fatalf("regex match failed: %+v", docs)
	}

	// Object equality goes through the registered json_eq function; key
	// order in the operand must not matter.
	docs, err = s.Find(context.Background(), "users", parseWhere(t, map[string]any{
		"meta": map[string]any{"b": float64(2), "a": float64(1)},
	}))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "u1" {
		t.Fatalf("json_eq match failed: %+v", docs)
	}
}

func TestFind_BoolEqualityMatchesEvaluator(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	insertDoc(t, s, "users", "u1", map[string]any{"flag": true})
	insertDoc(t, s, "users", "u2", map[string]any{"flag": float64(1)})
	insertDoc(t, s, "users", "u3", map[string]any{"flag": false})

	where := map[string]any{"flag": true}
	docs, err := s.Find(context.Background(), "users", parseWhere(t, where))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "u1" {
		t.Fatalf("expected only the boolean document, got %+v", docs)
	}

	// The subscription filter path evaluates the same clause in memory;
	// both backends must agree on every stored document.
	conds, err := query.ParseWhere(where)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	all, err := s.Find(context.Background(), "users", parseWhere(t, nil))
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	for _, doc := range all {
		want := doc.ID == "u1"
		if got := query.Matches(doc.Payload, conds, "$and"); got != want {
			t.Errorf("evaluator diverges from SQL for %s: got %v", doc.ID, got)
		}
	}
}

func TestFind_OrderLimitOffset(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	for i, name := range []string{"carol", "ada", "bob"} {
		insertDoc(t, s, "users", name, map[string]any{"name": name, "n": float64(i)})
	}

	spec := &query.Spec{OrderBy: []query.OrderField{{Field: "name"}}}
	limit, offset := 2, 1
	spec.Limit, spec.Offset = &limit, &offset
	pq, err := query.Parse(&query.Request{Action: query.ActionFind, Collection: "users", Query: spec})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	docs, err := s.Find(context.Background(), "users", pq)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "bob" || docs[1].ID != "carol" {
		t.Fatalf("unexpected page: %+v", docs)
	}
}

func TestUniqueIndexConflict(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s, model.IndexSpec{Field: "email", Unique: true})
	insertDoc(t, s, "users", "u1", map[string]any{"email": "a@b.c"})

	now := time.Now().UTC()
	err := s.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		return s.InsertTx(context.Background(), tx, "users", &model.Document{
			ID: "u2", Version: 1, Payload: map[string]any{"email": "a@b.c"},
			CreatedAt: now, UpdatedAt: now,
		})
	})
	var appErr *model.Error
	if !errors.As(err, &appErr) || appErr.Code != model.CodeConflict {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if appErr.Field != "email" {
		t.Errorf("expected conflicting field email, got %q", appErr.Field)
	}
}

func TestCountAndDistinct(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	insertDoc(t, s, "users", "u1", map[string]any{"city": "berlin"})
	insertDoc(t, s, "users", "u2", map[string]any{"city": "berlin"})
	insertDoc(t, s, "users", "u3", map[string]any{"city": "paris"})

	n, err := s.Count(context.Background(), "users", parseWhere(t, map[string]any{"city": "berlin"}))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}

	pq := parseWhere(t, nil)
	pq.Distinct = "city"
	values, err := s.Distinct(context.Background(), "users", pq)
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if len(values) != 2 {
		t.Errorf("expected 2 distinct cities, got %v", values)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	doc := insertDoc(t, s, "users", "u1", map[string]any{"name": "ada"})

	doc.Payload["name"] = "ada l."
	doc.Version = 2
	doc.UpdatedAt = time.Now().UTC()
	err := s.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		return s.UpdateTx(context.Background(), tx, "users", doc)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	docs, err := s.Find(context.Background(), "users", parseWhere(t, nil))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if docs[0].Version != 2 || docs[0].Payload["name"] != "ada l." {
		t.Errorf("update not visible: %+v", docs[0])
	}

	var deleted int64
	err = s.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		deleted, err = s.DeleteTx(context.Background(), tx, "users", []string{"u1", "ghost"})
		return err
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestUpdateTx_MissingDocument(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)
	now := time.Now().UTC()
	err := s.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		return s.UpdateTx(context.Background(), tx, "users", &model.Document{
			ID: "ghost", Version: 2, Payload: map[string]any{}, CreatedAt: now, UpdatedAt: now,
		})
	})
	if !errors.Is(err, model.DocumentNotFound("users", "ghost")) {
		t.Errorf("expected DocumentNotFound, got %v", err)
	}
}

func TestQueriesCRUD(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s)

	def := &query.Definition{
		Name:       "byCity",
		Collection: "users",
		Action:     query.ActionFind,
		Query:      &query.Spec{Where: map[string]any{"city": "$city"}},
	}
	if err := s.SaveQuery(context.Background(), def); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LookupQuery(context.Background(), "byCity")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Collection != "users" || got.Query.Where["city"] != "$city" {
		t.Errorf("definition not preserved: %+v", got)
	}

	defs, err := s.ListQueries(context.Background())
	if err != nil || len(defs) != 1 {
		t.Fatalf("list: %v, %d defs", err, len(defs))
	}

	if err := s.DeleteQuery(context.Background(), "byCity"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteQuery(context.Background(), "byCity"); err == nil {
		t.Error("expected an error deleting a missing query")
	}
	if _, err := s.LookupQuery(context.Background(), "byCity"); err == nil {
		t.Error("expected lookup to fail after delete")
	}
}

func TestSaveQuery_UnknownCollection(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveQuery(context.Background(), &query.Definition{
		Name: "q", Collection: "ghosts", Action: query.ActionFind,
	})
	if !errors.Is(err, model.CollectionNotFound("ghosts")) {
		t.Errorf("expected CollectionNotFound, got %v", err)
	}
}

func TestSchemaValidationCompile(t *testing.T) {
	s := openTestStore(t)
	err := s.CreateCollection(context.Background(), &model.Collection{
		Name: "typed",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Schema("typed") == nil {
		t.Error("expected a compiled schema")
	}
	if s.Schema("untyped") != nil {
		t.Error("expected nil schema for unknown collection")
	}
}
