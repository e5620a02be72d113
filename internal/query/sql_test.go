package query

import (
	"strings"
	"testing"
)

func compile(t *testing.T, where string) *Compiled {
	t.Helper()
	pq := &ParsedQuery{Conditions: mustConds(t, where), Combine: "$and", Limit: -1, Offset: -1}
	c, err := CompileFind("c_users", pq)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	return c
}

func TestCompileFind_NoConditions(t *testing.T) {
	pq := &ParsedQuery{Combine: "$and", Limit: -1, Offset: -1}
	c, err := CompileFind("c_users", pq)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	want := `SELECT ` + DocumentColumns + ` FROM "c_users" AS d`
	if c.SQL != want {
		t.Errorf("expected %q, got %q", want, c.SQL)
	}
	if len(c.Args) != 0 {
		t.Errorf("expected no args, got %v", c.Args)
	}
}

func TestCompileFind_Equality(t *testing.T) {
	c := compile(t, `{"name": "ada"}`)
	if !strings.Contains(c.SQL, `json_extract(d.payload_json, '$.name') IS ?`) {
		t.Errorf("unexpected SQL: %s", c.SQL)
	}
	if len(c.Args) != 1 || c.Args[0] != "ada" {
		t.Errorf("unexpected args: %v", c.Args)
	}
}

func TestCompileFind_ValuesAlwaysBound(t *testing.T) {
	// Operand values must reach the statement through bind parameters only.
	c := compile(t, `{"name": "ada'; DROP TABLE c_users; --"}`)
	if strings.Contains(c.SQL, "DROP TABLE") {
		t.Fatalf("operand leaked into SQL: %s", c.SQL)
	}
	if len(c.Args) != 1 {
		t.Errorf("expected 1 arg, got %v", c.Args)
	}
}

func TestCompileFind_RejectsHostileFieldPath(t *testing.T) {
	pq := &ParsedQuery{
		Conditions: []Condition{{Field: "a') --", Op: "$eq", Value: float64(1)}},
		Combine:    "$and", Limit: -1, Offset: -1,
	}
	if _, err := CompileFind("c_users", pq); err == nil {
		t.Fatal("expected an error for a hostile field path")
	}
}

func TestCompileFind_OrderedOpsGuardType(t *testing.T) {
	c := compile(t, `{"age": {"$gt": 21}}`)
	if !strings.Contains(c.SQL, `json_type(d.payload_json, '$.age') IN ('integer','real')`) {
		t.Errorf("expected a numeric type guard: %s", c.SQL)
	}
	if len(c.Args) != 1 || c.Args[0] != int64(21) {
		t.Errorf("unexpected args: %v", c.Args)
	}
}

func TestCompileFind_MetaColumns(t *testing.T) {
	c := compile(t, `{"_id": "abc"}`)
	if !strings.Contains(c.SQL, "d.id IS ?") {
		t.Errorf("expected _id to map to d.id: %s", c.SQL)
	}
}

func TestCompileFind_BoolGuardsType(t *testing.T) {
	c := compile(t, `{"active": true}`)
	if len(c.Args) != 1 || c.Args[0] != int64(1) {
		t.Errorf("expected true to bind as 1, got %v", c.Args)
	}
	// Booleans extract as 1/0, so the equality must also check the
	// storage class or {active: true} would match a numeric 1.
	if !strings.Contains(c.SQL, `json_type(d.payload_json, '$.active') IN ('true','false')`) {
		t.Errorf("expected a boolean type guard: %s", c.SQL)
	}

	c = compile(t, `{"active": {"$ne": true}}`)
	if !strings.Contains(c.SQL, "NOT (") || !strings.Contains(c.SQL, `IN ('true','false')`) {
		t.Errorf("expected a negated guarded equality: %s", c.SQL)
	}
}

func TestCompileFind_NonScalarEqUsesJSONEq(t *testing.T) {
	c := compile(t, `{"meta": {"a": 1}}`)
	if !strings.Contains(c.SQL, "json_eq(") {
		t.Errorf("expected json_eq for object equality: %s", c.SQL)
	}
}

func TestCompileFind_InWithNull(t *testing.T) {
	c := compile(t, `{"tag": {"$in": ["a", null]}}`)
	if !strings.Contains(c.SQL, "IS NULL") {
		t.Errorf("expected null branch in $in: %s", c.SQL)
	}
	if len(c.Args) != 1 {
		t.Errorf("expected only the non-null value bound: %v", c.Args)
	}
}

func TestCompileFind_ElemMatchUsesJSONEach(t *testing.T) {
	c := compile(t, `{"items": {"$elemMatch": {"qty": {"$gt": 2}}}}`)
	if !strings.Contains(c.SQL, "json_each(d.payload_json, '$.items')") {
		t.Errorf("expected json_each over the array field: %s", c.SQL)
	}
	if !strings.Contains(c.SQL, "EXISTS (SELECT 1 FROM") {
		t.Errorf("expected an EXISTS subquery: %s", c.SQL)
	}
}

func TestCompileFind_Pagination(t *testing.T) {
	tests := []struct {
		name          string
		limit, offset int
		wantSuffix    string
	}{
		{"limit only", 10, -1, " LIMIT 10"},
		{"limit zero", 0, -1, " LIMIT 0"},
		{"offset needs limit", -1, 5, " LIMIT -1 OFFSET 5"},
		{"both", 10, 5, " LIMIT 10 OFFSET 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq := &ParsedQuery{Combine: "$and", Limit: tt.limit, Offset: tt.offset}
			c, err := CompileFind("c_users", pq)
			if err != nil {
				t.Fatalf("expected no error: %v", err)
			}
			if !strings.HasSuffix(c.SQL, tt.wantSuffix) {
				t.Errorf("expected suffix %q, got %q", tt.wantSuffix, c.SQL)
			}
		})
	}
}

func TestCompileFind_OrderBy(t *testing.T) {
	pq := &ParsedQuery{
		Combine: "$and", Limit: -1, Offset: -1,
		Order: []OrderField{{Field: "age", Desc: true}, {Field: "name"}},
	}
	c, err := CompileFind("c_users", pq)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	want := `ORDER BY json_extract(d.payload_json, '$.age') DESC, json_extract(d.payload_json, '$.name') ASC`
	if !strings.Contains(c.SQL, want) {
		t.Errorf("expected %q in %q", want, c.SQL)
	}
}

func TestCompileFind_Distinct(t *testing.T) {
	pq := &ParsedQuery{Combine: "$and", Limit: -1, Offset: -1, Distinct: "city"}
	c, err := CompileFind("c_users", pq)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if !strings.HasPrefix(c.SQL, `SELECT DISTINCT json_extract(d.payload_json, '$.city') FROM`) {
		t.Errorf("unexpected SQL: %s", c.SQL)
	}
}

func TestCompileCount(t *testing.T) {
	pq := &ParsedQuery{Conditions: mustConds(t, `{"age": 3}`), Combine: "$and", Limit: -1, Offset: -1}
	c, err := CompileCount("c_users", pq)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if !strings.HasPrefix(c.SQL, `SELECT COUNT(*) FROM "c_users" AS d WHERE `) {
		t.Errorf("unexpected SQL: %s", c.SQL)
	}
}

func TestCompileDelete(t *testing.T) {
	c := CompileDelete("c_users", []string{"a", "b"})
	want := `DELETE FROM "c_users" WHERE id IN (?,?)`
	if c.SQL != want {
		t.Errorf("expected %q, got %q", want, c.SQL)
	}
	if len(c.Args) != 2 {
		t.Errorf("unexpected args: %v", c.Args)
	}
}
