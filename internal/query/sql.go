package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/b3vet/swiftbase/internal/model"
)

// SQL lowering. A ParsedQuery compiles to one parameterized statement over
// the collection's physical table; predicates extract values from the JSON
// payload column with json_extract/json_each. User input only ever reaches
// the statement through bind parameters; field paths are validated against
// fieldPathRe before they are spliced into the '$.path' literal.

// DocumentColumns is the column list of every collection table, in the
// order scanRow expects.
const DocumentColumns = "d.id, d.payload_json, d.version, d.created_at, d.updated_at, d.created_by, d.updated_by"

var fieldPathRe = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// metaColumns maps reserved metadata fields onto their physical columns.
var metaColumns = map[string]string{
	model.FieldID:        "d.id",
	model.FieldVersion:   "d.version",
	model.FieldCreatedAt: "d.created_at",
	model.FieldUpdatedAt: "d.updated_at",
}

// Compiled is one parameterized statement ready for execution.
type Compiled struct {
	SQL  string
	Args []any
}

type sqlBuilder struct {
	args    []any
	aliasN  int
	element string // json_each alias value expression inside $elemMatch, "" at top level
}

// CompileFind lowers a ParsedQuery to a SELECT over table.
func CompileFind(table string, pq *ParsedQuery) (*Compiled, error) {
	b := &sqlBuilder{}
	where, err := b.whereClause(pq)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	if pq.Distinct != "" {
		expr, err := b.valueExpr(pq.Distinct)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "SELECT DISTINCT %s FROM %s AS d", expr, quoteIdent(table))
	} else {
		fmt.Fprintf(&sb, "SELECT %s FROM %s AS d", DocumentColumns, quoteIdent(table))
	}
	sb.WriteString(where)

	if len(pq.Order) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range pq.Order {
			if i > 0 {
				sb.WriteString(", ")
			}
			expr, err := b.valueExpr(o.Field)
			if err != nil {
				return nil, err
			}
			sb.WriteString(expr)
			if o.Desc {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
		}
	}

	// SQLite needs a LIMIT when OFFSET is present; -1 means unlimited.
	if pq.Limit >= 0 || pq.Offset > 0 {
		limit := pq.Limit
		if limit < 0 {
			limit = -1
		}
		fmt.Fprintf(&sb, " LIMIT %d", limit)
		if pq.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", pq.Offset)
		}
	}

	return &Compiled{SQL: sb.String(), Args: b.args}, nil
}

// CompileCount lowers a ParsedQuery to a COUNT over table.
func CompileCount(table string, pq *ParsedQuery) (*Compiled, error) {
	b := &sqlBuilder{}
	where, err := b.whereClause(pq)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s AS d%s", quoteIdent(table), where)
	return &Compiled{SQL: sql, Args: b.args}, nil
}

// CompileDelete lowers a ParsedQuery to a DELETE of the given ids. The engine
// resolves matching ids first so pre-images can be captured.
func CompileDelete(table string, ids []string) *Compiled {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", quoteIdent(table), placeholders)
	return &Compiled{SQL: sql, Args: args}
}

func (b *sqlBuilder) whereClause(pq *ParsedQuery) (string, error) {
	if pq.MatchesAll() {
		return "", nil
	}
	expr, err := b.combineConditions(pq.Conditions, pq.Combine)
	if err != nil {
		return "", err
	}
	return " WHERE " + expr, nil
}

func (b *sqlBuilder) combineConditions(conds []Condition, combine string) (string, error) {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		p, err := b.condition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	joiner := " AND "
	if combine == "$or" {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (b *sqlBuilder) condition(c Condition) (string, error) {
	switch c.Op {
	case "$and":
		return b.combineConditions(c.Children, "$and")
	case "$or":
		return b.combineConditions(c.Children, "$or")
	case "$nor":
		inner, err := b.combineConditions(c.Children, "$or")
		if err != nil {
			return "", err
		}
		return "NOT " + parenthesize(inner), nil
	case "$not":
		inner, err := b.condition(c.Children[0])
		if err != nil {
			return "", err
		}
		return "NOT " + parenthesize(inner), nil
	}

	val, err := b.valueExpr(c.Field)
	if err != nil {
		return "", err
	}
	typ, err := b.typeExpr(c.Field)
	if err != nil {
		return "", err
	}

	switch c.Op {
	case "$eq":
		return b.equality(val, typ, c.Value, false)
	case "$ne":
		return b.equality(val, typ, c.Value, true)
	case "$gt", "$gte", "$lt", "$lte":
		return b.ordered(val, typ, c.Value, c.Op)
	case "$in":
		return b.inList(val, c.Value.([]any), false)
	case "$nin":
		return b.inList(val, c.Value.([]any), true)
	case "$exists":
		if c.Value.(bool) {
			return fmt.Sprintf("%s IS NOT NULL", typ), nil
		}
		return fmt.Sprintf("%s IS NULL", typ), nil
	case "$type":
		return fmt.Sprintf("%s IN (%s)", typ, typeClassList(c.Value.(string))), nil
	case "$regex":
		b.args = append(b.args, c.Value.(string))
		return fmt.Sprintf("(%s = 'text' AND %s REGEXP ?)", typ, val), nil
	case "$mod":
		pair := c.Value.([]int64)
		b.args = append(b.args, pair[0], pair[1])
		return fmt.Sprintf("(%s IN ('integer','real') AND CAST(%s AS INTEGER) %% ? = ?)", typ, val), nil
	case "$size":
		b.args = append(b.args, c.Value.(int64))
		return fmt.Sprintf("(%s = 'array' AND json_array_length(%s) = ?)", typ, val), nil
	case "$all":
		return b.allOf(c, val, typ)
	case "$elemMatch":
		return b.elemMatch(c, val, typ)
	default:
		return "", model.MalformedQuery("operator %s cannot be compiled", c.Op)
	}
}

// equality is NULL-safe: IS / IS NOT compare missing-or-null the same way
// the in-memory evaluator treats an absent path. Non-scalar operands go
// through json_eq so object key order does not affect the result.
func (b *sqlBuilder) equality(val, typ string, operand any, negate bool) (string, error) {
	op := "IS"
	if negate {
		op = "IS NOT"
	}
	switch operand.(type) {
	case bool:
		// Booleans extract as 1/0, so without a storage-class guard a
		// numeric 1 would satisfy {flag: true} here while the in-memory
		// evaluator rejects it.
		b.args = append(b.args, bindValue(operand))
		expr := fmt.Sprintf("(%s IN ('true','false') AND %s IS ?)", typ, val)
		if negate {
			expr = "NOT " + expr
		}
		return expr, nil
	case nil, string, float64, int, int64, json.Number:
		b.args = append(b.args, bindValue(operand))
		return fmt.Sprintf("%s %s ?", val, op), nil
	default:
		raw, err := json.Marshal(operand)
		if err != nil {
			return "", model.MalformedQuery("unencodable operand: %v", err)
		}
		b.args = append(b.args, string(raw))
		expr := fmt.Sprintf("json_eq(%s, ?)", val)
		if negate {
			expr = "NOT " + expr
		}
		return expr, nil
	}
}

func (b *sqlBuilder) ordered(val, typ string, operand any, op string) (string, error) {
	var sqlOp string
	switch op {
	case "$gt":
		sqlOp = ">"
	case "$gte":
		sqlOp = ">="
	case "$lt":
		sqlOp = "<"
	case "$lte":
		sqlOp = "<="
	}
	// Guard on the storage class so SQLite's cross-type ordering (numbers
	// sort before text) cannot make a string satisfy a numeric bound.
	if _, ok := toFloat(operand); ok {
		b.args = append(b.args, bindValue(operand))
		return fmt.Sprintf("(%s IN ('integer','real') AND %s %s ?)", typ, val, sqlOp), nil
	}
	if _, ok := operand.(string); ok {
		b.args = append(b.args, operand)
		return fmt.Sprintf("(%s = 'text' AND %s %s ?)", typ, val, sqlOp), nil
	}
	return "", model.MalformedQuery("%s requires a numeric or string operand", op)
}

func (b *sqlBuilder) inList(val string, list []any, negate bool) (string, error) {
	if len(list) == 0 {
		if negate {
			return "1=1", nil
		}
		return "1=0", nil
	}
	hasNull := false
	placeholders := make([]string, 0, len(list))
	for _, item := range list {
		if item == nil {
			hasNull = true
			continue
		}
		b.args = append(b.args, bindValue(item))
		placeholders = append(placeholders, "?")
	}
	var expr string
	switch {
	case len(placeholders) == 0:
		expr = fmt.Sprintf("%s IS NULL", val)
	case hasNull:
		expr = fmt.Sprintf("(%s IN (%s) OR %s IS NULL)", val, strings.Join(placeholders, ","), val)
	default:
		expr = fmt.Sprintf("%s IN (%s)", val, strings.Join(placeholders, ","))
	}
	if !negate {
		return expr, nil
	}
	if hasNull {
		return "NOT " + parenthesize(expr), nil
	}
	// A missing value is not in the list: keep NULL rows.
	return fmt.Sprintf("(NOT %s OR %s IS NULL)", parenthesize(expr), val), nil
}

func (b *sqlBuilder) allOf(c Condition, val, typ string) (string, error) {
	src, path, err := b.eachSource(c.Field)
	if err != nil {
		return "", err
	}
	alias := b.nextAlias()
	parts := []string{fmt.Sprintf("%s = 'array'", typ)}
	for _, want := range c.Value.([]any) {
		b.args = append(b.args, bindValue(want))
		parts = append(parts, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(%s%s) AS %s WHERE %s.value IS ?)",
			src, path, alias, alias))
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) elemMatch(c Condition, val, typ string) (string, error) {
	src, path, err := b.eachSource(c.Field)
	if err != nil {
		return "", err
	}
	alias := b.nextAlias()

	// Compile the nested conditions against the array element.
	inner := &sqlBuilder{aliasN: b.aliasN, element: alias}
	expr, err := inner.combineConditions(c.Children, "$and")
	if err != nil {
		return "", err
	}
	b.aliasN = inner.aliasN
	b.args = append(b.args, inner.args...)

	return fmt.Sprintf(
		"(%s = 'array' AND EXISTS (SELECT 1 FROM json_each(%s%s) AS %s WHERE %s))",
		typ, src, path, alias, expr), nil
}

// eachSource returns the json_each source document and path argument for an
// array field, honoring the element context inside nested $elemMatch.
func (b *sqlBuilder) eachSource(field string) (src, path string, err error) {
	if b.element != "" {
		if field == "" {
			return b.element + ".value", "", nil
		}
		if !fieldPathRe.MatchString(field) {
			return "", "", model.MalformedQuery("invalid field path %q", field)
		}
		return b.element + ".value", fmt.Sprintf(", '$.%s'", field), nil
	}
	if !fieldPathRe.MatchString(field) {
		return "", "", model.MalformedQuery("invalid field path %q", field)
	}
	return "d.payload_json", fmt.Sprintf(", '$.%s'", field), nil
}

// valueExpr returns the SQL expression extracting a field's value.
func (b *sqlBuilder) valueExpr(field string) (string, error) {
	if b.element != "" {
		if field == "" {
			return b.element + ".value", nil
		}
		if !fieldPathRe.MatchString(field) {
			return "", model.MalformedQuery("invalid field path %q", field)
		}
		return fmt.Sprintf("json_extract(%s.value, '$.%s')", b.element, field), nil
	}
	if col, ok := metaColumns[field]; ok {
		return col, nil
	}
	if !fieldPathRe.MatchString(field) {
		return "", model.MalformedQuery("invalid field path %q", field)
	}
	return fmt.Sprintf("json_extract(d.payload_json, '$.%s')", field), nil
}

// typeExpr returns the SQL expression for a field's json_type class. Column
// backed metadata fields have fixed classes.
func (b *sqlBuilder) typeExpr(field string) (string, error) {
	if b.element != "" {
		if field == "" {
			return b.element + ".type", nil
		}
		if !fieldPathRe.MatchString(field) {
			return "", model.MalformedQuery("invalid field path %q", field)
		}
		return fmt.Sprintf("json_type(%s.value, '$.%s')", b.element, field), nil
	}
	switch field {
	case model.FieldID, model.FieldCreatedAt, model.FieldUpdatedAt:
		return "'text'", nil
	case model.FieldVersion:
		return "'integer'", nil
	}
	if !fieldPathRe.MatchString(field) {
		return "", model.MalformedQuery("invalid field path %q", field)
	}
	return fmt.Sprintf("json_type(d.payload_json, '$.%s')", field), nil
}

func (b *sqlBuilder) nextAlias() string {
	b.aliasN++
	return fmt.Sprintf("je%d", b.aliasN)
}

// typeClassList expands a storage class to the json_type names it covers.
func typeClassList(class string) string {
	switch class {
	case "text":
		return "'text'"
	case "numeric":
		return "'integer','real'"
	case "boolean":
		return "'true','false'"
	case "null":
		return "'null'"
	case "structured":
		return "'object','array'"
	default:
		return "''"
	}
}

// bindValue normalizes a JSON value for binding. json_extract yields 1/0
// for JSON booleans, so booleans bind as integers.
func bindValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	default:
		return v
	}
}

func parenthesize(expr string) string {
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		return expr
	}
	return "(" + expr + ")"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
