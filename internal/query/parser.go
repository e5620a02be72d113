package query

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/b3vet/swiftbase/internal/model"
)

// Operator families. The sets are fixed; they are not extensible at runtime.
var comparisonOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true,
	"$lt": true, "$lte": true, "$in": true, "$nin": true,
}

var logicalOps = map[string]bool{
	"$and": true, "$or": true, "$not": true, "$nor": true,
}

var elementOps = map[string]bool{"$exists": true, "$type": true}

var evaluationOps = map[string]bool{"$regex": true, "$mod": true}

var arrayOps = map[string]bool{"$all": true, "$elemMatch": true, "$size": true}

var updateOps = map[string]bool{
	"$set": true, "$unset": true, "$inc": true,
	"$push": true, "$pull": true, "$addToSet": true,
}

// typeNames maps declared $type names to storage-layer classes.
var typeNames = map[string]string{
	"string":  "text",
	"number":  "numeric",
	"bool":    "boolean",
	"boolean": "boolean",
	"null":    "null",
	"object":  "structured",
	"array":   "structured",
}

func isWhereOperator(op string) bool {
	return comparisonOps[op] || logicalOps[op] || elementOps[op] ||
		evaluationOps[op] || arrayOps[op]
}

// Parse validates a request and produces its ParsedQuery. For create and
// update actions the payload is validated separately by the engine; Parse
// only covers the declarative query part.
func Parse(req *Request) (*ParsedQuery, error) {
	pq := &ParsedQuery{Combine: "$and", Limit: -1, Offset: -1}

	spec := req.Query
	if spec == nil {
		if req.Action == ActionFindOne {
			pq.Limit = 1
		}
		return pq, nil
	}

	conds, err := ParseWhere(spec.Where)
	if err != nil {
		return nil, err
	}
	pq.Conditions = conds

	if spec.Limit != nil {
		if *spec.Limit < 0 {
			return nil, model.MalformedQuery("limit must be non-negative, got %d", *spec.Limit)
		}
		pq.Limit = *spec.Limit
	}
	if spec.Offset != nil {
		if *spec.Offset < 0 {
			return nil, model.MalformedQuery("offset must be non-negative, got %d", *spec.Offset)
		}
		pq.Offset = *spec.Offset
	}

	pq.Order = spec.OrderBy
	pq.Distinct = spec.Distinct

	if spec.Select != nil {
		proj, err := parseProjection(spec.Select)
		if err != nil {
			return nil, err
		}
		pq.Projection = proj
	}

	if req.Action == ActionFindOne {
		pq.Limit = 1
	}

	return pq, nil
}

// ParseWhere parses a where clause into the validated condition tree.
// A clause with more than one top-level key combines the keys with an
// implicit $and: {a:1, b:2} is exactly {$and:[{a:1},{b:2}]}.
func ParseWhere(where map[string]any) ([]Condition, error) {
	if len(where) == 0 {
		return nil, nil
	}
	return parseClause(where)
}

func parseClause(clause map[string]any) ([]Condition, error) {
	conds := make([]Condition, 0, len(clause))
	for key, val := range clause {
		switch {
		case key == "$and" || key == "$or" || key == "$nor":
			children, err := parseConditionList(key, val)
			if err != nil {
				return nil, err
			}
			conds = append(conds, Condition{Op: key, Children: children})
		case key == "$not":
			child, err := parseSingleClause(key, val)
			if err != nil {
				return nil, err
			}
			conds = append(conds, Condition{Op: key, Children: child})
		case isWhereOperator(key):
			return nil, model.MalformedQuery("operator %s is not allowed at the top level of a clause", key)
		case updateOps[key]:
			return nil, model.MalformedQuery("update operator %s is not allowed inside where", key)
		default:
			fieldConds, err := parseFieldCondition(key, val)
			if err != nil {
				return nil, err
			}
			conds = append(conds, fieldConds...)
		}
	}
	return conds, nil
}

func parseConditionList(op string, val any) ([]Condition, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, model.MalformedQuery("%s requires an array of clauses", op)
	}
	if len(list) == 0 {
		return nil, model.MalformedQuery("%s requires at least one clause", op)
	}
	var children []Condition
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, model.MalformedQuery("%s elements must be objects", op)
		}
		subConds, err := parseClause(sub)
		if err != nil {
			return nil, err
		}
		if len(subConds) == 1 {
			children = append(children, subConds[0])
		} else {
			children = append(children, Condition{Op: "$and", Children: subConds})
		}
	}
	return children, nil
}

// parseSingleClause handles $not, which takes exactly one condition.
func parseSingleClause(op string, val any) ([]Condition, error) {
	sub, ok := val.(map[string]any)
	if !ok {
		return nil, model.MalformedQuery("%s requires an object", op)
	}
	conds, err := parseClause(sub)
	if err != nil {
		return nil, err
	}
	if len(conds) != 1 {
		return nil, model.MalformedQuery("%s takes exactly one condition, got %d", op, len(conds))
	}
	return conds, nil
}

// parseFieldCondition parses one field entry of a clause. A bare value is an
// implicit $eq; an object value holds one or more operators on that field.
func parseFieldCondition(field string, val any) ([]Condition, error) {
	opMap, ok := val.(map[string]any)
	if !ok || len(opMap) == 0 || !allKeysAreOperators(opMap) {
		// Implicit $eq. Bare arrays and plain objects compare as whole-value
		// equality on the extracted JSON.
		return []Condition{{Field: field, Op: "$eq", Value: val}}, nil
	}

	conds := make([]Condition, 0, len(opMap))
	for op, operand := range opMap {
		cond, err := parseOperator(field, op, operand)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func allKeysAreOperators(m map[string]any) bool {
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

func parseOperator(field, op string, operand any) (Condition, error) {
	switch {
	case op == "$eq" || op == "$ne" || op == "$gt" || op == "$gte" || op == "$lt" || op == "$lte":
		if !isScalar(operand) {
			return Condition{}, model.MalformedQuery("%s on field %q requires a scalar operand", op, field)
		}
		return Condition{Field: field, Op: op, Value: operand}, nil

	case op == "$in" || op == "$nin":
		list, ok := operand.([]any)
		if !ok {
			return Condition{}, model.MalformedQuery("%s on field %q requires an array operand", op, field)
		}
		for _, v := range list {
			if !isScalar(v) {
				return Condition{}, model.MalformedQuery("%s on field %q requires scalar list elements", op, field)
			}
		}
		return Condition{Field: field, Op: op, Value: list}, nil

	case op == "$exists":
		b, ok := operand.(bool)
		if !ok {
			return Condition{}, model.MalformedQuery("$exists on field %q requires a boolean operand", field)
		}
		return Condition{Field: field, Op: op, Value: b}, nil

	case op == "$type":
		name, ok := operand.(string)
		if !ok {
			return Condition{}, model.MalformedQuery("$type on field %q requires a type name string", field)
		}
		class, ok := typeNames[name]
		if !ok {
			return Condition{}, model.MalformedQuery("$type on field %q: unknown type name %q", field, name)
		}
		return Condition{Field: field, Op: op, Value: class}, nil

	case op == "$regex":
		pat, ok := operand.(string)
		if !ok {
			return Condition{}, model.MalformedQuery("$regex on field %q requires a pattern string", field)
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return Condition{}, model.MalformedQuery("$regex on field %q: invalid pattern: %v", field, err)
		}
		return Condition{Field: field, Op: op, Value: pat, Pattern: re}, nil

	case op == "$mod":
		pair, ok := operand.([]any)
		if !ok || len(pair) != 2 {
			return Condition{}, model.MalformedQuery("$mod on field %q requires [divisor, remainder]", field)
		}
		div, ok1 := toInt64(pair[0])
		rem, ok2 := toInt64(pair[1])
		if !ok1 || !ok2 {
			return Condition{}, model.MalformedQuery("$mod on field %q requires numeric divisor and remainder", field)
		}
		if div == 0 {
			return Condition{}, model.MalformedQuery("$mod on field %q: divisor must not be zero", field)
		}
		return Condition{Field: field, Op: op, Value: []int64{div, rem}}, nil

	case op == "$all":
		list, ok := operand.([]any)
		if !ok || len(list) == 0 {
			return Condition{}, model.MalformedQuery("$all on field %q requires a non-empty array", field)
		}
		for _, v := range list {
			if !isScalar(v) {
				return Condition{}, model.MalformedQuery("$all on field %q requires scalar list elements", field)
			}
		}
		return Condition{Field: field, Op: op, Value: list}, nil

	case op == "$elemMatch":
		sub, ok := operand.(map[string]any)
		if !ok || len(sub) == 0 {
			return Condition{}, model.MalformedQuery("$elemMatch on field %q requires a non-empty object", field)
		}
		children, err := parseElemMatch(field, sub)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Field: field, Op: op, Children: children}, nil

	case op == "$size":
		n, ok := toInt64(operand)
		if !ok || n < 0 {
			return Condition{}, model.MalformedQuery("$size on field %q requires a non-negative integer", field)
		}
		return Condition{Field: field, Op: op, Value: n}, nil

	case updateOps[op]:
		return Condition{}, model.MalformedQuery("update operator %s is not allowed inside where", op)

	default:
		return Condition{}, model.MalformedQuery("unknown operator %s on field %q", op, field)
	}
}

// parseElemMatch parses the nested condition of $elemMatch. Conditions with
// an empty Field apply to the array element itself ({$gt: 80}); named fields
// apply to a sub-path of an object element.
func parseElemMatch(field string, sub map[string]any) ([]Condition, error) {
	if allKeysAreOperators(sub) {
		conds := make([]Condition, 0, len(sub))
		for op, operand := range sub {
			if !comparisonOps[op] && !evaluationOps[op] && !elementOps[op] {
				return nil, model.MalformedQuery("$elemMatch on field %q: operator %s is not supported inside element conditions", field, op)
			}
			cond, err := parseOperator("", op, operand)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		return conds, nil
	}
	return parseClause(sub)
}

// parseProjection accepts an explicit include list (["a","b"]) or an
// include/exclude map ({a:1} or {a:0}). Mixing inclusion and exclusion in
// one map is rejected.
func parseProjection(sel any) (*Projection, error) {
	switch v := sel.(type) {
	case []any:
		fields := make([]string, 0, len(v))
		for _, f := range v {
			s, ok := f.(string)
			if !ok {
				return nil, model.MalformedQuery("select list entries must be field names")
			}
			fields = append(fields, s)
		}
		return &Projection{Include: true, Fields: fields}, nil
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
		var include, exclude []string
		for field, flag := range v {
			on, err := projectionFlag(flag)
			if err != nil {
				return nil, model.MalformedQuery("select.%s: %v", field, err)
			}
			if on {
				include = append(include, field)
			} else {
				exclude = append(exclude, field)
			}
		}
		if len(include) > 0 && len(exclude) > 0 {
			return nil, model.MalformedQuery("select must not mix inclusion and exclusion")
		}
		if len(include) > 0 {
			return &Projection{Include: true, Fields: include}, nil
		}
		return &Projection{Include: false, Fields: exclude}, nil
	default:
		return nil, model.MalformedQuery("select must be a field list or an include/exclude map")
	}
}

func projectionFlag(v any) (bool, error) {
	switch f := v.(type) {
	case bool:
		return f, nil
	case float64:
		return f != 0, nil
	case json.Number:
		return f.String() != "0", nil
	default:
		return false, fmt.Errorf("flag must be boolean or 0/1")
	}
}

func orderDirection(tok any) (desc bool, err error) {
	switch v := tok.(type) {
	case string:
		switch v {
		case "asc", "ASC":
			return false, nil
		case "desc", "DESC":
			return true, nil
		}
		return false, fmt.Errorf("direction must be asc or desc")
	case json.Number:
		switch v.String() {
		case "1":
			return false, nil
		case "-1":
			return true, nil
		}
		return false, fmt.Errorf("direction must be 1 or -1")
	case float64:
		switch v {
		case 1:
			return false, nil
		case -1:
			return true, nil
		}
		return false, fmt.Errorf("direction must be 1 or -1")
	default:
		return false, fmt.Errorf("direction must be 1, -1, asc or desc")
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, json.Number:
		return true
	default:
		return false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
