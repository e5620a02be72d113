package query

import (
	"encoding/json"
	"strings"
)

// Matches evaluates a condition list against a document in memory. It is the
// same predicate semantics the SQL lowering produces, and is what the
// subscription registry uses to test change-record images against filters.
func Matches(doc map[string]any, conds []Condition, combine string) bool {
	if len(conds) == 0 {
		return true
	}
	if combine == "$or" {
		for _, c := range conds {
			if matchCondition(doc, c) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !matchCondition(doc, c) {
			return false
		}
	}
	return true
}

func matchCondition(doc map[string]any, c Condition) bool {
	switch c.Op {
	case "$and":
		for _, child := range c.Children {
			if !matchCondition(doc, child) {
				return false
			}
		}
		return true
	case "$or":
		for _, child := range c.Children {
			if matchCondition(doc, child) {
				return true
			}
		}
		return false
	case "$nor":
		for _, child := range c.Children {
			if matchCondition(doc, child) {
				return false
			}
		}
		return true
	case "$not":
		return !matchCondition(doc, c.Children[0])
	}

	val := lookupPath(doc, c.Field)

	switch c.Op {
	case "$eq":
		return looseEqual(val, c.Value)
	case "$ne":
		return !looseEqual(val, c.Value)
	case "$gt", "$gte", "$lt", "$lte":
		return compareOrdered(val, c.Value, c.Op)
	case "$in":
		for _, item := range c.Value.([]any) {
			if looseEqual(val, item) {
				return true
			}
		}
		return false
	case "$nin":
		for _, item := range c.Value.([]any) {
			if looseEqual(val, item) {
				return false
			}
		}
		return true
	case "$exists":
		_, present := lookupPathOK(doc, c.Field)
		return present == c.Value.(bool)
	case "$type":
		return storageClass(val) == c.Value.(string)
	case "$regex":
		s, ok := val.(string)
		return ok && c.Pattern.MatchString(s)
	case "$mod":
		f, ok := toFloat(val)
		if !ok {
			return false
		}
		// Non-integer values are truncated, matching the CAST the SQL
		// lowering performs.
		n := int64(f)
		pair := c.Value.([]int64)
		return n%pair[0] == pair[1]
	case "$size":
		arr, ok := val.([]any)
		return ok && int64(len(arr)) == c.Value.(int64)
	case "$all":
		arr, ok := val.([]any)
		if !ok {
			return false
		}
		for _, want := range c.Value.([]any) {
			found := false
			for _, item := range arr {
				if looseEqual(item, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "$elemMatch":
		arr, ok := val.([]any)
		if !ok {
			return false
		}
		for _, item := range arr {
			if matchElement(item, c.Children) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchElement tests one array element against $elemMatch conditions.
// Conditions with an empty field apply to the element itself.
func matchElement(elem any, conds []Condition) bool {
	for _, c := range conds {
		if c.Field == "" {
			wrapped := map[string]any{"": elem}
			c2 := c
			c2.Field = ""
			if !matchCondition(wrapped, c2) {
				return false
			}
			continue
		}
		obj, ok := elem.(map[string]any)
		if !ok {
			return false
		}
		if !matchCondition(obj, c) {
			return false
		}
	}
	return true
}

// lookupPath resolves a dotted field path. An empty path resolves the ""
// key, which matchElement uses to address a bare array element.
func lookupPath(doc map[string]any, path string) any {
	v, _ := lookupPathOK(doc, path)
	return v
}

func lookupPathOK(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Lookup resolves a dotted field path against a document, reporting whether
// the path exists.
func Lookup(doc map[string]any, path string) (any, bool) {
	return lookupPathOK(doc, path)
}

// ValueEqual reports structural equality of two decoded JSON values under
// the same semantics the evaluator uses for $eq.
func ValueEqual(a, b any) bool { return looseEqual(a, b) }

// looseEqual compares two JSON values with numeric unification: 1 and 1.0
// are equal regardless of whether they arrived as float64 or json.Number.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !looseEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !looseEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compareOrdered compares typed by the operand's own type: numeric compare
// for numbers, lexicographic for strings. Mixed types never match.
func compareOrdered(val, operand any, op string) bool {
	if fo, ok := toFloat(operand); ok {
		fv, ok := toFloat(val)
		if !ok {
			return false
		}
		return orderedResult(fv < fo, fv == fo, op)
	}
	if so, ok := operand.(string); ok {
		sv, ok := val.(string)
		if !ok {
			return false
		}
		return orderedResult(sv < so, sv == so, op)
	}
	return false
}

func orderedResult(less, equal bool, op string) bool {
	switch op {
	case "$gt":
		return !less && !equal
	case "$gte":
		return !less
	case "$lt":
		return less
	case "$lte":
		return less || equal
	default:
		return false
	}
}

// storageClass maps a JSON value to its storage-layer type class.
func storageClass(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "text"
	case float64, int, int64, json.Number:
		_ = t
		return "numeric"
	case []any, map[string]any:
		return "structured"
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
