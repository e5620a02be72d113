package query

import (
	"reflect"
	"strings"

	"github.com/b3vet/swiftbase/internal/model"
)

// UpdateDoc is a validated update payload: operator -> field path -> operand.
// A payload without any $-operator is treated as a bare $set of its fields.
type UpdateDoc struct {
	Ops map[string]map[string]any
}

// ParseUpdate validates an update payload. Update operators are only valid
// here, never inside where clauses; conversely where operators are rejected
// inside update payloads.
func ParseUpdate(data map[string]any) (*UpdateDoc, error) {
	if len(data) == 0 {
		return nil, model.MalformedQuery("update requires a non-empty data payload")
	}

	ops := make(map[string]map[string]any)
	var plain map[string]any

	for key, val := range data {
		if !strings.HasPrefix(key, "$") {
			if plain == nil {
				plain = make(map[string]any)
			}
			plain[key] = val
			continue
		}
		if !updateOps[key] {
			if isWhereOperator(key) {
				return nil, model.MalformedQuery("query operator %s is not allowed inside update data", key)
			}
			return nil, model.MalformedQuery("unknown update operator %s", key)
		}
		fields, ok := val.(map[string]any)
		if !ok || len(fields) == 0 {
			return nil, model.MalformedQuery("%s requires a non-empty field map", key)
		}
		for field := range fields {
			if strings.HasPrefix(field, model.ReservedPrefix) {
				return nil, model.Validation("%s targets reserved field %q", key, field)
			}
		}
		ops[key] = fields
	}

	if plain != nil {
		if len(ops) > 0 {
			return nil, model.MalformedQuery("update data must not mix plain fields with update operators")
		}
		if err := model.CheckReservedKeys(plain); err != nil {
			return nil, err
		}
		ops["$set"] = plain
	}

	for field, operand := range ops["$inc"] {
		if _, ok := toFloat(operand); !ok {
			return nil, model.MalformedQuery("$inc on field %q requires a numeric operand", field)
		}
	}
	for field, operand := range ops["$unset"] {
		switch operand.(type) {
		case bool, float64, string, nil:
		default:
			return nil, model.MalformedQuery("$unset on field %q requires a scalar operand", field)
		}
	}

	return &UpdateDoc{Ops: ops}, nil
}

// Apply applies the update operators to a copy of payload, field by field.
// It returns the new payload and whether any field actually changed.
// Repeating an identical $set is a content no-op (changed=false) but the
// engine still increments the version.
func (u *UpdateDoc) Apply(payload map[string]any) (map[string]any, bool) {
	out := deepCopyMap(payload)
	changed := false

	for field, val := range u.Ops["$set"] {
		if setPath(out, field, val) {
			changed = true
		}
	}
	for field := range u.Ops["$unset"] {
		if unsetPath(out, field) {
			changed = true
		}
	}
	for field, operand := range u.Ops["$inc"] {
		delta, _ := toFloat(operand)
		cur, _ := toFloat(lookupPath(out, field))
		setPath(out, field, cur+delta)
		changed = true
	}
	for field, val := range u.Ops["$push"] {
		arr := arrayAt(out, field)
		setPath(out, field, append(arr, val))
		changed = true
	}
	for field, val := range u.Ops["$pull"] {
		arr, ok := lookupPath(out, field).([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(arr))
		for _, item := range arr {
			if !looseEqual(item, val) {
				kept = append(kept, item)
			}
		}
		if len(kept) != len(arr) {
			setPath(out, field, kept)
			changed = true
		}
	}
	for field, val := range u.Ops["$addToSet"] {
		arr := arrayAt(out, field)
		present := false
		for _, item := range arr {
			if looseEqual(item, val) {
				present = true
				break
			}
		}
		if !present {
			setPath(out, field, append(arr, val))
			changed = true
		}
	}

	return out, changed
}

// EqualityFields extracts the top-level equality pairs of a condition list,
// used to seed the document created by an upsert.
func EqualityFields(conds []Condition) map[string]any {
	out := make(map[string]any)
	for _, c := range conds {
		if c.Op == "$eq" && c.Field != "" && !strings.HasPrefix(c.Field, model.ReservedPrefix) {
			out[c.Field] = c.Value
		}
	}
	return out
}

func arrayAt(doc map[string]any, path string) []any {
	if arr, ok := lookupPath(doc, path).([]any); ok {
		return arr
	}
	return nil
}

// setPath writes val at a dotted path, creating intermediate objects.
// Returns false when the path already held a deep-equal value.
func setPath(doc map[string]any, path string, val any) bool {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if old, ok := cur[last]; ok && reflect.DeepEqual(old, val) {
		return false
	}
	cur[last] = val
	return true
}

func unsetPath(doc map[string]any, path string) bool {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if _, ok := cur[last]; !ok {
		return false
	}
	delete(cur, last)
	return true
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
