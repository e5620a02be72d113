package query

import (
	"strings"

	"github.com/b3vet/swiftbase/internal/model"
)

// Pipeline is the validated form of an aggregate request. Support is
// deliberately narrow: an optional $match followed by an optional $group
// with a single accumulator. Any other stage is rejected outright rather
// than silently dropped.
type Pipeline struct {
	Match        []Condition
	MatchCombine string
	Group        *GroupSpec
}

// GroupSpec describes one $group stage. Key is the grouping field path, or
// empty when grouping the whole collection (_id: null). The single
// accumulator writes its result under OutputField.
type GroupSpec struct {
	Key         string
	Accumulator string // $sum, $avg, $min, $max, $count
	Field       string // source field path; empty for $count and $sum:1
	OutputField string
}

var accumulators = map[string]bool{
	"$sum": true, "$avg": true, "$min": true, "$max": true, "$count": true,
}

// ParsePipeline validates an aggregate pipeline.
func ParsePipeline(stages []any) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, model.MalformedQuery("aggregate requires a non-empty pipeline")
	}
	p := &Pipeline{MatchCombine: "$and"}
	for _, raw := range stages {
		stage, ok := raw.(map[string]any)
		if !ok || len(stage) != 1 {
			return nil, model.MalformedQuery("pipeline stages must be single-key objects")
		}
		for name, body := range stage {
			switch name {
			case "$match":
				if p.Match != nil || p.Group != nil {
					return nil, model.MalformedQuery("a single $match stage must precede $group")
				}
				clause, ok := body.(map[string]any)
				if !ok {
					return nil, model.MalformedQuery("$match requires an object")
				}
				conds, err := ParseWhere(clause)
				if err != nil {
					return nil, err
				}
				if conds == nil {
					conds = []Condition{}
				}
				p.Match = conds
			case "$group":
				if p.Group != nil {
					return nil, model.MalformedQuery("only one $group stage is supported")
				}
				spec, err := parseGroup(body)
				if err != nil {
					return nil, err
				}
				p.Group = spec
			default:
				return nil, model.MalformedQuery("unsupported pipeline stage %s", name)
			}
		}
	}
	return p, nil
}

func parseGroup(body any) (*GroupSpec, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, model.MalformedQuery("$group requires an object")
	}
	spec := &GroupSpec{}
	sawID := false
	for key, val := range obj {
		if key == "_id" {
			sawID = true
			switch id := val.(type) {
			case nil:
				spec.Key = ""
			case string:
				field := strings.TrimPrefix(id, "$")
				if field == "" || !fieldPathRe.MatchString(field) {
					return nil, model.MalformedQuery("$group _id must be null or a $field reference")
				}
				spec.Key = field
			default:
				return nil, model.MalformedQuery("$group _id must be null or a $field reference")
			}
			continue
		}
		if spec.Accumulator != "" {
			return nil, model.MalformedQuery("$group supports a single accumulator")
		}
		acc, ok := val.(map[string]any)
		if !ok || len(acc) != 1 {
			return nil, model.MalformedQuery("$group field %q must be a single accumulator object", key)
		}
		for name, operand := range acc {
			if !accumulators[name] {
				return nil, model.MalformedQuery("unsupported accumulator %s", name)
			}
			spec.Accumulator = name
			spec.OutputField = key
			switch src := operand.(type) {
			case string:
				field := strings.TrimPrefix(src, "$")
				if field == "" || !fieldPathRe.MatchString(field) {
					return nil, model.MalformedQuery("%s operand must be a $field reference or 1", name)
				}
				spec.Field = field
			case float64:
				if name != "$sum" && name != "$count" || src != 1 {
					return nil, model.MalformedQuery("%s operand must be a $field reference", name)
				}
			case map[string]any:
				// {$count: {}} is the conventional spelling.
				if name != "$count" || len(src) != 0 {
					return nil, model.MalformedQuery("%s operand must be a $field reference", name)
				}
			default:
				return nil, model.MalformedQuery("%s operand must be a $field reference or 1", name)
			}
		}
	}
	if !sawID {
		return nil, model.MalformedQuery("$group requires an _id key")
	}
	if spec.Accumulator == "" {
		return nil, model.MalformedQuery("$group requires exactly one accumulator")
	}
	return spec, nil
}
