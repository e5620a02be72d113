package query

import (
	"strings"
	"time"

	"github.com/b3vet/swiftbase/internal/model"
)

// Definition is a named, pre-registered query. String operand values of the
// form "$name" are placeholders filled from the caller's params at
// execution time.
type Definition struct {
	Name       string         `json:"name"`
	Collection string         `json:"collection"`
	Action     Action         `json:"action"`
	Query      *Spec          `json:"query,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Materialize builds the executable request with params substituted. A
// placeholder without a supplied parameter is a MalformedQuery; the stored
// definition keeps its own maps untouched.
func (d *Definition) Materialize(params map[string]any) (*Request, error) {
	req := &Request{
		Action:     d.Action,
		Collection: d.Collection,
	}
	if d.Query != nil {
		spec := *d.Query
		if spec.Where != nil {
			where, err := substituteMap(spec.Where, params)
			if err != nil {
				return nil, err
			}
			spec.Where = where
		}
		req.Query = &spec
	}
	if d.Data != nil {
		data, err := substituteMap(d.Data, params)
		if err != nil {
			return nil, err
		}
		req.Data = data
	}
	return req, nil
}

func substituteMap(m map[string]any, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		sub, err := substituteValue(k, v, params)
		if err != nil {
			return nil, err
		}
		out[k] = sub
	}
	return out, nil
}

func substituteValue(key string, v any, params map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if name, ok := placeholderName(key, t); ok {
			val, present := params[name]
			if !present {
				return nil, model.MalformedQuery("missing parameter %q", name)
			}
			return val, nil
		}
		return t, nil
	case map[string]any:
		return substituteMap(t, params)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			sub, err := substituteValue(key, item, params)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return v, nil
	}
}

// placeholderName recognizes "$name" operand values. Operator keys like
// $regex take literal strings that may begin with $, so placeholders are
// only recognized where an operand value is expected.
func placeholderName(key, s string) (string, bool) {
	if key == "$regex" {
		return "", false
	}
	if len(s) < 2 || !strings.HasPrefix(s, "$") {
		return "", false
	}
	name := s[1:]
	if strings.HasPrefix(name, "$") {
		return "", false
	}
	return name, true
}
