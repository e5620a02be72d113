package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/b3vet/swiftbase/internal/query"
)

// aggregate pushes the $match stage down to storage and evaluates the
// $group stage in process over the matching documents.
func (e *Engine) aggregate(ctx context.Context, req *query.Request) (any, error) {
	pipeline, err := query.ParsePipeline(req.Pipeline)
	if err != nil {
		return nil, err
	}

	pq := &query.ParsedQuery{
		Conditions: pipeline.Match,
		Combine:    pipeline.MatchCombine,
		Limit:      -1,
		Offset:     -1,
	}
	if pq.Combine == "" {
		pq.Combine = "$and"
	}
	docs, err := e.store.Find(ctx, req.Collection, pq)
	if err != nil {
		return nil, err
	}

	if pipeline.Group == nil {
		out := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			out = append(out, doc.Merged())
		}
		return out, nil
	}

	groups := make(map[string]*accumulatorState)
	order := make([]string, 0)
	for _, doc := range docs {
		merged := doc.Merged()
		key := any(nil)
		if pipeline.Group.Key != "" {
			key, _ = query.Lookup(merged, pipeline.Group.Key)
		}
		bucket := groupBucket(key)
		st, ok := groups[bucket]
		if !ok {
			st = &accumulatorState{key: key}
			groups[bucket] = st
			order = append(order, bucket)
		}
		st.observe(pipeline.Group, merged)
	}

	sort.Strings(order)
	out := make([]map[string]any, 0, len(order))
	for _, bucket := range order {
		st := groups[bucket]
		out = append(out, map[string]any{
			"_id":                      st.key,
			pipeline.Group.OutputField: st.result(pipeline.Group),
		})
	}
	return out, nil
}

// accumulatorState folds one group's documents. Non-numeric operands are
// skipped for $sum and $avg, matching the predicate evaluator's rule that
// mixed types never order.
type accumulatorState struct {
	key    any
	count  int64
	sum    float64
	numN   int64
	minVal any
	maxVal any
}

func (st *accumulatorState) observe(g *query.GroupSpec, doc map[string]any) {
	st.count++
	if g.Field == "" {
		return
	}
	val, ok := query.Lookup(doc, g.Field)
	if !ok {
		return
	}
	if n, isNum := val.(float64); isNum {
		st.sum += n
		st.numN++
	}
	switch g.Accumulator {
	case "$min":
		if st.minVal == nil || valueLess(val, st.minVal) {
			st.minVal = val
		}
	case "$max":
		if st.maxVal == nil || valueLess(st.maxVal, val) {
			st.maxVal = val
		}
	}
}

func (st *accumulatorState) result(g *query.GroupSpec) any {
	switch g.Accumulator {
	case "$count":
		return float64(st.count)
	case "$sum":
		if g.Field == "" {
			// The $sum:1 form counts documents.
			return float64(st.count)
		}
		return st.sum
	case "$avg":
		if st.numN == 0 {
			return nil
		}
		return st.sum / float64(st.numN)
	case "$min":
		return st.minVal
	case "$max":
		return st.maxVal
	default:
		return nil
	}
}

// valueLess orders two values within one accumulator: numbers before
// strings, otherwise no order.
func valueLess(a, b any) bool {
	an, aNum := a.(float64)
	bn, bNum := b.(float64)
	if aNum && bNum {
		return an < bn
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as < bs
	}
	return aNum && bStr
}

// groupBucket derives a deterministic map key for a grouping value.
func groupBucket(key any) string {
	return fmt.Sprintf("%T:%v", key, key)
}
