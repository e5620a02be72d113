package query

import (
	"strings"

	"github.com/b3vet/swiftbase/internal/model"
)

// ApplyProjection restricts a merged document to the projected fields.
// Reserved metadata fields survive every projection. The input is not
// mutated.
func ApplyProjection(doc map[string]any, p *Projection) map[string]any {
	if p == nil {
		return doc
	}
	out := make(map[string]any, len(doc))
	if p.Include {
		for k, v := range doc {
			if strings.HasPrefix(k, model.ReservedPrefix) {
				out[k] = v
			}
		}
		for _, f := range p.Fields {
			copyPath(doc, out, f)
		}
		return out
	}
	// Exclusion removes nested paths in place, so the copy must be deep.
	out = deepCopyMap(doc)
	for _, f := range p.Fields {
		if strings.HasPrefix(f, model.ReservedPrefix) {
			continue
		}
		unsetPath(out, f)
	}
	return out
}

// copyPath copies a dotted path from src into dst, materializing the
// intermediate objects the path traverses.
func copyPath(src, dst map[string]any, path string) {
	val, ok := lookupPathOK(src, path)
	if !ok {
		return
	}
	parts := strings.Split(path, ".")
	cur := dst
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = val
}
