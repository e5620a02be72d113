// Package model holds the shared data types of swiftbase: collections,
// documents, change records and the error taxonomy. Document payloads are
// the tagged variant tree produced by encoding/json (nil, bool, float64,
// string, []any, map[string]any); conversion to and from the storage
// representation happens only at the store boundary.
package model

import (
	"strings"
	"time"
)

// ReservedPrefix marks metadata keys. User payloads may not carry top-level
// keys with this prefix; responses merge generated metadata under it.
const ReservedPrefix = "_"

const (
	FieldID        = "_id"
	FieldVersion   = "_version"
	FieldCreatedAt = "_createdAt"
	FieldUpdatedAt = "_updatedAt"
)

// Document is one JSON-payload record of a collection.
type Document struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	CreatedBy string         `json:"createdBy,omitempty"`
	UpdatedBy string         `json:"updatedBy,omitempty"`
}

// Merged returns the payload with the reserved metadata fields folded in.
// This is the client-facing shape for query results and change events.
func (d *Document) Merged() map[string]any {
	out := make(map[string]any, len(d.Payload)+4)
	for k, v := range d.Payload {
		out[k] = v
	}
	out[FieldID] = d.ID
	out[FieldVersion] = d.Version
	out[FieldCreatedAt] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	out[FieldUpdatedAt] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return out
}

// CheckReservedKeys rejects user payloads that carry reserved-prefixed
// top-level keys.
func CheckReservedKeys(payload map[string]any) error {
	for k := range payload {
		if strings.HasPrefix(k, ReservedPrefix) {
			return Validation("payload key %q uses the reserved prefix %q", k, ReservedPrefix)
		}
	}
	return nil
}

// IndexSpec declares an index on a payload field.
type IndexSpec struct {
	Field  string `json:"field"`
	Unique bool   `json:"unique,omitempty"`
}

// Collection is the metadata of a named document set. Schema is advisory:
// it is stored and can be enforced per-write, never by the storage layer.
type Collection struct {
	Name      string         `json:"name"`
	Schema    map[string]any `json:"schema,omitempty"`
	Indexes   []IndexSpec    `json:"indexes,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
