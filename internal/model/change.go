package model

import "time"

// EventKind is the type of a committed document mutation.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeRecord describes one committed mutation on the path from the
// execution engine to the dispatcher. It is never persisted. Document holds
// the post-image for create/update and the pre-image for delete, already in
// the merged client-facing shape.
type ChangeRecord struct {
	Kind       EventKind      `json:"event"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId"`
	Document   map[string]any `json:"document"`
	Timestamp  time.Time      `json:"timestamp"`
}
