// Package realtime implements the subscription registry, the change-event
// dispatcher and the WebSocket sessions they deliver to. The registry is
// owned by a single goroutine; the dispatcher preserves commit order per
// subscription and never blocks the write path.
package realtime

import (
	"time"

	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

// Client-to-server actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
	ActionPong        = "pong"
)

// ClientMessage is one inbound frame.
type ClientMessage struct {
	Action     string      `json:"action"`
	Collection string      `json:"collection,omitempty"`
	DocumentID string      `json:"documentId,omitempty"`
	Query      *query.Spec `json:"query,omitempty"`
}

// AckMessage confirms a subscribe or unsubscribe.
type AckMessage struct {
	Action         string `json:"action"`
	Collection     string `json:"collection"`
	DocumentID     string `json:"documentId,omitempty"`
	SubscriptionID uint64 `json:"subscriptionId,omitempty"`
}

// PongMessage answers a client ping.
type PongMessage struct {
	Action string `json:"action"`
}

// ErrorMessage reports a rejected frame. The connection stays open.
type ErrorMessage struct {
	Action  string `json:"action"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventMessage is one delivered change event.
type EventMessage struct {
	Event      model.EventKind `json:"event"`
	Collection string          `json:"collection"`
	Document   map[string]any  `json:"document"`
	DocumentID string          `json:"documentId"`
	Timestamp  time.Time       `json:"timestamp"`
}

func errorMessage(err error) *ErrorMessage {
	return &ErrorMessage{
		Action:  "error",
		Code:    string(model.CodeOf(err)),
		Message: err.Error(),
	}
}

func eventMessage(rec model.ChangeRecord) *EventMessage {
	return &EventMessage{
		Event:      rec.Kind,
		Collection: rec.Collection,
		Document:   rec.Document,
		DocumentID: rec.DocumentID,
		Timestamp:  rec.Timestamp,
	}
}
