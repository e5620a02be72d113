// Package engine executes parsed query requests against the store and
// produces change records for committed mutations. It is the sole producer
// of change records: one per created, updated or deleted document, emitted
// strictly after the transaction commits. A failed dispatch can never roll
// back a write, and a committed write is always offered to the sink.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/b3vet/swiftbase/internal/metrics"
	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
	"github.com/b3vet/swiftbase/internal/store"
)

// ChangeSink receives change records after their transaction committed.
// Implementations must not block on slow consumers: the engine calls
// Dispatch on the write path, after commit but while the writer lock is
// still held, which is what keeps deliveries in commit order.
type ChangeSink interface {
	Dispatch(rec model.ChangeRecord)
}

// NopSink discards change records.
type NopSink struct{}

func (NopSink) Dispatch(model.ChangeRecord) {}

// Engine executes requests. Safe for concurrent use; write serialization is
// the store's concern.
type Engine struct {
	store *store.Store
	sink  ChangeSink
	log   *zap.SugaredLogger
}

func New(st *store.Store, sink ChangeSink, log *zap.SugaredLogger) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{store: st, sink: sink, log: log}
}

// CountResult is the count action's response payload.
type CountResult struct {
	Count int64 `json:"count"`
}

// MutationResult is the update action's response payload.
type MutationResult struct {
	Matched   int64            `json:"matched"`
	Modified  int64            `json:"modified"`
	Upserted  bool             `json:"upserted,omitempty"`
	Documents []map[string]any `json:"documents,omitempty"`
}

// DeleteResult is the delete action's response payload.
type DeleteResult struct {
	Deleted int64 `json:"deleted"`
}

// Execute runs one request as actor and returns its JSON-ready result.
// Mutating actions run in a single write transaction; their change records
// are dispatched only after commit, in commit order.
func (e *Engine) Execute(ctx context.Context, actor string, req *query.Request) (any, error) {
	start := time.Now()
	result, err := e.execute(ctx, actor, req, false)
	status := "ok"
	if err != nil {
		status = string(model.CodeOf(err))
	}
	metrics.QueriesTotal.WithLabelValues(string(req.Action), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	return result, err
}

func (e *Engine) execute(ctx context.Context, actor string, req *query.Request, nested bool) (any, error) {
	switch req.Action {
	case query.ActionFind:
		return e.find(ctx, req)
	case query.ActionFindOne:
		return e.findOne(ctx, req)
	case query.ActionCount:
		return e.count(ctx, req)
	case query.ActionCreate:
		return e.create(ctx, actor, req)
	case query.ActionUpdate:
		return e.update(ctx, actor, req)
	case query.ActionDelete:
		return e.delete(ctx, req)
	case query.ActionAggregate:
		return e.aggregate(ctx, req)
	case query.ActionCustom:
		if nested {
			return nil, model.MalformedQuery("custom queries cannot reference other custom queries")
		}
		return e.custom(ctx, actor, req)
	default:
		return nil, model.MalformedQuery("unknown action %q", req.Action)
	}
}

// custom resolves a stored definition, substitutes params and executes the
// materialized request.
func (e *Engine) custom(ctx context.Context, actor string, req *query.Request) (any, error) {
	if req.Custom == "" {
		return nil, model.MalformedQuery("custom action requires a query name")
	}
	def, err := e.store.LookupQuery(ctx, req.Custom)
	if err != nil {
		return nil, err
	}
	mat, err := def.Materialize(req.Params)
	if err != nil {
		return nil, err
	}
	mat.Options = req.Options
	return e.execute(ctx, actor, mat, true)
}

// validatePayload runs the collection's advisory schema when validation was
// requested. No schema means nothing to enforce.
func (e *Engine) validatePayload(collection string, payload map[string]any, opts query.Options) error {
	if !opts.Validate {
		return nil
	}
	schema := e.store.Schema(collection)
	if schema == nil {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return model.Validation("schema validation failed: %v", err)
	}
	if !res.Valid() {
		errs := res.Errors()
		if len(errs) > 0 {
			return model.Validation("schema validation failed: %s", errs[0].String())
		}
		return model.Validation("schema validation failed")
	}
	return nil
}

// dispatchAll hands committed change records to the sink. It runs in the
// store's post-commit hook, so hand-offs of concurrent requests happen in
// commit order.
func (e *Engine) dispatchAll(records []model.ChangeRecord) {
	for _, rec := range records {
		metrics.ChangesCommitted.WithLabelValues(string(rec.Kind)).Inc()
		e.sink.Dispatch(rec)
	}
}

func changeRecord(kind model.EventKind, collection string, doc *model.Document) model.ChangeRecord {
	return model.ChangeRecord{
		Kind:       kind,
		Collection: collection,
		DocumentID: doc.ID,
		Document:   doc.Merged(),
		Timestamp:  time.Now().UTC(),
	}
}

func newDocumentID() string { return uuid.NewString() }
