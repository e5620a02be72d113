package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

func (e *Engine) find(ctx context.Context, req *query.Request) (any, error) {
	pq, err := query.Parse(req)
	if err != nil {
		return nil, err
	}
	if pq.Distinct != "" {
		return e.store.Distinct(ctx, req.Collection, pq)
	}
	docs, err := e.store.Find(ctx, req.Collection, pq)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, query.ApplyProjection(doc.Merged(), pq.Projection))
	}
	return out, nil
}

// findOne is find with limit forced to 1; an empty result is a nil payload,
// not an error.
func (e *Engine) findOne(ctx context.Context, req *query.Request) (any, error) {
	pq, err := query.Parse(req)
	if err != nil {
		return nil, err
	}
	docs, err := e.store.Find(ctx, req.Collection, pq)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return query.ApplyProjection(docs[0].Merged(), pq.Projection), nil
}

func (e *Engine) count(ctx context.Context, req *query.Request) (any, error) {
	pq, err := query.Parse(req)
	if err != nil {
		return nil, err
	}
	n, err := e.store.Count(ctx, req.Collection, pq)
	if err != nil {
		return nil, err
	}
	return &CountResult{Count: n}, nil
}

func (e *Engine) create(ctx context.Context, actor string, req *query.Request) (any, error) {
	if len(req.Data) == 0 {
		return nil, model.MalformedQuery("create requires a non-empty data payload")
	}
	if err := model.CheckReservedKeys(req.Data); err != nil {
		return nil, err
	}
	if err := e.validatePayload(req.Collection, req.Data, req.Options); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &model.Document{
		ID:        newDocumentID(),
		Version:   1,
		Payload:   req.Data,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	err := e.store.WithWriteTxCommitted(ctx, func(tx *sql.Tx) error {
		return e.store.InsertTx(ctx, tx, req.Collection, doc)
	}, func() {
		e.dispatchAll([]model.ChangeRecord{changeRecord(model.EventCreate, req.Collection, doc)})
	})
	if err != nil {
		return nil, err
	}
	return doc.Merged(), nil
}

// update resolves the matching set inside the write transaction, applies the
// update operators in memory and writes each document back with its version
// incremented. A repeated identical $set is a payload no-op but still bumps
// the version and emits an update event.
func (e *Engine) update(ctx context.Context, actor string, req *query.Request) (any, error) {
	pq, err := query.Parse(req)
	if err != nil {
		return nil, err
	}
	upd, err := query.ParseUpdate(req.Data)
	if err != nil {
		return nil, err
	}
	// Target resolution honors multi: the default is single-document, where
	// ordering decides which match is the target.
	if !req.Options.Multi {
		pq.Limit = 1
	}

	var (
		result  MutationResult
		pending []model.ChangeRecord
	)
	err = e.store.WithWriteTxCommitted(ctx, func(tx *sql.Tx) error {
		targets, err := e.store.FindTx(ctx, tx, req.Collection, pq)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			if req.Options.Upsert {
				doc, err := e.upsertTx(ctx, tx, actor, req, pq, upd)
				if err != nil {
					return err
				}
				result.Matched = 0
				result.Modified = 1
				result.Upserted = true
				if req.Options.ReturnNew {
					result.Documents = []map[string]any{doc.Merged()}
				}
				pending = append(pending, changeRecord(model.EventCreate, req.Collection, doc))
				return nil
			}
			if !req.Options.Multi {
				return model.DocumentNotFound(req.Collection, "")
			}
			return nil
		}

		now := time.Now().UTC()
		for _, doc := range targets {
			next, _ := upd.Apply(doc.Payload)
			if err := model.CheckReservedKeys(next); err != nil {
				return err
			}
			if err := e.validatePayload(req.Collection, next, req.Options); err != nil {
				return err
			}
			doc.Payload = next
			doc.Version++
			doc.UpdatedAt = now
			doc.UpdatedBy = actor
			if err := e.store.UpdateTx(ctx, tx, req.Collection, doc); err != nil {
				return err
			}
			result.Modified++
			if req.Options.ReturnNew {
				result.Documents = append(result.Documents, doc.Merged())
			}
			pending = append(pending, changeRecord(model.EventUpdate, req.Collection, doc))
		}
		result.Matched = int64(len(targets))
		return nil
	}, func() {
		e.dispatchAll(pending)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// upsertTx creates the document an upsert implies: the where clause's
// top-level equality fields seed the payload, then the update operators
// apply on top.
func (e *Engine) upsertTx(ctx context.Context, tx *sql.Tx, actor string, req *query.Request, pq *query.ParsedQuery, upd *query.UpdateDoc) (*model.Document, error) {
	seed := query.EqualityFields(pq.Conditions)
	payload, _ := upd.Apply(seed)
	if err := model.CheckReservedKeys(payload); err != nil {
		return nil, err
	}
	if err := e.validatePayload(req.Collection, payload, req.Options); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := &model.Document{
		ID:        newDocumentID(),
		Version:   1,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	if err := e.store.InsertTx(ctx, tx, req.Collection, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// delete captures pre-images before removing rows; the whole matching set
// goes in one transaction. A single-document delete that matches nothing is
// DocumentNotFound; with multi it is a zero count.
func (e *Engine) delete(ctx context.Context, req *query.Request) (any, error) {
	pq, err := query.Parse(req)
	if err != nil {
		return nil, err
	}
	if !req.Options.Multi {
		pq.Limit = 1
	}

	var (
		result  DeleteResult
		pending []model.ChangeRecord
	)
	err = e.store.WithWriteTxCommitted(ctx, func(tx *sql.Tx) error {
		targets, err := e.store.FindTx(ctx, tx, req.Collection, pq)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			if !req.Options.Multi {
				return model.DocumentNotFound(req.Collection, "")
			}
			return nil
		}
		ids := make([]string, len(targets))
		for i, doc := range targets {
			ids[i] = doc.ID
		}
		deleted, err := e.store.DeleteTx(ctx, tx, req.Collection, ids)
		if err != nil {
			return err
		}
		result.Deleted = deleted
		for _, doc := range targets {
			pending = append(pending, changeRecord(model.EventDelete, req.Collection, doc))
		}
		return nil
	}, func() {
		e.dispatchAll(pending)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
