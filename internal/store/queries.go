package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

// SaveQuery registers a named query definition. Names are unique; saving an
// existing name is a conflict so callers delete before redefining.
func (s *Store) SaveQuery(ctx context.Context, def *query.Definition) error {
	if !collectionNameRe.MatchString(def.Name) {
		return model.Validation("invalid query name %q", def.Name)
	}
	if _, err := s.resolve(def.Collection); err != nil {
		return err
	}
	def.CreatedAt = time.Now().UTC()

	var queryJSON any
	if def.Query != nil {
		raw, err := json.Marshal(def.Query)
		if err != nil {
			return model.Storage(err)
		}
		queryJSON = string(raw)
	}
	dataJSON, err := marshalOrNull(def.Data)
	if err != nil {
		return model.Storage(err)
	}
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO _queries (name, collection, action, query_json, data_json, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			def.Name, def.Collection, string(def.Action), queryJSON, dataJSON,
			def.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return s.mapSQLError("", err)
		}
		return nil
	})
}

// LookupQuery fetches a definition by name.
func (s *Store) LookupQuery(ctx context.Context, name string) (*query.Definition, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name, collection, action, query_json, data_json, created_at FROM _queries WHERE name = ?", name)
	def, err := scanQueryDef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.MalformedQuery("unknown custom query %q", name)
	}
	return def, err
}

// DeleteQuery removes a definition; deleting an unknown name is an error so
// admin tooling can detect typos.
func (s *Store) DeleteQuery(ctx context.Context, name string) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM _queries WHERE name = ?", name)
		if err != nil {
			return model.Storage(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return model.Storage(err)
		}
		if affected == 0 {
			return model.MalformedQuery("unknown custom query %q", name)
		}
		return nil
	})
}

// ListQueries returns all definitions ordered by name.
func (s *Store) ListQueries(ctx context.Context) ([]*query.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, collection, action, query_json, data_json, created_at FROM _queries ORDER BY name")
	if err != nil {
		return nil, model.Storage(err)
	}
	defer rows.Close()

	var defs []*query.Definition
	for rows.Next() {
		def, err := scanQueryDef(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage(err)
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueryDef(row rowScanner) (*query.Definition, error) {
	var (
		def       query.Definition
		action    string
		queryJSON sql.NullString
		dataJSON  sql.NullString
		createdAt string
	)
	if err := row.Scan(&def.Name, &def.Collection, &action, &queryJSON, &dataJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, model.Storage(err)
	}
	def.Action = query.Action(action)
	if queryJSON.Valid {
		var spec query.Spec
		if err := json.Unmarshal([]byte(queryJSON.String), &spec); err != nil {
			return nil, model.Storage(fmt.Errorf("decode stored query %q: %w", def.Name, err))
		}
		def.Query = &spec
	}
	if dataJSON.Valid {
		if err := json.Unmarshal([]byte(dataJSON.String), &def.Data); err != nil {
			return nil, model.Storage(fmt.Errorf("decode stored query %q: %w", def.Name, err))
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, model.Storage(err)
	}
	def.CreatedAt = ts
	return &def, nil
}
