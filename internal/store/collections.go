package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/b3vet/swiftbase/internal/model"
)

// CreateCollection provisions the physical table, declared indexes and the
// metadata row in one transaction. The name doubles as a storage-table
// identifier and is immutable once chosen.
func (s *Store) CreateCollection(ctx context.Context, col *model.Collection) error {
	if !collectionNameRe.MatchString(col.Name) {
		return model.Validation("invalid collection name %q", col.Name)
	}
	s.mu.RLock()
	_, exists := s.cols[col.Name]
	s.mu.RUnlock()
	if exists {
		return model.Conflict("", fmt.Errorf("collection %q already exists", col.Name))
	}

	var schema *gojsonschema.Schema
	if col.Schema != nil {
		compiled, err := compileSchema(col.Schema)
		if err != nil {
			return model.Validation("invalid collection schema: %v", err)
		}
		schema = compiled
	}
	for _, idx := range col.Indexes {
		if !collectionNameRe.MatchString(idx.Field) {
			return model.Validation("invalid index field %q", idx.Field)
		}
	}

	now := time.Now().UTC()
	col.CreatedAt = now
	col.UpdatedAt = now

	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		schemaJSON, err := marshalOrNull(col.Schema)
		if err != nil {
			return model.Storage(err)
		}
		indexesJSON, err := marshalOrNull(col.Indexes)
		if err != nil {
			return model.Storage(err)
		}
		optionsJSON, err := marshalOrNull(col.Options)
		if err != nil {
			return model.Storage(err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO _collections (name, schema_json, indexes_json, options_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			col.Name, schemaJSON, indexesJSON, optionsJSON,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		); err != nil {
			return s.mapSQLError("", err)
		}

		ddl := fmt.Sprintf(`CREATE TABLE %q (
			id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			created_by TEXT,
			updated_by TEXT
		)`, tableName(col.Name))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return model.Storage(err)
		}

		for _, idx := range col.Indexes {
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			stmt := fmt.Sprintf("CREATE %sINDEX %q ON %q (json_extract(payload_json, '$.%s'))",
				unique, indexName(col.Name, idx.Field), tableName(col.Name), idx.Field)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return model.Storage(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cols[col.Name] = &collectionState{meta: col, schema: schema}
	s.mu.Unlock()
	s.log.Infow("collection created", "name", col.Name, "indexes", len(col.Indexes))
	return nil
}

// DropCollection removes the table and all its documents atomically with
// the metadata row.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.resolve(name); err != nil {
		return err
	}
	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM _collections WHERE name = ?", name); err != nil {
			return model.Storage(err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", tableName(name))); err != nil {
			return model.Storage(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cols, name)
	s.mu.Unlock()
	s.log.Infow("collection dropped", "name", name)
	return nil
}

// Collection returns the metadata of a collection.
func (s *Store) Collection(name string) (*model.Collection, error) {
	st, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return st.meta, nil
}

// Schema returns the compiled advisory schema, or nil when none is set.
func (s *Store) Schema(name string) *gojsonschema.Schema {
	st, err := s.resolve(name)
	if err != nil {
		return nil
	}
	return st.schema
}

// Collections lists all collection metadata, ordered by name.
func (s *Store) Collections() []*model.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Collection, 0, len(s.cols))
	for _, st := range s.cols {
		out = append(out, st.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) loadCollections(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, schema_json, indexes_json, options_json, created_at, updated_at FROM _collections")
	if err != nil {
		return model.Storage(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name                 string
			schemaJSON           sql.NullString
			indexesJSON          sql.NullString
			optionsJSON          sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&name, &schemaJSON, &indexesJSON, &optionsJSON, &createdAt, &updatedAt); err != nil {
			return model.Storage(err)
		}
		col := &model.Collection{Name: name}
		col.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		col.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		if schemaJSON.Valid {
			_ = json.Unmarshal([]byte(schemaJSON.String), &col.Schema)
		}
		if indexesJSON.Valid {
			_ = json.Unmarshal([]byte(indexesJSON.String), &col.Indexes)
		}
		if optionsJSON.Valid {
			_ = json.Unmarshal([]byte(optionsJSON.String), &col.Options)
		}

		st := &collectionState{meta: col}
		if col.Schema != nil {
			compiled, err := compileSchema(col.Schema)
			if err != nil {
				s.log.Warnw("collection schema failed to compile, treating as unset",
					"collection", name, "error", err)
			} else {
				st.schema = compiled
			}
		}
		s.cols[name] = st
	}
	return rows.Err()
}

func compileSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

func marshalOrNull(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []model.IndexSpec:
		if len(t) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
