package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

// Find executes a compiled find against the store's read path, using the
// prepared-statement cache.
func (s *Store) Find(ctx context.Context, collection string, pq *query.ParsedQuery) ([]*model.Document, error) {
	if _, err := s.resolve(collection); err != nil {
		return nil, err
	}
	compiled, err := query.CompileFind(tableName(collection), pq)
	if err != nil {
		return nil, err
	}
	stmt, err := s.prepared(ctx, compiled.SQL)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, compiled.Args...)
	if err != nil {
		return nil, model.Storage(err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// FindTx executes a compiled find inside an open transaction, used by
// mutating actions to resolve their target set.
func (s *Store) FindTx(ctx context.Context, tx *sql.Tx, collection string, pq *query.ParsedQuery) ([]*model.Document, error) {
	if _, err := s.resolve(collection); err != nil {
		return nil, err
	}
	compiled, err := query.CompileFind(tableName(collection), pq)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, model.Storage(err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Count evaluates the same predicate as Find, returning the row count only.
func (s *Store) Count(ctx context.Context, collection string, pq *query.ParsedQuery) (int64, error) {
	if _, err := s.resolve(collection); err != nil {
		return 0, err
	}
	compiled, err := query.CompileCount(tableName(collection), pq)
	if err != nil {
		return 0, err
	}
	stmt, err := s.prepared(ctx, compiled.SQL)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := stmt.QueryRowContext(ctx, compiled.Args...).Scan(&n); err != nil {
		return 0, model.Storage(err)
	}
	return n, nil
}

// Distinct returns the distinct extracted values of the query's distinct
// field across matching rows.
func (s *Store) Distinct(ctx context.Context, collection string, pq *query.ParsedQuery) ([]any, error) {
	if _, err := s.resolve(collection); err != nil {
		return nil, err
	}
	compiled, err := query.CompileFind(tableName(collection), pq)
	if err != nil {
		return nil, err
	}
	stmt, err := s.prepared(ctx, compiled.SQL)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, compiled.Args...)
	if err != nil {
		return nil, model.Storage(err)
	}
	defer rows.Close()

	values := make([]any, 0)
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, model.Storage(err)
		}
		values = append(values, decodeExtracted(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage(err)
	}
	return values, nil
}

// InsertTx writes a new document row. Uniqueness violations surface as
// ConflictError carrying the indexed field when it can be recovered.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, collection string, doc *model.Document) error {
	if _, err := s.resolve(collection); err != nil {
		return err
	}
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return model.Storage(err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %q (id, payload_json, version, created_at, updated_at, created_by, updated_by) VALUES (?, ?, ?, ?, ?, ?, ?)", tableName(collection)),
		doc.ID, string(payload), doc.Version,
		doc.CreatedAt.UTC().Format(time.RFC3339Nano), doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullable(doc.CreatedBy), nullable(doc.UpdatedBy),
	)
	if err != nil {
		return s.mapSQLError(collection, err)
	}
	return nil
}

// UpdateTx writes back a modified payload, bumping version and updated_at.
func (s *Store) UpdateTx(ctx context.Context, tx *sql.Tx, collection string, doc *model.Document) error {
	if _, err := s.resolve(collection); err != nil {
		return err
	}
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return model.Storage(err)
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %q SET payload_json = ?, version = ?, updated_at = ?, updated_by = ? WHERE id = ?", tableName(collection)),
		string(payload), doc.Version, doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullable(doc.UpdatedBy), doc.ID,
	)
	if err != nil {
		return s.mapSQLError(collection, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Storage(err)
	}
	if affected == 0 {
		return model.DocumentNotFound(collection, doc.ID)
	}
	return nil
}

// DeleteTx removes the given ids, returning how many rows went away.
func (s *Store) DeleteTx(ctx context.Context, tx *sql.Tx, collection string, ids []string) (int64, error) {
	if _, err := s.resolve(collection); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	compiled := query.CompileDelete(tableName(collection), ids)
	res, err := tx.ExecContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return 0, s.mapSQLError(collection, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, model.Storage(err)
	}
	return affected, nil
}

func scanDocuments(rows *sql.Rows) ([]*model.Document, error) {
	docs := make([]*model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage(err)
	}
	return docs, nil
}

func scanDocument(rows *sql.Rows) (*model.Document, error) {
	var (
		doc                  model.Document
		payload              string
		createdAt, updatedAt string
		createdBy, updatedBy sql.NullString
	)
	if err := rows.Scan(&doc.ID, &payload, &doc.Version, &createdAt, &updatedAt, &createdBy, &updatedBy); err != nil {
		return nil, model.Storage(err)
	}
	if err := json.Unmarshal([]byte(payload), &doc.Payload); err != nil {
		return nil, model.Storage(fmt.Errorf("corrupt payload for %s: %w", doc.ID, err))
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	doc.CreatedBy = createdBy.String
	doc.UpdatedBy = updatedBy.String
	return &doc, nil
}

// decodeExtracted converts a json_extract result into its decoded JSON
// form. Objects and arrays come back as JSON text.
func decodeExtracted(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded
			}
		}
		return v
	case []byte:
		return decodeExtracted(string(v))
	default:
		return v
	}
}

// mapSQLError classifies a driver error. UNIQUE violations on expression
// indexes name the index; the declared indexes of the collection recover
// which field that index covers.
func (s *Store) mapSQLError(collection string, err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return model.Storage(err)
	}
	field := ""
	if st, resolveErr := s.resolve(collection); resolveErr == nil {
		for _, idx := range st.meta.Indexes {
			if strings.Contains(msg, indexName(collection, idx.Field)) {
				field = idx.Field
				break
			}
		}
	}
	if collection != "" && strings.Contains(msg, tableName(collection)+".id") {
		field = "id"
	}
	if strings.Contains(msg, "_collections.name") || strings.Contains(msg, "_queries.name") {
		field = "name"
	}
	return model.Conflict(field, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonValueEqual backs the json_eq scalar function. Operands may arrive as
// JSON text (objects/arrays from json_extract) or as plain SQL scalars.
func jsonValueEqual(a, b driver.Value) bool {
	return query.ValueEqual(decodeDriverValue(a), decodeDriverValue(b))
}

func decodeDriverValue(v driver.Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int64:
		return float64(t)
	case float64:
		return t
	case []byte:
		return decodeExtracted(string(t))
	case string:
		return decodeExtracted(t)
	default:
		return t
	}
}
