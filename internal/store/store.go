// Package store implements the document store on an embedded SQLite engine
// (modernc.org/sqlite, pure Go). Each collection is one physical table with
// a single JSON payload column; collections and named queries are metadata
// rows, not DDL-enforced structure. Mutations run under a single-writer
// discipline: one write transaction in flight at a time, readers proceed
// concurrently under WAL snapshot isolation.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"regexp"
	"runtime"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"modernc.org/sqlite"

	"github.com/b3vet/swiftbase/internal/model"
)

const (
	tablePrefix    = "c_"
	stmtCacheSize  = 256
	collectionsDDL = `CREATE TABLE IF NOT EXISTS _collections (
		name TEXT PRIMARY KEY,
		schema_json TEXT,
		indexes_json TEXT,
		options_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	queriesDDL = `CREATE TABLE IF NOT EXISTS _queries (
		name TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		action TEXT NOT NULL,
		query_json TEXT,
		data_json TEXT,
		created_at TEXT NOT NULL
	)`
)

var collectionNameRe = regexp.MustCompile(`^[a-zA-Z][A-Za-z0-9_]{0,63}$`)

// The REGEXP operator and json_eq are Go scalar functions registered with
// the driver. regexp(pattern, text) backs $regex; json_eq compares two JSON
// values structurally so object key order cannot affect $eq.
func init() {
	var mu sync.Mutex
	patterns := map[string]*regexp.Regexp{}

	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			pat, ok1 := args[0].(string)
			text, ok2 := args[1].(string)
			if !ok1 || !ok2 {
				return int64(0), nil
			}
			mu.Lock()
			re, ok := patterns[pat]
			mu.Unlock()
			if !ok {
				var err error
				re, err = regexp.Compile(pat)
				if err != nil {
					return nil, fmt.Errorf("regexp: %w", err)
				}
				mu.Lock()
				patterns[pat] = re
				mu.Unlock()
			}
			if re.MatchString(text) {
				return int64(1), nil
			}
			return int64(0), nil
		})

	sqlite.MustRegisterDeterministicScalarFunction("json_eq", 2,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			if jsonValueEqual(args[0], args[1]) {
				return int64(1), nil
			}
			return int64(0), nil
		})
}

type collectionState struct {
	meta   *model.Collection
	schema *gojsonschema.Schema
}

// Store is the document store handle. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger

	// writeMu serializes write transactions (single-writer discipline).
	writeMu sync.Mutex

	// stmts caches prepared read statements keyed by SQL text.
	stmts *lru.Cache[string, *sql.Stmt]

	mu   sync.RWMutex
	cols map[string]*collectionState
}

// Open opens (creating if necessary) the store at path.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, model.Storage(err)
	}
	db.SetMaxOpenConns(max(4, runtime.NumCPU()))

	stmts, err := lru.NewWithEvict[string, *sql.Stmt](stmtCacheSize, func(_ string, stmt *sql.Stmt) {
		_ = stmt.Close()
	})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, log: log, stmts: stmts, cols: make(map[string]*collectionState)}
	if err := s.bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infow("store opened", "path", path, "collections", len(s.cols))
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	for _, ddl := range []string{collectionsDDL, queriesDDL} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return model.Storage(err)
		}
	}
	return s.loadCollections(ctx)
}

// Close releases cached statements and the underlying database.
func (s *Store) Close() error {
	s.stmts.Purge()
	return s.db.Close()
}

// WithWriteTx runs fn inside the single write transaction. The lock is held
// across the whole transaction so at most one write is in flight.
func (s *Store) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.WithWriteTxCommitted(ctx, fn, nil)
}

// WithWriteTxCommitted is WithWriteTx with a hook that runs after a
// successful commit while the writer lock is still held. It is the ordering
// point for change delivery: hooks of successive commits run strictly in
// commit order. The hook runs on the write path and must not block on slow
// consumers.
func (s *Store) WithWriteTxCommitted(ctx context.Context, fn func(tx *sql.Tx) error, committed func()) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Storage(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.Storage(err)
	}
	if committed != nil {
		committed()
	}
	return nil
}

// prepared returns a cached prepared statement for the read path.
func (s *Store) prepared(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts.Get(sqlText); ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, model.Storage(err)
	}
	s.stmts.Add(sqlText, stmt)
	return stmt, nil
}

func tableName(collection string) string {
	return tablePrefix + collection
}

func indexName(collection, field string) string {
	return fmt.Sprintf("idx_%s%s_%s", tablePrefix, collection, field)
}

// resolve returns the collection state or CollectionNotFound.
func (s *Store) resolve(name string) (*collectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cols[name]
	if !ok {
		return nil, model.CollectionNotFound(name)
	}
	return st, nil
}

// Querier abstracts *sql.DB and *sql.Tx for the document helpers.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var _ Querier = (*sql.DB)(nil)
var _ Querier = (*sql.Tx)(nil)
