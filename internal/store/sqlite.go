package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/synclink/internal/document"
)

type SQLiteStore struct {
	db *sql.DB

	selectQuery string
	upsertQuery string
}

var _ DocumentStore = (*SQLiteStore)(nil)

func NewSQLite(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info("document store initialized", zap.String("driver", "sqlite"), zap.String("path", dbPath))
	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	columns := strings.Join(document.Fields, ", ")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(document.Fields)+1), ", ")
	assignments := make([]string, len(document.Fields))
	for i, f := range document.Fields {
		assignments[i] = fmt.Sprintf("%s = excluded.%s", f, f)
	}

	return &SQLiteStore{
		db:          db,
		selectQuery: fmt.Sprintf("SELECT id, %s FROM documents WHERE id = ?", columns),
		upsertQuery: fmt.Sprintf(`
		INSERT INTO documents (id, %s) VALUES (%s)
		ON CONFLICT(id) DO UPDATE SET
			%s,
			updated_at = CURRENT_TIMESTAMP
	`, columns, placeholders, strings.Join(assignments, ",\n\t\t\t")),
	}
}

func createTables(db *sql.DB) error {
	var columns strings.Builder
	for _, f := range document.Fields {
		fmt.Fprintf(&columns, "\t\t%s TEXT NOT NULL DEFAULT '',\n", f)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
%s		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`, columns.String())

	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string) (*document.Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	// Every column defaults to '', so a bare insert yields an empty document
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO documents (id) VALUES (?)", id); err != nil {
		return nil, fmt.Errorf("create document %s: %w", id, err)
	}

	doc := document.New(id)
	targets := append([]any{&doc.ID}, doc.ScanTargets()...)
	if err := s.db.QueryRowContext(ctx, s.selectQuery, id).Scan(targets...); err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, doc *document.Document) error {
	if doc == nil || doc.ID == "" {
		return ErrNotFound
	}

	args := []any{doc.ID}
	for _, v := range doc.Values() {
		args = append(args, v)
	}

	if _, err := s.db.ExecContext(ctx, s.upsertQuery, args...); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
	return count, err
}
