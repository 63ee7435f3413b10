package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowscope/flowscope/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Definitions ---

// SaveDefinition stores the document under the next version for the name.
// Version assignment and insert run in one write transaction so two
// concurrent saves of the same name cannot claim the same version.
func (s *LibSQLStore) SaveDefinition(ctx context.Context, name string, document []byte) (*Definition, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition name is required")
	}
	if !json.Valid(document) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "definition %s document is not valid JSON", name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save definition: %w", err)
	}
	defer tx.Rollback()

	if err := acquireWriteLock(ctx, tx); err != nil {
		return nil, err
	}

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM definitions WHERE name = ?`, name,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("get next definition version: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO definitions (name, version, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, version, string(document), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit definition: %w", err)
	}

	return &Definition{
		Name:      name,
		Version:   version,
		Document:  json.RawMessage(document),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetDefinition returns the named definition. Version 0 means latest.
func (s *LibSQLStore) GetDefinition(ctx context.Context, name string, version int) (*Definition, error) {
	query := `SELECT name, version, document, created_at, updated_at FROM definitions
	          WHERE name = ? ORDER BY version DESC LIMIT 1`
	args := []any{name}
	if version > 0 {
		query = `SELECT name, version, document, created_at, updated_at FROM definitions
		         WHERE name = ? AND version = ?`
		args = append(args, version)
	}

	d := &Definition{}
	var doc string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&d.Name, &d.Version, &doc, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("definition", name)
	}
	if err != nil {
		return nil, err
	}
	d.Document = json.RawMessage(doc)
	return d, nil
}

// ListDefinitions returns the latest version of every definition, by name.
func (s *LibSQLStore) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.name, d.version, d.document, d.created_at, d.updated_at
		 FROM definitions d
		 JOIN (SELECT name, MAX(version) AS version FROM definitions GROUP BY name) latest
		   ON d.name = latest.name AND d.version = latest.version
		 ORDER BY d.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// ListVersions returns every stored version of the named definition, oldest first.
func (s *LibSQLStore) ListVersions(ctx context.Context, name string) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, document, created_at, updated_at FROM definitions
		 WHERE name = ? ORDER BY version ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// DeleteDefinition removes every version of the named definition.
func (s *LibSQLStore) DeleteDefinition(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", name)
}

func scanDefinitions(rows *sql.Rows) ([]*Definition, error) {
	var defs []*Definition
	for rows.Next() {
		d := &Definition{}
		var doc string
		if err := rows.Scan(&d.Name, &d.Version, &doc, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Document = json.RawMessage(doc)
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
