package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"

	_ "modernc.org/sqlite"
)

const (
	kindTree = "tree"
	kindGrid = "grid"

	documentsTable = "documents"
)

// SQLiteRepository keeps every project's document and grid as JSON rows of a
// single sqlite table.
type SQLiteRepository struct {
	db *sql.DB
	sq sq.StatementBuilderType
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	// modernc.org/sqlite registers as "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL allows one writer and many readers across processes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	r := &SQLiteRepository{db: db, sq: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		project TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at_unixms INTEGER NOT NULL,
		PRIMARY KEY(project, kind)
	);`)
	return err
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) get(ctx context.Context, project, kind string, v any) error {
	query, args, err := r.sq.Select("body").From(documentsTable).
		Where(sq.Eq{"project": project, "kind": kind}).ToSql()
	if err != nil {
		return err
	}
	var body string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", project, domain.ErrProjectNotFound)
		}
		return fmt.Errorf("load %s %s: %w", kind, project, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("unmarshal %s %s: %w", kind, project, err)
	}
	return nil
}

func (r *SQLiteRepository) put(ctx context.Context, project, kind string, v any) error {
	if _, err := domain.NewProjectID(project); err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, project, err)
	}
	query, args, err := r.sq.Insert(documentsTable).
		Columns("project", "kind", "body", "updated_at_unixms").
		Values(project, kind, string(body), time.Now().UnixMilli()).
		Suffix("ON CONFLICT(project, kind) DO UPDATE SET body = excluded.body, updated_at_unixms = excluded.updated_at_unixms").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save %s %s: %w", kind, project, err)
	}
	return nil
}

func (r *SQLiteRepository) Load(ctx context.Context, project string) (*tree.Document, error) {
	var doc tree.Document
	if err := r.get(ctx, project, kindTree, &doc); err != nil {
		return nil, err
	}
	doc.Normalize()
	return &doc, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, project string, doc *tree.Document) error {
	return r.put(ctx, project, kindTree, doc)
}

func (r *SQLiteRepository) LoadGrid(ctx context.Context, project string) (*grid.Grid, error) {
	var g grid.Grid
	if err := r.get(ctx, project, kindGrid, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *SQLiteRepository) SaveGrid(ctx context.Context, project string, g *grid.Grid) error {
	return r.put(ctx, project, kindGrid, g)
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]string, error) {
	query, args, err := r.sq.Select("project").From(documentsTable).
		Where(sq.Eq{"kind": kindTree}).OrderBy("project").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
