package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgDocumentsTable = "plangrid_documents"

// PgRepository is a PostgreSQL-backed document and grid store.
type PgRepository struct {
	pool *pgxpool.Pool
	sq   sq.StatementBuilderType
}

// NewPgRepository creates a PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, sq: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// OpenPostgres connects to dsn and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PgRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	r := NewPgRepository(pool)
	if err := r.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// EnsureTable creates the documents table if it doesn't exist.
func (r *PgRepository) EnsureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS plangrid_documents (
			project    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (project, kind)
		)`)
	return err
}

// Close releases the pool.
func (r *PgRepository) Close() {
	r.pool.Close()
}

func (r *PgRepository) get(ctx context.Context, project, kind string, v any) error {
	query, args, err := r.sq.Select("body").From(pgDocumentsTable).
		Where(sq.Eq{"project": project, "kind": kind}).ToSql()
	if err != nil {
		return err
	}
	var body []byte
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", project, domain.ErrProjectNotFound)
		}
		return fmt.Errorf("load %s %s: %w", kind, project, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal %s %s: %w", kind, project, err)
	}
	return nil
}

func (r *PgRepository) put(ctx context.Context, project, kind string, v any) error {
	if _, err := domain.NewProjectID(project); err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, project, err)
	}
	query, args, err := r.sq.Insert(pgDocumentsTable).
		Columns("project", "kind", "body").
		Values(project, kind, sq.Expr("?::jsonb", string(body))).
		Suffix("ON CONFLICT (project, kind) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save %s %s: %w", kind, project, err)
	}
	return nil
}

func (r *PgRepository) Load(ctx context.Context, project string) (*tree.Document, error) {
	var doc tree.Document
	if err := r.get(ctx, project, kindTree, &doc); err != nil {
		return nil, err
	}
	doc.Normalize()
	return &doc, nil
}

func (r *PgRepository) Save(ctx context.Context, project string, doc *tree.Document) error {
	return r.put(ctx, project, kindTree, doc)
}

func (r *PgRepository) LoadGrid(ctx context.Context, project string) (*grid.Grid, error) {
	var g grid.Grid
	if err := r.get(ctx, project, kindGrid, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *PgRepository) SaveGrid(ctx context.Context, project string, g *grid.Grid) error {
	return r.put(ctx, project, kindGrid, g)
}

func (r *PgRepository) ListProjects(ctx context.Context) ([]string, error) {
	query, args, err := r.sq.Select("project").From(pgDocumentsTable).
		Where(sq.Eq{"kind": kindTree}).OrderBy("project").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
