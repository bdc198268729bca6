package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callcoach/internal/records"
)

var _ records.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [records.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool

	closeOnce sync.Once
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// table returns the quoted identifier of t after checking it is one of the
// fixed tables; table names cannot be bound as query parameters.
func table(t records.Table) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", records.ErrUnknownTable, t)
	}
	return pgx.Identifier{string(t)}.Sanitize(), nil
}

// Save implements [records.Store].
func (s *Store) Save(ctx context.Context, t records.Table, d records.Draft) (records.Record, error) {
	tbl, err := table(t)
	if err != nil {
		return records.Record{}, err
	}

	rec := records.Record{Table: t, Title: d.Title, Name: d.Name, Content: d.Content}
	q := `INSERT INTO ` + tbl + ` (title, nom, transcriptions)
	      VALUES ($1, $2, $3)
	      RETURNING id::text, created_at, updated_at`
	err = s.pool.QueryRow(ctx, q, d.Title, d.Name, d.Content).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return records.Record{}, fmt.Errorf("postgres store: insert into %s: %w", t, err)
	}
	return rec, nil
}

// List implements [records.Store].
func (s *Store) List(ctx context.Context, t records.Table) ([]records.Record, error) {
	tbl, err := table(t)
	if err != nil {
		return nil, err
	}

	q := `SELECT id::text, title, nom, transcriptions, created_at, updated_at
	      FROM ` + tbl + `
	      ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %s: %w", t, err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.Record, error) {
		r := records.Record{Table: t}
		err := row.Scan(&r.ID, &r.Title, &r.Name, &r.Content, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan %s: %w", t, err)
	}
	return recs, nil
}

// Delete implements [records.Store].
func (s *Store) Delete(ctx context.Context, t records.Table, id string) error {
	tbl, err := table(t)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", records.ErrInvalidID, id)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+tbl+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete from %s: %w", t, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", records.ErrNotFound, t, id)
	}
	return nil
}

// Ping implements [records.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all pooled connections. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}
