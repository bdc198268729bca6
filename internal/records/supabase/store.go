// Package supabase implements [records.Store] over the Supabase REST API
// (PostgREST) using the project URL and its anon key.
//
// The tables must already exist in the project; use the postgres package's
// migrations or the Supabase dashboard to create them.
package supabase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/MrWong99/callcoach/internal/records"
)

var _ records.Store = (*Store)(nil)

const columns = "id,title,nom,transcriptions,created_at,updated_at"

// Store is a Supabase-backed [records.Store].
//
// The underlying client has no context support; each call checks ctx before
// issuing its request and is otherwise bounded by the HTTP client timeout.
type Store struct {
	client *supabase.Client
}

// NewStore creates a Store for the project at url.
func NewStore(url, key string) (*Store, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase store: url and key are required")
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase store: create client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) from(ctx context.Context, t records.Table) (*postgrest.QueryBuilder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", records.ErrUnknownTable, t)
	}
	return s.client.From(string(t)), nil
}

// Save implements [records.Store].
func (s *Store) Save(ctx context.Context, t records.Table, d records.Draft) (records.Record, error) {
	q, err := s.from(ctx, t)
	if err != nil {
		return records.Record{}, err
	}

	var rows []records.Record
	if _, err := q.Insert(d, false, "", "representation", "").ExecuteTo(&rows); err != nil {
		return records.Record{}, fmt.Errorf("supabase store: insert into %s: %w", t, err)
	}
	if len(rows) == 0 {
		return records.Record{}, fmt.Errorf("supabase store: insert into %s: no row returned", t)
	}
	rec := rows[0]
	rec.Table = t
	return rec, nil
}

// List implements [records.Store].
func (s *Store) List(ctx context.Context, t records.Table) ([]records.Record, error) {
	q, err := s.from(ctx, t)
	if err != nil {
		return nil, err
	}

	var rows []records.Record
	_, err = q.Select(columns, "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase store: list %s: %w", t, err)
	}
	for i := range rows {
		rows[i].Table = t
	}
	return rows, nil
}

// Delete implements [records.Store].
func (s *Store) Delete(ctx context.Context, t records.Table, id string) error {
	q, err := s.from(ctx, t)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", records.ErrInvalidID, id)
	}

	var rows []records.Record
	if _, err := q.Delete("representation", "").Eq("id", id).ExecuteTo(&rows); err != nil {
		return fmt.Errorf("supabase store: delete from %s: %w", t, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s/%s", records.ErrNotFound, t, id)
	}
	return nil
}

// Ping implements [records.Store] by reading one id from the default table.
func (s *Store) Ping(ctx context.Context) error {
	q, err := s.from(ctx, records.DefaultTable)
	if err != nil {
		return err
	}
	if _, _, err := q.Select("id", "", false).Limit(1, "").Execute(); err != nil {
		return fmt.Errorf("supabase store: ping: %w", err)
	}
	return nil
}

// Close implements [records.Store]. The REST client holds no connection
// state.
func (s *Store) Close() error { return nil }
