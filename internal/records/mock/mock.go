// Package mock provides an in-memory records.Store for tests.
//
// Store keeps rows per table, assigns UUIDs and timestamps like a real
// backend, and records every call. Set the XErr fields to make the next and
// all following calls of that method fail.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/callcoach/internal/records"
)

var _ records.Store = (*Store)(nil)

// Store is a mock implementation of records.Store.
type Store struct {
	mu   sync.Mutex
	rows map[records.Table][]records.Record

	// Now stamps new rows. Defaults to time.Now.
	Now func() time.Time

	SaveErr   error
	ListErr   error
	DeleteErr error
	PingErr   error

	// SaveCalls records every draft passed to Save, with its table.
	SaveCalls []SaveCall

	CallCountList   int
	CallCountDelete int
	CallCountPing   int
	CallCountClose  int
}

// SaveCall records a single invocation of Store.Save.
type SaveCall struct {
	Table records.Table
	Draft records.Draft
}

// Save records the call and appends a row.
func (s *Store) Save(_ context.Context, t records.Table, d records.Draft) (records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = append(s.SaveCalls, SaveCall{Table: t, Draft: d})
	if s.SaveErr != nil {
		return records.Record{}, s.SaveErr
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now()
	rec := records.Record{
		ID:        uuid.NewString(),
		Table:     t,
		Title:     d.Title,
		Name:      d.Name,
		Content:   d.Content,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if s.rows == nil {
		s.rows = make(map[records.Table][]records.Record)
	}
	s.rows[t] = append(s.rows[t], rec)
	return rec, nil
}

// List returns the rows of t, newest first.
func (s *Store) List(_ context.Context, t records.Table) ([]records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountList++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := slices.Clone(s.rows[t])
	slices.Reverse(out)
	return out, nil
}

// Delete removes the row with id from t.
func (s *Store) Delete(_ context.Context, t records.Table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDelete++
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	i := slices.IndexFunc(s.rows[t], func(r records.Record) bool { return r.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s/%s", records.ErrNotFound, t, id)
	}
	s.rows[t] = slices.Delete(s.rows[t], i, i+1)
	return nil
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPing++
	return s.PingErr
}

// Close counts the call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Saved returns a copy of the recorded Save calls.
func (s *Store) Saved() []SaveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.SaveCalls)
}
