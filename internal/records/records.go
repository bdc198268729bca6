// Package records persists named transcripts and coaching sessions to one of
// four fixed tables of a hosted relational backend.
//
// The package defines the [Store] contract and the [Recorder] that sits
// between the user-facing surfaces and a Store: it validates input, builds
// titles and combined content, classifies failures, and records metrics.
// Implementations live in the postgres, supabase and mock subpackages.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table is one of the fixed destination tables.
type Table string

const (
	TableStaffy   Table = "staffy"
	TableMutuelle Table = "mutuelle"
	TableTimeOne  Table = "timeone"
	TableSercure  Table = "sercure"
)

// DefaultTable is preselected when the user does not choose one.
const DefaultTable = TableStaffy

var tables = []Table{TableStaffy, TableMutuelle, TableTimeOne, TableSercure}

var displayNames = map[Table]string{
	TableStaffy:   "Staffy",
	TableMutuelle: "Mutuelle",
	TableTimeOne:  "TimeOne",
	TableSercure:  "Sercure",
}

// Tables returns every table in display order.
func Tables() []Table {
	return append([]Table(nil), tables...)
}

// Valid reports whether t is one of the known tables.
func (t Table) Valid() bool {
	_, ok := displayNames[t]
	return ok
}

// DisplayName returns the human-readable table name.
func (t Table) DisplayName() string {
	if n, ok := displayNames[t]; ok {
		return n
	}
	return string(t)
}

// ParseTable resolves a table by identifier or display name, ignoring case.
func ParseTable(s string) (Table, error) {
	s = strings.TrimSpace(s)
	for _, t := range tables {
		if strings.EqualFold(s, string(t)) || strings.EqualFold(s, displayNames[t]) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
}

var (
	// ErrUnknownTable is returned for a table outside the fixed set.
	ErrUnknownTable = errors.New("records: unknown table")

	// ErrNotFound is returned by [Store.Delete] when no row has the id.
	ErrNotFound = errors.New("records: record not found")

	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("records: invalid record id")
)

// Draft is a record about to be inserted.
type Draft struct {
	Title string `json:"title"`

	// Name is the label the user gave the record.
	Name string `json:"nom"`

	// Content is the transcript, or the transcript and analysis combined.
	Content string `json:"transcriptions"`
}

// Record is a stored row. ID and the timestamps are assigned by the backend.
type Record struct {
	ID        string    `json:"id"`
	Table     Table     `json:"-"`
	Title     string    `json:"title"`
	Name      string    `json:"nom"`
	Content   string    `json:"transcriptions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts d into t and returns the stored row.
	Save(ctx context.Context, t Table, d Draft) (Record, error)

	// List returns every row of t, newest first.
	List(ctx context.Context, t Table) ([]Record, error)

	// Delete removes the row with the given id from t. Returns [ErrNotFound]
	// when there is none.
	Delete(ctx context.Context, t Table, id string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
