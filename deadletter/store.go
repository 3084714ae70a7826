// Package deadletter persists thumbnail jobs that failed permanently, so
// they can be inspected and retried later.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql"
	astqlsqlite "github.com/zoobzio/astql/sqlite"
	"github.com/zoobzio/edamame"
	"github.com/zoobzio/sentinel"
	"github.com/zoobzio/soy"
	"github.com/zoobzio/thumb"
	"github.com/zoobzio/thumb/jobs"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

func init() {
	sentinel.Tag("db")
	sentinel.Tag("constraints")
}

// Table is the dead letter table name.
const Table = "dead_letters"

// Schema creates the dead letter table on SQLite.
const Schema = `CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	preset      TEXT NOT NULL,
	variant     TEXT NOT NULL DEFAULT '',
	source_disk TEXT NOT NULL,
	source_path TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	kind        TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL DEFAULT 0,
	failed_at   INTEGER NOT NULL DEFAULT 0
)`

// Record is the stored row. Times are unix nanoseconds.
type Record struct {
	ID         string `db:"id" constraints:"primarykey"`
	Preset     string `db:"preset" constraints:"notnull"`
	Variant    string `db:"variant"`
	SourceDisk string `db:"source_disk" constraints:"notnull"`
	SourcePath string `db:"source_path" constraints:"notnull"`
	Attempts   int    `db:"attempts"`
	Kind       string `db:"kind"`
	Error      string `db:"error"`
	EnqueuedAt int64  `db:"enqueued_at"`
	FailedAt   int64  `db:"failed_at"`
}

func fromDeadLetter(dl jobs.DeadLetter) *Record {
	return &Record{
		ID:         dl.ID,
		Preset:     dl.Preset,
		Variant:    dl.Variant,
		SourceDisk: dl.Source.Disk,
		SourcePath: dl.Source.Path,
		Attempts:   dl.Attempts,
		Kind:       string(dl.Kind),
		Error:      dl.Error,
		EnqueuedAt: unixNano(dl.Enqueued),
		FailedAt:   unixNano(dl.FailedAt),
	}
}

// DeadLetter converts the row back to a jobs.DeadLetter.
func (r *Record) DeadLetter() jobs.DeadLetter {
	return jobs.DeadLetter{
		Job: jobs.Job{
			ID:       r.ID,
			Source:   thumb.Source{Disk: r.SourceDisk, Path: r.SourcePath},
			Preset:   r.Preset,
			Variant:  r.Variant,
			Enqueued: fromUnixNano(r.EnqueuedAt),
		},
		Attempts: r.Attempts,
		Kind:     thumb.Kind(r.Kind),
		Error:    r.Error,
		FailedAt: fromUnixNano(r.FailedAt),
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Statements used by the store.
var (
	// Recent lists dead letters newest first.
	Recent = edamame.NewQueryStatement("recent", "Dead letters, newest first", edamame.QuerySpec{
		OrderBy:    []edamame.OrderBySpec{{Field: "failed_at", Direction: "desc"}},
		LimitParam: "limit",
	})

	// RecentByPreset lists one preset's dead letters newest first.
	RecentByPreset = edamame.NewQueryStatement("recent-by-preset", "Dead letters for a preset, newest first", edamame.QuerySpec{
		Where:      []edamame.ConditionSpec{{Field: "preset", Operator: "=", Param: "preset"}},
		OrderBy:    []edamame.OrderBySpec{{Field: "failed_at", Direction: "desc"}},
		LimitParam: "limit",
	})

	// CountAll counts stored dead letters.
	CountAll = edamame.NewAggregateStatement("count", "Count dead letters", edamame.AggCount, edamame.AggregateSpec{})
)

// defaultListLimit bounds List when the caller passes no limit.
const defaultListLimit = 1000

// Store is a jobs.DeadLetterSink backed by SQL.
type Store struct {
	executor *edamame.Executor[Record]
	closer   func() error
}

// New creates a Store over an existing connection. The table must exist.
func New(db *sqlx.DB, renderer astql.Renderer) (*Store, error) {
	exec, err := edamame.New[Record](db, Table, renderer)
	if err != nil {
		return nil, err
	}
	return &Store{executor: exec}, nil
}

// Open connects to a SQLite database at dsn, creates the table, and
// returns a Store that owns the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("deadletter: connect: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("deadletter: create table: %w", err)
	}
	s, err := New(db, astqlsqlite.New())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.closer = db.Close
	return s, nil
}

// Close releases the connection if the Store opened it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Record inserts dl, replacing any earlier row for the same job.
func (s *Store) Record(ctx context.Context, dl jobs.DeadLetter) error {
	q := s.executor.Soy()
	insert := q.InsertFull().OnConflict("id").DoUpdate()
	for _, field := range q.Metadata().Fields {
		col := field.Tags["db"]
		if col == "" || col == "-" || col == "id" {
			continue
		}
		insert = insert.Set(col, col)
	}
	if _, err := insert.Build().Exec(ctx, fromDeadLetter(dl)); err != nil {
		return fmt.Errorf("deadletter: record %s: %w", dl.ID, err)
	}
	return nil
}

// Get returns the dead letter with id, or thumb.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (jobs.DeadLetter, error) {
	rec, err := s.executor.Soy().Select().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id})
	if err != nil {
		if errors.Is(err, soy.ErrNotFound) {
			return jobs.DeadLetter{}, thumb.ErrNotFound
		}
		return jobs.DeadLetter{}, err
	}
	return rec.DeadLetter(), nil
}

// List returns up to limit dead letters newest first, for one preset or
// all of them when preset is empty.
func (s *Store) List(ctx context.Context, preset string, limit int) ([]jobs.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	stmt, params := Recent, map[string]any{"limit": limit}
	if preset != "" {
		stmt = RecentByPreset
		params["preset"] = preset
	}
	rows, err := s.executor.ExecQuery(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	out := make([]jobs.DeadLetter, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.DeadLetter())
	}
	return out, nil
}

// Delete removes the dead letter with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	affected, err := s.executor.Soy().Remove().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if affected == 0 {
		return thumb.ErrNotFound
	}
	return nil
}

// Count returns the number of stored dead letters.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.executor.ExecAggregate(ctx, CountAll, nil)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ jobs.DeadLetterSink = (*Store)(nil)
