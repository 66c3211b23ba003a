package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"m8flash/internal/flash"
	"m8flash/internal/session"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry is one recorded flash.
type Entry struct {
	ID         int64
	RunID      string
	Board      string
	Image      string
	Version    string
	Outcome    session.Outcome
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the flash took.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store records flashes in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordFlash stores a finished flash. Records without a run ID get one.
func (s *Store) RecordFlash(ctx context.Context, record flash.Record) error {
	if strings.TrimSpace(record.Board) == "" {
		return errors.New("record flash: board is required")
	}
	if record.RunID == "" {
		record.RunID = uuid.NewString()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = record.FinishedAt
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO flashes (run_id, board, image, version, outcome, message, started_at, finished_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.RunID,
			record.Board,
			record.Image,
			nullableString(record.Version),
			string(record.Outcome),
			nullableString(record.Message),
			record.StartedAt.UTC().Format(time.RFC3339Nano),
			record.FinishedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert flash: %w", err)
		}
		return nil
	})
}

// Filter narrows List results.
type Filter struct {
	Board   string
	Outcome session.Outcome
	Limit   int
}

// List returns recorded flashes, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT id, run_id, board, image, version, outcome, message, started_at, finished_at FROM flashes`
	var (
		clauses []string
		args    []any
	)
	if filter.Board != "" {
		clauses = append(clauses, "board = ?")
		args = append(args, filter.Board)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flashes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashes: %w", err)
	}
	return entries, nil
}

// Latest returns the most recent flash of board, or false if there is none.
func (s *Store) Latest(ctx context.Context, board string) (Entry, bool, error) {
	entries, err := s.List(ctx, Filter{Board: board, Limit: 1})
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

// Prune deletes flashes that finished before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM flashes WHERE finished_at < ?", cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("prune flashes: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry             Entry
		version, message  sql.NullString
		outcome           string
		started, finished string
	)
	if err := row.Scan(&entry.ID, &entry.RunID, &entry.Board, &entry.Image, &version, &outcome, &message, &started, &finished); err != nil {
		return Entry{}, fmt.Errorf("scan flash: %w", err)
	}
	entry.Version = version.String
	entry.Message = message.String
	entry.Outcome = session.Outcome(outcome)
	entry.StartedAt = parseTime(started)
	entry.FinishedAt = parseTime(finished)
	return entry, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
