package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"skein/internal/config"
)

// ErrDisabled is returned by Open when the journal is switched off.
var ErrDisabled = errors.New("journal: disabled in configuration")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	defaultListLimit        = 50
)

// Change is one recorded state delta.
type Change struct {
	ID         int64     `json:"id"`
	FeedURL    string    `json:"feed_url"`
	StoryID    string    `json:"story_id"`
	Title      string    `json:"title,omitempty"`
	Added      []string  `json:"added"`
	Removed    []string  `json:"removed"`
	SessionID  string    `json:"session_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Query narrows List. Zero values match everything.
type Query struct {
	FeedURL string
	StoryID string
	Since   time.Time
	Limit   int
}

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the journal database.
func Open(cfg *config.Config) (*Store, error) {
	if !cfg.Journal.Enabled {
		return nil, ErrDisabled
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.Paths.JournalPath
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: func() time.Time { return time.Now().UTC() }}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Record appends a change. RecordedAt defaults to now.
func (s *Store) Record(ctx context.Context, change Change) (int64, error) {
	if strings.TrimSpace(change.FeedURL) == "" || strings.TrimSpace(change.StoryID) == "" {
		return 0, errors.New("journal: change needs a feed url and story id")
	}
	if change.RecordedAt.IsZero() {
		change.RecordedAt = s.now()
	}
	added, err := encodeTags(change.Added)
	if err != nil {
		return 0, err
	}
	removed, err := encodeTags(change.Removed)
	if err != nil {
		return 0, err
	}

	var id int64
	err = retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`INSERT INTO changes (feed_url, story_id, title, added_json, removed_json, session_id, recorded_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			change.FeedURL,
			change.StoryID,
			nullableString(change.Title),
			added,
			removed,
			nullableString(change.SessionID),
			change.RecordedAt.UTC().Format(time.RFC3339Nano),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("insert change: %w", err)
	}
	return id, nil
}

// List returns matching changes, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Change, error) {
	var (
		where []string
		args  []any
	)
	if q.FeedURL != "" {
		where = append(where, "feed_url = ?")
		args = append(args, q.FeedURL)
	}
	if q.StoryID != "" {
		where = append(where, "story_id = ?")
		args = append(args, q.StoryID)
	}
	if !q.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, feed_url, story_id, title, added_json, removed_json, session_id, recorded_at FROM changes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, change)
	}
	return out, rows.Err()
}

// Prune deletes changes recorded before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			"DELETE FROM changes WHERE recorded_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano),
		)
		if execErr != nil {
			return execErr
		}
		removed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChange(row scanner) (Change, error) {
	var (
		change         Change
		title, session sql.NullString
		added, removed string
		recorded       string
	)
	if err := row.Scan(&change.ID, &change.FeedURL, &change.StoryID, &title, &added, &removed, &session, &recorded); err != nil {
		return Change{}, fmt.Errorf("scan change: %w", err)
	}
	change.Title = title.String
	change.SessionID = session.String
	if err := json.Unmarshal([]byte(added), &change.Added); err != nil {
		return Change{}, fmt.Errorf("decode added tags: %w", err)
	}
	if err := json.Unmarshal([]byte(removed), &change.Removed); err != nil {
		return Change{}, fmt.Errorf("decode removed tags: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, recorded)
	if err != nil {
		return Change{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	change.RecordedAt = ts
	return change, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
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
	if ctx == nil {
		ctx = context.Background()
	}
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
