package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC layout so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const memoryPath = ":memory:"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != memoryPath {
		if err := prepareFile(path); err != nil {
			return nil, err
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func prepareFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	// Pre-create the file with restrictive permissions if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("creating database file: %w", err)
		}
		_ = f.Close()
	}

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("restricting database file permissions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	// Ensure schema_version table exists
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Debug("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Query history ---

const queryColumns = `id, query_id, sql_text, dataspace, workload_name, source, status,
	row_count, polls, pages, error, duration_ms, created_at`

func (s *SQLiteStore) RecordQuery(r *QueryRecord) error {
	if r.Source == "" {
		r.Source = "cli"
	}
	_, err := s.db.Exec(`INSERT INTO query_history (`+queryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.QueryID, r.SQL, r.Dataspace, r.WorkloadName, r.Source, r.Status,
		r.RowCount, r.Polls, r.Pages, r.Error, r.DurationMs, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting query record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetQuery(id string) (*QueryRecord, error) {
	row := s.db.QueryRow(`SELECT `+queryColumns+` FROM query_history WHERE id = ?`, id)
	r, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query record %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLiteStore) ListQueries(f QueryFilter) ([]QueryRecord, error) {
	query := `SELECT ` + queryColumns + ` FROM query_history WHERE 1=1`
	var args []any

	if f.Status != "" && f.Status != "all" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Dataspace != "" {
		query += " AND dataspace = ?"
		args = append(args, f.Dataspace)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(f.Since))
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []QueryRecord
	for rows.Next() {
		r, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// --- Analytics ---

// GetAverageQueryDuration returns the mean duration of successful queries in
// dataspace, and how many were averaged. An empty dataspace covers all.
func (s *SQLiteStore) GetAverageQueryDuration(dataspace string) (time.Duration, int, error) {
	query := `SELECT COALESCE(AVG(duration_ms), 0), COUNT(*) FROM query_history WHERE status = ?`
	args := []any{StatusSucceeded}
	if dataspace != "" {
		query += " AND dataspace = ?"
		args = append(args, dataspace)
	}

	var avgMs float64
	var count int
	if err := s.db.QueryRow(query, args...).Scan(&avgMs, &count); err != nil {
		return 0, 0, fmt.Errorf("averaging query duration: %w", err)
	}
	return time.Duration(avgMs * float64(time.Millisecond)), count, nil
}

// --- Maintenance ---

// Cleanup deletes history older than olderThan and reports how many
// records were removed.
func (s *SQLiteStore) Cleanup(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM query_history WHERE created_at < ?", formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("cleaning query history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanQuery(sc scanner) (*QueryRecord, error) {
	var r QueryRecord
	var createdAt string

	err := sc.Scan(&r.ID, &r.QueryID, &r.SQL, &r.Dataspace, &r.WorkloadName, &r.Source, &r.Status,
		&r.RowCount, &r.Polls, &r.Pages, &r.Error, &r.DurationMs, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning query record: %w", err)
	}

	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
