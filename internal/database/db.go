package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("exchange not found")

// Exchange is one prompt sent through the gateway and what came back
type Exchange struct {
	ID        int64         `json:"id"`
	TurnID    string        `json:"turn_id,omitempty"`
	Source    string        `json:"source"` // http, ws, cli or repl
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Stats summarizes the transcript
type Stats struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	AvgDuration time.Duration `json:"avg_duration"`
	Last        *time.Time    `json:"last,omitempty"`
}

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Create database directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; sqlite serializes anyway
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the database tables if they don't exist
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT,
		source TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
	CREATE INDEX IF NOT EXISTS idx_exchanges_success ON exchanges(success);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveExchange stores ex and sets its ID
func (db *DB) SaveExchange(ctx context.Context, ex *Exchange) (int64, error) {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO exchanges (turn_id, source, prompt, response, success, error, attempts, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.conn.ExecContext(ctx, query,
		nullString(ex.TurnID),
		ex.Source,
		ex.Prompt,
		ex.Response,
		ex.Success,
		nullString(ex.Error),
		ex.Attempts,
		ex.Duration.Milliseconds(),
		ex.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save exchange: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	ex.ID = id
	return id, nil
}

// GetExchange retrieves an exchange by ID
func (db *DB) GetExchange(ctx context.Context, id int64) (*Exchange, error) {
	query := `
		SELECT id, turn_id, source, prompt, response, success, error, attempts, duration_ms, created_at
		FROM exchanges
		WHERE id = ?
	`

	ex, err := scanExchange(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return ex, nil
}

// RecentExchanges retrieves the most recent exchanges, newest first
func (db *DB) RecentExchanges(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, turn_id, source, prompt, response, success, error, attempts, duration_ms, created_at
		FROM exchanges
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := []Exchange{}
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, *ex)
	}

	return exchanges, rows.Err()
}

// GetStatistics returns transcript statistics
func (db *DB) GetStatistics(ctx context.Context) (*Stats, error) {
	var (
		stats   Stats
		avgMS   sql.NullFloat64
		lastRaw sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		       AVG(duration_ms),
		       MAX(created_at)
		FROM exchanges
	`).Scan(&stats.Total, &stats.Succeeded, &avgMS, &lastRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}

	stats.Failed = stats.Total - stats.Succeeded
	if avgMS.Valid {
		stats.AvgDuration = time.Duration(avgMS.Float64 * float64(time.Millisecond))
	}
	// MAX() loses the column type, so the timestamp comes back as text
	if lastRaw.Valid {
		if last, err := parseTimestamp(lastRaw.String); err == nil {
			stats.Last = &last
		}
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (*Exchange, error) {
	var (
		ex         Exchange
		turnID     sql.NullString
		errStr     sql.NullString
		durationMS int64
	)
	err := row.Scan(
		&ex.ID,
		&turnID,
		&ex.Source,
		&ex.Prompt,
		&ex.Response,
		&ex.Success,
		&errStr,
		&ex.Attempts,
		&durationMS,
		&ex.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ex.TurnID = turnID.String
	ex.Error = errStr.String
	ex.Duration = time.Duration(durationMS) * time.Millisecond
	return &ex, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseTimestamp accepts the layouts go-sqlite3 writes time.Time values in
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
