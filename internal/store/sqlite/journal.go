package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"posmon/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal keeps the durable closed-position snapshot in SQLite. Each Save
// replaces the table contents in one transaction.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Open opens (or creates) the journal at path with WAL mode and the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened history journal at %s", path)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS closed_positions (
			seq            INTEGER PRIMARY KEY,
			id             TEXT    NOT NULL,
			pair           TEXT    NOT NULL,
			direction      TEXT    NOT NULL,
			entry          REAL    NOT NULL,
			exit_price     REAL    NOT NULL,
			amount         REAL    NOT NULL,
			profit         REAL    NOT NULL,
			profit_percent REAL    NOT NULL,
			open_time      TEXT    NOT NULL,
			close_time     TEXT    NOT NULL,
			reason         TEXT    NOT NULL,
			is_ai          INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_closed_close_time ON closed_positions(close_time);
	`)
	return err
}

// Save replaces the stored snapshot with records, preserving their order.
func (j *Journal) Save(records []model.ClosedRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM closed_positions`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO closed_positions
			(seq, id, pair, direction, entry, exit_price, amount, profit, profit_percent, open_time, close_time, reason, is_ai)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		_, err := stmt.Exec(
			i, r.ID, r.Pair, string(r.Type),
			r.Entry, r.Exit, r.Amount, r.Profit, r.ProfitPercent,
			r.OpenTime.UTC().Format(time.RFC3339Nano),
			r.CloseTime.UTC().Format(time.RFC3339Nano),
			string(r.Reason), r.IsAI,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Load returns the stored snapshot in saved order.
func (j *Journal) Load() ([]model.ClosedRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT id, pair, direction, entry, exit_price, amount, profit, profit_percent,
		       open_time, close_time, reason, is_ai
		FROM closed_positions ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []model.ClosedRecord
	for rows.Next() {
		var (
			r                   model.ClosedRecord
			dir, reason         string
			openTime, closeTime string
		)
		if err := rows.Scan(&r.ID, &r.Pair, &dir, &r.Entry, &r.Exit, &r.Amount,
			&r.Profit, &r.ProfitPercent, &openTime, &closeTime, &reason, &r.IsAI); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		r.Type = model.Direction(dir)
		r.Reason = model.CloseReason(reason)
		if r.OpenTime, err = time.Parse(time.RFC3339Nano, openTime); err != nil {
			return nil, fmt.Errorf("sqlite open_time %q: %w", openTime, err)
		}
		if r.CloseTime, err = time.Parse(time.RFC3339Nano, closeTime); err != nil {
			return nil, fmt.Errorf("sqlite close_time %q: %w", closeTime, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
