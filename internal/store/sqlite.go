package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

type DeliveryRecord struct {
	ID        string `json:"id"`
	TS        int64  `json:"ts"`
	Kind      string `json:"kind"`
	Channel   string `json:"channel"`
	Target    string `json:"target"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

type BroadcastRun struct {
	Date      string `json:"date"`
	Trigger   string `json:"trigger"`
	StartedAt string `json:"started_at"`
}

func Open(path string, loc *time.Location) (*Store, error) {
	if path == "" {
		path = "data/app.db"
	}
	if loc == nil {
		loc = time.FixedZone("CST", 8*60*60)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma synchronous: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := &Store{db: db, loc: loc}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watchlist (
			owner TEXT NOT NULL,
			ticker TEXT NOT NULL,
			created_at TEXT,
			PRIMARY KEY (owner, ticker)
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			kind TEXT,
			channel TEXT,
			target TEXT,
			status TEXT,
			error TEXT,
			payload TEXT,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_ts ON deliveries(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);`,
		`CREATE TABLE IF NOT EXISTS broadcast_runs (
			date TEXT NOT NULL,
			slot TEXT NOT NULL,
			started_at TEXT,
			PRIMARY KEY (date, slot)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// AddTicker inserts (owner, ticker); false when the pair already existed.
func (s *Store) AddTicker(ctx context.Context, owner, ticker string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("store not initialized")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlist (owner, ticker, created_at) VALUES (?, ?, ?)`,
		owner, ticker, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert watchlist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) RemoveTicker(ctx context.Context, owner, ticker string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE owner = ? AND ticker = ?`, owner, ticker)
	if err != nil {
		return false, fmt.Errorf("delete watchlist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListTickers(ctx context.Context, owner string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ticker FROM watchlist WHERE owner = ? ORDER BY ticker ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows watchlist: %w", err)
	}
	return out, nil
}

func (s *Store) InsertDelivery(ctx context.Context, d DeliveryRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if d.CreatedAt == "" {
		d.CreatedAt = time.Now().Format(time.RFC3339)
	}
	if d.TS == 0 {
		d.TS = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, ts, kind, channel, target, status, error, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TS, d.Kind, d.Channel, d.Target, d.Status, d.Error, d.Payload, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *Store) QueryDeliveriesByDate(ctx context.Context, date string, status string, limit int, offset int) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	start, end, err := s.dateRange(date)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, ts, kind, channel, target, status, error, payload, created_at
		FROM deliveries WHERE ts >= ? AND ts < ?`
	args := []any{start, end}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY ts DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var d DeliveryRecord
		if err := rows.Scan(&d.ID, &d.TS, &d.Kind, &d.Channel, &d.Target, &d.Status, &d.Error, &d.Payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows delivery: %w", err)
	}
	return out, nil
}

// ClaimBroadcastRun records that a trigger fired on date. It returns false
// when the run was already claimed, so callers can skip a repeat.
func (s *Store) ClaimBroadcastRun(ctx context.Context, date, trigger string) (bool, error) {
	if s == nil || s.db == nil {
		return true, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO broadcast_runs (date, slot, started_at) VALUES (?, ?, ?)`,
		date, trigger, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("claim broadcast run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) QueryBroadcastRuns(ctx context.Context, date string) ([]BroadcastRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT date, slot, started_at FROM broadcast_runs WHERE date = ? ORDER BY slot`, date)
	if err != nil {
		return nil, fmt.Errorf("query broadcast runs: %w", err)
	}
	defer rows.Close()
	var out []BroadcastRun
	for rows.Next() {
		var r BroadcastRun
		if err := rows.Scan(&r.Date, &r.Trigger, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan broadcast run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows broadcast run: %w", err)
	}
	return out, nil
}

func (s *Store) dateRange(date string) (int64, int64, error) {
	t, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid date: %q", date)
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)
	return start.Unix(), end.Unix(), nil
}
