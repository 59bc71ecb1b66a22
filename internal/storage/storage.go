package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			creator TEXT NOT NULL,
			amount_wei TEXT NOT NULL,
			path TEXT NOT NULL,
			tx_id TEXT,
			success INTEGER NOT NULL,
			error_kind TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tips_creator ON tips(creator)`,

		`CREATE TABLE IF NOT EXISTS permission_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			spender TEXT NOT NULL,
			allowance_wei TEXT NOT NULL,
			period_days INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grants_owner ON permission_grants(owner)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Tips ---

// RecordTip saves a terminal tip outcome.
func (s *Storage) RecordTip(r *TipReceipt) error {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT INTO tips (creator, amount_wei, path, tx_id, success, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Creator, r.AmountWei, r.Path, r.TxID, boolToInt(r.Success), r.ErrorKind, now,
	)
	if err != nil {
		return err
	}
	r.ID, _ = result.LastInsertId()
	r.CreatedAt = time.Unix(now, 0)
	return nil
}

// ListTips returns the most recent tip receipts, newest first.
func (s *Storage) ListTips(limit int) ([]TipReceipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, creator, amount_wei, path, tx_id, success, error_kind, created_at
		 FROM tips ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tips []TipReceipt
	for rows.Next() {
		var t TipReceipt
		var createdAt int64
		var success int
		var txID, errKind sql.NullString

		err := rows.Scan(&t.ID, &t.Creator, &t.AmountWei, &t.Path, &txID, &success, &errKind, &createdAt)
		if err != nil {
			return nil, err
		}

		t.TxID = txID.String
		t.ErrorKind = errKind.String
		t.Success = success != 0
		t.CreatedAt = time.Unix(createdAt, 0)
		tips = append(tips, t)
	}

	return tips, rows.Err()
}

// --- Permission grants ---

// RecordGrant saves a granted permission.
func (s *Storage) RecordGrant(g *PermissionGrant) error {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT INTO permission_grants (owner, spender, allowance_wei, period_days, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		g.Owner, g.Spender, g.AllowanceWei, g.PeriodDays, g.Status, now,
	)
	if err != nil {
		return err
	}
	g.ID, _ = result.LastInsertId()
	g.CreatedAt = time.Unix(now, 0)
	return nil
}

// MarkGrantsRevoked flips all grants for an owner to revoked.
func (s *Storage) MarkGrantsRevoked(owner string) error {
	_, err := s.db.Exec(
		`UPDATE permission_grants SET status = 'revoked' WHERE owner = ? AND status = 'granted'`,
		owner,
	)
	return err
}

// ListGrants returns grants for an owner, newest first.
func (s *Storage) ListGrants(owner string) ([]PermissionGrant, error) {
	rows, err := s.db.Query(
		`SELECT id, owner, spender, allowance_wei, period_days, status, created_at
		 FROM permission_grants WHERE owner = ? ORDER BY id DESC`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []PermissionGrant
	for rows.Next() {
		var g PermissionGrant
		var createdAt int64

		err := rows.Scan(&g.ID, &g.Owner, &g.Spender, &g.AllowanceWei, &g.PeriodDays, &g.Status, &createdAt)
		if err != nil {
			return nil, err
		}

		g.CreatedAt = time.Unix(createdAt, 0)
		grants = append(grants, g)
	}

	return grants, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
