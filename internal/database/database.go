// Shoal Probe is a Redfish conformance prober.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package database stores the simulated BMC's accounts and sessions in
// sqlite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shoalprobe/pkg/models"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection and provides methods for data access
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath. ":memory:" gives a private
// in-memory database.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	slog.Debug("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'ReadOnly',
			enabled BOOLEAN DEFAULT true,
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			locked_until DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, migration := range migrations {
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return tx.Commit()
}

// Account operations

const accountColumns = `id, username, password_hash, role, enabled, failed_attempts, locked_until, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var lockedUntil sql.NullTime
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.Enabled,
		&a.FailedAttempts, &lockedUntil, &a.CreatedAt); err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		a.LockedUntil = &t
	}
	return &a, nil
}

// CreateAccount inserts a new account. PasswordHash must already be hashed.
func (db *DB) CreateAccount(ctx context.Context, a *models.Account) error {
	query := `INSERT INTO accounts (id, username, password_hash, role, enabled) VALUES (?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query, a.ID, a.Username, a.PasswordHash, a.Role, a.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccountByUsername returns nil, nil when no such account exists
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = ?`

	a, err := scanAccount(db.conn.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by username: %w", err)
	}

	return a, nil
}

// GetAccount returns nil, nil when no such account exists
func (db *DB) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	a, err := scanAccount(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return a, nil
}

// CountAccounts returns the number of accounts
func (db *DB) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// RecordLoginFailure increments the account's failed-attempt counter. When
// the counter reaches threshold (threshold > 0) the account is locked until
// now+lockFor and the counter restarts. It returns the updated account.
func (db *DB) RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (*models.Account, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	a.FailedAttempts++
	if threshold > 0 && a.FailedAttempts >= threshold {
		until := now.Add(lockFor)
		a.LockedUntil = &until
		a.FailedAttempts = 0
	}

	var lockedUntil any
	if a.LockedUntil != nil {
		lockedUntil = *a.LockedUntil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET failed_attempts = ?, locked_until = ? WHERE id = ?`,
		a.FailedAttempts, lockedUntil, id); err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit login failure: %w", err)
	}
	return a, nil
}

// ResetLoginFailures clears the failure counter and any lock
func (db *DB) ResetLoginFailures(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE accounts SET failed_attempts = 0, locked_until = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}

// Session operations

const sessionSelect = `SELECT s.id, s.account_id, a.username, s.token, s.created_at
	FROM sessions s JOIN accounts a ON a.id = s.account_id`

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.AccountID, &s.Username, &s.Token, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts a session
func (db *DB) CreateSession(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions (id, account_id, token, created_at) VALUES (?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query, s.ID, s.AccountID, s.Token, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSessionByToken returns nil, nil for an unknown token
func (db *DB) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx, sessionSelect+` WHERE s.token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetSession returns nil, nil for an unknown id
func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx, sessionSelect+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions returns all sessions ordered by creation time
func (db *DB) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := db.conn.QueryContext(ctx, sessionSelect+` ORDER BY s.created_at, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and reports whether it existed
func (db *DB) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}
