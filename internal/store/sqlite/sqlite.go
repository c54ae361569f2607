package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirelobby-server/internal/store"
)

// Schema creates the tables used by the store. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS nicks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	is_admin      BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_login    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bans (
	pattern    TEXT PRIMARY KEY,
	reason     TEXT NOT NULL DEFAULT '',
	issuer     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_nicks_last_login ON nicks(last_login);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema on an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory:
	// databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies Schema.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== NickStore implementation ====

// CreateNick registers a nickname.
func (s *SQLiteStore) CreateNick(ctx context.Context, username, passwordHash, email string) (*store.Nick, error) {
	query := `
		INSERT INTO nicks (username, password_hash, email)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, username, passwordHash, email); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrExists
		}
		return nil, fmt.Errorf("insert nick: %w", err)
	}

	return s.GetNick(ctx, username)
}

// GetNick retrieves a nickname, case-insensitively.
func (s *SQLiteStore) GetNick(ctx context.Context, username string) (*store.Nick, error) {
	query := `
		SELECT id, username, password_hash, email, is_admin, created_at, last_login
		FROM nicks
		WHERE username = ?
	`
	var nick store.Nick
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&nick.ID,
		&nick.Username,
		&nick.PasswordHash,
		&nick.Email,
		&nick.IsAdmin,
		&nick.CreatedAt,
		&nick.LastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query nick: %w", err)
	}

	return &nick, nil
}

// DeleteNick drops a nickname.
func (s *SQLiteStore) DeleteNick(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nicks WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete nick: %w", err)
	}
	return expectAffected(result)
}

// TouchNick records a successful login.
func (s *SQLiteStore) TouchNick(ctx context.Context, username string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE nicks SET last_login = ? WHERE username = ?`, at.UTC(), username)
	if err != nil {
		return fmt.Errorf("touch nick: %w", err)
	}
	return expectAffected(result)
}

// SetAdmin flags or unflags a nickname as an administrator.
func (s *SQLiteStore) SetAdmin(ctx context.Context, username string, admin bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE nicks SET is_admin = ? WHERE username = ?`, admin, username)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return expectAffected(result)
}

// DeleteInactiveNicks drops non-admin nicknames not seen since before.
func (s *SQLiteStore) DeleteInactiveNicks(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM nicks WHERE is_admin = 0 AND last_login < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete inactive nicks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ==== BanStore implementation ====

// SaveBan inserts or replaces the ban for its pattern.
func (s *SQLiteStore) SaveBan(ctx context.Context, ban *store.Ban) error {
	query := `
		INSERT INTO bans (pattern, reason, issuer, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			reason = excluded.reason,
			issuer = excluded.issuer,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`
	var expires any
	if ban.ExpiresAt != nil {
		expires = ban.ExpiresAt.UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, ban.Pattern, ban.Reason, ban.Issuer, ban.CreatedAt.UTC(), expires); err != nil {
		return fmt.Errorf("save ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban for pattern.
func (s *SQLiteStore) DeleteBan(ctx context.Context, pattern string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE pattern = ?`, pattern)
	if err != nil {
		return fmt.Errorf("delete ban: %w", err)
	}
	return expectAffected(result)
}

// ListBans returns every stored ban, oldest first.
func (s *SQLiteStore) ListBans(ctx context.Context) ([]*store.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, reason, issuer, created_at, expires_at
		FROM bans
		ORDER BY created_at ASC, pattern ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []*store.Ban
	for rows.Next() {
		var (
			ban     store.Ban
			expires sql.NullTime
		)
		if err := rows.Scan(&ban.Pattern, &ban.Reason, &ban.Issuer, &ban.CreatedAt, &expires); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			ban.ExpiresAt = &t
		}
		bans = append(bans, &ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}

	return bans, nil
}

func expectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
