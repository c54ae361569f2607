package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when inserting a duplicate key.
	ErrExists = errors.New("already exists")
)

// Nick represents a registered nickname.
type Nick struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	IsAdmin      bool
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Ban represents an IP ban. Pattern is an exact address, a CIDR block or a
// glob.
type Ban struct {
	Pattern   string
	Reason    string
	Issuer    string
	CreatedAt time.Time
	// ExpiresAt is nil for permanent bans.
	ExpiresAt *time.Time
}

// Expired reports whether the ban no longer applies at now.
func (b *Ban) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// NickStore handles nickname persistence.
type NickStore interface {
	// CreateNick registers a nickname. Returns ErrExists if taken.
	CreateNick(ctx context.Context, username, passwordHash, email string) (*Nick, error)

	// GetNick retrieves a nickname. Returns ErrNotFound if unregistered.
	GetNick(ctx context.Context, username string) (*Nick, error)

	// DeleteNick drops a nickname. Returns ErrNotFound if unregistered.
	DeleteNick(ctx context.Context, username string) error

	// TouchNick records a successful login.
	TouchNick(ctx context.Context, username string, at time.Time) error

	// SetAdmin flags or unflags a nickname as an administrator.
	SetAdmin(ctx context.Context, username string, admin bool) error

	// DeleteInactiveNicks drops non-admin nicknames whose last login is
	// older than before. Returns the number removed.
	DeleteInactiveNicks(ctx context.Context, before time.Time) (int64, error)
}

// BanStore handles ban persistence.
type BanStore interface {
	// SaveBan inserts or replaces the ban for its pattern.
	SaveBan(ctx context.Context, ban *Ban) error

	// DeleteBan removes the ban for pattern. Returns ErrNotFound if absent.
	DeleteBan(ctx context.Context, pattern string) error

	// ListBans returns every stored ban, oldest first.
	ListBans(ctx context.Context) ([]*Ban, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	NickStore
	BanStore

	// Close closes the underlying database connection.
	Close() error
}
