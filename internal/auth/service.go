package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirelobby-server/internal/store"
)

var (
	// ErrUserExists is returned when trying to register an existing nickname.
	ErrUserExists = errors.New("nickname already registered")
	// ErrNotRegistered is returned when dropping an unregistered nickname.
	ErrNotRegistered = errors.New("nickname not registered")
	// ErrInvalidPassword is returned when a password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Result is the outcome of an authentication attempt.
type Result int

const (
	// ResultUnregistered means the nickname has no registration.
	ResultUnregistered Result = iota
	// ResultOK means the password matched.
	ResultOK
	// ResultFail means the nickname is registered and the password is
	// missing or wrong.
	ResultFail
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFail:
		return "fail"
	default:
		return "unregistered"
	}
}

// Service is the credential backend for nicknames.
type Service struct {
	store     store.NickStore
	jwtConfig *JWTConfig
	now       func() time.Time
}

// NewService creates a new credential service.
func NewService(nickStore store.NickStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     nickStore,
		jwtConfig: jwtConfig,
		now:       time.Now,
	}
}

// Authenticate checks password for name. The nick is returned for registered
// names whatever the result, so callers can inspect its flags.
func (s *Service) Authenticate(ctx context.Context, name, password string) (Result, *store.Nick, error) {
	nick, err := s.store.GetNick(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ResultUnregistered, nil, nil
		}
		return ResultFail, nil, fmt.Errorf("lookup nick: %w", err)
	}

	if password == "" {
		return ResultFail, nick, nil
	}
	if errPwd := ComparePassword(nick.PasswordHash, password); errPwd != nil {
		return ResultFail, nick, nil
	}

	// last_login only drives inactive-nick cleanup; a failed update must not
	// block the login.
	_ = s.store.TouchNick(ctx, nick.Username, s.now())

	return ResultOK, nick, nil
}

// IsRegistered reports whether name has a registration.
func (s *Service) IsRegistered(ctx context.Context, name string) (bool, error) {
	_, err := s.store.GetNick(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("lookup nick: %w", err)
}

// Register creates a registration with a hashed password.
func (s *Service) Register(ctx context.Context, name, password, email string) (*store.Nick, error) {
	if !validPassword(password) {
		return nil, ErrInvalidPassword
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	nick, err := s.store.CreateNick(ctx, name, hashedPassword, email)
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create nick: %w", err)
	}

	return nick, nil
}

// Drop removes the registration of name.
func (s *Service) Drop(ctx context.Context, name string) error {
	if err := s.store.DeleteNick(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotRegistered
		}
		return fmt.Errorf("delete nick: %w", err)
	}
	return nil
}

// Clean drops registrations not used for inactiveFor.
func (s *Service) Clean(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	if inactiveFor <= 0 {
		return 0, nil
	}
	return s.store.DeleteInactiveNicks(ctx, s.now().Add(-inactiveFor))
}

// IssueCapability signs the capability granted to a connection at login.
func (s *Service) IssueCapability(connID, name string, role Role) (string, error) {
	return GenerateToken(s.jwtConfig, connID, name, role)
}

// ValidateToken validates a capability token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
