package core

import (
	"errors"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// Error codes sent to clients.
const (
	ErrCodeProtocol             = "protocol_error"
	ErrCodeUnsupportedVersion   = "unsupported_version"
	ErrCodeInvalidUsername      = "invalid_username"
	ErrCodeNameReserved         = "name_reserved"
	ErrCodeNameTaken            = "name_taken"
	ErrCodePasswordRequired     = "password_required"
	ErrCodeWrongPassword        = "wrong_password"
	ErrCodeRegistrationRequired = "registration_required"
	ErrCodeCredential           = "credential_error"
	ErrCodeFlood                = "flood"
	ErrCodeNotFound             = "not_found"
	ErrCodeGameFull             = "game_full"
	ErrCodeGameStarted          = "game_started"
	ErrCodeGamePassword         = "game_password"
	ErrCodeShuttingDown         = "shutting_down"
	ErrCodeUnauthorized         = "unauthorized"
	ErrCodeBadRequest           = "bad_request"
	ErrCodeKicked               = "kicked"
	ErrCodeInternal             = "internal_error"
)

// NotAllowedText is the reply to privileged commands from non-admins.
const NotAllowedText = "You're not allowed to execute this command."

var (
	ErrGameNotFound = errors.New("game not found")
	ErrNotMember    = errors.New("not a member of the game")
	ErrHubClosed    = errors.New("hub closed")

	errNoCredentials = errors.New("nickname registration is not available")
)

// ErrorKind groups client-facing failures.
type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindAuth
	KindAuthorization
	KindNotFound
	KindRejected
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindRejected:
		return "rejected"
	default:
		return "internal"
	}
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Kind    ErrorKind
}

func (e *CoreError) Error() string {
	return e.Message
}

// Node encodes the error for the wire.
func (e *CoreError) Node() *proto.Node {
	return proto.Error(e.Code, e.Message)
}

func coreError(kind ErrorKind, code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg, Kind: kind}
}

func protocolError(msg string) *CoreError {
	return coreError(KindProtocol, ErrCodeProtocol, msg)
}

// PasswordError asks the client to prompt for a password.
type PasswordError struct {
	CoreError
	User              string
	WrongPassword     bool
	ForceConfirmation bool
}

// Node encodes the password request.
func (e *PasswordError) Node() *proto.Node {
	return proto.PasswordRequest(e.Code, e.Message, e.User, e.WrongPassword, e.ForceConfirmation)
}

func passwordError(code, msg, user string, wrong, force bool) *PasswordError {
	return &PasswordError{
		CoreError:         CoreError{Code: code, Message: msg, Kind: KindAuth},
		User:              user,
		WrongPassword:     wrong,
		ForceConfirmation: force,
	}
}

type nodeError interface {
	error
	Node() *proto.Node
}
