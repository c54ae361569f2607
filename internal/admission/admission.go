// Package admission decides whether a freshly accepted connection may open a
// session at all: ban predicate first, then the per-IP connection cap.
package admission

import (
	"errors"
	"fmt"
	"time"
)

// Rejection codes sent back to the client.
const (
	CodeBanned          = "banned"
	CodeConnectionLimit = "connection_limit"
)

var (
	// ErrBanned is wrapped by rejections caused by the ban predicate.
	ErrBanned = errors.New("ip banned")
	// ErrConnectionLimit is wrapped by rejections caused by the per-IP cap.
	ErrConnectionLimit = errors.New("too many connections")
)

// BanChecker is the ban predicate. reason is only meaningful when banned.
type BanChecker interface {
	IsBanned(ip string) (reason string, banned bool)
}

// Rejection describes why a connection was refused.
type Rejection struct {
	Code    string
	Message string
	err     error
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error {
	return r.err
}

// Controller gates new sessions. It is not safe for concurrent use; the
// owner serializes calls.
type Controller struct {
	bans  BanChecker
	limit int
	log   *IPLog
	now   func() time.Time
}

// New builds a controller. limit <= 0 disables the connection cap.
func New(bans BanChecker, limit, logSize int) *Controller {
	return &Controller{
		bans:  bans,
		limit: limit,
		log:   NewIPLog(logSize),
		now:   time.Now,
	}
}

// SetClock overrides the time source.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Configure applies new limits, keeping the most recent log entries.
func (c *Controller) Configure(limit, logSize int) {
	c.limit = limit
	c.log.Resize(logSize)
}

// Admit checks ip given the number of live sessions it already holds. On
// success the connection is appended to the ip-log.
func (c *Controller) Admit(ip string, live int) error {
	if c.bans != nil {
		if reason, banned := c.bans.IsBanned(ip); banned {
			msg := "You are banned."
			if reason != "" {
				msg = fmt.Sprintf("You are banned. Reason: %s", reason)
			}
			return &Rejection{Code: CodeBanned, Message: msg, err: ErrBanned}
		}
	}
	if c.ExceedsLimit(live) {
		return &Rejection{
			Code:    CodeConnectionLimit,
			Message: fmt.Sprintf("Too many connections from your IP (limit %d).", c.limit),
			err:     ErrConnectionLimit,
		}
	}
	c.log.Append(LogEntry{IP: ip, At: c.now()})
	return nil
}

// ExceedsLimit reports whether one more session would pass the cap.
func (c *Controller) ExceedsLimit(live int) bool {
	return c.limit > 0 && live >= c.limit
}

// Log exposes the ip-log.
func (c *Controller) Log() *IPLog {
	return c.log
}
