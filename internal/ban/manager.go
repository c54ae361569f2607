// Package ban keeps the active ban list in memory for fast checks on every
// accept and mirrors changes to persistent storage.
package ban

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/wirelobby-server/internal/store"
)

var (
	// ErrInvalidPattern is returned for an empty or unparsable pattern.
	ErrInvalidPattern = errors.New("invalid ban pattern")
	// ErrNotBanned is returned when removing a pattern that is not banned.
	ErrNotBanned = errors.New("pattern is not banned")
)

// Manager is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	bans  map[string]*store.Ban
	store store.BanStore
	log   *zerolog.Logger
	now   func() time.Time
}

// NewManager creates a manager backed by st. st may be nil for a purely
// in-memory list.
func NewManager(st store.BanStore, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		bans:  make(map[string]*store.Ban),
		store: st,
		log:   logger,
		now:   time.Now,
	}
}

// Load replaces the in-memory list with the stored bans, skipping expired ones.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	bans, err := m.store.ListBans(ctx)
	if err != nil {
		return fmt.Errorf("load bans: %w", err)
	}

	now := m.now()
	loaded := make(map[string]*store.Ban, len(bans))
	for _, b := range bans {
		if b.Expired(now) {
			continue
		}
		loaded[b.Pattern] = b
	}

	m.mu.Lock()
	m.bans = loaded
	m.mu.Unlock()

	m.log.Info().Int("count", len(loaded)).Msg("bans loaded")
	return nil
}

// IsBanned reports whether ip matches an active ban and returns its reason.
func (m *Manager) IsBanned(ip string) (string, bool) {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.bans {
		if b.Expired(now) {
			continue
		}
		if Matches(b.Pattern, ip) {
			return b.Reason, true
		}
	}
	return "", false
}

// Add bans pattern. duration <= 0 means permanent.
func (m *Manager) Add(ctx context.Context, pattern, reason, issuer string, duration time.Duration) (*store.Ban, error) {
	pattern = strings.TrimSpace(pattern)
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	now := m.now()
	b := &store.Ban{
		Pattern:   pattern,
		Reason:    reason,
		Issuer:    issuer,
		CreatedAt: now,
	}
	if duration > 0 {
		expires := now.Add(duration)
		b.ExpiresAt = &expires
	}

	if m.store != nil {
		if err := m.store.SaveBan(ctx, b); err != nil {
			return nil, fmt.Errorf("persist ban: %w", err)
		}
	}

	m.mu.Lock()
	m.bans[pattern] = b
	m.mu.Unlock()

	m.log.Info().Str("pattern", pattern).Str("issuer", issuer).Str("reason", reason).Dur("duration", duration).Msg("ban added")
	return b, nil
}

// Remove lifts the ban for pattern.
func (m *Manager) Remove(ctx context.Context, pattern string) error {
	m.mu.RLock()
	_, ok := m.bans[pattern]
	m.mu.RUnlock()
	if !ok {
		return ErrNotBanned
	}

	if m.store != nil {
		if err := m.store.DeleteBan(ctx, pattern); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete ban: %w", err)
		}
	}

	m.mu.Lock()
	delete(m.bans, pattern)
	m.mu.Unlock()

	m.log.Info().Str("pattern", pattern).Msg("ban removed")
	return nil
}

// List returns active bans ordered by creation time.
func (m *Manager) List() []store.Ban {
	now := m.now()

	m.mu.RLock()
	out := make([]store.Ban, 0, len(m.bans))
	for _, b := range m.bans {
		if !b.Expired(now) {
			out = append(out, *b)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune drops expired bans from memory and storage.
func (m *Manager) Prune(ctx context.Context) int {
	now := m.now()

	var expired []string
	m.mu.Lock()
	for pattern, b := range m.bans {
		if b.Expired(now) {
			expired = append(expired, pattern)
			delete(m.bans, pattern)
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		for _, pattern := range expired {
			if err := m.store.DeleteBan(ctx, pattern); err != nil && !errors.Is(err, store.ErrNotFound) {
				m.log.Warn().Err(err).Str("pattern", pattern).Msg("failed to delete expired ban")
			}
		}
	}
	return len(expired)
}

// ValidatePattern accepts an IP address, a CIDR block or a glob.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern
	}
	if strings.Contains(pattern, "/") {
		if _, err := netip.ParsePrefix(pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		return nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return nil
}

// Matches reports whether ip falls under pattern.
func Matches(pattern, ip string) bool {
	if strings.Contains(pattern, "/") {
		prefix, err := netip.ParsePrefix(pattern)
		if err != nil {
			return false
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return false
		}
		return prefix.Contains(addr.Unmap())
	}
	if pattern == ip {
		return true
	}
	ok, err := path.Match(pattern, ip)
	return err == nil && ok
}

// IsPattern reports whether s looks like an address or address pattern
// rather than a nickname.
func IsPattern(s string) bool {
	if strings.ContainsAny(s, "/*?[") {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
