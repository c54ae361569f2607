package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirelobby-server/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(dir, "lobby.db")
	cfg.ReplaySavePath = filepath.Join(dir, "replays")
	cfg.ShutdownTimeout = time.Second
	return &cfg
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MOTD = "hello"
	cfg.Versions.Accepted = []string{"1.18.*"}
	cfg.Versions.Redirected = []config.VersionRoute{
		{Pattern: "1.16.*", Host: "a.example.org", Port: 1},
		{Pattern: "1.16.*", Host: "b.example.org", Port: 2},
		{Host: "ignored.example.org"},
	}
	cfg.Versions.Proxied = []config.VersionRoute{{Pattern: "1.17.*", Host: "p.example.org", Port: 3}}

	s := SettingsFromConfig(&cfg)

	assert.Equal(t, "hello", s.MOTD)
	assert.Equal(t, []string{"1.18.*"}, s.AcceptedVersions)
	require.Len(t, s.RedirectedVersions, 1)
	assert.Equal(t, "a.example.org", s.RedirectedVersions["1.16.*"].Host)
	assert.Equal(t, 3, s.ProxiedVersions["1.17.*"].Port)
	assert.Equal(t, cfg.MaxMessages, s.MaxMessages)
	assert.Equal(t, cfg.GhostGrace, s.GhostGrace)
}

func TestRestartNeedsCommand(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)

	a, err := New(cfg, "", &logger)
	require.NoError(t, err)
	t.Cleanup(a.cleanup)

	assert.True(t, errors.Is(a.Restart(), ErrNoRestartCommand))

	cfg.RestartCommand = "true"
	assert.NoError(t, a.Restart())
}

func TestShutdownStopsRun(t *testing.T) {
	logger := zerolog.Nop()

	a, err := New(testConfig(t), "", &logger)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	// Shutdown may race with Run installing its cancel func.
	deadline := time.After(3 * time.Second)
	for {
		a.Shutdown("test")
		select {
		case err := <-done:
			assert.NoError(t, err)
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("Run did not return after Shutdown")
		}
	}
}
