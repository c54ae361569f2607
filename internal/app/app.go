package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/ban"
	"github.com/vovakirdan/wirelobby-server/internal/config"
	"github.com/vovakirdan/wirelobby-server/internal/core"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/replay"
	"github.com/vovakirdan/wirelobby-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirelobby-server/internal/transport/http"
)

const banPruneInterval = time.Minute

// ErrNoRestartCommand is returned by Restart when restart_command is unset.
var ErrNoRestartCommand = errors.New("restart_command is not configured")

// App wires together core and transport layers.
type App struct {
	cfg        *config.Config
	configPath string

	server  *stdhttp.Server
	hub     *core.Hub
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	bans    *ban.Manager
	replays *replay.Writer
	log     *zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs the application with provided configuration. configPath is
// re-read on SIGHUP.
func New(cfg *config.Config, configPath string, logger *zerolog.Logger) (*App, error) {
	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	bans := ban.NewManager(st, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bans.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load bans: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	a := &App{
		cfg:        cfg,
		configPath: configPath,
		store:      st,
		auth:       authService,
		bans:       bans,
		replays:    replay.NewWriter(cfg.ReplaySavePath, 0, logger),
		log:        logger,
	}

	a.hub = core.NewHub(SettingsFromConfig(cfg), core.Deps{
		Logger:      logger,
		Credentials: authService,
		Bans:        bans,
		Lifecycle:   a,
		Replays:     a.replays,
		Metrics:     metrics.New(),
	})
	a.server = transporthttp.NewServer(a.hub, authService, bans, cfg, logger)

	return a, nil
}

// SettingsFromConfig extracts the hub settings from the configuration.
func SettingsFromConfig(cfg *config.Config) core.Settings {
	s := core.DefaultSettings()
	s.AcceptedVersions = cfg.Versions.Accepted
	s.RedirectedVersions = versionTargets(cfg.Versions.Redirected)
	s.ProxiedVersions = versionTargets(cfg.Versions.Proxied)
	s.DisallowedNames = cfg.DisallowedNames
	s.AdminPassword = cfg.AdminPassword
	s.MOTD = cfg.MOTD
	s.DenyUnregisteredLogin = cfg.DenyUnregisteredLogin
	s.MaxMessages = cfg.MaxMessages
	s.MessagesTimePeriod = cfg.MessagesTimePeriod
	s.ConcurrentConnections = cfg.ConcurrentConnections
	s.MaxIPLogSize = cfg.MaxIPLogSize
	s.GhostGrace = cfg.GhostGrace
	s.MaxGhosts = cfg.MaxGhosts
	s.SaveReplays = cfg.SaveReplays
	s.StatsInterval = cfg.StatsInterval
	s.CredentialTimeout = cfg.CredentialTimeout
	return s
}

// versionTargets keeps the first route listed for a pattern.
func versionTargets(routes []config.VersionRoute) map[string]core.VersionTarget {
	out := make(map[string]core.VersionTarget, len(routes))
	for _, r := range routes {
		if _, ok := out[r.Pattern]; ok || r.Pattern == "" {
			continue
		}
		out[r.Pattern] = core.VersionTarget{Host: r.Host, Port: r.Port}
	}
	return out
}

// Run starts the HTTP server and blocks until context cancellation, a
// shut_down command or a fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)
	go a.replays.Run(ctx)
	go a.maintain(ctx)
	go a.watchReload(ctx)

	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		cancel()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancelShutdown()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// Shutdown stops a running App.
func (a *App) Shutdown(reason string) {
	a.log.Info().Str("reason", reason).Msg("shutdown requested")
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Restart starts the successor process through restart_command. The hub
// stops accepting games and shuts this process down once the last game ends.
func (a *App) Restart() error {
	command := a.cfg.RestartCommand
	if command == "" {
		return ErrNoRestartCommand
	}
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("run restart command: %w", err)
	}
	a.log.Info().Str("command", command).Int("pid", cmd.Process.Pid).Msg("successor started")
	go func() {
		if err := cmd.Wait(); err != nil {
			a.log.Warn().Err(err).Msg("restart command exited with error")
		}
	}()
	return nil
}

// maintain runs the periodic nick cleanup and ban pruning.
func (a *App) maintain(ctx context.Context) {
	prune := time.NewTicker(banPruneInterval)
	defer prune.Stop()

	var clean <-chan time.Time
	if a.cfg.UserCleanInterval > 0 && a.cfg.UserInactiveExpiry > 0 {
		ticker := time.NewTicker(a.cfg.UserCleanInterval)
		defer ticker.Stop()
		clean = ticker.C
	}

	for {
		select {
		case <-prune.C:
			if n := a.bans.Prune(ctx); n > 0 {
				a.log.Info().Int("count", n).Msg("expired bans pruned")
			}
		case <-clean:
			n, err := a.auth.Clean(ctx, a.cfg.UserInactiveExpiry)
			if err != nil {
				a.log.Error().Err(err).Msg("nick cleanup failed")
				continue
			}
			if n > 0 {
				a.log.Info().Int64("count", n).Msg("inactive nicks dropped")
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchReload re-reads the config file on SIGHUP and hands the new settings
// to the hub. Listener, storage and token settings need a restart.
func (a *App) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := a.Reload(ctx); err != nil {
				a.log.Error().Err(err).Msg("config reload failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Reload re-reads the config file and applies the hub settings.
func (a *App) Reload(ctx context.Context) error {
	cfg, _, err := config.Load(a.log, a.configPath)
	if err != nil {
		return err
	}
	if err := a.hub.Reload(ctx, SettingsFromConfig(&cfg)); err != nil {
		return err
	}
	a.log.Info().Str("path", a.configPath).Msg("config reloaded")
	return nil
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
