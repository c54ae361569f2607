package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/config"
	"github.com/vovakirdan/wirelobby-server/internal/core"
	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
	"github.com/vovakirdan/wirelobby-server/internal/store"
)

// Hub is the part of core.Hub the transport layer drives.
type Hub interface {
	Connect(ctx context.Context, c *core.Client) error
	Submit(ctx context.Context, c *core.Client, n *proto.Node) error
	Disconnect(c *core.Client)
	Lobby(ctx context.Context) (lobby.Snapshot, error)
	Stats(ctx context.Context) (core.Stats, error)
}

// BanAdmin edits the ban list from the admin API.
type BanAdmin interface {
	Add(ctx context.Context, pattern, reason, issuer string, duration time.Duration) (*store.Ban, error)
	Remove(ctx context.Context, pattern string) error
	List() []store.Ban
}

// NewServer builds the HTTP server: health probe, websocket endpoint, the
// public lobby view and, when authService is set, the admin API.
func NewServer(hub Hub, authService *auth.Service, bans BanAdmin, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	// Ban and connection limits key on the peer address, never on headers.
	_ = router.SetTrustedProxies(nil)
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", NewWSHandler(hub, cfg, logger).Handle)

	api := router.Group("/api")
	if cfg.APIRateLimit > 0 {
		api.Use(RateLimitMiddleware(cfg.APIRateLimit, logger))
	}

	handlers := NewAPIHandlers(hub, bans, logger)
	api.GET("/lobby", handlers.Lobby)

	if authService != nil {
		admin := api.Group("/admin", AuthMiddleware(authService, logger), AdminMiddleware(logger))
		admin.GET("/stats", handlers.Stats)
		if bans != nil {
			admin.GET("/bans", handlers.ListBans)
			admin.POST("/bans", handlers.AddBan)
			admin.DELETE("/bans", handlers.RemoveBan)
		}
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
