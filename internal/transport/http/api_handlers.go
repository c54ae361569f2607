package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/ban"
	"github.com/vovakirdan/wirelobby-server/internal/core"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub  Hub
	bans BanAdmin
	log  *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub Hub, bans BanAdmin, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:  hub,
		bans: bans,
		log:  logger,
	}
}

// AddBanRequest represents the add ban request body. Duration accepts the
// same forms as the ban command, e.g. "30m", "2d" or "permanent".
type AddBanRequest struct {
	Pattern  string `json:"pattern" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	Duration string `json:"duration" binding:"required"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Lobby returns the current lobby listing.
// GET /api/lobby
func (h *APIHandlers) Lobby(c *gin.Context) {
	snap, err := h.hub.Lobby(c.Request.Context())
	if err != nil {
		h.hubError(c, err)
		return
	}
	c.JSON(http.StatusOK, lobbyResponse(snap))
}

// Stats returns server counters.
// GET /api/admin/stats
func (h *APIHandlers) Stats(c *gin.Context) {
	st, err := h.hub.Stats(c.Request.Context())
	if err != nil {
		h.hubError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListBans returns every active ban.
// GET /api/admin/bans
func (h *APIHandlers) ListBans(c *gin.Context) {
	c.JSON(http.StatusOK, banResponses(h.bans.List()))
}

// AddBan creates or replaces a ban.
// POST /api/admin/bans
func (h *APIHandlers) AddBan(c *gin.Context) {
	var req AddBanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid add ban request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	duration, err := core.ParseBanDuration(req.Duration)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	issuer := c.GetString(ContextKeyUsername)
	b, err := h.bans.Add(c.Request.Context(), req.Pattern, req.Reason, issuer, duration)
	if err != nil {
		if errors.Is(err, ban.ErrInvalidPattern) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("pattern", req.Pattern).Msg("failed to add ban")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("pattern", b.Pattern).Str("issuer", issuer).Msg("ban added via api")
	c.JSON(http.StatusCreated, banResponse(*b))
}

// RemoveBan lifts the ban on the pattern given as query parameter, which
// keeps CIDR slashes out of the path.
// DELETE /api/admin/bans?pattern=10.0.0.0/8
func (h *APIHandlers) RemoveBan(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pattern is required"})
		return
	}

	if err := h.bans.Remove(c.Request.Context(), pattern); err != nil {
		if errors.Is(err, ban.ErrNotBanned) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no such ban"})
			return
		}
		h.log.Error().Err(err).Str("pattern", pattern).Msg("failed to remove ban")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("pattern", pattern).Str("issuer", c.GetString(ContextKeyUsername)).Msg("ban removed via api")
	c.Status(http.StatusNoContent)
}

func (h *APIHandlers) hubError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrHubClosed) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down"})
		return
	}
	h.log.Error().Err(err).Msg("hub query failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
