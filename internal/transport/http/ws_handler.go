package http

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/admission"
	"github.com/vovakirdan/wirelobby-server/internal/config"
	"github.com/vovakirdan/wirelobby-server/internal/core"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

const writeTimeout = 10 * time.Second

var errClosedByServer = errors.New("closed by server")

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub             Hub
	log             *zerolog.Logger
	maxMessageBytes int64
	clientBuffer    int
	pingInterval    time.Duration
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub Hub, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:             hub,
		log:             logger,
		maxMessageBytes: cfg.MaxMessageBytes,
		clientBuffer:    cfg.ClientBuffer,
		pingInterval:    cfg.PingInterval,
	}
}

// Handle serves GET /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	client := core.NewClient("", c.ClientIP(), h.clientBuffer)
	logger := h.log.With().Str("client_id", client.ID).Str("ip", client.IP).Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := h.hub.Connect(ctx, client); err != nil {
		h.reject(ctx, conn, err, &logger)
		return
	}
	defer h.hub.Disconnect(client)
	logger.Debug().Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
	case errors.Is(err, errClosedByServer):
		reason = err.Error()
	default:
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			if status == -1 {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// reject tells the client why the hub refused it and hangs up.
func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, err error, logger *zerolog.Logger) {
	node := proto.Error(core.ErrCodeInternal, "Internal server error.")
	status := websocket.StatusInternalError

	var rejection *admission.Rejection
	switch {
	case errors.As(err, &rejection):
		node = proto.Error(rejection.Code, rejection.Message)
		status = websocket.StatusPolicyViolation
		logger.Info().Str("code", rejection.Code).Msg("connection rejected")
	case errors.Is(err, core.ErrHubClosed):
		node = proto.Error(core.ErrCodeShuttingDown, "The server is shutting down.")
		status = websocket.StatusGoingAway
	default:
		logger.Error().Err(err).Msg("connect failed")
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(writeCtx, conn, node)
	conn.Close(status, node.Attr("error_code"))
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("read ws frame")
			return err
		}
		if typ != websocket.MessageText {
			if err := h.writeNode(ctx, conn, proto.Error(core.ErrCodeProtocol, "Binary frames are not supported.")); err != nil {
				return err
			}
			continue
		}

		node, err := proto.Decode(data)
		if err != nil {
			logger.Debug().Err(err).Msg("malformed frame")
			if err := h.writeNode(ctx, conn, proto.Error(core.ErrCodeProtocol, "Malformed message.")); err != nil {
				return err
			}
			continue
		}

		if err := h.hub.Submit(ctx, client, node); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	var pings <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case event := <-client.Events:
			if err := h.writeNode(ctx, conn, event); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-client.Done():
			// Flush what the hub queued before giving up on the client,
			// e.g. the reason for a kick.
			for {
				select {
				case event := <-client.Events:
					if err := h.writeNode(ctx, conn, event); err != nil {
						return err
					}
				default:
					return errClosedByServer
				}
			}
		case <-pings:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeNode(ctx context.Context, conn *websocket.Conn, n *proto.Node) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, n)
}
