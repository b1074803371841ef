// Package ws upgrades authenticated clients onto the notification hub.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medifusion/triage-api/internal/handler"
	"github.com/medifusion/triage-api/internal/notification"
	"github.com/medifusion/triage-api/pkg/auth"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

type Handler struct {
	hub    *notification.Hub
	jwt    auth.JWTService
	logger *zerolog.Logger

	upgrader websocket.Upgrader
}

func NewHandler(hub *notification.Hub, jwt auth.JWTService, logger *zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		jwt:    jwt,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients cannot set headers on WS dial; the token
			// arrives as a query parameter instead, checked before upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Connect)
}

func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing token"))
		return
	}
	actor, err := h.jwt.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.hub.Register(actor.ID, conn)
	h.logger.Info().Str("user_id", actor.ID.String()).Msg("websocket connected")

	go h.pingLoop(conn)
	h.readLoop(actor.ID, conn)
}

// readLoop drains client frames until the peer goes away, then removes
// the connection from the hub. Notifications are push-only; inbound
// payloads are discarded.
func (h *Handler) readLoop(userID uuid.UUID, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(userID, conn)
		conn.Close()
		h.logger.Info().Str("user_id", userID.String()).Msg("websocket disconnected")
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}
