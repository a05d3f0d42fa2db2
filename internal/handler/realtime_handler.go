package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/realtime"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
	"github.com/noah-isme/hallpass-api/pkg/middleware/cors"
	"github.com/noah-isme/hallpass-api/pkg/middleware/requestid"
	"github.com/noah-isme/hallpass-api/pkg/response"
)

// RealtimeHandler upgrades authenticated clients to a websocket event stream.
type RealtimeHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	conn     realtime.ConnConfig
	logger   *zap.Logger
}

// NewRealtimeHandler builds a new handler. allowedOrigins follows the CORS setting.
func NewRealtimeHandler(hub *realtime.Hub, allowedOrigins []string, conn realtime.ConnConfig, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cors.AllowsOrigin(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		conn:   conn,
		logger: logger,
	}
}

// Connect godoc
// @Summary Subscribe to pass events
// @Description Upgrades to a websocket. Pass the token as Bearer header or access_token query parameter. Events are JSON objects with event_id, event_type, occurred_at and pass.
// @Tags Realtime
// @Param access_token query string false "Access token"
// @Success 101
// @Router /realtime/ws [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.hub.Subscribe(claims)
	requestid.Tag(c, "subscriber_id", sub.ID)
	log := h.logger.With(requestid.Fields(c)...)
	log.Info("realtime client connected")
	realtime.Serve(c.Request.Context(), h.hub, sub, conn, h.conn, log)
	log.Info("realtime client disconnected")
}
