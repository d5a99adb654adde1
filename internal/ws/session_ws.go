package ws

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"league-chat/internal/middleware"
	"league-chat/internal/models"
	"league-chat/internal/observability"
)

// UnreadSource provides the snapshot sent to a client right after connect.
type UnreadSource interface {
	UnreadSnapshot() models.UnreadEvent
}

// SessionWebSocketHandler upgrades UI connections and registers them on the hub.
type SessionWebSocketHandler struct {
	hub    *Hub
	token  string
	userID string
	unread UnreadSource
}

// NewSessionWebSocketHandler constructs a SessionWebSocketHandler.
func NewSessionWebSocketHandler(hub *Hub, token, userID string, unread UnreadSource) *SessionWebSocketHandler {
	return &SessionWebSocketHandler{hub: hub, token: token, userID: userID, unread: unread}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client. The token may be
// passed as a bearer header or as the "token" query parameter.
func (h *SessionWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("league-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := observability.ClientFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      h.userID,
		LeagueID:    c.Query("league_id"),
		DeviceID:    client.DeviceID,
		IP:          client.IP,
		RequestID:   client.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conn, info)
	if h.unread != nil {
		h.hub.Send(conn, h.unread.UnreadSnapshot())
	}

	observability.IncWSActive("session")
	observability.IncWSEvent("session", "ws_connect")
	publishWSEvent(ctx, "ws_connect", info, "")

	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(conn)
			observability.DecWSActive("session")
			observability.IncWSEvent("session", "ws_disconnect")
			publishWSEvent(ctx, "ws_disconnect", info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("session", "ws_error")
					publishWSEvent(ctx, "ws_error", info, closeReason)
				}
				return
			}
		}
	}()
}
