package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"league-chat/internal/chat"
	"league-chat/internal/models"
)

// Gateway is the engine surface used by the HTTP API.
type Gateway interface {
	OpenView(ctx context.Context, leagueID string) ([]models.MessageView, bool, error)
	CloseLeague(leagueID string)
	Messages(leagueID string) ([]models.MessageView, error)
	LoadOlder(ctx context.Context, leagueID string) (models.Page, error)
	Send(ctx context.Context, leagueID, text string, replyToID *string) (models.Message, error)
	Retry(ctx context.Context, leagueID, messageID string) (models.Message, error)
	ToggleReaction(ctx context.Context, leagueID, messageID, emoji string) (bool, error)
	MarkRead(leagueID string, at *time.Time) error
	SetForeground(ctx context.Context, foreground bool) error
	UnreadSnapshot() models.UnreadEvent
	Previews(ctx context.Context) ([]models.InboxPreview, error)
}

// LeagueHandler manages league chat endpoints.
type LeagueHandler struct {
	gateway Gateway
}

// NewLeagueHandler builds a LeagueHandler.
func NewLeagueHandler(gateway Gateway) *LeagueHandler {
	return &LeagueHandler{gateway: gateway}
}

// Register wires the league routes on a router group.
func (h *LeagueHandler) Register(r gin.IRouter) {
	r.POST("/leagues/:league_id/open", h.OpenLeague)
	r.DELETE("/leagues/:league_id/open", h.CloseLeague)
	r.GET("/leagues/:league_id/messages", h.GetMessages)
	r.POST("/leagues/:league_id/messages/older", h.LoadOlder)
	r.POST("/leagues/:league_id/messages", h.PostMessage)
	r.POST("/leagues/:league_id/messages/:message_id/retry", h.RetryMessage)
	r.POST("/leagues/:league_id/messages/:message_id/reactions", h.ToggleReaction)
	r.POST("/leagues/:league_id/read", h.MarkRead)
	r.POST("/lifecycle", h.Lifecycle)
	r.GET("/unread", h.Unread)
	r.GET("/inbox", h.Inbox)
}

// OpenLeague opens the league view and returns its first page.
func (h *LeagueHandler) OpenLeague(c *gin.Context) {
	leagueID := c.Param("league_id")
	views, hasMore, err := h.gateway.OpenView(c.Request.Context(), leagueID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"league_id": leagueID, "messages": views, "has_more": hasMore})
}

// CloseLeague closes the league view.
func (h *LeagueHandler) CloseLeague(c *gin.Context) {
	h.gateway.CloseLeague(c.Param("league_id"))
	c.Status(http.StatusNoContent)
}

// GetMessages returns the current log with reactions.
func (h *LeagueHandler) GetMessages(c *gin.Context) {
	views, err := h.gateway.Messages(c.Param("league_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// LoadOlder fetches the previous page.
func (h *LeagueHandler) LoadOlder(c *gin.Context) {
	page, err := h.gateway.LoadOlder(c.Request.Context(), c.Param("league_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// PostMessage sends a message. A failed delivery is still 201: the message
// comes back with status "error" and can be retried.
func (h *LeagueHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content          string  `json:"content"`
		ReplyToMessageID *string `json:"reply_to_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.gateway.Send(c.Request.Context(), c.Param("league_id"), req.Content, req.ReplyToMessageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RetryMessage resends a failed message.
func (h *LeagueHandler) RetryMessage(c *gin.Context) {
	msg, err := h.gateway.Retry(c.Request.Context(), c.Param("league_id"), c.Param("message_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ToggleReaction flips the caller's emoji on a message.
func (h *LeagueHandler) ToggleReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.gateway.ToggleReaction(c.Request.Context(), c.Param("league_id"), c.Param("message_id"), req.Emoji)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// MarkRead records a read watermark, now unless "at" is given.
func (h *LeagueHandler) MarkRead(c *gin.Context) {
	var req struct {
		At string `json:"at"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var at *time.Time
	if req.At != "" {
		ts, err := models.ParseTimestamp(req.At)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timestamp"})
			return
		}
		at = &ts
	}

	if err := h.gateway.MarkRead(c.Param("league_id"), at); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Lifecycle forwards foreground/background transitions.
func (h *LeagueHandler) Lifecycle(c *gin.Context) {
	var req struct {
		State string `json:"state" binding:"required,oneof=foreground background"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.gateway.SetForeground(c.Request.Context(), req.State == "foreground"); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unread returns every unread counter with its badge.
func (h *LeagueHandler) Unread(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.UnreadSnapshot())
}

// Inbox returns the latest preview of every league.
func (h *LeagueHandler) Inbox(c *gin.Context) {
	previews, err := h.gateway.Previews(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"previews": previews})
}

func writeError(c *gin.Context, err error) {
	var transport *chat.TransportError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrAuthUnavailable):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrLeagueNotOpen):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotRetryable), errors.Is(err, chat.ErrNotPersisted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &transport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
