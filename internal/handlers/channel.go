package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"teamsync/internal/models"
	"teamsync/internal/repositories"
	"teamsync/internal/telemetry"
)

// ChannelHandler serves the REST boundary of the storage collaborator:
// directory listing, history pages and explicit channel creation. The
// realtime path lives on the websocket; these endpoints back initial page
// loads and non-realtime tooling.
type ChannelHandler struct {
	channels repositories.ChannelRepository
	messages repositories.MessageRepository
	audit    *telemetry.AuditEmitter
}

// NewChannelHandler builds a ChannelHandler.
func NewChannelHandler(channels repositories.ChannelRepository, messages repositories.MessageRepository, audit *telemetry.AuditEmitter) *ChannelHandler {
	return &ChannelHandler{channels: channels, messages: messages, audit: audit}
}

// ListChannels returns every channel record.
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	channels, err := h.channels.ListChannels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load channels"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// GetHistory returns a channel's message history.
func (h *ChannelHandler) GetHistory(c *gin.Context) {
	channelID := c.Param("channel_id")
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	if _, err := h.channels.GetChannel(c.Request.Context(), channelID); err != nil {
		if errors.Is(err, repositories.ErrChannelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load channel"})
		return
	}

	history, err := h.messages.History(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "messages": history})
}

// CreateChannel creates a channel from a posted descriptor.
func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var descriptor models.Channel
	if err := c.ShouldBindJSON(&descriptor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if descriptor.Kind == "" {
		descriptor.Kind = models.ChannelPublic
	}
	if descriptor.Name == "" && descriptor.Kind != models.ChannelDirect {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel name required"})
		return
	}

	created, err := h.channels.CreateChannel(c.Request.Context(), descriptor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create channel"})
		return
	}
	h.audit.Emit(c.Request.Context(), "channel_created", created.ID, c.GetString("userID"))
	c.JSON(http.StatusCreated, gin.H{"channel": created})
}
