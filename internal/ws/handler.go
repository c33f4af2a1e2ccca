package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"teamsync/internal/auth"
	"teamsync/internal/models"
	"teamsync/internal/observability"
	"teamsync/internal/repositories"
	"teamsync/internal/telemetry"
)

// SyncHandler upgrades websocket connections and executes channel events
// against the repositories and the hub.
type SyncHandler struct {
	hub       *Hub
	channels  repositories.ChannelRepository
	messages  repositories.MessageRepository
	validator *auth.Validator
	audit     *telemetry.AuditEmitter
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(hub *Hub, channels repositories.ChannelRepository, messages repositories.MessageRepository, validator *auth.Validator, audit *telemetry.AuditEmitter) *SyncHandler {
	return &SyncHandler{hub: hub, channels: channels, messages: messages, validator: validator, audit: audit}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades, and runs the per-socket event loop. Each
// socket is served independently; one slow or broken client never blocks
// another.
func (h *SyncHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("teamsync/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}
	identity, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		Username:    identity.Username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Register(conn, info)
	observability.IncWSActive()
	h.publishWSEvent(ctx, "ws_connect", info, "")

	defer func() {
		h.hub.Unregister(conn)
		observability.DecWSActive()
		h.publishWSEvent(ctx, "ws_disconnect", info, "")
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publishWSEvent(ctx, "ws_error", info, err.Error())
			}
			return
		}

		var event models.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("malformed event from user=%s: %v", info.UserID, err)
			continue
		}
		observability.IncWSEvent(event.Name, "in")
		h.dispatch(ctx, conn, info, event)
	}
}

// dispatch executes one inbound event. A bad event is logged and dropped; it
// must never terminate the socket.
func (h *SyncHandler) dispatch(ctx context.Context, conn *websocket.Conn, info ConnInfo, event models.Event) {
	switch event.Name {
	case models.EventJoinChannel:
		h.handleJoin(ctx, conn, event.Payload)
	case models.EventSendMessage:
		h.handleSend(ctx, conn, info, event.Payload)
	case models.EventEditMessage:
		h.handleEdit(ctx, conn, event.Payload)
	case models.EventDeleteMessage:
		h.handleDelete(ctx, conn, info, event.Payload)
	case models.EventSendReaction:
		h.handleReaction(ctx, conn, info, event.Payload)
	case models.EventTypingStart, models.EventTypingStop:
		h.handleTyping(conn, info, event.Name, event.Payload)
	case models.EventCreateChannel:
		h.handleCreateChannel(ctx, info, event.Payload)
	case models.EventDeleteChannel, models.EventDeleteDirectMessage:
		h.handleDeleteChannel(ctx, info, event.Name, event.Payload)
	case models.EventClearChatHistory:
		h.handleClearHistory(ctx, conn, info, event.Payload)
	case models.EventGetChannels:
		h.handleGetChannels(ctx, conn)
	case models.EventGetDirectUsers:
		h.handleGetDirectUsers(ctx, conn)
	default:
		log.Printf("unknown event %q from user=%s", event.Name, info.UserID)
	}
}

func (h *SyncHandler) handleJoin(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) {
	var payload models.JoinChannelPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("join_channel: bad payload: %v", err)
		return
	}

	channel, err := h.channels.GetChannel(ctx, payload.ChannelID)
	if err != nil {
		if errors.Is(err, repositories.ErrChannelNotFound) {
			log.Printf("join_channel: unknown channel %s", payload.ChannelID)
			return
		}
		log.Printf("join_channel: load channel %s: %v", payload.ChannelID, err)
		return
	}
	history, err := h.messages.History(ctx, payload.ChannelID)
	if err != nil {
		log.Printf("join_channel: load history %s: %v", payload.ChannelID, err)
		return
	}

	h.hub.Join(payload.ChannelID, conn)
	if err := h.hub.SendTo(conn, models.EventChannelJoined, models.ChannelJoinedPayload{Channel: channel, History: history}); err != nil {
		log.Printf("join_channel: send snapshot %s: %v", payload.ChannelID, err)
	}
	observability.IncWSEvent(models.EventChannelJoined, "out")
}

func (h *SyncHandler) handleSend(ctx context.Context, conn *websocket.Conn, info ConnInfo, raw json.RawMessage) {
	var payload models.SendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("send_message: bad payload: %v", err)
		return
	}

	msg := payload.Message
	msg.ChannelID = payload.ChannelID
	msg.SenderID = info.UserID
	msg.SenderName = info.Username
	if msg.Text == "" && len(msg.Attachments) == 0 && msg.Voice == nil {
		log.Printf("send_message: empty message from user=%s", info.UserID)
		return
	}

	persisted, err := h.messages.CreateMessage(ctx, msg)
	if err != nil {
		log.Printf("send_message: persist failed channel=%s: %v", payload.ChannelID, err)
		return
	}

	// The sender receives its own broadcast; there is no separate local echo.
	h.hub.Relay(models.EventReceiveMessage, payload.ChannelID,
		models.ReceiveMessagePayload{ChannelID: payload.ChannelID, Message: persisted}, true, conn)
	observability.IncWSEvent(models.EventReceiveMessage, "out")
}

func (h *SyncHandler) handleEdit(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) {
	var payload models.EditMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" {
		log.Printf("edit_message: bad payload: %v", err)
		return
	}

	editedAt := time.Now().UTC()
	if err := h.messages.EditMessage(ctx, payload.ChannelID, payload.MessageID, payload.NewText, editedAt); err != nil {
		log.Printf("edit_message: %s/%s: %v", payload.ChannelID, payload.MessageID, err)
		return
	}
	h.hub.Relay(models.EventMessageUpdated, payload.ChannelID, models.MessageUpdatedPayload{
		ChannelID: payload.ChannelID,
		MessageID: payload.MessageID,
		NewText:   payload.NewText,
		EditedAt:  editedAt,
	}, true, conn)
}

func (h *SyncHandler) handleDelete(ctx context.Context, conn *websocket.Conn, info ConnInfo, raw json.RawMessage) {
	var payload models.DeleteMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" {
		log.Printf("delete_message: bad payload: %v", err)
		return
	}

	var err error
	if payload.DeleteForEveryone {
		err = h.messages.HardDelete(ctx, payload.ChannelID, payload.MessageID)
	} else {
		err = h.messages.SoftDelete(ctx, payload.ChannelID, payload.MessageID, info.UserID)
	}
	if err != nil {
		log.Printf("delete_message: %s/%s: %v", payload.ChannelID, payload.MessageID, err)
		return
	}
	h.hub.Relay(models.EventMessageDeleted, payload.ChannelID, models.MessageDeletedPayload{
		ChannelID:         payload.ChannelID,
		MessageID:         payload.MessageID,
		DeleteForEveryone: payload.DeleteForEveryone,
		DeletedBy:         info.UserID,
	}, true, conn)
}

func (h *SyncHandler) handleReaction(ctx context.Context, conn *websocket.Conn, info ConnInfo, raw json.RawMessage) {
	var payload models.SendReactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" || payload.Emoji == "" {
		log.Printf("send_reaction: bad payload: %v", err)
		return
	}

	reactions, err := h.messages.ToggleReaction(ctx, payload.ChannelID, payload.MessageID, info.UserID, payload.Emoji)
	if err != nil {
		log.Printf("send_reaction: %s/%s: %v", payload.ChannelID, payload.MessageID, err)
		return
	}
	// Full list, last writer wins; receivers replace rather than merge.
	h.hub.Relay(models.EventReceiveReaction, payload.ChannelID, models.ReceiveReactionPayload{
		ChannelID: payload.ChannelID,
		MessageID: payload.MessageID,
		Reactions: reactions,
	}, true, conn)
}

func (h *SyncHandler) handleTyping(conn *websocket.Conn, info ConnInfo, name string, raw json.RawMessage) {
	var payload models.TypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("%s: bad payload: %v", name, err)
		return
	}

	isTyping := name == models.EventTypingStart
	users := h.hub.SetTyping(payload.ChannelID, info.UserID, isTyping)

	outName := models.EventUserTyping
	if !isTyping {
		outName = models.EventUserStoppedTyping
	}
	h.hub.Relay(outName, payload.ChannelID, models.UserTypingPayload{
		ChannelID:   payload.ChannelID,
		TypingUsers: users,
	}, true, conn)
}

func (h *SyncHandler) handleCreateChannel(ctx context.Context, info ConnInfo, raw json.RawMessage) {
	var descriptor models.Channel
	if err := json.Unmarshal(raw, &descriptor); err != nil || descriptor.Name == "" && descriptor.Kind != models.ChannelDirect {
		log.Printf("create_channel: bad payload: %v", err)
		return
	}
	if descriptor.Kind == "" {
		descriptor.Kind = models.ChannelPublic
	}

	created, err := h.channels.CreateChannel(ctx, descriptor)
	if err != nil {
		log.Printf("create_channel: %v", err)
		return
	}
	h.audit.Emit(ctx, "channel_created", created.ID, info.UserID)
	h.hub.BroadcastAll(models.EventChannelCreated, created)
}

func (h *SyncHandler) handleDeleteChannel(ctx context.Context, info ConnInfo, name string, raw json.RawMessage) {
	var payload models.DeleteChannelPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("%s: bad payload: %v", name, err)
		return
	}

	if err := h.channels.DeleteChannel(ctx, payload.ChannelID); err != nil {
		log.Printf("%s: %s: %v", name, payload.ChannelID, err)
		return
	}
	h.audit.Emit(ctx, "channel_deleted", payload.ChannelID, info.UserID)

	outName := models.EventChannelDeleted
	if name == models.EventDeleteDirectMessage {
		outName = models.EventDirectDeleted
	}
	h.hub.BroadcastAll(outName, models.ChannelDeletedPayload{ChannelID: payload.ChannelID, DeletedBy: info.UserID})
	h.hub.DropRoom(payload.ChannelID)
}

func (h *SyncHandler) handleClearHistory(ctx context.Context, conn *websocket.Conn, info ConnInfo, raw json.RawMessage) {
	var payload models.ClearHistoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("clear_chat_history: bad payload: %v", err)
		return
	}

	count, err := h.messages.ClearHistory(ctx, payload.ChannelID)
	if err != nil {
		log.Printf("clear_chat_history: %s: %v", payload.ChannelID, err)
		return
	}
	h.audit.Emit(ctx, "history_cleared", payload.ChannelID, info.UserID)
	h.hub.Relay(models.EventChatHistoryCleared, payload.ChannelID, models.HistoryClearedPayload{
		ChannelID:    payload.ChannelID,
		DeletedCount: count,
	}, true, conn)
}

func (h *SyncHandler) handleGetChannels(ctx context.Context, conn *websocket.Conn) {
	channels, err := h.channels.ListChannels(ctx)
	if err != nil {
		log.Printf("get_channels: %v", err)
		return
	}
	if err := h.hub.SendTo(conn, models.EventChannelsList, models.ChannelsListPayload{Channels: channels}); err != nil {
		log.Printf("get_channels: send: %v", err)
	}
}

func (h *SyncHandler) handleGetDirectUsers(ctx context.Context, conn *websocket.Conn) {
	users := h.hub.ConnectedUsers()
	known := make(map[string]bool, len(users))
	for _, u := range users {
		known[u.ID] = true
	}

	// Participants of existing direct channels are listed as offline when not
	// currently connected.
	channels, err := h.channels.ListChannels(ctx)
	if err != nil {
		log.Printf("get_direct_users: %v", err)
		return
	}
	for _, ch := range channels {
		if ch.Kind != models.ChannelDirect {
			continue
		}
		for _, participant := range ch.Participants {
			if known[participant] {
				continue
			}
			known[participant] = true
			users = append(users, models.User{ID: participant, Name: participant, Presence: "offline"})
		}
	}

	if err := h.hub.SendTo(conn, models.EventDirectUsersList, models.DirectUsersListPayload{Users: users}); err != nil {
		log.Printf("get_direct_users: send: %v", err)
	}
}

func (h *SyncHandler) validateToken(header string) (auth.Identity, error) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return h.validator.ValidateToken(header[len(prefix):])
	}
	return auth.Identity{}, auth.ErrInvalidToken
}

func (h *SyncHandler) publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(event, "meta")
	_ = observability.PublishEvent(ctx, "ws_events.channels", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
