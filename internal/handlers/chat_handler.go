package handlers

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/middleware"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/services"
	"github.com/unimarket/campus-market/internal/views"
	chatws "github.com/unimarket/campus-market/internal/websocket"
	"github.com/unimarket/campus-market/pkg/utils"
	"go.uber.org/zap"
)

const imagePreview = "[image]"

type chatApplicationService interface {
	Inbox(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	StartConversation(ctx context.Context, userID, targetID int64) (*models.Conversation, error)
	OpenRoom(ctx context.Context, userID, conversationID int64) (*services.ChatRoom, error)
	SendMessage(ctx context.Context, userID, conversationID int64, content string, image *services.ImageUpload) (*services.ChatDelivery, error)
	PollMessages(ctx context.Context, userID, conversationID, lastID int64) (*services.ChatPoll, error)
	SetTyping(ctx context.Context, userID, conversationID int64) error
	IsTyping(ctx context.Context, userID, conversationID, otherUserID int64) (bool, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	FormatTimestamp(ts time.Time) string
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
	log       *zap.Logger
}

type sendMessageRequest struct {
	Content string `json:"content" form:"content"`
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
		log:       log,
	}
}

func (h *ChatHandler) Inbox(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	chats, err := h.service.Inbox(c.Context(), userID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	if !prefersHTML(c) {
		return c.JSON(fiber.Map{"chats": chats})
	}

	page := views.InboxPage{Entries: make([]views.InboxEntry, 0, len(chats))}
	for _, chat := range chats {
		entry := views.InboxEntry{
			ConversationID: chat.ID,
			Partner:        chat.Counterpart,
			UnreadCount:    chat.UnreadCount,
		}
		if chat.LastMessage != nil {
			entry.Preview = chat.LastMessage.Content
			if entry.Preview == "" && chat.LastMessage.ImageURL != nil {
				entry.Preview = imagePreview
			}
			entry.Timestamp = h.service.FormatTimestamp(chat.LastMessage.CreatedAt)
		}
		page.TotalUnread += chat.UnreadCount
		page.Entries = append(page.Entries, entry)
	}
	return h.renderHTML(c, fiber.StatusOK, func(buf *bytes.Buffer) error {
		return views.RenderInbox(buf, page)
	})
}

func (h *ChatHandler) StartConversation(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	targetID, err := strconv.ParseInt(c.Params("userID"), 10, 64)
	if err != nil || targetID <= 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	conversation, err := h.service.StartConversation(c.Context(), userID, targetID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.Redirect(roomPath(conversation.ID), fiber.StatusSeeOther)
}

func (h *ChatHandler) OpenRoom(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	room, err := h.service.OpenRoom(c.Context(), userID, conversationID)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			return c.Redirect("/chat", fiber.StatusSeeOther)
		}
		return h.mapChatError(c, err)
	}

	return h.renderRoom(c, fiber.StatusOK, userID, room, nil, "")
}

// SendMessage accepts form or multipart posts. Async callers get the stored
// message back as JSON; plain form posts are redirected to the room.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	image, err := formImage(c, "image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid image upload"})
	}
	if image != nil {
		defer image.File.Close()
	}

	async := isAsync(c)
	delivery, err := h.service.SendMessage(c.Context(), userID, conversationID, req.Content, image)
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) && !async && prefersHTML(c) {
			return h.rerenderRoom(c, userID, conversationID, validationErr.Fields, req.Content)
		}
		if errors.Is(err, services.ErrForbidden) && !async {
			return c.Redirect("/chat", fiber.StatusSeeOther)
		}
		return h.mapChatError(c, err)
	}

	if !async {
		return c.Redirect(roomPath(conversationID), fiber.StatusSeeOther)
	}

	message := delivery.Message
	response := fiber.Map{
		"id":        message.ID,
		"content":   message.Content,
		"timestamp": delivery.Timestamp,
		"sender_id": message.SenderID,
	}
	if message.ImageURL != nil {
		response["image_url"] = *message.ImageURL
	}
	return c.JSON(response)
}

func (h *ChatHandler) PollMessages(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	lastID := int64(0)
	if raw := strings.TrimSpace(c.Query("last_id")); raw != "" {
		lastID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": fiber.Map{"last_id": "must be an integer"}})
		}
	}

	poll, err := h.service.PollMessages(c.Context(), userID, conversationID, lastID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(poll)
}

func (h *ChatHandler) SetTyping(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	if err := h.service.SetTyping(c.Context(), userID, conversationID); err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// UpdateTyping is the legacy typing endpoint; only POST is allowed.
func (h *ChatHandler) UpdateTyping(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "Method not allowed"})
	}
	return h.SetTyping(c)
}

func (h *ChatHandler) TypingStatus(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	otherUserID, err := strconv.ParseInt(c.Query("other_user_id"), 10, 64)
	if err != nil || otherUserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": fiber.Map{"other_user_id": "is required"}})
	}

	typing, err := h.service.IsTyping(c.Context(), userID, conversationID, otherUserID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"is_typing": typing})
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.service.UnreadCount(c.Context(), userID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	rawID, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

// parseWSClaims accepts the token as a query parameter, a bearer header or
// the session cookie, in that order.
func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		parts := strings.Fields(c.Get(fiber.HeaderAuthorization))
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		tokenString = strings.TrimSpace(c.Cookies(middleware.AccessTokenCookie))
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func (h *ChatHandler) renderRoom(c *fiber.Ctx, status int, viewerID int64, room *services.ChatRoom, fieldErrors map[string]string, draft string) error {
	if !prefersHTML(c) {
		body := fiber.Map{
			"conversation_id": room.Conversation.ID,
			"partner":         room.Partner,
			"messages":        room.Messages,
			"last_message_id": room.LastMessageID,
		}
		if len(fieldErrors) > 0 {
			body["errors"] = fieldErrors
		}
		return c.Status(status).JSON(body)
	}

	page := views.RoomPage{
		ConversationID: room.Conversation.ID,
		ViewerID:       viewerID,
		Partner:        room.Partner,
		Messages:       room.Messages,
		LastMessageID:  room.LastMessageID,
		Errors:         fieldErrors,
		Draft:          draft,
	}
	return h.renderHTML(c, status, func(buf *bytes.Buffer) error {
		return views.RenderRoom(buf, page)
	})
}

func (h *ChatHandler) rerenderRoom(c *fiber.Ctx, userID, conversationID int64, fieldErrors map[string]string, draft string) error {
	room, err := h.service.OpenRoom(c.Context(), userID, conversationID)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			return c.Redirect("/chat", fiber.StatusSeeOther)
		}
		return h.mapChatError(c, err)
	}
	return h.renderRoom(c, fiber.StatusBadRequest, userID, room, fieldErrors, draft)
}

func (h *ChatHandler) renderHTML(c *fiber.Ctx, status int, render func(buf *bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		h.log.Error("render chat page", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to render page")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).Send(buf.Bytes())
}

func (h *ChatHandler) mapChatError(c *fiber.Ctx, err error) error {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": validationErr.Fields})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Image uploads are not available"})
	default:
		h.log.Error("chat request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Any("user_id", c.Locals("user_id")),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}

func parseConversationID(c *fiber.Ctx) (int64, error) {
	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return 0, strconv.ErrSyntax
	}
	return conversationID, nil
}

func roomPath(conversationID int64) string {
	return "/chat/" + strconv.FormatInt(conversationID, 10)
}

// prefersHTML reports whether the client ranks text/html above JSON.
func prefersHTML(c *fiber.Ctx) bool {
	return c.Accepts(fiber.MIMEApplicationJSON, fiber.MIMETextHTML) == fiber.MIMETextHTML
}

func isAsync(c *fiber.Ctx) bool {
	if strings.EqualFold(c.Get(fiber.HeaderXRequestedWith), "XMLHttpRequest") {
		return true
	}
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}
