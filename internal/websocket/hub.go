// Package chatws pushes chat events to connected browsers. It is an
// optional fast path; clients that never connect still see everything
// through the polling endpoints.
package chatws

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/unimarket/campus-market/internal/services"
	"go.uber.org/zap"
)

const (
	EventMessage = "message"
	EventTyping  = "typing"
	EventError   = "error"

	clientBuffer    = 32
	broadcastBuffer = 64
	readLimitBytes  = 4096
	typingTimeout   = 5 * time.Second
)

type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *envelope
	done       chan struct{}
	log        *zap.Logger
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

type typingSetter interface {
	SetTyping(ctx context.Context, userID, conversationID int64) error
}

type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Content        string `json:"content,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// envelope is addressed either to users or to a single client.
type envelope struct {
	event      *Event
	recipients []int64
	client     *Client
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *envelope, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, clientBuffer),
	}
}

// Run owns the client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for userID, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, userID)
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			h.remove(client)
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

// Register adds client to the hub. A client registered after the hub stopped
// has its send channel closed so WritePump returns.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// MessageSent fans a stored message out to both participants.
func (h *Hub) MessageSent(delivery *services.ChatDelivery) {
	message := delivery.Message
	event := &Event{
		Type:           EventMessage,
		ConversationID: strconv.FormatInt(message.ConversationID, 10),
		SenderID:       strconv.FormatInt(message.SenderID, 10),
		RecipientID:    strconv.FormatInt(delivery.RecipientID, 10),
		MessageID:      strconv.FormatInt(message.ID, 10),
		Content:        message.Content,
		Timestamp:      delivery.Timestamp,
	}
	if message.ImageURL != nil {
		event.ImageURL = *message.ImageURL
	}
	h.publish(event, message.SenderID, delivery.RecipientID)
}

func (h *Hub) TypingStarted(conversationID, typistID, recipientID int64) {
	h.publish(&Event{
		Type:           EventTyping,
		ConversationID: strconv.FormatInt(conversationID, 10),
		SenderID:       strconv.FormatInt(typistID, 10),
		RecipientID:    strconv.FormatInt(recipientID, 10),
	}, recipientID)
}

// publish never blocks the caller; a full queue drops the event.
func (h *Hub) publish(event *Event, recipients ...int64) {
	select {
	case h.broadcast <- &envelope{event: event, recipients: recipients}:
	default:
		h.log.Warn("chat hub queue full, dropping event",
			zap.String("type", event.Type),
			zap.String("conversation_id", event.ConversationID),
		)
	}
}

func (h *Hub) deliver(env *envelope) {
	encoded, err := json.Marshal(env.event)
	if err != nil {
		h.log.Error("chat hub encode event", zap.Error(err))
		return
	}

	if env.client != nil {
		h.sendToClient(env.client, encoded)
		return
	}

	seen := make(map[int64]struct{}, len(env.recipients))
	for _, userID := range env.recipients {
		if _, dup := seen[userID]; dup || userID <= 0 {
			continue
		}
		seen[userID] = struct{}{}
		h.sendToUser(userID, encoded)
	}
}

func (h *Hub) sendToUser(userID int64, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			h.log.Warn("chat hub dropping slow client", zap.Int64("user_id", userID))
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) sendToClient(client *Client, payload []byte) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, registered := set[client]; !registered {
		return
	}
	select {
	case client.send <- payload:
	default:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		close(client.send)
	}
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

// ReadPump consumes client frames until the connection closes. The only
// accepted frame is {"type":"typing","conversation_id":"N"}.
func (c *Client) ReadPump(service typingSetter) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimitBytes)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(service, payload)
	}
}

func (c *Client) handleFrame(service typingSetter, payload []byte) {
	var incoming struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(payload, &incoming); err != nil {
		c.writeError("invalid message payload")
		return
	}
	if incoming.Type != EventTyping {
		c.writeError("unsupported message type")
		return
	}

	conversationID, err := strconv.ParseInt(incoming.ConversationID, 10, 64)
	if err != nil || conversationID <= 0 {
		c.writeError("invalid conversation id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	if err := service.SetTyping(ctx, c.userID, conversationID); err != nil {
		c.writeError("failed to update typing status")
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// writeError goes through the hub so only the hub goroutine writes to send.
func (c *Client) writeError(message string) {
	env := &envelope{event: &Event{Type: EventError, Content: message}, client: c}
	select {
	case c.hub.broadcast <- env:
	case <-c.hub.done:
	}
}
