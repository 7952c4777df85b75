package models

import "time"

type Conversation struct {
	ID         int64     `json:"id"`
	UserLowID  int64     `json:"-"`
	UserHighID int64     `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c Conversation) HasParticipant(userID int64) bool {
	return userID == c.UserLowID || userID == c.UserHighID
}

// Counterpart returns the other member, or 0 when userID is not a member.
func (c Conversation) Counterpart(userID int64) int64 {
	switch userID {
	case c.UserLowID:
		return c.UserHighID
	case c.UserHighID:
		return c.UserLowID
	default:
		return 0
	}
}

type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	ImageURL       *string   `json:"image_url,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type ChatPartner struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	IsOnline  bool    `json:"is_online"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type ConversationSummary struct {
	Conversation
	Counterpart ChatPartner  `json:"other_user"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

// MessageView is a message as rendered for one viewer.
type MessageView struct {
	ID        int64         `json:"id"`
	SenderID  int64         `json:"sender_id"`
	Content   string        `json:"content"`
	ImageURL  *string       `json:"image_url,omitempty"`
	Timestamp string        `json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
	IsSent    bool          `json:"is_sent"`
	Status    MessageStatus `json:"status"`
}

type MessageStatusUpdate struct {
	ID     int64         `json:"id"`
	Status MessageStatus `json:"status"`
}
