// Package presence tracks short-lived liveness markers: whether a user is
// online and whether a user is typing in a conversation. Markers only
// annotate what the chat shows and never gate message delivery.
package presence

import (
	"context"
	"strconv"
	"time"
)

const (
	DefaultPresenceTTL = 10 * time.Second
	DefaultTypingTTL   = 3 * time.Second
)

type Tracker interface {
	TouchPresence(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	SetTyping(ctx context.Context, conversationID, userID int64) error
	IsTyping(ctx context.Context, conversationID, userID int64) (bool, error)
}

type TTLs struct {
	Presence time.Duration
	Typing   time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Presence <= 0 {
		t.Presence = DefaultPresenceTTL
	}
	if t.Typing <= 0 {
		t.Typing = DefaultTypingTTL
	}
	return t
}

func presenceKey(userID int64) string {
	return "online:" + strconv.FormatInt(userID, 10)
}

func typingKey(conversationID, userID int64) string {
	return "typing:" + strconv.FormatInt(conversationID, 10) + ":" + strconv.FormatInt(userID, 10)
}
