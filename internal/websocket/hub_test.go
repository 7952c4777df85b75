package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/services"
	"go.uber.org/zap"
)

func startHub(t *testing.T) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

func receive(t *testing.T, client *Client) Event {
	t.Helper()

	select {
	case payload, ok := <-client.send:
		require.True(t, ok, "client channel closed")
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event for user %d", client.userID)
		return Event{}
	}
}

func assertNothing(t *testing.T, client *Client) {
	t.Helper()

	select {
	case payload := <-client.send:
		t.Fatalf("unexpected event for user %d: %s", client.userID, payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubMessageSentReachesBothParticipants(t *testing.T) {
	hub := startHub(t)
	sender := NewClient(hub, nil, 1)
	recipient := NewClient(hub, nil, 2)
	bystander := NewClient(hub, nil, 3)
	hub.Register(sender)
	hub.Register(recipient)
	hub.Register(bystander)

	image := "https://cdn.example.com/chat/4/a.png"
	hub.MessageSent(&services.ChatDelivery{
		Message: &models.ChatMessage{
			ID:             55,
			ConversationID: 4,
			SenderID:       1,
			Content:        "hello",
			ImageURL:       &image,
		},
		RecipientID: 2,
		Timestamp:   "03:04 PM",
	})

	for _, client := range []*Client{sender, recipient} {
		event := receive(t, client)
		assert.Equal(t, EventMessage, event.Type)
		assert.Equal(t, "4", event.ConversationID)
		assert.Equal(t, "55", event.MessageID)
		assert.Equal(t, "hello", event.Content)
		assert.Equal(t, image, event.ImageURL)
		assert.Equal(t, "03:04 PM", event.Timestamp)
	}
	assertNothing(t, bystander)
}

func TestHubTypingGoesToRecipientOnly(t *testing.T) {
	hub := startHub(t)
	typist := NewClient(hub, nil, 1)
	recipient := NewClient(hub, nil, 2)
	hub.Register(typist)
	hub.Register(recipient)

	hub.TypingStarted(4, 1, 2)

	event := receive(t, recipient)
	assert.Equal(t, EventTyping, event.Type)
	assert.Equal(t, "1", event.SenderID)
	assertNothing(t, typist)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)
	slow := NewClient(hub, nil, 9)
	marker := NewClient(hub, nil, 10)
	hub.Register(slow)
	hub.Register(marker)

	for i := 0; i < clientBuffer; i++ {
		hub.TypingStarted(1, 2, 9)
	}
	require.Eventually(t, func() bool {
		return len(slow.send) == clientBuffer
	}, time.Second, 5*time.Millisecond)

	// The hub handles events in order, so once the marker sees its event
	// the overflowing one has been handled too.
	hub.TypingStarted(1, 2, 9)
	hub.TypingStarted(1, 2, 10)
	assert.Equal(t, EventTyping, receive(t, marker).Type)

	drained := 0
	for {
		select {
		case _, ok := <-slow.send:
			if !ok {
				assert.Equal(t, clientBuffer, drained)
				return
			}
			drained++
		case <-time.After(time.Second):
			t.Fatalf("slow client not closed after %d events", drained)
		}
	}
}

func TestHubRegisterAfterStopClosesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	client := NewClient(hub, nil, 3)
	hub.Register(client)

	select {
	case _, ok := <-client.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel left open after the hub stopped")
	}
}

type stubTypingSetter struct {
	userID         int64
	conversationID int64
	err            error
}

func (s *stubTypingSetter) SetTyping(_ context.Context, userID, conversationID int64) error {
	s.userID = userID
	s.conversationID = conversationID
	return s.err
}

func TestClientTypingFrame(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, 7)
	hub.Register(client)

	setter := &stubTypingSetter{}
	client.handleFrame(setter, []byte(`{"type":"typing","conversation_id":"12"}`))

	assert.Equal(t, int64(7), setter.userID)
	assert.Equal(t, int64(12), setter.conversationID)
	assertNothing(t, client)
}

func TestClientRejectsBadFrames(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, 7)
	hub.Register(client)

	frames := map[string]string{
		"not json":         `{`,
		"unsupported type": `{"type":"message","conversation_id":"1"}`,
		"bad conversation": `{"type":"typing","conversation_id":"x"}`,
	}
	for name, frame := range frames {
		client.handleFrame(&stubTypingSetter{}, []byte(frame))
		event := receive(t, client)
		assert.Equal(t, EventError, event.Type, name)
	}

	client.handleFrame(&stubTypingSetter{err: errors.New("forbidden")}, []byte(`{"type":"typing","conversation_id":"3"}`))
	assert.Equal(t, EventError, receive(t, client).Type)
}
