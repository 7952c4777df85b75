package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/presence"
)

// statusWindow is how many of the viewer's own messages get their status
// recomputed on every poll.
const statusWindow = 30

const deletedUserName = "Deleted user"

type conversationStore interface {
	FindOrCreate(ctx context.Context, a, b int64) (*models.Conversation, error)
	GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, participantID int64) ([]models.ConversationSummary, error)
	UnreadCountForUser(ctx context.Context, userID int64) (int, error)
}

type messageStore interface {
	Append(ctx context.Context, conversationID, senderID int64, content string, imageURL *string) (*models.ChatMessage, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.ChatMessage, error)
	ListAfter(ctx context.Context, conversationID, lastID int64) ([]models.ChatMessage, error)
	ListRecentBySender(ctx context.Context, conversationID, senderID int64, limit int) ([]models.ChatMessage, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error)
}

type publicProfileReader interface {
	GetPublic(ctx context.Context, userID int64) (*models.PublicProfile, error)
}

// ChatNotifier receives chat events after they are stored. Delivery is best
// effort; the polling endpoints stay authoritative.
type ChatNotifier interface {
	MessageSent(delivery *ChatDelivery)
	TypingStarted(conversationID, typistID, recipientID int64)
}

type ChatService struct {
	conversations conversationStore
	messages      messageStore
	users         userReader
	profiles      publicProfileReader
	tracker       presence.Tracker
	storage       StorageService
	notifier      ChatNotifier
	location      *time.Location
}

type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.ChatMessage
	RecipientID  int64
	Timestamp    string
}

type ChatRoom struct {
	Conversation  *models.Conversation
	Partner       models.ChatPartner
	Messages      []models.MessageView
	LastMessageID int64
}

type ChatPoll struct {
	Messages []models.MessageView        `json:"messages"`
	Statuses []models.MessageStatusUpdate `json:"statuses"`
	Partner  models.ChatPartner           `json:"partner"`
}

// NewChatService wires the chat use cases. storage may be nil, in which case
// image messages fail with ErrStorageUnavailable.
func NewChatService(
	conversations conversationStore,
	messages messageStore,
	users userReader,
	profiles publicProfileReader,
	tracker presence.Tracker,
	storage StorageService,
	location *time.Location,
) *ChatService {
	if location == nil {
		location = time.UTC
	}
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		users:         users,
		profiles:      profiles,
		tracker:       tracker,
		storage:       storage,
		location:      location,
	}
}

func (s *ChatService) SetNotifier(notifier ChatNotifier) {
	s.notifier = notifier
}

// Inbox lists the user's conversations by last activity, one per counterpart.
func (s *ChatService) Inbox(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	summaries, err := s.conversations.ListForParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	seen := make(map[int64]struct{}, len(summaries))
	inbox := make([]models.ConversationSummary, 0, len(summaries))
	for _, summary := range summaries {
		if _, dup := seen[summary.Counterpart.ID]; dup {
			continue
		}
		seen[summary.Counterpart.ID] = struct{}{}
		summary.Counterpart.IsOnline = s.isOnline(ctx, summary.Counterpart.ID)
		inbox = append(inbox, summary)
	}

	return inbox, nil
}

func (s *ChatService) StartConversation(ctx context.Context, userID, targetID int64) (*models.Conversation, error) {
	if targetID <= 0 {
		return nil, ErrUserNotFound
	}
	if targetID == userID {
		return nil, ErrInvalidInput
	}

	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load chat target: %w", err)
	}

	conversation, err := s.conversations.FindOrCreate(ctx, userID, targetID)
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}
	return conversation, nil
}

// OpenRoom authorizes the viewer, marks incoming messages read and returns
// the full history.
func (s *ChatService) OpenRoom(ctx context.Context, userID, conversationID int64) (*ChatRoom, error) {
	conversation, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	s.touch(ctx, userID)

	if _, err := s.messages.MarkConversationRead(ctx, conversation.ID, userID); err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}

	messages, err := s.messages.ListByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	partner, err := s.partner(ctx, conversation.Counterpart(userID))
	if err != nil {
		return nil, err
	}

	room := &ChatRoom{
		Conversation: conversation,
		Partner:      partner,
		Messages:     s.views(messages, userID, partner.IsOnline),
	}
	if n := len(messages); n > 0 {
		room.LastMessageID = messages[n-1].ID
	}
	return room, nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	userID int64,
	conversationID int64,
	content string,
	image *ImageUpload,
) (*ChatDelivery, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && image == nil {
		return nil, NewValidationError("content", "Message cannot be empty.")
	}

	conversation, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	// Replying means the sender has seen what the partner wrote.
	if _, err := s.messages.MarkConversationRead(ctx, conversation.ID, userID); err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}

	var imageURL *string
	if image != nil {
		folder := ChatImageFolder + "/" + strconv.FormatInt(conversation.ID, 10)
		uploaded, err := storeImage(ctx, s.storage, image, "image", folder)
		if err != nil {
			return nil, err
		}
		imageURL = &uploaded
	}

	message, err := s.messages.Append(ctx, conversation.ID, userID, trimmed, imageURL)
	if err != nil {
		if imageURL != nil {
			_ = s.storage.DeleteFile(ctx, *imageURL)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	delivery := &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  conversation.Counterpart(userID),
		Timestamp:    FormatChatTimestamp(message.CreatedAt, s.location),
	}
	if s.notifier != nil {
		s.notifier.MessageSent(delivery)
	}
	return delivery, nil
}

// PollMessages is the polling loop's single call: it refreshes the poller's
// presence, marks incoming messages read and returns everything after lastID
// plus recomputed statuses for the poller's recent messages.
func (s *ChatService) PollMessages(ctx context.Context, userID, conversationID, lastID int64) (*ChatPoll, error) {
	if lastID < 0 {
		return nil, NewValidationError("last_id", "must be 0 or greater")
	}

	conversation, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	s.touch(ctx, userID)

	if _, err := s.messages.MarkConversationRead(ctx, conversation.ID, userID); err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}

	fresh, err := s.messages.ListAfter(ctx, conversation.ID, lastID)
	if err != nil {
		return nil, fmt.Errorf("list new messages: %w", err)
	}

	partner, err := s.partner(ctx, conversation.Counterpart(userID))
	if err != nil {
		return nil, err
	}

	recent, err := s.messages.ListRecentBySender(ctx, conversation.ID, userID, statusWindow)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	statuses := make([]models.MessageStatusUpdate, 0, len(recent))
	for _, message := range recent {
		statuses = append(statuses, models.MessageStatusUpdate{
			ID:     message.ID,
			Status: DeriveStatus(message, partner.IsOnline),
		})
	}

	return &ChatPoll{
		Messages: s.views(fresh, userID, partner.IsOnline),
		Statuses: statuses,
		Partner:  partner,
	}, nil
}

func (s *ChatService) SetTyping(ctx context.Context, userID, conversationID int64) error {
	conversation, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	if err := s.tracker.SetTyping(ctx, conversation.ID, userID); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}

	if s.notifier != nil {
		s.notifier.TypingStarted(conversation.ID, userID, conversation.Counterpart(userID))
	}
	return nil
}

func (s *ChatService) IsTyping(ctx context.Context, userID, conversationID, otherUserID int64) (bool, error) {
	conversation, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return false, err
	}
	if !conversation.HasParticipant(otherUserID) {
		return false, nil
	}

	typing, err := s.tracker.IsTyping(ctx, conversation.ID, otherUserID)
	if err != nil {
		return false, fmt.Errorf("check typing: %w", err)
	}
	return typing, nil
}

func (s *ChatService) UnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := s.conversations.UnreadCountForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// FormatTimestamp renders ts the way message payloads carry it.
func (s *ChatService) FormatTimestamp(ts time.Time) string {
	return FormatChatTimestamp(ts, s.location)
}

func (s *ChatService) authorize(ctx context.Context, userID, conversationID int64) (*models.Conversation, error) {
	if conversationID <= 0 {
		return nil, ErrNotFound
	}

	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conversation.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conversation, nil
}

func (s *ChatService) partner(ctx context.Context, partnerID int64) (models.ChatPartner, error) {
	partner := models.ChatPartner{ID: partnerID, IsOnline: s.isOnline(ctx, partnerID)}

	profile, err := s.profiles.GetPublic(ctx, partnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			partner.Name = deletedUserName
			return partner, nil
		}
		return partner, fmt.Errorf("load chat partner: %w", err)
	}

	partner.Name = profile.DisplayName
	partner.AvatarURL = profile.AvatarURL
	return partner, nil
}

// isOnline treats tracker failures as offline; presence only decorates.
func (s *ChatService) isOnline(ctx context.Context, userID int64) bool {
	online, err := s.tracker.IsOnline(ctx, userID)
	return err == nil && online
}

func (s *ChatService) touch(ctx context.Context, userID int64) {
	_ = s.tracker.TouchPresence(ctx, userID)
}

// views renders messages for viewerID. In a two person conversation the
// recipient of the viewer's messages is always the partner.
func (s *ChatService) views(messages []models.ChatMessage, viewerID int64, partnerOnline bool) []models.MessageView {
	views := make([]models.MessageView, 0, len(messages))
	for _, message := range messages {
		isSent := message.SenderID == viewerID
		recipientOnline := partnerOnline
		if !isSent {
			recipientOnline = true
		}
		views = append(views, models.MessageView{
			ID:        message.ID,
			SenderID:  message.SenderID,
			Content:   message.Content,
			ImageURL:  message.ImageURL,
			Timestamp: FormatChatTimestamp(message.CreatedAt, s.location),
			CreatedAt: message.CreatedAt,
			IsSent:    isSent,
			Status:    DeriveStatus(message, recipientOnline),
		})
	}
	return views
}

// DeriveStatus: read if the recipient has read it, delivered if the recipient
// is online, otherwise sent.
func DeriveStatus(message models.ChatMessage, recipientOnline bool) models.MessageStatus {
	switch {
	case message.IsRead:
		return models.MessageStatusRead
	case recipientOnline:
		return models.MessageStatusDelivered
	default:
		return models.MessageStatusSent
	}
}

// FormatChatTimestamp renders a 12 hour clock time, e.g. "03:04 PM".
func FormatChatTimestamp(ts time.Time, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	return ts.In(location).Format("03:04 PM")
}
