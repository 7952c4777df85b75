package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, image_url, is_read, created_at`

// Append inserts an unread message and bumps the conversation's last
// activity in the same statement.
func (r *MessageRepository) Append(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
	imageURL *string,
) (*models.ChatMessage, error) {
	query := `
		WITH inserted AS (
			INSERT INTO messages (conversation_id, sender_id, content, image_url, is_read)
			VALUES ($1, $2, $3, $4, FALSE)
			RETURNING ` + messageColumns + `
		), touched AS (
			UPDATE conversations
			SET updated_at = NOW()
			WHERE id = $1
		)
		SELECT ` + messageColumns + ` FROM inserted
	`

	var message models.ChatMessage
	err := r.db.QueryRow(ctx, query, conversationID, senderID, content, imageURL).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.ImageURL,
		&message.IsRead,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
) ([]models.ChatMessage, error) {
	return r.ListAfter(ctx, conversationID, 0)
}

// ListAfter returns messages with id > lastID in ascending id order.
func (r *MessageRepository) ListAfter(
	ctx context.Context,
	conversationID int64,
	lastID int64,
) ([]models.ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		  AND id > $2
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID, lastID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListRecentBySender returns the sender's newest messages, newest first.
func (r *MessageRepository) ListRecentBySender(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	limit int,
) ([]models.ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		  AND sender_id = $2
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, senderID, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MarkConversationRead flips is_read on everything the reader did not send.
// Already-read rows are excluded, so repeated calls change nothing.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectMessages(rows pgx.Rows) ([]models.ChatMessage, error) {
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.ImageURL,
			&message.IsRead,
			&message.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
