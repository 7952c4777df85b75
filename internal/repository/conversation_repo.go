package repository

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CanonicalPair orders two user ids so an unordered pair maps to one row.
func CanonicalPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// FindOrCreate returns the conversation for the unordered pair {a, b}. The
// lookup and insert are one statement guarded by conversations_pair_key, so
// concurrent first contact from both sides converges on a single row.
func (r *ConversationRepository) FindOrCreate(
	ctx context.Context,
	a int64,
	b int64,
) (*models.Conversation, error) {
	low, high := CanonicalPair(a, b)
	query := `
		INSERT INTO conversations (user_low_id, user_high_id)
		VALUES ($1, $2)
		ON CONFLICT ON CONSTRAINT conversations_pair_key
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, user_low_id, user_high_id, created_at, updated_at
	`
	return scanConversation(r.db.QueryRow(ctx, query, low, high))
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT id, user_low_id, user_high_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id,
			c.user_low_id,
			c.user_high_id,
			c.created_at,
			c.updated_at,
			other.id,
			COALESCE(NULLIF(p.display_name, ''), other.username),
			p.avatar_url,
			lm.id,
			lm.conversation_id,
			lm.sender_id,
			lm.content,
			lm.image_url,
			lm.is_read,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		JOIN users other
		  ON other.id = CASE WHEN c.user_low_id = $1 THEN c.user_high_id ELSE c.user_low_id END
		LEFT JOIN profiles p ON p.user_id = other.id
		LEFT JOIN LATERAL (
			SELECT id, conversation_id, sender_id, content, image_url, is_read, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE conversation_id = c.id
			  AND sender_id <> $1
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE c.user_low_id = $1 OR c.user_high_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullInt64
		var messageConversationID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageContent sql.NullString
		var messageImageURL *string
		var messageIsRead sql.NullBool
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.UserLowID,
			&summary.UserHighID,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.Counterpart.ID,
			&summary.Counterpart.Name,
			&summary.Counterpart.AvatarURL,
			&messageID,
			&messageConversationID,
			&messageSenderID,
			&messageContent,
			&messageImageURL,
			&messageIsRead,
			&messageCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.ChatMessage{
				ID:             messageID.Int64,
				ConversationID: messageConversationID.Int64,
				SenderID:       messageSenderID.Int64,
				Content:        messageContent.String,
				ImageURL:       messageImageURL,
				IsRead:         messageIsRead.Bool,
				CreatedAt:      messageCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) UnreadCountForUser(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.user_low_id = $1 OR c.user_high_id = $1)
		  AND m.sender_id <> $1
		  AND m.is_read = FALSE
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.UserLowID,
		&conversation.UserHighID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}
