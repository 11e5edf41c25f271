package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, sender_id, sender_type, receiver_id, receiver_type,
	body, message_type, file_url, file_name, file_size, file_type, audio_duration, audio_waveform,
	location_latitude, location_longitude, location_accuracy, reply_to_message_id,
	is_read, read_at, is_edited, edited_at, original_body, is_deleted_by_receiver, created_at, updated_at`

// MessageFilter narrows a conversation listing to what one participant may see.
type MessageFilter struct {
	ConversationID int64
	Viewer         models.Participant
	// Query, when set, keeps only messages whose body contains it, ignoring case.
	Query  string
	Limit  int
	Offset int
}

// MessageStats counts the messages an account sent and received.
type MessageStats struct {
	Sent     int `db:"sent"`
	Received int `db:"received"`
}

// MessageRepository defines persistence for direct messages.
type MessageRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, msg models.Message) (models.Message, error)
	Get(ctx context.Context, q sqlx.ExtContext, id int64) (models.Message, error)
	List(ctx context.Context, q sqlx.ExtContext, f MessageFilter) ([]models.Message, error)
	UpdateBody(ctx context.Context, q sqlx.ExtContext, id int64, body string, now time.Time) (models.Message, error)
	MarkRead(ctx context.Context, q sqlx.ExtContext, ids []int64, reader models.Participant, now time.Time) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, q sqlx.ExtContext, conversationID int64, reader models.Participant, now time.Time) ([]models.Message, error)
	SoftDeleteForReceiver(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error
	Delete(ctx context.Context, q sqlx.ExtContext, id int64) error
	DeleteConversation(ctx context.Context, q sqlx.ExtContext, conversationID int64) (int64, error)
	Stats(ctx context.Context, q sqlx.ExtContext, p models.Participant) (MessageStats, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct{}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo() *MessageRepo {
	return &MessageRepo{}
}

// Create stores a message and returns the persisted row.
func (r *MessageRepo) Create(ctx context.Context, q sqlx.ExtContext, msg models.Message) (models.Message, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`INSERT INTO chat_messages (
			conversation_id, sender_id, sender_type, receiver_id, receiver_type, body, message_type,
			file_url, file_name, file_size, file_type, audio_duration, audio_waveform,
			location_latitude, location_longitude, location_accuracy, reply_to_message_id,
			is_read, is_edited, is_deleted_by_receiver, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, FALSE, FALSE, ?, ?)
		RETURNING id`),
		msg.ConversationID, msg.SenderID, msg.SenderType, msg.ReceiverID, msg.ReceiverType, msg.Body, msg.MessageType,
		msg.FileURL, msg.FileName, msg.FileSize, msg.FileType, msg.AudioDuration, msg.AudioWaveform,
		msg.LocationLatitude, msg.LocationLongitude, msg.LocationAccuracy, msg.ReplyToMessageID,
		msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return models.Message{}, err
	}
	return r.Get(ctx, q, id)
}

// Get fetches a message by id.
func (r *MessageRepo) Get(ctx context.Context, q sqlx.ExtContext, id int64) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q, &msg, q.Rebind(`SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// List returns a page of the conversation newest first. Messages the viewer
// received and then deleted are left out.
func (r *MessageRepo) List(ctx context.Context, q sqlx.ExtContext, f MessageFilter) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages
		WHERE conversation_id = ?
		AND NOT (receiver_id = ? AND receiver_type = ? AND is_deleted_by_receiver = TRUE)`
	args := []any{f.ConversationID, f.Viewer.ID, f.Viewer.Type}
	if f.Query != "" {
		query += ` AND LOWER(body) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(f.Query))+"%")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	msgs := []models.Message{}
	err := sqlx.SelectContext(ctx, q, &msgs, q.Rebind(query), args...)
	return msgs, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpdateBody replaces the body. The first edit keeps the previous body in
// original_body and stamps edited_at; later edits leave both alone.
func (r *MessageRepo) UpdateBody(ctx context.Context, q sqlx.ExtContext, id int64, body string, now time.Time) (models.Message, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_messages SET
			original_body = CASE WHEN is_edited THEN original_body ELSE body END,
			edited_at = CASE WHEN is_edited THEN edited_at ELSE ? END,
			is_edited = TRUE,
			body = ?,
			updated_at = ?
		WHERE id = ?`), now, body, now, id)
	if err != nil {
		return models.Message{}, err
	}
	if err := expectRow(res, ErrMessageNotFound); err != nil {
		return models.Message{}, err
	}
	return r.Get(ctx, q, id)
}

// MarkRead marks as read the unread messages among ids that reader received.
// Ids reader did not receive, or already read, are skipped. It returns the
// messages that changed.
func (r *MessageRepo) MarkRead(ctx context.Context, q sqlx.ExtContext, ids []int64, reader models.Participant, now time.Time) ([]models.Message, error) {
	if len(ids) == 0 {
		return []models.Message{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM chat_messages
		WHERE id IN (?) AND receiver_id = ? AND receiver_type = ? AND is_read = FALSE`, ids, reader.ID, reader.Type)
	if err != nil {
		return nil, err
	}
	msgs := []models.Message{}
	if err := sqlx.SelectContext(ctx, q, &msgs, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	if err := r.setRead(ctx, q, msgs, now); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkConversationRead marks every unread message reader received in the conversation.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, q sqlx.ExtContext, conversationID int64, reader models.Participant, now time.Time) ([]models.Message, error) {
	msgs := []models.Message{}
	err := sqlx.SelectContext(ctx, q, &msgs, q.Rebind(`SELECT `+messageColumns+` FROM chat_messages
		WHERE conversation_id = ? AND receiver_id = ? AND receiver_type = ? AND is_read = FALSE`),
		conversationID, reader.ID, reader.Type)
	if err != nil {
		return nil, err
	}
	if err := r.setRead(ctx, q, msgs, now); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *MessageRepo) setRead(ctx context.Context, q sqlx.ExtContext, msgs []models.Message, now time.Time) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		msgs[i].IsRead = true
		msgs[i].ReadAt = &now
	}
	query, args, err := sqlx.In(`UPDATE chat_messages SET is_read = TRUE, read_at = ? WHERE id IN (?) AND is_read = FALSE`, now, ids)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return err
}

// SoftDeleteForReceiver hides the message from its receiver only.
func (r *MessageRepo) SoftDeleteForReceiver(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_messages SET is_deleted_by_receiver = TRUE, updated_at = ? WHERE id = ?`), now, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMessageNotFound)
}

// Delete removes the message for both participants.
func (r *MessageRepo) Delete(ctx context.Context, q sqlx.ExtContext, id int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM chat_messages WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMessageNotFound)
}

// DeleteConversation removes every message of a conversation and returns how many went.
func (r *MessageRepo) DeleteConversation(ctx context.Context, q sqlx.ExtContext, conversationID int64) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM chat_messages WHERE conversation_id = ?`), conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats counts the messages p sent and received.
func (r *MessageRepo) Stats(ctx context.Context, q sqlx.ExtContext, p models.Participant) (MessageStats, error) {
	var stats MessageStats
	err := sqlx.GetContext(ctx, q, &stats, q.Rebind(`SELECT
			COALESCE(SUM(CASE WHEN sender_id = ? AND sender_type = ? THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN receiver_id = ? AND receiver_type = ? THEN 1 ELSE 0 END), 0) AS received
		FROM chat_messages
		WHERE (sender_id = ? AND sender_type = ?) OR (receiver_id = ? AND receiver_type = ?)`),
		p.ID, p.Type, p.ID, p.Type, p.ID, p.Type, p.ID, p.Type)
	return stats, err
}
