package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/db"
	"chat-core/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

var conversationFields = []string{
	"id", "slot_a_id", "slot_a_type", "slot_b_id", "slot_b_type",
	"last_message_id", "last_message_at", "unread_count_slot_a", "unread_count_slot_b",
	"is_archived_by_slot_a", "is_archived_by_slot_b", "is_muted_by_slot_a", "is_muted_by_slot_b",
	"created_at", "updated_at",
}

var conversationColumns = strings.Join(conversationFields, ", ")

func prefixed(alias string, fields []string) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// UnreadCounts is the recount of unread, receiver-visible messages per slot.
type UnreadCounts struct {
	SlotA int `db:"unread_a"`
	SlotB int `db:"unread_b"`
}

// ConversationRepository abstracts conversation persistence. Every method runs
// against the given tenant connection or transaction.
type ConversationRepository interface {
	CreateOrGet(ctx context.Context, q sqlx.ExtContext, p1, p2 models.Participant, now time.Time) (models.Conversation, bool, error)
	Find(ctx context.Context, q sqlx.ExtContext, p1, p2 models.Participant) (models.Conversation, error)
	Get(ctx context.Context, q sqlx.ExtContext, id int64) (models.Conversation, error)
	GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (models.Conversation, error)
	ListFor(ctx context.Context, q sqlx.ExtContext, p models.Participant) ([]models.ConversationRow, error)
	UnreadCountsFor(ctx context.Context, q sqlx.ExtContext, p models.Participant) (map[int64]int, error)
	CountFor(ctx context.Context, q sqlx.ExtContext, p models.Participant) (int, error)
	SetArchived(ctx context.Context, q sqlx.ExtContext, id int64, slot models.Slot, archived bool, now time.Time) error
	SetMuted(ctx context.Context, q sqlx.ExtContext, id int64, slot models.Slot, muted bool, now time.Time) error
	RecordMessage(ctx context.Context, q sqlx.ExtContext, id int64, receiver models.Slot, messageID int64, at time.Time) error
	CountUnread(ctx context.Context, q sqlx.ExtContext, conv models.Conversation) (UnreadCounts, error)
	SetUnread(ctx context.Context, q sqlx.ExtContext, id int64, counts UnreadCounts, now time.Time) error
	RefreshLastMessage(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error
	ResetHistory(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error
	Delete(ctx context.Context, q sqlx.ExtContext, id int64) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct{}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo() *ConversationRepo {
	return &ConversationRepo{}
}

// CreateOrGet returns the conversation of the unordered pair, inserting it if it
// does not exist yet. The bool reports whether this call created the row.
func (r *ConversationRepo) CreateOrGet(ctx context.Context, q sqlx.ExtContext, p1, p2 models.Participant, now time.Time) (models.Conversation, bool, error) {
	if p1 == p2 {
		return models.Conversation{}, false, ErrSelfConversation
	}
	a, b := models.Canonicalize(p1, p2)

	conv, err := r.getByPair(ctx, q, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, false, err
	}

	var id int64
	err = sqlx.GetContext(ctx, q, &id, q.Rebind(`INSERT INTO chat_conversations
		(slot_a_id, slot_a_type, slot_b_id, slot_b_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (slot_a_id, slot_a_type, slot_b_id, slot_b_type) DO NOTHING
		RETURNING id`), a.ID, a.Type, b.ID, b.Type, now, now)
	switch {
	case err == nil:
		conv, err = r.Get(ctx, q, id)
		return conv, err == nil, err
	case errors.Is(err, sql.ErrNoRows):
		// lost the race: the other participant created it first
		conv, err = r.getByPair(ctx, q, a, b)
		return conv, false, err
	default:
		return models.Conversation{}, false, err
	}
}

// Find returns the conversation of the unordered pair, if any.
func (r *ConversationRepo) Find(ctx context.Context, q sqlx.ExtContext, p1, p2 models.Participant) (models.Conversation, error) {
	a, b := models.Canonicalize(p1, p2)
	return r.getByPair(ctx, q, a, b)
}

func (r *ConversationRepo) getByPair(ctx context.Context, q sqlx.ExtContext, a, b models.Participant) (models.Conversation, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q, &conv, q.Rebind(`SELECT `+conversationColumns+` FROM chat_conversations
		WHERE slot_a_id = ? AND slot_a_type = ? AND slot_b_id = ? AND slot_b_type = ?`), a.ID, a.Type, b.ID, b.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, q sqlx.ExtContext, id int64) (models.Conversation, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q, &conv, q.Rebind(`SELECT `+conversationColumns+` FROM chat_conversations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetForUpdate fetches a conversation and locks its row until the surrounding
// transaction ends. SQLite write transactions are already exclusive.
func (r *ConversationRepo) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM chat_conversations WHERE id = ?`
	if db.IsPostgres(q) {
		query += ` FOR UPDATE`
	}
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q, &conv, q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListFor returns the conversations p takes part in, most recent activity first
// and conversations without messages last.
func (r *ConversationRepo) ListFor(ctx context.Context, q sqlx.ExtContext, p models.Participant) ([]models.ConversationRow, error) {
	rows := []models.ConversationRow{}
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`SELECT `+prefixed("c", conversationFields)+`,
			m.body AS last_message_body, m.message_type AS last_message_type
		FROM chat_conversations c
		LEFT JOIN chat_messages m ON m.id = c.last_message_id
		WHERE (c.slot_a_id = ? AND c.slot_a_type = ?) OR (c.slot_b_id = ? AND c.slot_b_type = ?)
		ORDER BY (c.last_message_at IS NULL), c.last_message_at DESC, c.id DESC`), p.ID, p.Type, p.ID, p.Type)
	return rows, err
}

// UnreadCountsFor maps each of p's conversations to p's unread counter.
func (r *ConversationRepo) UnreadCountsFor(ctx context.Context, q sqlx.ExtContext, p models.Participant) (map[int64]int, error) {
	var rows []struct {
		ID     int64 `db:"id"`
		Unread int   `db:"unread"`
	}
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`SELECT id,
			CASE WHEN slot_a_id = ? AND slot_a_type = ? THEN unread_count_slot_a ELSE unread_count_slot_b END AS unread
		FROM chat_conversations
		WHERE (slot_a_id = ? AND slot_a_type = ?) OR (slot_b_id = ? AND slot_b_type = ?)`),
		p.ID, p.Type, p.ID, p.Type, p.ID, p.Type)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(rows))
	for _, row := range rows {
		out[row.ID] = row.Unread
	}
	return out, nil
}

// CountFor counts the conversations p takes part in.
func (r *ConversationRepo) CountFor(ctx context.Context, q sqlx.ExtContext, p models.Participant) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM chat_conversations
		WHERE (slot_a_id = ? AND slot_a_type = ?) OR (slot_b_id = ? AND slot_b_type = ?)`), p.ID, p.Type, p.ID, p.Type)
	return n, err
}

// SetArchived sets the archive flag of one side.
func (r *ConversationRepo) SetArchived(ctx context.Context, q sqlx.ExtContext, id int64, slot models.Slot, archived bool, now time.Time) error {
	return r.setFlag(ctx, q, id, "is_archived_by_slot_"+string(slot), archived, now)
}

// SetMuted sets the mute flag of one side.
func (r *ConversationRepo) SetMuted(ctx context.Context, q sqlx.ExtContext, id int64, slot models.Slot, muted bool, now time.Time) error {
	return r.setFlag(ctx, q, id, "is_muted_by_slot_"+string(slot), muted, now)
}

func (r *ConversationRepo) setFlag(ctx context.Context, q sqlx.ExtContext, id int64, column string, value bool, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_conversations SET `+column+` = ?, updated_at = ? WHERE id = ?`), value, now, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrConversationNotFound)
}

// RecordMessage bumps the receiver's unread counter and moves the last-message pointer.
func (r *ConversationRepo) RecordMessage(ctx context.Context, q sqlx.ExtContext, id int64, receiver models.Slot, messageID int64, at time.Time) error {
	column := "unread_count_slot_" + string(receiver)
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_conversations
		SET `+column+` = `+column+` + 1, last_message_id = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`), messageID, at, at, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrConversationNotFound)
}

// CountUnread recounts, per slot, the unread messages addressed to that slot that
// its occupant has not deleted.
func (r *ConversationRepo) CountUnread(ctx context.Context, q sqlx.ExtContext, conv models.Conversation) (UnreadCounts, error) {
	var counts UnreadCounts
	err := sqlx.GetContext(ctx, q, &counts, q.Rebind(`SELECT
			COALESCE(SUM(CASE WHEN receiver_id = ? AND receiver_type = ? THEN 1 ELSE 0 END), 0) AS unread_a,
			COALESCE(SUM(CASE WHEN receiver_id = ? AND receiver_type = ? THEN 1 ELSE 0 END), 0) AS unread_b
		FROM chat_messages
		WHERE conversation_id = ? AND is_read = FALSE AND is_deleted_by_receiver = FALSE`),
		conv.SlotAID, conv.SlotAType, conv.SlotBID, conv.SlotBType, conv.ID)
	return counts, err
}

// SetUnread overwrites both counters.
func (r *ConversationRepo) SetUnread(ctx context.Context, q sqlx.ExtContext, id int64, counts UnreadCounts, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_conversations
		SET unread_count_slot_a = ?, unread_count_slot_b = ?, updated_at = ? WHERE id = ?`),
		counts.SlotA, counts.SlotB, now, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrConversationNotFound)
}

// RefreshLastMessage points the conversation at its newest remaining message.
func (r *ConversationRepo) RefreshLastMessage(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_conversations SET
			last_message_id = (SELECT id FROM chat_messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1),
			last_message_at = (SELECT created_at FROM chat_messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1),
			updated_at = ?
		WHERE id = ?`), id, id, now, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrConversationNotFound)
}

// ResetHistory clears the last-message pointer and both counters.
func (r *ConversationRepo) ResetHistory(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_conversations SET
			last_message_id = NULL, last_message_at = NULL,
			unread_count_slot_a = 0, unread_count_slot_b = 0, updated_at = ?
		WHERE id = ?`), now, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrConversationNotFound)
}

// Delete removes the conversation; its messages go with it.
func (r *ConversationRepo) Delete(ctx context.Context, q sqlx.ExtContext, id int64) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM chat_messages WHERE conversation_id = ?`), id); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM chat_conversations WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrConversationNotFound)
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
