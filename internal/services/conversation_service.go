package services

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"chat-core/internal/db"
	"chat-core/internal/models"
)

// Conversations is the conversation manager used by the transports.
type Conversations interface {
	CreateOrGet(ctx context.Context, h db.Handle, actor models.Actor, target models.Participant) (models.ConversationView, error)
	List(ctx context.Context, h db.Handle, actor models.Actor) ([]models.ConversationView, error)
	UnreadCounts(ctx context.Context, h db.Handle, actor models.Actor) (map[int64]int, error)
	Archive(ctx context.Context, h db.Handle, id int64, actor models.Actor, archived bool) error
	Mute(ctx context.Context, h db.Handle, id int64, actor models.Actor, muted bool) error
	ResetUnread(ctx context.Context, h db.Handle, id int64, actor models.Actor) error
	Clear(ctx context.Context, h db.Handle, id int64, actor models.Actor) error
	Delete(ctx context.Context, h db.Handle, id int64, actor models.Actor) error
}

// ConversationService owns canonical conversations, their per-side flags and
// their unread counters.
type ConversationService struct {
	*core
}

func NewConversationService(d Deps) *ConversationService {
	return &ConversationService{core: newCore(d)}
}

// CreateOrGet returns the conversation between actor and target, creating it
// when the visibility policy allows actor to start one.
func (s *ConversationService) CreateOrGet(ctx context.Context, h db.Handle, actor models.Actor, target models.Participant) (view models.ConversationView, err error) {
	const op = "createOrGetConversation"
	ctx, span := tracer.Start(ctx, "conversations.create_or_get")
	defer func() { endSpan(span, err) }()

	other, err := s.requireAccount(ctx, h, op, target)
	if err != nil {
		return models.ConversationView{}, err
	}
	existing, found, err := s.authorizeContact(ctx, h, op, actor, target)
	if err != nil {
		return models.ConversationView{}, err
	}
	if found {
		return s.view(existing, actor, other, nil, nil), nil
	}

	conv, created, err := s.Conversations.CreateOrGet(ctx, h, actor.Participant, target, s.timestamp())
	if err != nil {
		return models.ConversationView{}, classify(op, err)
	}
	span.SetAttributes(attribute.Int64("conversation.id", conv.ID), attribute.Bool("conversation.created", created))

	view = s.view(conv, actor, other, nil, nil)
	if created {
		s.emit(ctx, h, models.EventConversationUpdated, []models.Participant{actor.Participant, target}, conv)
	}
	return view, nil
}

func (s *ConversationService) view(conv models.Conversation, actor models.Actor, other models.Profile, body *string, typ *models.MessageType) models.ConversationView {
	slot, _ := conv.SlotOf(actor.Participant)
	return models.ConversationView{
		ID:              conv.ID,
		Other:           other,
		LastMessageID:   conv.LastMessageID,
		LastMessageAt:   conv.LastMessageAt,
		LastMessageText: body,
		LastMessageType: typ,
		UnreadCount:     conv.UnreadFor(slot),
		Archived:        conv.ArchivedFor(slot),
		Muted:           conv.MutedFor(slot),
		CreatedAt:       conv.CreatedAt,
	}
}

// List returns actor's conversations, most recent activity first and
// conversations without messages last.
func (s *ConversationService) List(ctx context.Context, h db.Handle, actor models.Actor) (views []models.ConversationView, err error) {
	const op = "listConversations"
	ctx, span := tracer.Start(ctx, "conversations.list")
	defer func() { endSpan(span, err) }()

	rows, err := s.Conversations.ListFor(ctx, h, actor.Participant)
	if err != nil {
		return nil, classify(op, err)
	}
	views = make([]models.ConversationView, 0, len(rows))
	for _, row := range rows {
		slot, _ := row.SlotOf(actor.Participant)
		other, err := s.profile(ctx, h, row.Other(slot))
		if err != nil {
			return nil, err
		}
		views = append(views, s.view(row.Conversation, actor, other, row.LastMessageBody, row.LastMessageType))
	}
	return views, nil
}

// UnreadCounts maps each of actor's conversations to actor's unread counter.
func (s *ConversationService) UnreadCounts(ctx context.Context, h db.Handle, actor models.Actor) (map[int64]int, error) {
	counts, err := s.Conversations.UnreadCountsFor(ctx, h, actor.Participant)
	if err != nil {
		return nil, classify("getUnreadCounts", err)
	}
	return counts, nil
}

func (s *ConversationService) Archive(ctx context.Context, h db.Handle, id int64, actor models.Actor, archived bool) (err error) {
	const op = "archiveConversation"
	ctx, span := tracer.Start(ctx, "conversations.archive")
	defer func() { endSpan(span, err) }()

	conv, slot, err := s.participantConversation(ctx, h, op, id, actor, false)
	if err != nil {
		return err
	}
	if err := s.Conversations.SetArchived(ctx, h, conv.ID, slot, archived, s.timestamp()); err != nil {
		return classify(op, err)
	}
	s.emit(ctx, h, models.EventConversationUpdated, []models.Participant{actor.Participant}, map[string]any{
		"conversation_id": conv.ID,
		"archived":        archived,
	})
	return nil
}

func (s *ConversationService) Mute(ctx context.Context, h db.Handle, id int64, actor models.Actor, muted bool) (err error) {
	const op = "muteConversation"
	ctx, span := tracer.Start(ctx, "conversations.mute")
	defer func() { endSpan(span, err) }()

	conv, slot, err := s.participantConversation(ctx, h, op, id, actor, false)
	if err != nil {
		return err
	}
	if err := s.Conversations.SetMuted(ctx, h, conv.ID, slot, muted, s.timestamp()); err != nil {
		return classify(op, err)
	}
	s.emit(ctx, h, models.EventConversationUpdated, []models.Participant{actor.Participant}, map[string]any{
		"conversation_id": conv.ID,
		"muted":           muted,
	})
	return nil
}

// ResetUnread marks everything the other participant sent to actor as read and
// brings actor's counter to the recounted value, all under the conversation lock.
func (s *ConversationService) ResetUnread(ctx context.Context, h db.Handle, id int64, actor models.Actor) (err error) {
	const op = "resetUnreadCount"
	ctx, span := tracer.Start(ctx, "conversations.reset_unread")
	defer func() { endSpan(span, err) }()

	now := s.timestamp()
	var conv models.Conversation
	var read []models.Message
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		var err error
		conv, _, err = s.participantConversation(ctx, tx, op, id, actor, true)
		if err != nil {
			return err
		}
		read, err = s.Messages.MarkConversationRead(ctx, tx, conv.ID, actor.Participant, now)
		if err != nil {
			return err
		}
		return s.recomputeUnread(ctx, tx, conv.ID, now)
	})
	if err != nil {
		return classify(op, err)
	}

	s.emitRead(ctx, h, actor.Participant, read, now)
	return nil
}

// Clear removes every message of the conversation but keeps the conversation.
func (s *ConversationService) Clear(ctx context.Context, h db.Handle, id int64, actor models.Actor) (err error) {
	const op = "clearConversation"
	ctx, span := tracer.Start(ctx, "conversations.clear")
	defer func() { endSpan(span, err) }()

	now := s.timestamp()
	var conv models.Conversation
	var removed int64
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		var err error
		conv, _, err = s.participantConversation(ctx, tx, op, id, actor, true)
		if err != nil {
			return err
		}
		if removed, err = s.Messages.DeleteConversation(ctx, tx, conv.ID); err != nil {
			return err
		}
		return s.Conversations.ResetHistory(ctx, tx, conv.ID, now)
	})
	if err != nil {
		return classify(op, err)
	}
	span.SetAttributes(attribute.Int64("messages.removed", removed))

	s.emit(ctx, h, models.EventConversationCleared, []models.Participant{conv.SlotA(), conv.SlotB()}, map[string]any{
		"conversation_id": conv.ID,
		"cleared_by":      actor.Participant,
	})
	return nil
}

// Delete removes the conversation together with all of its messages.
func (s *ConversationService) Delete(ctx context.Context, h db.Handle, id int64, actor models.Actor) (err error) {
	const op = "deleteConversation"
	ctx, span := tracer.Start(ctx, "conversations.delete")
	defer func() { endSpan(span, err) }()

	var conv models.Conversation
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		var err error
		conv, _, err = s.participantConversation(ctx, tx, op, id, actor, true)
		if err != nil {
			return err
		}
		return s.Conversations.Delete(ctx, tx, conv.ID)
	})
	if err != nil {
		return classify(op, err)
	}

	s.emit(ctx, h, models.EventConversationDeleted, []models.Participant{conv.SlotA(), conv.SlotB()}, map[string]any{
		"conversation_id": conv.ID,
		"deleted_by":      actor.Participant,
	})
	return nil
}

// emitRead sends one read receipt per original sender.
func (c *core) emitRead(ctx context.Context, h db.Handle, reader models.Participant, read []models.Message, at time.Time) {
	if len(read) == 0 {
		return
	}
	bySender := map[models.Participant][]int64{}
	var order []models.Participant
	for _, m := range read {
		sender := m.Sender()
		if _, seen := bySender[sender]; !seen {
			order = append(order, sender)
		}
		bySender[sender] = append(bySender[sender], m.ID)
	}
	for _, sender := range order {
		c.emit(ctx, h, models.EventMessagesRead, []models.Participant{sender}, models.MessagesReadPayload{
			MessageIDs: bySender[sender],
			Reader:     reader,
			ReadAt:     at,
		})
	}
}
