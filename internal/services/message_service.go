package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/media"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/repositories"
)

// Messages is the message lifecycle manager used by the transports.
type Messages interface {
	Send(ctx context.Context, h db.Handle, actor models.Actor, req models.SendMessageRequest) (models.MessageView, error)
	SendAttachment(ctx context.Context, h db.Handle, actor models.Actor, req AttachmentRequest) (models.MessageView, error)
	SendVoice(ctx context.Context, h db.Handle, actor models.Actor, req AttachmentRequest) (models.MessageView, error)
	Update(ctx context.Context, h db.Handle, id int64, actor models.Actor, body string) (models.MessageView, error)
	Delete(ctx context.Context, h db.Handle, id int64, actor models.Actor) error
	MarkRead(ctx context.Context, h db.Handle, ids []int64, actor models.Actor) ([]int64, error)
	List(ctx context.Context, h db.Handle, conversationID int64, actor models.Actor, page, limit int) ([]models.MessageView, error)
	Search(ctx context.Context, h db.Handle, conversationID int64, actor models.Actor, query string, page, limit int) ([]models.MessageView, error)
	Statistics(ctx context.Context, h db.Handle, actor models.Actor) (models.ChatStatistics, error)
}

// AttachmentRequest is an upload sent as a message in one step.
type AttachmentRequest struct {
	Receiver models.Participant
	Upload   media.Upload
	// Type may be empty, in which case it is inferred from the content.
	Type    models.MessageType
	Caption *string
	Audio   *models.AudioMeta
	ReplyTo *int64
}

// MessageService owns message creation, edits, deletions, read marks and listings.
type MessageService struct {
	*core
}

func NewMessageService(d Deps) *MessageService {
	return &MessageService{core: newCore(d)}
}

// Send authorizes, validates and persists a message, then updates the
// conversation in the same transaction.
func (s *MessageService) Send(ctx context.Context, h db.Handle, actor models.Actor, req models.SendMessageRequest) (view models.MessageView, err error) {
	const op = "sendMessage"
	ctx, span := tracer.Start(ctx, "messages.send")
	defer func() { endSpan(span, err) }()

	receiver, err := s.authorizeSend(ctx, h, op, actor, req.Receiver)
	if err != nil {
		return models.MessageView{}, err
	}
	if err := s.Media.Validate(&req); err != nil {
		return models.MessageView{}, err
	}

	now := s.timestamp()
	var msg models.Message
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		conv, _, err := s.Conversations.CreateOrGet(ctx, tx, actor.Participant, req.Receiver, now)
		if err != nil {
			return err
		}
		if req.ReplyTo != nil {
			if err := s.checkReply(ctx, tx, op, conv.ID, *req.ReplyTo); err != nil {
				return err
			}
		}
		msg, err = s.Messages.Create(ctx, tx, newMessage(conv.ID, actor.Participant, req, now))
		if err != nil {
			return err
		}
		slot, _ := conv.SlotOf(req.Receiver)
		return s.Conversations.RecordMessage(ctx, tx, conv.ID, slot, msg.ID, now)
	})
	if err != nil {
		return models.MessageView{}, classify(op, err)
	}
	span.SetAttributes(
		attribute.Int64("message.id", msg.ID),
		attribute.Int64("conversation.id", msg.ConversationID),
		attribute.String("message.type", string(msg.MessageType)),
	)
	observability.IncMessageSent(string(msg.MessageType))

	sender, err := s.profile(ctx, h, actor.Participant)
	if err != nil {
		sender = models.UnknownProfile(actor.Participant)
	}
	view = models.NewMessageView(msg, sender, receiver)
	s.emit(ctx, h, models.EventMessageSent, []models.Participant{req.Receiver, actor.Participant}, view)
	return view, nil
}

func (s *MessageService) authorizeSend(ctx context.Context, h db.Handle, op string, actor models.Actor, receiver models.Participant) (models.Profile, error) {
	if !receiver.Type.Valid() {
		return models.Profile{}, apperr.E(apperr.InvalidArgument, op, "invalid receiver type %q", receiver.Type)
	}
	if _, _, err := s.authorizeContact(ctx, h, op, actor, receiver); err != nil {
		return models.Profile{}, err
	}
	return s.requireAccount(ctx, h, op, receiver)
}

func (s *MessageService) checkReply(ctx context.Context, q sqlx.ExtContext, op string, conversationID, replyTo int64) error {
	parent, err := s.Messages.Get(ctx, q, replyTo)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return apperr.E(apperr.InvalidArgument, op, "reply target %d does not exist", replyTo)
	}
	if err != nil {
		return err
	}
	if parent.ConversationID != conversationID {
		return apperr.E(apperr.InvalidArgument, op, "reply target %d belongs to another conversation", replyTo)
	}
	return nil
}

func newMessage(conversationID int64, sender models.Participant, req models.SendMessageRequest, now time.Time) models.Message {
	msg := models.Message{
		ConversationID:   conversationID,
		SenderID:         sender.ID,
		SenderType:       sender.Type,
		ReceiverID:       req.Receiver.ID,
		ReceiverType:     req.Receiver.Type,
		Body:             req.Body,
		MessageType:      req.Type,
		ReplyToMessageID: req.ReplyTo,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if a := req.Attachment; a != nil {
		msg.FileURL = &a.URL
		msg.FileName = &a.Name
		msg.FileSize = &a.Size
		msg.FileType = &a.MIMEType
	}
	if l := req.Location; l != nil {
		msg.LocationLatitude = l.Latitude
		msg.LocationLongitude = l.Longitude
		msg.LocationAccuracy = l.Accuracy
	}
	if a := req.Audio; a != nil {
		msg.AudioDuration = a.Duration
		if a.Waveform != "" {
			msg.AudioWaveform = &a.Waveform
		}
	}
	return msg
}

// SendAttachment stores an upload and sends it as a message. The stored blob
// is removed again when the message cannot be persisted.
func (s *MessageService) SendAttachment(ctx context.Context, h db.Handle, actor models.Actor, req AttachmentRequest) (view models.MessageView, err error) {
	const op = "sendAttachment"
	ctx, span := tracer.Start(ctx, "messages.send_attachment")
	defer func() { endSpan(span, err) }()

	if _, err := s.authorizeSend(ctx, h, op, actor, req.Receiver); err != nil {
		return models.MessageView{}, err
	}
	stored, err := s.Media.Ingest(ctx, req.Upload, req.Type)
	if err != nil {
		return models.MessageView{}, err
	}

	attachment := stored.Attachment
	view, err = s.Send(ctx, h, actor, models.SendMessageRequest{
		Receiver:   req.Receiver,
		Body:       req.Caption,
		Type:       stored.Type,
		Attachment: &attachment,
		Audio:      req.Audio,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		s.logDiscard(stored.Key, err)
		s.Media.Discard(ctx, stored.Key)
		return models.MessageView{}, err
	}
	return view, nil
}

// SendVoice is SendAttachment for audio recordings.
func (s *MessageService) SendVoice(ctx context.Context, h db.Handle, actor models.Actor, req AttachmentRequest) (models.MessageView, error) {
	req.Type = models.MessageAudio
	return s.SendAttachment(ctx, h, actor, req)
}

// Update replaces the body of a message actor sent.
func (s *MessageService) Update(ctx context.Context, h db.Handle, id int64, actor models.Actor, body string) (view models.MessageView, err error) {
	const op = "updateMessage"
	ctx, span := tracer.Start(ctx, "messages.update")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(body) == "" {
		return models.MessageView{}, apperr.E(apperr.InvalidArgument, op, "body is required")
	}
	msg, err := s.Messages.Get(ctx, h, id)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.MessageView{}, apperr.E(apperr.NotFound, op, "message %d not found", id)
	}
	if err != nil {
		return models.MessageView{}, classify(op, err)
	}
	if !actor.Is(msg.Sender()) {
		return models.MessageView{}, apperr.E(apperr.Forbidden, op, "only the sender may edit message %d", id)
	}

	msg, err = s.Messages.UpdateBody(ctx, h, id, body, s.timestamp())
	if err != nil {
		return models.MessageView{}, classify(op, err)
	}
	view, err = s.messageView(ctx, h, msg)
	if err != nil {
		return models.MessageView{}, err
	}
	s.emit(ctx, h, models.EventMessageEdited, []models.Participant{msg.Receiver(), msg.Sender()}, view)
	return view, nil
}

// Delete hard-deletes a message its sender deletes and hides it from the
// receiver only when the receiver deletes it. Counters and the last-message
// pointer are recomputed in the same transaction.
func (s *MessageService) Delete(ctx context.Context, h db.Handle, id int64, actor models.Actor) (err error) {
	const op = "deleteMessage"
	ctx, span := tracer.Start(ctx, "messages.delete")
	defer func() { endSpan(span, err) }()

	now := s.timestamp()
	var msg models.Message
	var forEveryone bool
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		var err error
		msg, err = s.Messages.Get(ctx, tx, id)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return apperr.E(apperr.NotFound, op, "message %d not found", id)
		}
		if err != nil {
			return err
		}
		switch {
		case actor.Is(msg.Sender()):
			forEveryone = true
		case actor.Is(msg.Receiver()):
		default:
			return apperr.E(apperr.Forbidden, op, "%s is not a party to message %d", actor.Participant, id)
		}

		if _, err := s.Conversations.GetForUpdate(ctx, tx, msg.ConversationID); err != nil {
			return err
		}
		if forEveryone {
			if err := s.Messages.Delete(ctx, tx, id); err != nil {
				return err
			}
			if err := s.Conversations.RefreshLastMessage(ctx, tx, msg.ConversationID, now); err != nil {
				return err
			}
		} else if err := s.Messages.SoftDeleteForReceiver(ctx, tx, id, now); err != nil {
			return err
		}
		return s.recomputeUnread(ctx, tx, msg.ConversationID, now)
	})
	if err != nil {
		return classify(op, err)
	}
	span.SetAttributes(attribute.Bool("message.for_everyone", forEveryone))

	recipients := []models.Participant{actor.Participant}
	if forEveryone {
		recipients = []models.Participant{msg.Receiver(), msg.Sender()}
	}
	s.emit(ctx, h, models.EventMessageDeleted, recipients, models.MessageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedBy:      actor.Participant,
		ForEveryone:    forEveryone,
	})
	return nil
}

// MarkRead marks as read the messages among ids that actor received. Other ids
// are ignored. It returns the ids that changed.
func (s *MessageService) MarkRead(ctx context.Context, h db.Handle, ids []int64, actor models.Actor) (marked []int64, err error) {
	const op = "markMessagesAsRead"
	ctx, span := tracer.Start(ctx, "messages.mark_read")
	defer func() { endSpan(span, err) }()

	if len(ids) == 0 {
		return []int64{}, nil
	}
	now := s.timestamp()
	var read []models.Message
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		var err error
		read, err = s.Messages.MarkRead(ctx, tx, ids, actor.Participant, now)
		if err != nil {
			return err
		}
		for _, convID := range conversationIDs(read) {
			if err := s.recomputeUnread(ctx, tx, convID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	marked = make([]int64, len(read))
	for i, m := range read {
		marked[i] = m.ID
	}
	span.SetAttributes(attribute.Int("messages.marked", len(marked)))
	s.emitRead(ctx, h, actor.Participant, read, now)
	return marked, nil
}

// conversationIDs returns the distinct conversations of msgs in ascending
// order, which is also the lock order.
func conversationIDs(msgs []models.Message) []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, m := range msgs {
		if _, ok := seen[m.ConversationID]; ok {
			continue
		}
		seen[m.ConversationID] = struct{}{}
		ids = append(ids, m.ConversationID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// List returns one page of the conversation in chronological order. Pages are
// counted from the newest message.
func (s *MessageService) List(ctx context.Context, h db.Handle, conversationID int64, actor models.Actor, page, limit int) (views []models.MessageView, err error) {
	ctx, span := tracer.Start(ctx, "messages.list")
	defer func() { endSpan(span, err) }()

	views, err = s.page(ctx, h, "listConversationMessages", conversationID, actor, "", page, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	return views, nil
}

// Search returns messages of the conversation whose body contains query,
// ignoring case, newest first.
func (s *MessageService) Search(ctx context.Context, h db.Handle, conversationID int64, actor models.Actor, query string, page, limit int) (views []models.MessageView, err error) {
	const op = "searchMessages"
	ctx, span := tracer.Start(ctx, "messages.search")
	defer func() { endSpan(span, err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.E(apperr.InvalidArgument, op, "query is required")
	}
	return s.page(ctx, h, op, conversationID, actor, query, page, limit)
}

func (s *MessageService) page(ctx context.Context, h db.Handle, op string, conversationID int64, actor models.Actor, query string, page, limit int) ([]models.MessageView, error) {
	conv, _, err := s.participantConversation(ctx, h, op, conversationID, actor, false)
	if err != nil {
		return nil, err
	}
	limit, offset := pageBounds(page, limit)
	msgs, err := s.Messages.List(ctx, h, repositories.MessageFilter{
		ConversationID: conv.ID,
		Viewer:         actor.Participant,
		Query:          query,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		return nil, classify(op, err)
	}

	profiles := map[models.Participant]models.Profile{}
	for _, p := range []models.Participant{conv.SlotA(), conv.SlotB()} {
		prof, err := s.profile(ctx, h, p)
		if err != nil {
			return nil, err
		}
		profiles[p] = prof
	}
	views := make([]models.MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = models.NewMessageView(m, profiles[m.Sender()], profiles[m.Receiver()])
	}
	return views, nil
}

func (s *MessageService) messageView(ctx context.Context, h db.Handle, m models.Message) (models.MessageView, error) {
	sender, err := s.profile(ctx, h, m.Sender())
	if err != nil {
		return models.MessageView{}, err
	}
	receiver, err := s.profile(ctx, h, m.Receiver())
	if err != nil {
		return models.MessageView{}, err
	}
	return models.NewMessageView(m, sender, receiver), nil
}

// Statistics counts actor's sent and received messages and conversations.
func (s *MessageService) Statistics(ctx context.Context, h db.Handle, actor models.Actor) (models.ChatStatistics, error) {
	const op = "getChatStatistics"
	stats, err := s.Messages.Stats(ctx, h, actor.Participant)
	if err != nil {
		return models.ChatStatistics{}, classify(op, err)
	}
	conversations, err := s.Conversations.CountFor(ctx, h, actor.Participant)
	if err != nil {
		return models.ChatStatistics{}, classify(op, err)
	}
	return models.ChatStatistics{
		SentMessages:     stats.Sent,
		ReceivedMessages: stats.Received,
		TotalMessages:    stats.Sent + stats.Received,
		Conversations:    conversations,
	}, nil
}

func (s *MessageService) logDiscard(key string, cause error) {
	s.Log.Info("discarding attachment of unsent message", zap.String("key", key), zap.Error(cause))
}
