package services

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/directory"
	"chat-core/internal/events"
	"chat-core/internal/media"
	"chat-core/internal/models"
	"chat-core/internal/policy"
	"chat-core/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxPage         = 100000
)

var tracer = otel.Tracer("chat-core/services")

// MediaIngestor validates send payloads and stores uploaded attachments.
type MediaIngestor interface {
	Validate(req *models.SendMessageRequest) error
	Ingest(ctx context.Context, up media.Upload, declared models.MessageType) (media.Stored, error)
	Discard(ctx context.Context, key string)
}

// Deps are the collaborators shared by the chat services.
type Deps struct {
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Presence      repositories.PresenceRepository
	Directory     directory.Directory
	Policy        policy.Visibility
	Media         MediaIngestor
	Events        events.Notifier
	Log           *zap.Logger
}

type core struct {
	Deps
	now func() time.Time
}

func newCore(d Deps) *core {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &core{Deps: d, now: time.Now}
}

// timestamp is the write time of an operation. Storage keeps microseconds.
func (c *core) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

func (c *core) emit(ctx context.Context, h db.Handle, eventType string, recipients []models.Participant, payload any) {
	if c.Events == nil {
		return
	}
	c.Events.Emit(ctx, h.Tenant, eventType, recipients, payload)
}

func (c *core) profile(ctx context.Context, h db.Handle, p models.Participant) (models.Profile, error) {
	prof, err := c.Directory.Profile(ctx, h, p)
	if errors.Is(err, directory.ErrAccountNotFound) {
		return models.UnknownProfile(p), nil
	}
	if err != nil {
		return models.Profile{}, apperr.Wrap(apperr.Internal, "profile", err)
	}
	return prof, nil
}

// requireAccount fails with NotFound when p does not exist in the directory.
func (c *core) requireAccount(ctx context.Context, h db.Handle, op string, p models.Participant) (models.Profile, error) {
	if !p.Type.Valid() {
		return models.Profile{}, apperr.E(apperr.InvalidArgument, op, "invalid account type %q", p.Type)
	}
	prof, err := c.Directory.Profile(ctx, h, p)
	if errors.Is(err, directory.ErrAccountNotFound) {
		return models.Profile{}, apperr.E(apperr.NotFound, op, "account %s not found", p)
	}
	if err != nil {
		return models.Profile{}, apperr.Wrap(apperr.Internal, op, err)
	}
	return prof, nil
}

// authorizeContact lets actor reach target when they already share a
// conversation, and otherwise asks the visibility policy.
func (c *core) authorizeContact(ctx context.Context, h db.Handle, op string, actor models.Actor, target models.Participant) (models.Conversation, bool, error) {
	if actor.Is(target) {
		return models.Conversation{}, false, apperr.E(apperr.InvalidArgument, op, "cannot contact yourself")
	}
	conv, err := c.Conversations.Find(ctx, h, actor.Participant, target)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, false, apperr.Wrap(apperr.Internal, op, err)
	}
	if err := c.Policy.CanInitiateContact(ctx, h, actor, target); err != nil {
		return models.Conversation{}, false, err
	}
	return models.Conversation{}, false, nil
}

// participantConversation loads a conversation and the slot actor occupies in it.
func (c *core) participantConversation(ctx context.Context, q sqlx.ExtContext, op string, id int64, actor models.Actor, forUpdate bool) (models.Conversation, models.Slot, error) {
	get := c.Conversations.Get
	if forUpdate {
		get = c.Conversations.GetForUpdate
	}
	conv, err := get(ctx, q, id)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, "", apperr.E(apperr.NotFound, op, "conversation %d not found", id)
	}
	if err != nil {
		return models.Conversation{}, "", apperr.Wrap(apperr.Internal, op, err)
	}
	if !c.Policy.CanAccessConversation(actor, conv) {
		return models.Conversation{}, "", apperr.E(apperr.Forbidden, op, "%s is not a participant of conversation %d", actor.Participant, id)
	}
	slot, _ := conv.SlotOf(actor.Participant)
	return conv, slot, nil
}

// recomputeUnread recounts both counters of a conversation from the message
// table, under the conversation row lock, and writes them only when they
// differ from the stored values.
func (c *core) recomputeUnread(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error {
	conv, err := c.Conversations.GetForUpdate(ctx, q, id)
	if err != nil {
		return err
	}
	counts, err := c.Conversations.CountUnread(ctx, q, conv)
	if err != nil {
		return err
	}
	if counts.SlotA == conv.UnreadCountSlotA && counts.SlotB == conv.UnreadCountSlotB {
		return nil
	}
	return c.Conversations.SetUnread(ctx, q, id, counts, now)
}

// classify keeps already classified errors and marks the rest Internal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound), errors.Is(err, repositories.ErrMessageNotFound):
		return apperr.Wrap(apperr.NotFound, op, err)
	case errors.Is(err, repositories.ErrSelfConversation):
		return apperr.Wrap(apperr.InvalidArgument, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.Unavailable, op, err)
	}
	return apperr.Wrap(apperr.Internal, op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	return limit, (page - 1) * limit
}
