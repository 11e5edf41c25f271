package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-core/internal/db"
	"chat-core/internal/models"
	"chat-core/internal/services"
)

type ConversationsMock struct {
	mock.Mock
}

func (m *ConversationsMock) CreateOrGet(ctx context.Context, h db.Handle, actor models.Actor, target models.Participant) (models.ConversationView, error) {
	args := m.Called(ctx, h, actor, target)
	var view models.ConversationView
	if val := args.Get(0); val != nil {
		view = val.(models.ConversationView)
	}
	return view, args.Error(1)
}

func (m *ConversationsMock) List(ctx context.Context, h db.Handle, actor models.Actor) ([]models.ConversationView, error) {
	args := m.Called(ctx, h, actor)
	var list []models.ConversationView
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationView)
	}
	return list, args.Error(1)
}

func (m *ConversationsMock) UnreadCounts(ctx context.Context, h db.Handle, actor models.Actor) (map[int64]int, error) {
	args := m.Called(ctx, h, actor)
	var counts map[int64]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int64]int)
	}
	return counts, args.Error(1)
}

func (m *ConversationsMock) Archive(ctx context.Context, h db.Handle, id int64, actor models.Actor, archived bool) error {
	args := m.Called(ctx, h, id, actor, archived)
	return args.Error(0)
}

func (m *ConversationsMock) Mute(ctx context.Context, h db.Handle, id int64, actor models.Actor, muted bool) error {
	args := m.Called(ctx, h, id, actor, muted)
	return args.Error(0)
}

func (m *ConversationsMock) ResetUnread(ctx context.Context, h db.Handle, id int64, actor models.Actor) error {
	args := m.Called(ctx, h, id, actor)
	return args.Error(0)
}

func (m *ConversationsMock) Clear(ctx context.Context, h db.Handle, id int64, actor models.Actor) error {
	args := m.Called(ctx, h, id, actor)
	return args.Error(0)
}

func (m *ConversationsMock) Delete(ctx context.Context, h db.Handle, id int64, actor models.Actor) error {
	args := m.Called(ctx, h, id, actor)
	return args.Error(0)
}

type MessagesMock struct {
	mock.Mock
}

func (m *MessagesMock) Send(ctx context.Context, h db.Handle, actor models.Actor, req models.SendMessageRequest) (models.MessageView, error) {
	args := m.Called(ctx, h, actor, req)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessagesMock) SendAttachment(ctx context.Context, h db.Handle, actor models.Actor, req services.AttachmentRequest) (models.MessageView, error) {
	args := m.Called(ctx, h, actor, req)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessagesMock) SendVoice(ctx context.Context, h db.Handle, actor models.Actor, req services.AttachmentRequest) (models.MessageView, error) {
	args := m.Called(ctx, h, actor, req)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessagesMock) Update(ctx context.Context, h db.Handle, id int64, actor models.Actor, body string) (models.MessageView, error) {
	args := m.Called(ctx, h, id, actor, body)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessagesMock) Delete(ctx context.Context, h db.Handle, id int64, actor models.Actor) error {
	args := m.Called(ctx, h, id, actor)
	return args.Error(0)
}

func (m *MessagesMock) MarkRead(ctx context.Context, h db.Handle, ids []int64, actor models.Actor) ([]int64, error) {
	args := m.Called(ctx, h, ids, actor)
	var marked []int64
	if val := args.Get(0); val != nil {
		marked = val.([]int64)
	}
	return marked, args.Error(1)
}

func (m *MessagesMock) List(ctx context.Context, h db.Handle, conversationID int64, actor models.Actor, page, limit int) ([]models.MessageView, error) {
	args := m.Called(ctx, h, conversationID, actor, page, limit)
	var list []models.MessageView
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageView)
	}
	return list, args.Error(1)
}

func (m *MessagesMock) Search(ctx context.Context, h db.Handle, conversationID int64, actor models.Actor, query string, page, limit int) ([]models.MessageView, error) {
	args := m.Called(ctx, h, conversationID, actor, query, page, limit)
	var list []models.MessageView
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageView)
	}
	return list, args.Error(1)
}

func (m *MessagesMock) Statistics(ctx context.Context, h db.Handle, actor models.Actor) (models.ChatStatistics, error) {
	args := m.Called(ctx, h, actor)
	var stats models.ChatStatistics
	if val := args.Get(0); val != nil {
		stats = val.(models.ChatStatistics)
	}
	return stats, args.Error(1)
}

type PresencesMock struct {
	mock.Mock
}

func (m *PresencesMock) Update(ctx context.Context, h db.Handle, p models.Participant, status models.PresenceStatus) (models.Presence, error) {
	args := m.Called(ctx, h, p, status)
	var presence models.Presence
	if val := args.Get(0); val != nil {
		presence = val.(models.Presence)
	}
	return presence, args.Error(1)
}

func (m *PresencesMock) Statuses(ctx context.Context, h db.Handle, ids []int64, userType models.AccountType) ([]models.Presence, error) {
	args := m.Called(ctx, h, ids, userType)
	var list []models.Presence
	if val := args.Get(0); val != nil {
		list = val.([]models.Presence)
	}
	return list, args.Error(1)
}

func (m *PresencesMock) Settings(ctx context.Context, h db.Handle, p models.Participant) (models.UserSettings, error) {
	args := m.Called(ctx, h, p)
	var settings models.UserSettings
	if val := args.Get(0); val != nil {
		settings = val.(models.UserSettings)
	}
	return settings, args.Error(1)
}

func (m *PresencesMock) UpdateSettings(ctx context.Context, h db.Handle, p models.Participant, patch models.SettingsPatch) (models.UserSettings, error) {
	args := m.Called(ctx, h, p, patch)
	var settings models.UserSettings
	if val := args.Get(0); val != nil {
		settings = val.(models.UserSettings)
	}
	return settings, args.Error(1)
}

func (m *PresencesMock) Sweep(ctx context.Context, h db.Handle, staleAfter time.Duration) (int, error) {
	args := m.Called(ctx, h, staleAfter)
	return args.Int(0), args.Error(1)
}

type ContactsMock struct {
	mock.Mock
}

func (m *ContactsMock) Available(ctx context.Context, h db.Handle, actor models.Actor) (models.Contacts, error) {
	args := m.Called(ctx, h, actor)
	var contacts models.Contacts
	if val := args.Get(0); val != nil {
		contacts = val.(models.Contacts)
	}
	return contacts, args.Error(1)
}

func (m *ContactsMock) Search(ctx context.Context, h db.Handle, actor models.Actor, query string, only models.AccountType) (models.Contacts, error) {
	args := m.Called(ctx, h, actor, query, only)
	var contacts models.Contacts
	if val := args.Get(0); val != nil {
		contacts = val.(models.Contacts)
	}
	return contacts, args.Error(1)
}
