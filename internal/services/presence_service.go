package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/repositories"
)

// Presences is the presence and settings store used by the transports.
type Presences interface {
	Update(ctx context.Context, h db.Handle, p models.Participant, status models.PresenceStatus) (models.Presence, error)
	Statuses(ctx context.Context, h db.Handle, ids []int64, userType models.AccountType) ([]models.Presence, error)
	Settings(ctx context.Context, h db.Handle, p models.Participant) (models.UserSettings, error)
	UpdateSettings(ctx context.Context, h db.Handle, p models.Participant, patch models.SettingsPatch) (models.UserSettings, error)
	Sweep(ctx context.Context, h db.Handle, staleAfter time.Duration) (int, error)
}

// PresenceService tracks who is online and per-account preferences.
type PresenceService struct {
	*core
	validate *validator.Validate
}

func NewPresenceService(d Deps) *PresenceService {
	return &PresenceService{core: newCore(d), validate: validator.New()}
}

// Update records p's status; the latest call wins. Accounts sharing a
// conversation with p are notified.
func (s *PresenceService) Update(ctx context.Context, h db.Handle, p models.Participant, status models.PresenceStatus) (presence models.Presence, err error) {
	const op = "updatePresence"
	ctx, span := tracer.Start(ctx, "presence.update")
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return models.Presence{}, apperr.E(apperr.InvalidArgument, op, "unknown status %q", status)
	}
	presence, err = s.Presence.Upsert(ctx, h, p, status, s.timestamp())
	if err != nil {
		return models.Presence{}, classify(op, err)
	}
	s.announce(ctx, h, presence)
	return presence, nil
}

func (s *PresenceService) announce(ctx context.Context, h db.Handle, presence models.Presence) {
	rows, err := s.Conversations.ListFor(ctx, h, presence.Participant())
	if err != nil {
		s.Log.Warn("presence recipients lookup failed", zap.String("tenant", h.Tenant), zap.Stringer("user", presence.Participant()), zap.Error(err))
		return
	}
	recipients := make([]models.Participant, 0, len(rows))
	for _, row := range rows {
		slot, _ := row.SlotOf(presence.Participant())
		recipients = append(recipients, row.Other(slot))
	}
	if len(recipients) == 0 {
		return
	}
	s.emit(ctx, h, models.EventPresenceChanged, recipients, presence)
}

// Statuses returns the presence rows known for the given accounts of one type.
func (s *PresenceService) Statuses(ctx context.Context, h db.Handle, ids []int64, userType models.AccountType) ([]models.Presence, error) {
	const op = "getPresenceStatus"
	if !userType.Valid() {
		return nil, apperr.E(apperr.InvalidArgument, op, "invalid account type %q", userType)
	}
	out, err := s.Presence.List(ctx, h, ids, userType)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// Settings returns p's settings, creating the defaults on first read.
func (s *PresenceService) Settings(ctx context.Context, h db.Handle, p models.Participant) (models.UserSettings, error) {
	settings, err := s.settings(ctx, h, p)
	return settings, classify("getUserSettings", err)
}

func (s *PresenceService) settings(ctx context.Context, q sqlx.ExtContext, p models.Participant) (models.UserSettings, error) {
	settings, err := s.Presence.GetSettings(ctx, q, p)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repositories.ErrSettingsNotFound) {
		return models.UserSettings{}, err
	}
	now := s.timestamp()
	settings = models.DefaultSettings(p)
	settings.CreatedAt = now
	settings.UpdatedAt = now
	if err := s.Presence.InsertSettings(ctx, q, settings); err != nil {
		return models.UserSettings{}, err
	}
	return s.Presence.GetSettings(ctx, q, p)
}

// UpdateSettings merges patch into p's settings.
func (s *PresenceService) UpdateSettings(ctx context.Context, h db.Handle, p models.Participant, patch models.SettingsPatch) (settings models.UserSettings, err error) {
	const op = "updateUserSettings"
	ctx, span := tracer.Start(ctx, "settings.update")
	defer func() { endSpan(span, err) }()

	if err := s.validate.Struct(patch); err != nil {
		return models.UserSettings{}, apperr.E(apperr.InvalidArgument, op, "invalid settings: %v", err)
	}
	err = db.WithTx(ctx, h.DB, func(tx *sqlx.Tx) error {
		var err error
		settings, err = s.settings(ctx, tx, p)
		if err != nil {
			return err
		}
		patch.Apply(&settings)
		settings.UpdatedAt = s.timestamp()
		return s.Presence.SaveSettings(ctx, tx, settings)
	})
	if err != nil {
		return models.UserSettings{}, classify(op, err)
	}
	return settings, nil
}

// Sweep marks offline every account whose presence is older than staleAfter
// and announces each change.
func (s *PresenceService) Sweep(ctx context.Context, h db.Handle, staleAfter time.Duration) (n int, err error) {
	const op = "sweepPresence"
	ctx, span := tracer.Start(ctx, "presence.sweep")
	defer func() { endSpan(span, err) }()

	if staleAfter <= 0 {
		return 0, apperr.E(apperr.InvalidArgument, op, "stale window must be positive")
	}
	stale, err := s.Presence.MarkStaleOffline(ctx, h, s.timestamp().Add(-staleAfter))
	if err != nil {
		return 0, classify(op, err)
	}
	for _, p := range stale {
		s.announce(ctx, h, p)
	}
	observability.AddPresenceSwept(len(stale))
	if len(stale) > 0 {
		s.Log.Info("presence swept", zap.String("tenant", h.Tenant), zap.Int("offline", len(stale)))
	}
	return len(stale), nil
}
