package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

var ErrSettingsNotFound = errors.New("settings not found")

// PresenceRepository persists presence snapshots and user settings.
type PresenceRepository interface {
	Upsert(ctx context.Context, q sqlx.ExtContext, p models.Participant, status models.PresenceStatus, now time.Time) (models.Presence, error)
	List(ctx context.Context, q sqlx.ExtContext, ids []int64, userType models.AccountType) ([]models.Presence, error)
	MarkStaleOffline(ctx context.Context, q sqlx.ExtContext, before time.Time) ([]models.Presence, error)
	GetSettings(ctx context.Context, q sqlx.ExtContext, p models.Participant) (models.UserSettings, error)
	InsertSettings(ctx context.Context, q sqlx.ExtContext, s models.UserSettings) error
	SaveSettings(ctx context.Context, q sqlx.ExtContext, s models.UserSettings) error
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct{}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo() *PresenceRepo {
	return &PresenceRepo{}
}

// Upsert records the latest status of p. The last write wins.
func (r *PresenceRepo) Upsert(ctx context.Context, q sqlx.ExtContext, p models.Participant, status models.PresenceStatus, now time.Time) (models.Presence, error) {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO chat_presence (user_id, user_type, status, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, user_type) DO UPDATE SET status = excluded.status, last_seen = excluded.last_seen`),
		p.ID, p.Type, status, now)
	if err != nil {
		return models.Presence{}, err
	}
	return models.Presence{UserID: p.ID, UserType: p.Type, Status: status, LastSeen: now}, nil
}

// List returns the known presence rows of the given accounts.
func (r *PresenceRepo) List(ctx context.Context, q sqlx.ExtContext, ids []int64, userType models.AccountType) ([]models.Presence, error) {
	out := []models.Presence{}
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT user_id, user_type, status, last_seen FROM chat_presence
		WHERE user_type = ? AND user_id IN (?) ORDER BY user_id`, userType, ids)
	if err != nil {
		return nil, err
	}
	err = sqlx.SelectContext(ctx, q, &out, q.Rebind(query), args...)
	return out, err
}

// MarkStaleOffline flips to offline every non-offline account not seen since before,
// returning the rows it changed.
func (r *PresenceRepo) MarkStaleOffline(ctx context.Context, q sqlx.ExtContext, before time.Time) ([]models.Presence, error) {
	stale := []models.Presence{}
	err := sqlx.SelectContext(ctx, q, &stale, q.Rebind(`SELECT user_id, user_type, status, last_seen FROM chat_presence
		WHERE status <> ? AND last_seen < ?`), models.PresenceOffline, before)
	if err != nil || len(stale) == 0 {
		return stale, err
	}
	_, err = q.ExecContext(ctx, q.Rebind(`UPDATE chat_presence SET status = ? WHERE status <> ? AND last_seen < ?`),
		models.PresenceOffline, models.PresenceOffline, before)
	if err != nil {
		return nil, err
	}
	for i := range stale {
		stale[i].Status = models.PresenceOffline
	}
	return stale, nil
}

const settingsColumns = `user_id, user_type, email_notifications, push_notifications, sound_notifications,
	theme, font_size, show_online_status, show_read_receipts, created_at, updated_at`

// GetSettings fetches the stored settings of p.
func (r *PresenceRepo) GetSettings(ctx context.Context, q sqlx.ExtContext, p models.Participant) (models.UserSettings, error) {
	var s models.UserSettings
	err := sqlx.GetContext(ctx, q, &s, q.Rebind(`SELECT `+settingsColumns+` FROM chat_user_settings
		WHERE user_id = ? AND user_type = ?`), p.ID, p.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSettings{}, ErrSettingsNotFound
	}
	return s, err
}

// InsertSettings stores s unless the account already has settings.
func (r *PresenceRepo) InsertSettings(ctx context.Context, q sqlx.ExtContext, s models.UserSettings) error {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO chat_user_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, user_type) DO NOTHING`),
		s.UserID, s.UserType, s.EmailNotifications, s.PushNotifications, s.SoundNotifications,
		s.Theme, s.FontSize, s.ShowOnlineStatus, s.ShowReadReceipts, s.CreatedAt, s.UpdatedAt)
	return err
}

// SaveSettings overwrites the stored settings with s.
func (r *PresenceRepo) SaveSettings(ctx context.Context, q sqlx.ExtContext, s models.UserSettings) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE chat_user_settings SET
			email_notifications = ?, push_notifications = ?, sound_notifications = ?,
			theme = ?, font_size = ?, show_online_status = ?, show_read_receipts = ?, updated_at = ?
		WHERE user_id = ? AND user_type = ?`),
		s.EmailNotifications, s.PushNotifications, s.SoundNotifications,
		s.Theme, s.FontSize, s.ShowOnlineStatus, s.ShowReadReceipts, s.UpdatedAt,
		s.UserID, s.UserType)
	if err != nil {
		return err
	}
	return expectRow(res, ErrSettingsNotFound)
}
