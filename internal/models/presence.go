package models

import "time"

// PresenceStatus is the online state of an account.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceAway, PresenceBusy:
		return true
	}
	return false
}

// Presence is the current presence snapshot of one account.
type Presence struct {
	UserID   int64          `db:"user_id" json:"user_id"`
	UserType AccountType    `db:"user_type" json:"user_type"`
	Status   PresenceStatus `db:"status" json:"status"`
	LastSeen time.Time      `db:"last_seen" json:"last_seen"`
}

func (p Presence) Participant() Participant {
	return Participant{ID: p.UserID, Type: p.UserType}
}

// UserSettings holds per-account notification and display preferences.
type UserSettings struct {
	UserID             int64       `db:"user_id" json:"user_id"`
	UserType           AccountType `db:"user_type" json:"user_type"`
	EmailNotifications bool        `db:"email_notifications" json:"email_notifications"`
	PushNotifications  bool        `db:"push_notifications" json:"push_notifications"`
	SoundNotifications bool        `db:"sound_notifications" json:"sound_notifications"`
	Theme              string      `db:"theme" json:"theme"`
	FontSize           string      `db:"font_size" json:"font_size"`
	ShowOnlineStatus   bool        `db:"show_online_status" json:"show_online_status"`
	ShowReadReceipts   bool        `db:"show_read_receipts" json:"show_read_receipts"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// DefaultSettings returns the settings a user gets before ever saving any.
func DefaultSettings(p Participant) UserSettings {
	return UserSettings{
		UserID:             p.ID,
		UserType:           p.Type,
		EmailNotifications: true,
		PushNotifications:  true,
		SoundNotifications: true,
		Theme:              "light",
		FontSize:           "medium",
		ShowOnlineStatus:   true,
		ShowReadReceipts:   true,
	}
}

// SettingsPatch carries the fields of a partial settings update; nil fields are left untouched.
type SettingsPatch struct {
	EmailNotifications *bool   `json:"email_notifications"`
	PushNotifications  *bool   `json:"push_notifications"`
	SoundNotifications *bool   `json:"sound_notifications"`
	Theme              *string `json:"theme" validate:"omitempty,oneof=light dark auto"`
	FontSize           *string `json:"font_size" validate:"omitempty,oneof=small medium large"`
	ShowOnlineStatus   *bool   `json:"show_online_status"`
	ShowReadReceipts   *bool   `json:"show_read_receipts"`
}

// Apply merges the patch into s.
func (p SettingsPatch) Apply(s *UserSettings) {
	if p.EmailNotifications != nil {
		s.EmailNotifications = *p.EmailNotifications
	}
	if p.PushNotifications != nil {
		s.PushNotifications = *p.PushNotifications
	}
	if p.SoundNotifications != nil {
		s.SoundNotifications = *p.SoundNotifications
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.FontSize != nil {
		s.FontSize = *p.FontSize
	}
	if p.ShowOnlineStatus != nil {
		s.ShowOnlineStatus = *p.ShowOnlineStatus
	}
	if p.ShowReadReceipts != nil {
		s.ShowReadReceipts = *p.ShowReadReceipts
	}
}
