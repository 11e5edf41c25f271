package models

import "time"

// Profile is the display metadata of an account.
type Profile struct {
	Participant
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
	Email  string `json:"email,omitempty"`
}

// UnknownProfile is used when the directory has no entry for p.
func UnknownProfile(p Participant) Profile {
	return Profile{Participant: p}
}

// MessageView is the read-side representation of a message returned to callers.
type MessageView struct {
	ID               int64       `json:"id"`
	ConversationID   int64       `json:"conversation_id"`
	Sender           Profile     `json:"sender"`
	Receiver         Profile     `json:"receiver"`
	Body             *string     `json:"body,omitempty"`
	Type             MessageType `json:"message_type"`
	Attachment       *Attachment `json:"attachment,omitempty"`
	Location         *Location   `json:"location,omitempty"`
	Audio            *AudioMeta  `json:"audio,omitempty"`
	ReplyToMessageID *int64      `json:"reply_to_message_id,omitempty"`
	IsRead           bool        `json:"is_read"`
	ReadAt           *time.Time  `json:"read_at,omitempty"`
	IsEdited         bool        `json:"is_edited"`
	EditedAt         *time.Time  `json:"edited_at,omitempty"`
	OriginalBody     *string     `json:"original_body,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewMessageView decodes the type-specific payload columns of m into view objects.
func NewMessageView(m Message, sender, receiver Profile) MessageView {
	v := MessageView{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Sender:           sender,
		Receiver:         receiver,
		Body:             m.Body,
		Type:             m.MessageType,
		ReplyToMessageID: m.ReplyToMessageID,
		IsRead:           m.IsRead,
		ReadAt:           m.ReadAt,
		IsEdited:         m.IsEdited,
		EditedAt:         m.EditedAt,
		OriginalBody:     m.OriginalBody,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.FileURL != nil {
		a := &Attachment{URL: *m.FileURL}
		if m.FileName != nil {
			a.Name = *m.FileName
		}
		if m.FileSize != nil {
			a.Size = *m.FileSize
		}
		if m.FileType != nil {
			a.MIMEType = *m.FileType
		}
		v.Attachment = a
	}
	if m.MessageType == MessageLocation && m.LocationLatitude != nil && m.LocationLongitude != nil {
		v.Location = &Location{
			Latitude:  m.LocationLatitude,
			Longitude: m.LocationLongitude,
			Accuracy:  m.LocationAccuracy,
		}
	}
	if m.MessageType == MessageAudio && (m.AudioDuration != nil || m.AudioWaveform != nil) {
		meta := &AudioMeta{Duration: m.AudioDuration}
		if m.AudioWaveform != nil {
			meta.Waveform = *m.AudioWaveform
		}
		v.Audio = meta
	}
	return v
}

// ConversationView provides the API-friendly view of a conversation for one participant.
type ConversationView struct {
	ID              int64        `json:"id"`
	Other           Profile      `json:"other"`
	LastMessageID   *int64       `json:"last_message_id,omitempty"`
	LastMessageAt   *time.Time   `json:"last_message_at,omitempty"`
	LastMessageText *string      `json:"last_message_text,omitempty"`
	LastMessageType *MessageType `json:"last_message_type,omitempty"`
	UnreadCount     int          `json:"unread_count"`
	Archived        bool         `json:"archived"`
	Muted           bool         `json:"muted"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ChatStatistics summarises an account's chat activity.
type ChatStatistics struct {
	SentMessages     int `db:"sent" json:"sent_messages"`
	ReceivedMessages int `db:"received" json:"received_messages"`
	TotalMessages    int `json:"total_messages"`
	Conversations    int `db:"conversations" json:"conversations"`
}

// Contacts groups the accounts an actor may start a conversation with.
type Contacts struct {
	Staff     []Profile `json:"staff"`
	Customers []Profile `json:"customers"`
}
