package models

import (
	"strings"
	"time"
)

// MessageType determines which optional payload fields of a message are populated.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageFile     MessageType = "file"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageLocation MessageType = "location"
)

// ParseMessageType maps "voice" onto audio and defaults an empty value to text.
func ParseMessageType(s string) (MessageType, bool) {
	switch MessageType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return MessageText, true
	case "voice":
		return MessageAudio, true
	case MessageText, MessageFile, MessageImage, MessageVideo, MessageAudio, MessageLocation:
		return MessageType(strings.ToLower(strings.TrimSpace(s))), true
	}
	return "", false
}

// HasAttachment reports whether the type carries a stored blob.
func (t MessageType) HasAttachment() bool {
	switch t {
	case MessageFile, MessageImage, MessageVideo, MessageAudio:
		return true
	}
	return false
}

// Message represents a persisted direct message.
type Message struct {
	ID                  int64       `db:"id" json:"id"`
	ConversationID      int64       `db:"conversation_id" json:"conversation_id"`
	SenderID            int64       `db:"sender_id" json:"sender_id"`
	SenderType          AccountType `db:"sender_type" json:"sender_type"`
	ReceiverID          int64       `db:"receiver_id" json:"receiver_id"`
	ReceiverType        AccountType `db:"receiver_type" json:"receiver_type"`
	Body                *string     `db:"body" json:"body,omitempty"`
	MessageType         MessageType `db:"message_type" json:"message_type"`
	FileURL             *string     `db:"file_url" json:"file_url,omitempty"`
	FileName            *string     `db:"file_name" json:"file_name,omitempty"`
	FileSize            *int64      `db:"file_size" json:"file_size,omitempty"`
	FileType            *string     `db:"file_type" json:"file_type,omitempty"`
	AudioDuration       *int        `db:"audio_duration" json:"audio_duration,omitempty"`
	AudioWaveform       *string     `db:"audio_waveform" json:"audio_waveform,omitempty"`
	LocationLatitude    *float64    `db:"location_latitude" json:"location_latitude,omitempty"`
	LocationLongitude   *float64    `db:"location_longitude" json:"location_longitude,omitempty"`
	LocationAccuracy    *float64    `db:"location_accuracy" json:"location_accuracy,omitempty"`
	ReplyToMessageID    *int64      `db:"reply_to_message_id" json:"reply_to_message_id,omitempty"`
	IsRead              bool        `db:"is_read" json:"is_read"`
	ReadAt              *time.Time  `db:"read_at" json:"read_at,omitempty"`
	IsEdited            bool        `db:"is_edited" json:"is_edited"`
	EditedAt            *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	OriginalBody        *string     `db:"original_body" json:"original_body,omitempty"`
	IsDeletedByReceiver bool        `db:"is_deleted_by_receiver" json:"is_deleted_by_receiver"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

func (m Message) Sender() Participant {
	return Participant{ID: m.SenderID, Type: m.SenderType}
}

func (m Message) Receiver() Participant {
	return Participant{ID: m.ReceiverID, Type: m.ReceiverType}
}

// Attachment is the stored-blob metadata attached to file, image, video and audio messages.
type Attachment struct {
	URL      string `json:"url" validate:"required"`
	Name     string `json:"name"`
	Size     int64  `json:"size" validate:"gte=0"`
	MIMEType string `json:"mime_type"`
}

// Location is the payload of a location message.
type Location struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// AudioMeta is the audio-specific payload of an audio message.
type AudioMeta struct {
	Duration *int   `json:"duration,omitempty" validate:"omitempty,gt=0"`
	Waveform string `json:"waveform,omitempty"`
}

// SendMessageRequest is the input of a message send.
type SendMessageRequest struct {
	Receiver   Participant
	Body       *string
	Type       MessageType
	Attachment *Attachment
	Location   *Location
	Audio      *AudioMeta
	ReplyTo    *int64
}
