package models

import "time"

// Event types emitted after each state-changing chat operation.
const (
	EventMessageSent         = "message.sent"
	EventMessageEdited       = "message.edited"
	EventMessageDeleted      = "message.deleted"
	EventMessagesRead        = "message.read"
	EventPresenceChanged     = "presence.changed"
	EventConversationUpdated = "conversation.updated"
	EventConversationDeleted = "conversation.deleted"
	EventConversationCleared = "conversation.cleared"
)

// MessageDeletedPayload describes a deletion and whom it affects.
type MessageDeletedPayload struct {
	MessageID      int64       `json:"message_id"`
	ConversationID int64       `json:"conversation_id"`
	DeletedBy      Participant `json:"deleted_by"`
	ForEveryone    bool        `json:"for_everyone"`
}

// MessagesReadPayload is the read receipt sent back to the original senders.
type MessagesReadPayload struct {
	MessageIDs []int64     `json:"message_ids"`
	Reader     Participant `json:"reader"`
	ReadAt     time.Time   `json:"read_at"`
}
