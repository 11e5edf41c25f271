package models

import "time"

// Slot is one of the two fixed positions of a canonical conversation.
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

// Conversation represents a canonical two-party conversation.
// SlotA always holds the smaller participant under Participant.Less.
type Conversation struct {
	ID               int64       `db:"id" json:"id"`
	SlotAID          int64       `db:"slot_a_id" json:"slot_a_id"`
	SlotAType        AccountType `db:"slot_a_type" json:"slot_a_type"`
	SlotBID          int64       `db:"slot_b_id" json:"slot_b_id"`
	SlotBType        AccountType `db:"slot_b_type" json:"slot_b_type"`
	LastMessageID    *int64      `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageAt    *time.Time  `db:"last_message_at" json:"last_message_at,omitempty"`
	UnreadCountSlotA int         `db:"unread_count_slot_a" json:"unread_count_slot_a"`
	UnreadCountSlotB int         `db:"unread_count_slot_b" json:"unread_count_slot_b"`
	ArchivedBySlotA  bool        `db:"is_archived_by_slot_a" json:"is_archived_by_slot_a"`
	ArchivedBySlotB  bool        `db:"is_archived_by_slot_b" json:"is_archived_by_slot_b"`
	MutedBySlotA     bool        `db:"is_muted_by_slot_a" json:"is_muted_by_slot_a"`
	MutedBySlotB     bool        `db:"is_muted_by_slot_b" json:"is_muted_by_slot_b"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

func (c Conversation) SlotA() Participant {
	return Participant{ID: c.SlotAID, Type: c.SlotAType}
}

func (c Conversation) SlotB() Participant {
	return Participant{ID: c.SlotBID, Type: c.SlotBType}
}

// SlotOf returns the slot occupied by p, if any.
func (c Conversation) SlotOf(p Participant) (Slot, bool) {
	switch p {
	case c.SlotA():
		return SlotA, true
	case c.SlotB():
		return SlotB, true
	}
	return "", false
}

// Other returns the participant opposite to the given slot.
func (c Conversation) Other(s Slot) Participant {
	if s == SlotA {
		return c.SlotB()
	}
	return c.SlotA()
}

func (c Conversation) UnreadFor(s Slot) int {
	if s == SlotA {
		return c.UnreadCountSlotA
	}
	return c.UnreadCountSlotB
}

func (c Conversation) ArchivedFor(s Slot) bool {
	if s == SlotA {
		return c.ArchivedBySlotA
	}
	return c.ArchivedBySlotB
}

func (c Conversation) MutedFor(s Slot) bool {
	if s == SlotA {
		return c.MutedBySlotA
	}
	return c.MutedBySlotB
}

// ConversationRow is a conversation joined with a summary of its last message.
type ConversationRow struct {
	Conversation
	LastMessageBody *string      `db:"last_message_body"`
	LastMessageType *MessageType `db:"last_message_type"`
}
