package models

import (
	"fmt"
	"strings"
)

// AccountType distinguishes staff members from customer accounts.
type AccountType string

const (
	AccountStaff    AccountType = "staff"
	AccountCustomer AccountType = "customer"
)

// ParseAccountType accepts the canonical names and the ERP's legacy personnel/client names.
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "staff", "personnel":
		return AccountStaff, nil
	case "customer", "client":
		return AccountCustomer, nil
	}
	return "", fmt.Errorf("unknown account type %q", s)
}

func (t AccountType) Valid() bool {
	return t == AccountStaff || t == AccountCustomer
}

// Participant identifies one side of a conversation.
type Participant struct {
	ID   int64       `json:"id"`
	Type AccountType `json:"type"`
}

func (p Participant) String() string {
	return fmt.Sprintf("%s:%d", p.Type, p.ID)
}

// Less orders participants by id, then by account type.
func (p Participant) Less(o Participant) bool {
	if p.ID != o.ID {
		return p.ID < o.ID
	}
	return p.Type < o.Type
}

// Canonicalize returns the pair as (slotA, slotB) where slotA is the smaller participant.
func Canonicalize(p1, p2 Participant) (Participant, Participant) {
	if p2.Less(p1) {
		return p2, p1
	}
	return p1, p2
}

// Actor is the already-authenticated caller of a core operation.
type Actor struct {
	Participant
	Role string `json:"role"`
}

func (a Actor) Is(p Participant) bool {
	return a.Participant == p
}
