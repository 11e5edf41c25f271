package policy

import (
	"context"
	"strings"
	"time"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/directory"
	"chat-core/internal/models"
)

// Visibility decides who may start a conversation with whom. It never mutates
// state and nothing it decides is cached.
type Visibility interface {
	IsPrivileged(actor models.Actor) bool
	CanInitiateContact(ctx context.Context, h db.Handle, actor models.Actor, target models.Participant) error
	CanAccessConversation(actor models.Actor, conv models.Conversation) bool
	AllowedTypes(actor models.Actor) []models.AccountType
	RepresentativeOf(ctx context.Context, h db.Handle, customerID int64) (int64, bool, error)
}

// Policy is the ERP visibility policy:
//   - privileged staff may contact anyone
//   - other staff may contact staff only
//   - a customer may contact only their assigned representative
type Policy struct {
	privileged  map[string]struct{}
	assignments directory.AssignmentLookup
	timeout     time.Duration
}

// New builds a Policy. Roles are matched case-insensitively.
func New(privilegedRoles []string, assignments directory.AssignmentLookup, timeout time.Duration) *Policy {
	roles := make(map[string]struct{}, len(privilegedRoles))
	for _, r := range privilegedRoles {
		roles[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return &Policy{privileged: roles, assignments: assignments, timeout: timeout}
}

// IsPrivileged reports whether actor is a staff member with a privileged role.
func (p *Policy) IsPrivileged(actor models.Actor) bool {
	if actor.Type != models.AccountStaff {
		return false
	}
	_, ok := p.privileged[strings.ToLower(actor.Role)]
	return ok
}

// CanInitiateContact returns nil when actor may open a conversation with target,
// a Forbidden error naming the rule otherwise, and Unavailable when the
// assignment lookup fails or times out.
func (p *Policy) CanInitiateContact(ctx context.Context, h db.Handle, actor models.Actor, target models.Participant) error {
	const op = "canInitiateContact"

	if actor.Is(target) {
		return apperr.E(apperr.InvalidArgument, op, "cannot contact yourself")
	}
	if p.IsPrivileged(actor) {
		return nil
	}

	switch actor.Type {
	case models.AccountStaff:
		if target.Type == models.AccountStaff {
			return nil
		}
		return apperr.E(apperr.Forbidden, op, "staff role %q may not contact %s", actor.Role, target)
	case models.AccountCustomer:
		if target.Type != models.AccountStaff {
			return apperr.E(apperr.Forbidden, op, "customers may only contact their assigned representative, not %s", target)
		}
		repID, ok, err := p.RepresentativeOf(ctx, h, actor.ID)
		if err != nil {
			return err
		}
		if !ok || repID != target.ID {
			return apperr.E(apperr.Forbidden, op, "%s is not the assigned representative of %s", target, actor.Participant)
		}
		return nil
	}
	return apperr.E(apperr.Forbidden, op, "unknown account type %q", actor.Type)
}

// RepresentativeOf returns the staff id assigned to a customer, bounded by the lookup timeout.
func (p *Policy) RepresentativeOf(ctx context.Context, h db.Handle, customerID int64) (int64, bool, error) {
	if p.assignments == nil {
		return 0, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	id, ok, err := p.assignments.AssignedRepresentative(ctx, h, customerID)
	if err != nil {
		return 0, false, apperr.Wrap(apperr.Unavailable, "assignment lookup", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, false, apperr.Wrap(apperr.Unavailable, "assignment lookup", ctxErr)
	}
	return id, ok, nil
}

// CanAccessConversation reports whether actor occupies one of conv's slots.
func (p *Policy) CanAccessConversation(actor models.Actor, conv models.Conversation) bool {
	_, ok := conv.SlotOf(actor.Participant)
	return ok
}

// AllowedTypes lists the account types actor may search for contacts among.
func (p *Policy) AllowedTypes(actor models.Actor) []models.AccountType {
	if p.IsPrivileged(actor) {
		return []models.AccountType{models.AccountStaff, models.AccountCustomer}
	}
	return []models.AccountType{models.AccountStaff}
}
