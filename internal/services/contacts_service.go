package services

import (
	"context"
	"strings"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/models"
)

const contactSearchLimit = 50

// Contacts lists the accounts an actor may start a conversation with.
type Contacts interface {
	Available(ctx context.Context, h db.Handle, actor models.Actor) (models.Contacts, error)
	Search(ctx context.Context, h db.Handle, actor models.Actor, query string, only models.AccountType) (models.Contacts, error)
}

// ContactsService filters the directory through the visibility policy.
type ContactsService struct {
	*core
}

func NewContactsService(d Deps) *ContactsService {
	return &ContactsService{core: newCore(d)}
}

func (s *ContactsService) Available(ctx context.Context, h db.Handle, actor models.Actor) (models.Contacts, error) {
	return s.Search(ctx, h, actor, "", "")
}

// Search returns the contacts of actor matching query. An empty only searches
// every type actor may reach.
func (s *ContactsService) Search(ctx context.Context, h db.Handle, actor models.Actor, query string, only models.AccountType) (contacts models.Contacts, err error) {
	const op = "listContacts"
	ctx, span := tracer.Start(ctx, "contacts.search")
	defer func() { endSpan(span, err) }()

	if only != "" && !only.Valid() {
		return models.Contacts{}, apperr.E(apperr.InvalidArgument, op, "invalid account type %q", only)
	}
	contacts = models.Contacts{Staff: []models.Profile{}, Customers: []models.Profile{}}

	if actor.Type == models.AccountCustomer {
		if only == models.AccountCustomer {
			return contacts, nil
		}
		rep, err := s.representative(ctx, h, actor)
		if err != nil || rep == nil {
			return contacts, err
		}
		if matches(*rep, query) {
			contacts.Staff = append(contacts.Staff, *rep)
		}
		return contacts, nil
	}

	for _, t := range s.Policy.AllowedTypes(actor) {
		if only != "" && t != only {
			continue
		}
		found, err := s.Directory.Search(ctx, h, t, query, contactSearchLimit)
		if err != nil {
			return models.Contacts{}, classify(op, err)
		}
		for _, prof := range found {
			if actor.Is(prof.Participant) {
				continue
			}
			if t == models.AccountStaff {
				contacts.Staff = append(contacts.Staff, prof)
			} else {
				contacts.Customers = append(contacts.Customers, prof)
			}
		}
	}
	return contacts, nil
}

func (s *ContactsService) representative(ctx context.Context, h db.Handle, actor models.Actor) (*models.Profile, error) {
	staffID, ok, err := s.Policy.RepresentativeOf(ctx, h, actor.ID)
	if err != nil || !ok {
		return nil, err
	}
	prof, err := s.profile(ctx, h, models.Participant{ID: staffID, Type: models.AccountStaff})
	if err != nil {
		return nil, err
	}
	return &prof, nil
}

func matches(p models.Profile, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), query) || strings.Contains(strings.ToLower(p.Email), query)
}
