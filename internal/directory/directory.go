package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/patrickmn/go-cache"

	"chat-core/internal/db"
	"chat-core/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// Directory resolves display metadata of ERP accounts.
type Directory interface {
	Profile(ctx context.Context, h db.Handle, p models.Participant) (models.Profile, error)
	Search(ctx context.Context, h db.Handle, t models.AccountType, query string, limit int) ([]models.Profile, error)
}

// AssignmentLookup resolves the staff representative assigned to a customer.
type AssignmentLookup interface {
	AssignedRepresentative(ctx context.Context, h db.Handle, customerID int64) (staffID int64, ok bool, err error)
}

type staffRow struct {
	ID     int64          `db:"id"`
	Nom    string         `db:"nom"`
	Prenom sql.NullString `db:"prenom"`
	Role   string         `db:"role"`
	Email  sql.NullString `db:"email"`
	Photo  sql.NullString `db:"photo"`
}

func (r staffRow) profile() models.Profile {
	name := r.Nom
	if r.Prenom.Valid && r.Prenom.String != "" {
		name = r.Prenom.String + " " + r.Nom
	}
	return models.Profile{
		Participant: models.Participant{ID: r.ID, Type: models.AccountStaff},
		Name:        name,
		Avatar:      r.Photo.String,
		Role:        strings.ToLower(r.Role),
		Email:       r.Email.String,
	}
}

type customerRow struct {
	ID            int64          `db:"id"`
	Nom           string         `db:"nom"`
	Interlocuteur sql.NullString `db:"interlocuteur"`
	Email         sql.NullString `db:"email"`
	Photo         sql.NullString `db:"photo"`
}

func (r customerRow) profile() models.Profile {
	return models.Profile{
		Participant: models.Participant{ID: r.ID, Type: models.AccountCustomer},
		Name:        r.Nom,
		Avatar:      r.Photo.String,
		Email:       r.Email.String,
	}
}

// SQLDirectory reads the ERP personnel and client tables of the tenant database.
// Profiles are cached per tenant for ttl.
type SQLDirectory struct {
	cache *cache.Cache
}

// NewSQLDirectory builds a SQLDirectory.
func NewSQLDirectory(ttl time.Duration) *SQLDirectory {
	return &SQLDirectory{cache: cache.New(ttl, 2*ttl)}
}

func cacheKey(tenant string, p models.Participant) string {
	return tenant + "|" + p.String()
}

// Profile returns the display metadata of p.
func (d *SQLDirectory) Profile(ctx context.Context, h db.Handle, p models.Participant) (models.Profile, error) {
	key := cacheKey(h.Tenant, p)
	if cached, found := d.cache.Get(key); found {
		return cached.(models.Profile), nil
	}

	var (
		profile models.Profile
		err     error
	)
	switch p.Type {
	case models.AccountStaff:
		var row staffRow
		err = sqlx.GetContext(ctx, h, &row, h.Rebind(`SELECT id, nom, prenom, role, email, photo FROM personnel WHERE id = ?`), p.ID)
		profile = row.profile()
	case models.AccountCustomer:
		var row customerRow
		err = sqlx.GetContext(ctx, h, &row, h.Rebind(`SELECT id, nom, interlocuteur, email, photo FROM client WHERE id = ?`), p.ID)
		profile = row.profile()
	default:
		return models.Profile{}, fmt.Errorf("unknown account type %q", p.Type)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}

	d.cache.SetDefault(key, profile)
	return profile, nil
}

// Search lists active accounts of type t whose name or email contains query.
func (d *SQLDirectory) Search(ctx context.Context, h db.Handle, t models.AccountType, query string, limit int) ([]models.Profile, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	out := []models.Profile{}
	switch t {
	case models.AccountStaff:
		var rows []staffRow
		err := sqlx.SelectContext(ctx, h, &rows, h.Rebind(`SELECT id, nom, prenom, role, email, photo FROM personnel
			WHERE statut = 'actif'
			AND (LOWER(nom) LIKE ? OR LOWER(COALESCE(prenom, '')) LIKE ? OR LOWER(COALESCE(email, '')) LIKE ?)
			ORDER BY nom, id LIMIT ?`), pattern, pattern, pattern, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r.profile())
		}
	case models.AccountCustomer:
		var rows []customerRow
		err := sqlx.SelectContext(ctx, h, &rows, h.Rebind(`SELECT id, nom, interlocuteur, email, photo FROM client
			WHERE statut = 'actif'
			AND (LOWER(nom) LIKE ? OR LOWER(COALESCE(interlocuteur, '')) LIKE ? OR LOWER(COALESCE(email, '')) LIKE ?)
			ORDER BY nom, id LIMIT ?`), pattern, pattern, pattern, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r.profile())
		}
	default:
		return nil, fmt.Errorf("unknown account type %q", t)
	}
	return out, nil
}

// AssignedRepresentative follows client.charge_com to the representative's personnel row.
func (d *SQLDirectory) AssignedRepresentative(ctx context.Context, h db.Handle, customerID int64) (int64, bool, error) {
	var staffID int64
	err := sqlx.GetContext(ctx, h, &staffID, h.Rebind(`SELECT p.id FROM client c
		JOIN personnel p ON p.nom_utilisateur = c.charge_com
		WHERE c.id = ?`), customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return staffID, true, nil
}
