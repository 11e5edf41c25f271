// Package dbtest opens migrated SQLite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"chat-core/internal/db"
)

// New returns a migrated handle backed by a SQLite file in t's temp dir.
func New(t testing.TB) db.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	conn, err := db.Connect("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return db.Handle{Tenant: "test", DB: conn}
}

// Staff inserts an ERP staff account.
func Staff(t testing.TB, h db.Handle, id int64, username, role string) {
	t.Helper()
	_, err := h.Exec(
		`INSERT INTO personnel (id, nom, prenom, nom_utilisateur, role, email, statut) VALUES (?, ?, ?, ?, ?, ?, 'actif')`,
		id, "Nom"+username, "Prenom", username, role, username+"@example.test",
	)
	if err != nil {
		t.Fatal(err)
	}
}

// Customer inserts an ERP customer account whose representative is the staff username chargeCom.
func Customer(t testing.TB, h db.Handle, id int64, name, chargeCom string) {
	t.Helper()
	var rep any
	if chargeCom != "" {
		rep = chargeCom
	}
	_, err := h.Exec(
		`INSERT INTO client (id, nom, interlocuteur, email, charge_com, statut) VALUES (?, ?, ?, ?, ?, 'actif')`,
		id, name, "Contact "+name, name+"@client.test", rep,
	)
	if err != nil {
		t.Fatal(err)
	}
}
