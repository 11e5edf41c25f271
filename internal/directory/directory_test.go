package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-core/internal/db"
	"chat-core/internal/db/dbtest"
	"chat-core/internal/models"
)

func TestProfileIsCached(t *testing.T) {
	h := dbtest.New(t)
	dbtest.Staff(t, h, 3, "jdupont", "Technicien")
	dir := NewSQLDirectory(time.Minute)
	staff3 := models.Participant{ID: 3, Type: models.AccountStaff}

	p, err := dir.Profile(context.Background(), h, staff3)
	require.NoError(t, err)
	assert.Equal(t, "Prenom Nomjdupont", p.Name)
	assert.Equal(t, "technicien", p.Role)

	_, err = h.Exec(`UPDATE personnel SET nom = 'Changed' WHERE id = 3`)
	require.NoError(t, err)
	p, err = dir.Profile(context.Background(), h, staff3)
	require.NoError(t, err)
	assert.Equal(t, "Prenom Nomjdupont", p.Name)

	_, err = dir.Profile(context.Background(), h, models.Participant{ID: 8, Type: models.AccountCustomer})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSearch(t *testing.T) {
	h := dbtest.New(t)
	dbtest.Staff(t, h, 1, "admin", "administratif")
	dbtest.Staff(t, h, 3, "tech", "autre")
	dbtest.Customer(t, h, 5, "Transit Sud", "admin")
	dbtest.Customer(t, h, 6, "Nord Cargo", "")
	dir := NewSQLDirectory(time.Minute)

	staff, err := dir.Search(context.Background(), h, models.AccountStaff, "TECH", 10)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, int64(3), staff[0].ID)

	customers, err := dir.Search(context.Background(), h, models.AccountCustomer, "", 10)
	require.NoError(t, err)
	assert.Len(t, customers, 2)
}

func TestAssignedRepresentative(t *testing.T) {
	h := dbtest.New(t)
	dbtest.Staff(t, h, 3, "commercial_user", "commercial")
	dbtest.Customer(t, h, 5, "Transit Sud", "commercial_user")
	dbtest.Customer(t, h, 6, "Nord Cargo", "")
	dir := NewSQLDirectory(time.Minute)

	id, ok, err := dir.AssignedRepresentative(context.Background(), h, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	_, ok, err = dir.AssignedRepresentative(context.Background(), h, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		switch r.URL.Path {
		case "/customers/5/representative":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"staff_id": 3}`))
		case "/customers/6/representative":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	remote, err := NewRemoteAssignments(srv.URL, time.Second, zap.NewNop())
	require.NoError(t, err)
	h := db.Handle{Tenant: "acme"}

	id, ok, err := remote.AssignedRepresentative(context.Background(), h, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	_, ok, err = remote.AssignedRepresentative(context.Background(), h, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = remote.AssignedRepresentative(context.Background(), h, 7)
	assert.Error(t, err)

	_, err = NewRemoteAssignments("", time.Second, zap.NewNop())
	assert.Error(t, err)
}
