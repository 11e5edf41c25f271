package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/mocks"
)

func sqliteRegistry(t *testing.T, tenants ...string) *db.Registry {
	t.Helper()
	dir := t.TempDir()
	dsns := map[string]string{}
	for _, name := range tenants {
		dsns[name] = filepath.Join(dir, "tenant-"+name+".db")
	}
	registry := db.NewRegistry("sqlite3", dsns, true, zap.NewNop())
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func TestModuleGraphIsComplete(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "secret"
	assert.NoError(t, fx.ValidateApp(Module(&cfg)))
	assert.NoError(t, fx.ValidateApp(Core(&cfg)))
}

func TestSweepAllVisitsEveryTenant(t *testing.T) {
	registry := sqliteRegistry(t, "", "globex")
	presence := new(mocks.PresencesMock)
	presence.On("Sweep", mock.Anything, mock.MatchedBy(func(h db.Handle) bool { return h.Tenant == "" }), time.Minute).Return(2, nil).Once()
	presence.On("Sweep", mock.Anything, mock.MatchedBy(func(h db.Handle) bool { return h.Tenant == "globex" }), time.Minute).Return(1, nil).Once()

	n, err := SweepAll(context.Background(), registry, presence, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	presence.AssertExpectations(t)
}

func TestSweepAllStopsAtFirstError(t *testing.T) {
	registry := sqliteRegistry(t, "a", "b")
	presence := new(mocks.PresencesMock)
	presence.On("Sweep", mock.Anything, mock.Anything, time.Minute).Return(0, errors.New("locked")).Once()

	_, err := SweepAll(context.Background(), registry, presence, time.Minute)
	assert.Error(t, err)
	presence.AssertNumberOfCalls(t, "Sweep", 1)
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	registry := sqliteRegistry(t, "")
	presence := new(mocks.PresencesMock)
	swept := make(chan struct{}, 1)
	presence.On("Sweep", mock.Anything, mock.Anything, time.Minute).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, registry, presence, 10*time.Millisecond, time.Minute, zap.NewNop())
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
