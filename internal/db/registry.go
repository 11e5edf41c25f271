package db

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownTenant is returned for a tenant that has no configured DSN.
var ErrUnknownTenant = errors.New("unknown tenant")

// Registry lazily opens one connection pool per configured tenant.
type Registry struct {
	driver  string
	dsns    map[string]string
	migrate bool
	log     *zap.Logger

	mu      sync.Mutex
	handles map[string]Handle
}

// NewRegistry builds a registry over tenant name -> DSN. When migrate is set,
// each pool is migrated the first time it is opened.
func NewRegistry(driver string, dsns map[string]string, migrate bool, log *zap.Logger) *Registry {
	return &Registry{
		driver:  driver,
		dsns:    dsns,
		migrate: migrate,
		log:     log,
		handles: make(map[string]Handle),
	}
}

// Get returns the handle of tenant, connecting on first use.
func (r *Registry) Get(ctx context.Context, tenant string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[tenant]; ok {
		return h, nil
	}
	dsn, ok := r.dsns[tenant]
	if !ok {
		return Handle{}, ErrUnknownTenant
	}

	conn, err := Connect(r.driver, dsn)
	if err != nil {
		return Handle{}, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return Handle{}, err
	}
	if r.migrate {
		res, err := Migrate(conn)
		if err != nil {
			_ = conn.Close()
			return Handle{}, err
		}
		r.log.Info("database migrated",
			zap.String("tenant", tenant),
			zap.Uint("version", res.Version),
			zap.Bool("changed", res.Changed),
		)
	}

	h := Handle{Tenant: tenant, DB: conn}
	r.handles[tenant] = h
	return h, nil
}

// Tenants lists the configured tenant names in sorted order.
func (r *Registry) Tenants() []string {
	names := make([]string, 0, len(r.dsns))
	for name := range r.dsns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Each calls fn for every configured tenant, stopping at the first error.
func (r *Registry) Each(ctx context.Context, fn func(Handle) error) error {
	for _, name := range r.Tenants() {
		h, err := r.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every opened pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, h := range r.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.handles, name)
	}
	return errors.Join(errs...)
}
