package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-core/internal/db"
)

const (
	tenantKey    = "tenant"
	TenantHeader = "X-Tenant-ID"
)

// TenantResolver returns the database handle of a tenant.
type TenantResolver interface {
	Get(ctx context.Context, tenant string) (db.Handle, error)
}

// TenantMiddleware resolves the tenant named by the X-Tenant-ID header, or the
// tenant query parameter, and stores its handle in the context. Requests
// without either use the default tenant.
func TenantMiddleware(tenants TenantResolver, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.GetHeader(TenantHeader)
		if name == "" {
			name = c.Query("tenant")
		}

		h, err := tenants.Get(c.Request.Context(), name)
		if errors.Is(err, db.ErrUnknownTenant) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown tenant"})
			return
		}
		if err != nil {
			log.Error("tenant connection failed", zap.String("tenant", name), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
			return
		}

		SetHandle(c, h)
		c.Next()
	}
}

// HandleFrom returns the tenant handle stored by TenantMiddleware.
func HandleFrom(c *gin.Context) (db.Handle, bool) {
	v, ok := c.Get(tenantKey)
	if !ok {
		return db.Handle{}, false
	}
	h, ok := v.(db.Handle)
	return h, ok
}

func SetHandle(c *gin.Context, h db.Handle) {
	c.Set(tenantKey, h)
}
