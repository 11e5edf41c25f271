package directory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"chat-core/internal/db"
)

type representativeResponse struct {
	StaffID *int64 `json:"staff_id"`
}

// RemoteAssignments asks an HTTP service for customer representatives.
// The tenant is forwarded in the X-Tenant-ID header.
type RemoteAssignments struct {
	client *resty.Client
	log    *zap.Logger
}

// NewRemoteAssignments builds a client for baseURL.
func NewRemoteAssignments(baseURL string, timeout time.Duration, log *zap.Logger) (*RemoteAssignments, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("assignment baseURL cannot be empty")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &RemoteAssignments{client: client, log: log}, nil
}

// AssignedRepresentative calls GET /customers/{id}/representative.
func (r *RemoteAssignments) AssignedRepresentative(ctx context.Context, h db.Handle, customerID int64) (int64, bool, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-Tenant-ID", h.Tenant).
		SetPathParam("id", strconv.FormatInt(customerID, 10)).
		SetResult(&representativeResponse{}).
		Get("/customers/{id}/representative")
	if err != nil {
		r.log.Warn("assignment lookup failed", zap.Int64("customer_id", customerID), zap.Error(err))
		return 0, false, fmt.Errorf("assignment lookup: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.IsError() {
		r.log.Warn("assignment lookup returned an error",
			zap.Int64("customer_id", customerID),
			zap.Int("status", resp.StatusCode()),
		)
		return 0, false, fmt.Errorf("assignment lookup: status %s", resp.Status())
	}

	out := resp.Result().(*representativeResponse)
	if out.StaffID == nil {
		return 0, false, nil
	}
	return *out.StaffID, true, nil
}
