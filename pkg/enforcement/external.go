package enforcement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/identity"
)

// ExternalService delegates policy decisions to an external budget or
// authorization service over HTTP. The service receives the formatted
// lease and the acting identity; any non-2xx response is a veto.
type ExternalService struct {
	baseURL string
	client  *http.Client
}

// ExternalServiceConfig holds external filter configuration
type ExternalServiceConfig struct {
	BaseURL string
	Timeout time.Duration // Defaults to 10s
}

// NewExternalService creates the external policy filter
func NewExternalService(cfg ExternalServiceConfig) (*ExternalService, error) {
	if cfg.BaseURL == "" {
		return nil, errdefs.InvalidInput("external enforcement base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ExternalService{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the filter name
func (f *ExternalService) Name() string {
	return "external_service"
}

type externalRequest struct {
	Action    string     `json:"action"`
	UserID    string     `json:"user_id"`
	ProjectID string     `json:"project_id"`
	Region    string     `json:"region"`
	Lease     *LeaseView `json:"lease"`
	OldLease  *LeaseView `json:"old_lease,omitempty"`
}

func (f *ExternalService) post(ctx context.Context, path string, req *externalRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return errdefs.Unavailable("external enforcement service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return errdefs.NotAuthorized("external enforcement denied %s (%s)", req.Action, firstLine(detail, resp.StatusCode))
}

func firstLine(body []byte, status int) string {
	for i, b := range body {
		if b == '\n' {
			body = body[:i]
			break
		}
	}
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	return string(body)
}

// CheckCreate asks the external service to authorize a new lease
func (f *ExternalService) CheckCreate(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	return f.post(ctx, "/check-create", &externalRequest{
		Action:    "check_create",
		UserID:    ictx.UserID,
		ProjectID: ictx.ProjectID,
		Region:    ictx.Region,
		Lease:     lease,
	})
}

// CheckUpdate asks the external service to authorize a lease update
func (f *ExternalService) CheckUpdate(ctx context.Context, ictx identity.Context, oldLease, newLease *LeaseView) error {
	return f.post(ctx, "/check-update", &externalRequest{
		Action:    "check_update",
		UserID:    ictx.UserID,
		ProjectID: ictx.ProjectID,
		Region:    ictx.Region,
		Lease:     newLease,
		OldLease:  oldLease,
	})
}

// OnEnd informs the external service the lease ended
func (f *ExternalService) OnEnd(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	return f.post(ctx, "/on-end", &externalRequest{
		Action:    "on_end",
		UserID:    ictx.UserID,
		ProjectID: ictx.ProjectID,
		Region:    ictx.Region,
		Lease:     lease,
	})
}
