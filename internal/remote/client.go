// Package remote implements the stateless HTTP client for the analysis job
// service. Every request carries the caller's session identity header; the
// service verifies ownership server-side and is the single source of truth
// for job status, progress, and results.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/identity"
)

// IdentityProvider supplies the identity attached to each request. The
// identity is resolved per call, not captured at construction, so a
// guest-to-user transition is picked up by the next request.
type IdentityProvider interface {
	Current() identity.Identity
}

// Client performs stateless HTTP operations against the job service.
type Client struct {
	baseURL  string
	http     *http.Client
	provider IdentityProvider
	logger   *slog.Logger
}

// NewClient creates a Client for the service at baseURL. The timeout bounds
// a single round trip.
func NewClient(baseURL string, timeout time.Duration, provider IdentityProvider, logger *slog.Logger) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		provider: provider,
		logger:   logger.With("component", "job_client"),
	}
}

type submitRequest struct {
	URL     string `json:"url"`
	GuestID string `json:"guestId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// Submit creates a new analysis job for the given content URL and returns
// the service-assigned job identifier. Returns domain.ErrEmptyURL or
// domain.ErrNoIdentity without touching the network when input validation
// fails; validation errors are never retried.
func (c *Client) Submit(ctx context.Context, contentURL string) (string, error) {
	if strings.TrimSpace(contentURL) == "" {
		return "", domain.ErrEmptyURL
	}

	id := c.provider.Current()
	if id.IsZero() {
		return "", domain.ErrNoIdentity
	}

	payload := submitRequest{URL: contentURL}
	switch id.Kind {
	case identity.KindAuthenticated:
		payload.UserID = id.UserID
	case identity.KindGuest:
		payload.GuestID = id.GuestID
	}

	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", payload, &out); err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}

	c.logger.Info("job submitted", "job_id", out.JobID, "url", contentURL)
	return out.JobID, nil
}

type jobEnvelope struct {
	Success bool `json:"success"`
	domain.Job
}

// Poll fetches the current state of a job. Returns domain.ErrJobNotOwned
// when the service reports the calling identity does not own the job (403)
// or no longer knows it (404); both are fatal for resumption.
func (c *Client) Poll(ctx context.Context, jobID string) (domain.Job, error) {
	var out jobEnvelope
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &out)
	if err != nil {
		var re *domain.RemoteError
		if errors.As(err, &re) && (re.StatusCode == http.StatusForbidden || re.StatusCode == http.StatusNotFound) {
			return domain.Job{}, fmt.Errorf("%w: %w", domain.ErrJobNotOwned, err)
		}
		return domain.Job{}, fmt.Errorf("failed to poll job %s: %w", jobID, err)
	}
	return out.Job, nil
}

// Cancel asks the service to stop a job. Best-effort: cancellation is
// advisory, the caller has already stopped caring about the job locally, so
// any failure is logged and swallowed.
func (c *Client) Cancel(ctx context.Context, jobID string) {
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/cancel", nil, nil); err != nil {
		c.logger.Warn("best-effort job cancellation failed",
			"job_id", jobID,
			"error", err)
	}
}

type listActiveResponse struct {
	Success bool         `json:"success"`
	Jobs    []domain.Job `json:"jobs"`
}

// ListActive returns the jobs the current identity owns that the service
// still considers active (non-terminal, plus recently completed ones kept
// around for recovery).
func (c *Client) ListActive(ctx context.Context) ([]domain.Job, error) {
	var out listActiveResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/active", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return out.Jobs, nil
}

type migrateRequest struct {
	GuestID string `json:"guestId"`
	UserID  string `json:"userId"`
}

type migrateResponse struct {
	Success       bool `json:"success"`
	MigratedCount int  `json:"migratedCount"`
}

// MigrateGuest reassigns ownership of all jobs tagged with guestID to
// userID. Safe to repeat: records already owned by userID are no-ops on the
// service side and are not counted again.
func (c *Client) MigrateGuest(ctx context.Context, guestID, userID string) (int, error) {
	payload := migrateRequest{GuestID: guestID, UserID: userID}

	var out migrateResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/migrate-guest", payload, &out); err != nil {
		return 0, fmt.Errorf("failed to migrate guest jobs: %w", err)
	}
	return out.MigratedCount, nil
}

// do performs a single identity-stamped request and decodes the JSON
// response into out (when non-nil). Non-2xx responses become RemoteError
// with the service's own message; transport failures are returned as-is so
// callers can tell the two apart.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.provider.Current().ApplyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx response into a RemoteError, surfacing the
// service's error message when one is present.
func decodeError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err != nil || (payload.Error == "" && payload.Message == "") {
		return &domain.RemoteError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	message := payload.Error
	if message == "" {
		message = payload.Message
	}
	return &domain.RemoteError{StatusCode: resp.StatusCode, Message: message}
}
