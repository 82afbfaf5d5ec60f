package hydroshare

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/observability"
)

// DefaultCredentialsURL is HydroShare's S3 service account endpoint.
const DefaultCredentialsURL = "https://www.hydroshare.org/hsapi/user/service/accounts/s3/"

// maxResponseBytes caps how much of a credentials response is read.
const maxResponseBytes = 1 << 20

// Client exchanges HydroShare logins for delegated S3 credentials.
// It implements streams.CredentialResolver.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a HydroShare credentials client. A zero timeout leaves
// deadlines to the caller's context.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultCredentialsURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// Resolve looks up the user's S3 service account and creates one when the
// lookup does not expose a usable key pair. A rejected lookup stops
// immediately; the creation call is made at most once.
func (c *Client) Resolve(ctx context.Context, username, password string) (domain.StorageCredentials, error) {
	status, body, err := c.do(ctx, http.MethodGet, username, password)
	if err != nil {
		return domain.StorageCredentials{}, err
	}

	switch {
	case status == http.StatusOK:
		creds, err := domain.ExtractCredentials(body)
		if err == nil {
			return creds, nil
		}
		// Lookups often list key IDs without secrets.
		c.logger.Debug("hydroshare lookup returned no usable credentials, creating service account", "username", username)
	case isRejection(status):
		return domain.StorageCredentials{}, fmt.Errorf("%w (status %d)", domain.ErrInvalidCredentials, status)
	default:
		return domain.StorageCredentials{}, fmt.Errorf("%w: credential lookup returned status %d", domain.ErrAuth, status)
	}

	status, body, err = c.do(ctx, http.MethodPost, username, password)
	if err != nil {
		return domain.StorageCredentials{}, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		creds, err := domain.ExtractCredentials(body)
		if err != nil {
			return domain.StorageCredentials{}, fmt.Errorf("parse created credentials: %w", err)
		}
		return creds, nil
	case isRejection(status):
		return domain.StorageCredentials{}, fmt.Errorf("%w (status %d)", domain.ErrInvalidCredentials, status)
	default:
		return domain.StorageCredentials{}, fmt.Errorf("%w: credential creation returned status %d", domain.ErrAuth, status)
	}
}

func (c *Client) do(ctx context.Context, method, username, password string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: create request: %v", domain.ErrAuth, err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.HydroShareDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, fmt.Errorf("%w: unable to reach HydroShare: %v", domain.ErrAuth, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", domain.ErrAuth, err)
	}

	c.logger.Debug("hydroshare credentials call", "method", method, "status", resp.StatusCode)
	return resp.StatusCode, buf.Bytes(), nil
}

func isRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
