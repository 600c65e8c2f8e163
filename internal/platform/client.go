package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flexmarket/internal/observability/metrics"
)

// ErrNotFound is returned when the platform answers 404.
var ErrNotFound = errors.New("platform: not found")

// Config holds the trading platform connection settings.
type Config struct {
	// TokenEndpoint receives the client-credentials grant.
	TokenEndpoint string
	// MainEndpoint is the API base URL.
	MainEndpoint string

	ClientID     string
	ClientSecret string
	Scope        string
	GrantType    string

	// TokenCachePath optionally persists the token between runs.
	TokenCachePath string

	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Client is a retrying REST client for the external trading platform.
type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
	token  string
}

// NewClient constructs a platform client.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.MainEndpoint == "" {
		return nil, errors.New("platform: empty main endpoint")
	}
	if cfg.TokenEndpoint == "" {
		return nil, errors.New("platform: empty token endpoint")
	}
	if cfg.GrantType == "" {
		cfg.GrantType = "client_credentials"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// UserInfo is the authenticated platform user.
type UserInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Organization string `json:"organizationId"`
}

// VersionInfo is the platform API version.
type VersionInfo struct {
	Version string `json:"version"`
}

// CurrentUser fetches the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (UserInfo, error) {
	var out UserInfo
	if err := c.GetJSON(ctx, "me", &out); err != nil {
		return UserInfo{}, err
	}
	return out, nil
}

// APIVersion fetches the platform API version info.
func (c *Client) APIVersion(ctx context.Context) (VersionInfo, error) {
	var out VersionInfo
	if err := c.GetJSON(ctx, "api-version-info", &out); err != nil {
		return VersionInfo{}, err
	}
	return out, nil
}

// Orders fetches the current order list into out.
func (c *Client) Orders(ctx context.Context, out any) error {
	return c.GetJSON(ctx, "orders", out)
}

// BaselineIntervals fetches the baseline intervals of a portfolio into out.
func (c *Client) BaselineIntervals(ctx context.Context, portfolioID string, out any) error {
	path := "BaselineIntervals?assetPortfolioId=" + url.QueryEscape(portfolioID)
	return c.GetJSON(ctx, path, out)
}

// DeleteBaselineInterval deletes baseline intervals of a portfolio in a
// period.
func (c *Client) DeleteBaselineInterval(ctx context.Context, portfolioID string, from, to time.Time) error {
	path := fmt.Sprintf("BaselineIntervals?assetPortfolioId=%s&periodFrom=%s&periodTo=%s",
		url.QueryEscape(portfolioID),
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)))
	return c.Delete(ctx, path)
}

// ImportBaselineCSV uploads a baseline CSV for import.
func (c *Client) ImportBaselineCSV(ctx context.Context, filename string, csvData io.Reader) error {
	if err := c.EnsureToken(ctx); err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("platform: build upload: %w", err)
	}
	if _, err := io.Copy(part, csvData); err != nil {
		return fmt.Errorf("platform: build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("platform: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("BaselineIntervals/import"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObservePlatformRequest(http.MethodPost, metrics.ResultError, time.Since(started))
		return fmt.Errorf("platform: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		metrics.ObservePlatformRequest(http.MethodPost, metrics.ResultError, time.Since(started))
		return fmt.Errorf("platform: http %d", resp.StatusCode)
	}
	metrics.ObservePlatformRequest(http.MethodPost, metrics.ResultSuccess, time.Since(started))
	return nil
}

// GetJSON performs an authenticated GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs an authenticated POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// Delete performs an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.MainEndpoint, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.EnsureToken(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: encode body: %w", err)
		}
	}

	started := time.Now()
	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				metrics.ObservePlatformRequest(method, metrics.ResultError, time.Since(started))
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("platform: %s %s: %w", method, path, err)
			c.logger.Printf("platform request failed (attempt %d/%d): %v", attempt, c.cfg.MaxAttempts, err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("platform: http %d", resp.StatusCode)
			c.logger.Printf("platform %s %s: status %d (attempt %d/%d)", method, path, resp.StatusCode, attempt, c.cfg.MaxAttempts)
			continue
		}

		err = func() error {
			defer resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return ErrNotFound
			case resp.StatusCode == http.StatusUnauthorized:
				// Force a token refresh on the next call.
				c.token = ""
				return fmt.Errorf("platform: http %d", resp.StatusCode)
			case resp.StatusCode >= 300:
				return fmt.Errorf("platform: http %d", resp.StatusCode)
			}
			if out == nil {
				return nil
			}
			return json.NewDecoder(resp.Body).Decode(out)
		}()
		if err != nil {
			metrics.ObservePlatformRequest(method, metrics.ResultError, time.Since(started))
			return err
		}
		metrics.ObservePlatformRequest(method, metrics.ResultSuccess, time.Since(started))
		return nil
	}

	metrics.ObservePlatformRequest(method, metrics.ResultError, time.Since(started))
	return lastErr
}
