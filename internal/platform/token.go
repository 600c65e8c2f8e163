package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryMargin renews tokens slightly before their actual expiry.
const expiryMargin = 30 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// EnsureToken makes sure the client holds a non-expired bearer token,
// requesting a fresh one from the token endpoint when needed.
func (c *Client) EnsureToken(ctx context.Context) error {
	if c.token != "" && tokenValid(c.token, time.Now()) {
		return nil
	}

	if c.cfg.TokenCachePath != "" {
		if cached, err := os.ReadFile(c.cfg.TokenCachePath); err == nil {
			token := strings.TrimSpace(string(cached))
			if token != "" && tokenValid(token, time.Now()) {
				c.token = token
				return nil
			}
		}
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return err
	}
	c.token = token

	if c.cfg.TokenCachePath != "" {
		if err := os.WriteFile(c.cfg.TokenCachePath, []byte(token), 0o600); err != nil {
			c.logger.Printf("platform: cannot cache token: %v", err)
		}
	}
	return nil
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", c.cfg.GrantType)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("platform: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("platform: token request: http %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("platform: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("platform: empty access token")
	}
	return tr.AccessToken, nil
}

// tokenValid reports whether the token is a JWT whose expiry lies safely
// in the future. The signature is not verified here, expiry is checked
// only to avoid sending requests with a token the platform will reject.
func tokenValid(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Add(expiryMargin).Before(exp.Time)
}
