package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
)

// User is the identity behind an access token.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type exchangeCodeRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

type exchangeCodeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`

	// The token endpoint reports failures as 200 with error fields.
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode trades an OAuth authorization code for an access token.
// This talks to the OAuth host, not the API host, and needs no prior
// authentication.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code string) (string, error) {
	payload, err := json.Marshal(exchangeCodeRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         code,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authURL+"/login/oauth/access_token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating exchange request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("exchanging code: %w: %w", apperr.ErrNetworkUnavailable, err)
		return "", &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading exchange response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(http.MethodPost, "/login/oauth/access_token", resp.StatusCode, respBody)
	}

	var result exchangeCodeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding exchange response: %w", err)
	}

	if result.ErrorCode != "" {
		return "", fmt.Errorf("%w: code exchange rejected: %s (%s)",
			apperr.ErrUnauthorized, result.ErrorCode, result.ErrorDescription)
	}

	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: code exchange returned no token", apperr.ErrUnauthorized)
	}

	return result.AccessToken, nil
}

// AuthenticatedUser returns the identity behind the client's token.
// Used once at startup to validate the token before syncing.
func (c *Client) AuthenticatedUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return nil, fmt.Errorf("fetching authenticated user: %w", err)
	}

	return &user, nil
}
