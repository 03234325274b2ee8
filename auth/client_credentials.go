package auth

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gaborage/restbricks/serialization"
)

// ClientCredentials is an OAuth2 client-credentials TokenSource
// (RFC 6749 section 4.4). Client id and secret are sent with HTTP basic
// authentication.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *nethttp.Client
}

var _ TokenSource = (*ClientCredentials)(nil)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

var defaultTokenClient = &nethttp.Client{Timeout: 30 * time.Second}

// FetchToken implements TokenSource.
func (c *ClientCredentials) FetchToken(ctx context.Context) (*Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if len(c.Scopes) > 0 {
		form.Set("scope", strings.Join(c.Scopes, " "))
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", serialization.ContentTypeJSON)
	req.SetBasicAuth(url.QueryEscape(c.ClientID), url.QueryEscape(c.ClientSecret))

	client := c.HTTPClient
	if client == nil {
		client = defaultTokenClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var tr tokenResponse
	if err := (serialization.JSON{}).Deserialize(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, ErrEmptyToken
	}

	return &Token{
		AccessToken: tr.AccessToken,
		TokenType:   normalizeTokenType(tr.TokenType),
		ExpiresIn:   time.Duration(tr.ExpiresIn) * time.Second,
	}, nil
}

// normalizeTokenType maps the case-insensitive "bearer" to its canonical
// header form.
func normalizeTokenType(t string) string {
	if t == "" || strings.EqualFold(t, "bearer") {
		return "Bearer"
	}
	return t
}
