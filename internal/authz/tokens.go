package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ServiceSigner mints short-lived HMAC service tokens of the kind
// TokenFor sends to the identity service as its service JWT.
type ServiceSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewServiceSigner builds a ServiceSigner with a one-hour token lifetime.
func NewServiceSigner(secret []byte) *ServiceSigner {
	return &ServiceSigner{secret: secret, ttl: time.Hour}
}

// Mint issues a signed service token identifying this component.
func (s *ServiceSigner) Mint(serviceName string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": serviceName,
		"exp": time.Now().Add(s.ttl).Unix(),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("authz: sign service token: %w", err)
	}
	return signed, nil
}

// Provider identifies which mail provider a group's OAuth token belongs to.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// TokenClient fetches per-group, per-provider OAuth tokens from the
// identity service that owns token storage and refresh, so this service
// never persists provider credentials itself.
type TokenClient struct {
	baseURL string
	client  *http.Client
}

// NewTokenClient builds a TokenClient against authServerURL.
func NewTokenClient(authServerURL string) *TokenClient {
	return &TokenClient{
		baseURL: authServerURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// TokenFor fetches the current OAuth token for groupID's connected
// account with the given provider, authenticating the request with the
// control plane's service JWT.
func (c *TokenClient) TokenFor(ctx context.Context, serviceJWT string, groupID string, provider Provider) (*oauth2.Token, error) {
	url := fmt.Sprintf("%s/api/groups/%s/accounts/%s/token", c.baseURL, groupID, provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("authz: build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+serviceJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authz: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("authz: no %s account connected for group %s", provider, groupID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("authz: token service returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("authz: decode token response: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       time.Unix(result.ExpiresAt, 0),
	}, nil
}
