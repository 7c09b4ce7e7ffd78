package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"classhub/pkg/types"
)

// Identity is the auth collaborator's view of a verified user.
type Identity struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	SchoolID string `json:"schoolId"`
	Name     string `json:"name"`
}

// Verifier resolves a bearer credential to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Client calls the external auth service's verify endpoint. Verification
// is the only blocking external call on the connect path, so it carries a
// hard timeout; a slow auth service rejects the connection rather than
// holding it open.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "auth").Logger(),
	}
}

// Verify calls GET /auth/verify with the bearer token. Any non-200
// response, transport failure, or timeout maps to ErrAuth: the gateway
// must reject without creating state.
func (c *Client) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, types.ErrAuth
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("auth service unreachable")
		return nil, types.ErrAuth
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, types.ErrAuth
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		c.logger.Warn().Err(err).Msg("malformed verify response")
		return nil, types.ErrAuth
	}

	if identity.ID == "" || !types.IsValidUserID(identity.ID) {
		return nil, types.ErrAuth
	}

	return &identity, nil
}
