package auth

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyAuth sends the installation API key in a configurable header.
type APIKeyAuth struct {
	Header string
}

func NewAPIKeyAuth(header string) *APIKeyAuth {
	return &APIKeyAuth{Header: firstNonEmpty(header, DefaultAPIKeyHeader)}
}

func (*APIKeyAuth) Method() core.AuthMethod { return core.AuthMethodAPIKey }

func (s *APIKeyAuth) Apply(_ context.Context, req *core.AuthRequest) error {
	if err := requireRequest(req); err != nil {
		return err
	}
	key := strings.TrimSpace(req.Installation.Config.APIKey)
	if key == "" {
		return missingCredentials(core.AuthMethodAPIKey, "apiKey", req.Installation.ID)
	}
	header := DefaultAPIKeyHeader
	if s != nil {
		header = firstNonEmpty(s.Header, DefaultAPIKeyHeader)
	}
	req.Headers.Set(header, key)
	return nil
}

// OAuth2Auth presents the stored access token as a bearer credential. Token
// refresh happens outside the gateway.
type OAuth2Auth struct{}

func NewOAuth2Auth() *OAuth2Auth {
	return &OAuth2Auth{}
}

func (*OAuth2Auth) Method() core.AuthMethod { return core.AuthMethodOAuth2 }

func (*OAuth2Auth) Apply(_ context.Context, req *core.AuthRequest) error {
	if err := requireRequest(req); err != nil {
		return err
	}
	token := strings.TrimSpace(req.Installation.Config.AccessToken)
	if token == "" {
		return missingCredentials(core.AuthMethodOAuth2, "accessToken", req.Installation.ID)
	}
	req.Headers.Set("Authorization", "Bearer "+token)
	return nil
}

// BasicAuth encodes apiKey:apiSecret as HTTP basic credentials.
type BasicAuth struct{}

func NewBasicAuth() *BasicAuth {
	return &BasicAuth{}
}

func (*BasicAuth) Method() core.AuthMethod { return core.AuthMethodBasic }

func (*BasicAuth) Apply(_ context.Context, req *core.AuthRequest) error {
	if err := requireRequest(req); err != nil {
		return err
	}
	username := strings.TrimSpace(req.Installation.Config.APIKey)
	password := strings.TrimSpace(req.Installation.Config.APISecret)
	if username == "" || password == "" {
		return missingCredentials(core.AuthMethodBasic, "apiKey and apiSecret", req.Installation.ID)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	req.Headers.Set("Authorization", "Basic "+encoded)
	return nil
}

var (
	_ core.AuthStrategy = (*APIKeyAuth)(nil)
	_ core.AuthStrategy = (*OAuth2Auth)(nil)
	_ core.AuthStrategy = (*BasicAuth)(nil)
)
