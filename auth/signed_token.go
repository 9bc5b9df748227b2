package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultSignedTokenIssuer = "marketplace"
	DefaultSignedTokenTTL    = time.Hour
)

var ErrSigningSecretRequired = errors.New("auth: signing secret is required")

// SignedTokenClaims identify the installation a platform-issued token acts for.
type SignedTokenClaims struct {
	InstallationID string   `json:"installationId"`
	TenantID       string   `json:"tenantId"`
	Permissions    []string `json:"permissions"`
	jwt.RegisteredClaims
}

// SignedTokenAuth mints a short-lived HS256 token per request, signed with the
// platform secret and presented as a bearer credential.
type SignedTokenAuth struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func NewSignedTokenAuth(cfg core.SigningConfig) *SignedTokenAuth {
	return &SignedTokenAuth{
		Secret: []byte(strings.TrimSpace(cfg.Secret)),
		Issuer: firstNonEmpty(cfg.Issuer, DefaultSignedTokenIssuer),
		TTL:    cfg.TTL,
	}
}

func (*SignedTokenAuth) Method() core.AuthMethod { return core.AuthMethodSignedToken }

func (s *SignedTokenAuth) Apply(_ context.Context, req *core.AuthRequest) error {
	if err := requireRequest(req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Installation.ID) == "" {
		return missingCredentials(core.AuthMethodSignedToken, "installation id", req.Installation.ID)
	}
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	token, err := s.Issue(req.Installation, req.Integration.ID, now)
	if err != nil {
		return err
	}
	req.Headers.Set("Authorization", "Bearer "+token)
	return nil
}

// Issue signs a token for installation, audience-scoped to the integration.
func (s *SignedTokenAuth) Issue(installation core.Installation, audience string, now time.Time) (string, error) {
	if s == nil || len(s.Secret) == 0 {
		return "", fmt.Errorf("%w: %w", core.ErrMissingCredentials, ErrSigningSecretRequired)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSignedTokenTTL
	}
	claims := SignedTokenClaims{
		InstallationID: installation.ID,
		TenantID:       installation.TenantID,
		Permissions:    normalizeValues(installation.Permissions.Granted),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    firstNonEmpty(s.Issuer, DefaultSignedTokenIssuer),
			Subject:   installation.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if aud := strings.TrimSpace(audience); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token for installation %q: %w", installation.ID, err)
	}
	return signed, nil
}

// Parse validates a token issued by Issue. now drives expiry checks.
func (s *SignedTokenAuth) Parse(tokenString string, now time.Time) (*SignedTokenClaims, error) {
	if s == nil || len(s.Secret) == 0 {
		return nil, ErrSigningSecretRequired
	}
	return ParseSignedToken(tokenString, s.Secret, now)
}

func ParseSignedToken(tokenString string, secret []byte, now time.Time) (*SignedTokenClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if !now.IsZero() {
		options = append(options, jwt.WithTimeFunc(func() time.Time { return now }))
	}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), &SignedTokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("auth: parse signed token: %w", err)
	}
	claims, ok := token.Claims.(*SignedTokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid signed token")
	}
	return claims, nil
}

func (s *SignedTokenAuth) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.AuthStrategy = (*SignedTokenAuth)(nil)
