package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/golang-jwt/jwt/v5"
)

func TestSignedTokenAuth_IssuesBearerWithInstallationClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	strategy := NewSignedTokenAuth(core.SigningConfig{Secret: "platform-secret", Issuer: "market"})
	req := &core.AuthRequest{
		Installation: testInstallation(),
		Integration:  core.Integration{ID: "int_crm"},
		Now:          now,
	}
	if err := strategy.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}

	header := req.Headers.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		t.Fatalf("expected bearer header, got %q", header)
	}
	claims, err := strategy.Parse(strings.TrimPrefix(header, "Bearer "), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.InstallationID != "inst_1" || claims.TenantID != "tenant_1" {
		t.Fatalf("unexpected identity claims %#v", claims)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != "contacts:read" {
		t.Fatalf("expected normalized permissions, got %#v", claims.Permissions)
	}
	if claims.Issuer != "market" || claims.Subject != "inst_1" {
		t.Fatalf("unexpected registered claims %#v", claims.RegisteredClaims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "int_crm" {
		t.Fatalf("expected integration audience, got %#v", claims.Audience)
	}
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("expected one hour ttl, got %v", got)
	}
}

func TestSignedTokenAuth_ExpiredTokenRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	strategy := NewSignedTokenAuth(core.SigningConfig{Secret: "platform-secret", TTL: time.Minute})
	token, err := strategy.Issue(testInstallation(), "int_crm", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = strategy.Parse(token, now.Add(2*time.Minute))
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSignedTokenAuth_WrongSecretRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := NewSignedTokenAuth(core.SigningConfig{Secret: "one"}).Issue(testInstallation(), "", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseSignedToken(token, []byte("two"), now); !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestSignedTokenAuth_RequiresSecret(t *testing.T) {
	strategy := NewSignedTokenAuth(core.SigningConfig{})
	req := &core.AuthRequest{Installation: testInstallation()}
	err := strategy.Apply(context.Background(), req)
	if !errors.Is(err, core.ErrMissingCredentials) || !errors.Is(err, ErrSigningSecretRequired) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if req.Headers.Get("Authorization") != "" {
		t.Fatalf("expected no authorization header")
	}
}
