package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		category goerrors.Category
		code     int
		textCode string
	}{
		{fmt.Errorf("limiter: %w", ErrRateLimited), goerrors.CategoryRateLimit, http.StatusTooManyRequests, ServiceErrorRateLimited},
		{ErrAlreadyInstalled, goerrors.CategoryConflict, http.StatusConflict, ServiceErrorAlreadyInstalled},
		{ErrNoWebhookURL, goerrors.CategoryValidation, http.StatusUnprocessableEntity, ServiceErrorNoWebhookURL},
		{ErrInstallationNotFound, goerrors.CategoryNotFound, http.StatusNotFound, ServiceErrorNotFound},
		{ErrCallFailed, goerrors.CategoryExternal, http.StatusBadGateway, ServiceErrorExternalFailure},
	}
	for _, tc := range cases {
		mapped := serviceErrorMapper(tc.err)
		if mapped.Category != tc.category {
			t.Fatalf("%v: expected category %q, got %q", tc.err, tc.category, mapped.Category)
		}
		if mapped.Code != tc.code {
			t.Fatalf("%v: expected code %d, got %d", tc.err, tc.code, mapped.Code)
		}
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected text code %q, got %q", tc.err, tc.textCode, mapped.TextCode)
		}
		if !stderrors.Is(mapped, tc.err) {
			t.Fatalf("%v: expected sentinel to stay reachable", tc.err)
		}
	}
}

func TestServiceErrorMapper_KeepsRichErrors(t *testing.T) {
	rich := goerrors.New("upstream exploded", goerrors.CategoryExternal).WithTextCode("CUSTOM")
	mapped := serviceErrorMapper(rich)
	if mapped.TextCode != "CUSTOM" {
		t.Fatalf("expected custom text code to survive, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected external category to default to 502, got %d", mapped.Code)
	}
}

func TestWrapServiceError_KeepsSentinel(t *testing.T) {
	err := wrapServiceError(ErrAlreadyInstalled, "tenant already has it", map[string]any{"tenant_id": "t1"})
	if !stderrors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("expected errors.Is to find the sentinel")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.Metadata["tenant_id"] != "t1" {
		t.Fatalf("expected metadata to be attached, got %#v", richErr.Metadata)
	}
}

func TestServiceMethods_MapValidationToBadInput(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Install(context.Background(), InstallRequest{IntegrationID: "int_1"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ServiceErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", richErr.TextCode)
	}

	_, err = svc.GetInstallation(context.Background(), "missing")
	if !stderrors.Is(err, ErrInstallationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !goerrors.As(err, &richErr) || richErr.TextCode != ServiceErrorNotFound {
		t.Fatalf("expected not found text code, got %#v", err)
	}
}
