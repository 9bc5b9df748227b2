package core

import (
	"context"
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestCall_SuccessAppliesAuthAndRecordsUsage(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	h.transport.responses = []stubResponse{{status: http.StatusOK, body: `{"ok":true}`}}

	res, err := h.svc.Call(context.Background(), CallRequest{
		InstallationID: inst.ID,
		Endpoint:       "/contacts",
		Method:         "post",
		Body:           []byte(`{"name":"Ada"}`),
		Headers:        map[string]string{"X-Request-Id": "req_1"},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	calls := h.transport.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one transport request, got %d", len(calls))
	}
	req := calls[0]
	if req.URL != "https://api.example.test/v1/contacts" {
		t.Fatalf("unexpected url %q", req.URL)
	}
	if req.Method != http.MethodPost {
		t.Fatalf("expected POST, got %q", req.Method)
	}
	if req.Headers["X-Api-Key"] != "key_123" {
		t.Fatalf("expected auth header to be applied, got %#v", req.Headers)
	}
	if req.Headers["X-Request-Id"] != "req_1" {
		t.Fatalf("expected caller headers to be kept, got %#v", req.Headers)
	}
	if req.Timeout != DefaultConfig().Gateway.Timeout {
		t.Fatalf("expected gateway timeout %v, got %v", DefaultConfig().Gateway.Timeout, req.Timeout)
	}

	got, _ := h.svc.GetInstallation(context.Background(), inst.ID)
	if got.Usage.Calls != 1 || got.Usage.Bytes != int64(len(`{"ok":true}`)) {
		t.Fatalf("expected usage to be recorded, got %#v", got.Usage)
	}
}

func TestCall_RateLimitedSkipsNetwork(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	h.limiter.deny = true

	_, err := h.svc.Call(context.Background(), CallRequest{InstallationID: inst.ID, Endpoint: "/contacts"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit envelope, got %#v", err)
	}
	if len(h.transport.calls()) != 0 {
		t.Fatalf("expected no network call when rate limited")
	}
	got, _ := h.svc.GetInstallation(context.Background(), inst.ID)
	if got.Health.ConsecutiveErrors != 0 {
		t.Fatalf("expected rate limiting not to count against health")
	}
}

func TestCall_FailureRecordsErrorWithoutRetry(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	h.transport.responses = []stubResponse{{status: http.StatusInternalServerError, body: "nope"}}

	res, err := h.svc.Call(context.Background(), CallRequest{InstallationID: inst.ID, Endpoint: "contacts"})
	if !errors.Is(err, ErrCallFailed) {
		t.Fatalf("expected ErrCallFailed, got %v", err)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected the failed response to be returned, got %d", res.StatusCode)
	}
	if len(h.transport.calls()) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(h.transport.calls()))
	}
	got, _ := h.svc.GetInstallation(context.Background(), inst.ID)
	if got.Health.ConsecutiveErrors != 1 || got.Usage.Calls != 0 {
		t.Fatalf("expected one recorded error and no usage, got %#v / %#v", got.Health, got.Usage)
	}
}

func TestCall_TransportErrorRecordsError(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	h.transport.responses = []stubResponse{{err: context.DeadlineExceeded}}

	if _, err := h.svc.Call(context.Background(), CallRequest{InstallationID: inst.ID, Endpoint: "/slow"}); err == nil {
		t.Fatalf("expected timeout to fail the call")
	}
	got, _ := h.svc.GetInstallation(context.Background(), inst.ID)
	if got.Health.ConsecutiveErrors != 1 {
		t.Fatalf("expected timeout to count as a failure, got %d", got.Health.ConsecutiveErrors)
	}
}

func TestCall_PausedInstallationIsNotCallable(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	if _, err := h.svc.Pause(context.Background(), inst.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err := h.svc.Call(context.Background(), CallRequest{InstallationID: inst.ID, Endpoint: "/contacts"})
	if !errors.Is(err, ErrInstallationNotCallable) {
		t.Fatalf("expected ErrInstallationNotCallable, got %v", err)
	}
	if h.limiter.calls != 0 {
		t.Fatalf("expected limiter to be skipped for paused installations")
	}
}

func TestCall_AuthFailureStopsBeforeNetwork(t *testing.T) {
	h := newTestHarness(t, WithAuthStrategyResolver(stubAuthResolver{
		strategy: headerStrategy{method: AuthMethodAPIKey, err: ErrMissingCredentials},
	}))
	inst := h.install(t, testWebhookURL)

	_, err := h.svc.Call(context.Background(), CallRequest{InstallationID: inst.ID, Endpoint: "/contacts"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if len(h.transport.calls()) != 0 {
		t.Fatalf("expected no network call without credentials")
	}
}

func TestJoinEndpoint(t *testing.T) {
	cases := map[string][2]string{
		"https://api.test/v1/items": {"https://api.test/v1/", "/items"},
		"https://api.test/items":    {"https://api.test", "items"},
		"https://other.test/x":      {"https://api.test", "https://other.test/x"},
		"https://api.test":          {"https://api.test/", ""},
	}
	for want, in := range cases {
		if got := JoinEndpoint(in[0], in[1]); got != want {
			t.Fatalf("JoinEndpoint(%q, %q): expected %q, got %q", in[0], in[1], want, got)
		}
	}
}
