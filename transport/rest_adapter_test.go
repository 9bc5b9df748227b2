package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

func TestRESTAdapter_DoSendsMethodHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "search" {
			t.Errorf("expected query value, got %q", got)
		}
		if got := r.Header.Get("X-Test"); got != "value" {
			t.Errorf("expected header value, got %q", got)
		}
		if got := r.Header.Get(HeaderIdempotencyKey); got != "evt_1" {
			t.Errorf("expected idempotency key, got %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("expected default user agent, got %q", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if string(body) != "payload" {
			t.Errorf("expected request body payload")
		}
		w.Header().Set("X-Server", "ok")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("done"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	result, err := adapter.Do(context.Background(), core.TransportRequest{
		Method: "post",
		URL:    server.URL,
		Query:  map[string]string{"q": "search"},
		Headers: map[string]string{
			"X-Test": "value",
		},
		Body:        []byte("payload"),
		Timeout:     5 * time.Second,
		Idempotency: "evt_1",
	})
	if err != nil {
		t.Fatalf("perform rest request: %v", err)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected accepted status, got %d", result.StatusCode)
	}
	if string(result.Body) != "done" {
		t.Fatalf("unexpected response body: %q", string(result.Body))
	}
	if result.Headers["X-Server"] != "ok" {
		t.Fatalf("expected response header")
	}
	if result.Metadata["kind"] != KindREST {
		t.Fatalf("expected rest kind metadata, got %v", result.Metadata["kind"])
	}
}

func TestRESTAdapter_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result, err := NewRESTAdapter(server.Client()).Do(context.Background(), core.TransportRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("expected status to be returned, got %v", err)
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", result.StatusCode)
	}
}

func TestRESTAdapter_TimeoutSurfacesDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewRESTAdapter(server.Client()).Do(context.Background(), core.TransportRequest{
		URL:     server.URL,
		Timeout: 20 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 envelope, got %#v", err)
	}
}

func TestNewRESTAdapter_DefaultClientTimeout(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	httpClient, ok := adapter.Client.(*http.Client)
	if !ok {
		t.Fatalf("expected default http client implementation")
	}
	if httpClient.Timeout != defaultRESTClientTimeout {
		t.Fatalf("expected default timeout %s, got %s", defaultRESTClientTimeout, httpClient.Timeout)
	}
	if adapter.MaxResponseBodyBytes != defaultRESTResponseBodyLimit {
		t.Fatalf("expected default response body limit %d, got %d", defaultRESTResponseBodyLimit, adapter.MaxResponseBodyBytes)
	}
}

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 1024

	_, err := adapter.Do(context.Background(), core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  server.URL,
		MaxResponseBodyBytes: 4,
	})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}
	if !strings.Contains(err.Error(), "response body exceeds limit of 4 bytes") {
		t.Fatalf("unexpected error: %v", err)
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ServiceErrorExternalFailure {
		t.Fatalf("expected %q text code, got %q", core.ServiceErrorExternalFailure, rich.TextCode)
	}
}

func TestRESTAdapter_NilClientReturnsRichError(t *testing.T) {
	adapter := &RESTAdapter{}
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "http://example.test"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ServiceErrorInternal || rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal envelope, got %q/%d", rich.TextCode, rich.Code)
	}
}

func TestWebhookAdapter_SendsJSONContentType(t *testing.T) {
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := NewWebhookAdapter(server.Client())
	if adapter.Kind() != KindWebhook {
		t.Fatalf("expected webhook kind, got %q", adapter.Kind())
	}
	if _, err := adapter.Do(context.Background(), core.TransportRequest{
		Method: http.MethodPost,
		URL:    server.URL,
		Body:   []byte(`{}`),
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("expected json content type, got %q", contentType)
	}
}
