package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

const (
	testIntegrationID = "int_crm"
	testTenantID      = "tenant_1"
	testWebhookURL    = "https://hooks.example.test/receive"
)

func testIntegration() Integration {
	return Integration{
		ID:            testIntegrationID,
		Name:          "CRM Sync",
		Category:      "crm",
		Developer:     Developer{Name: "Acme"},
		AuthMethod:    AuthMethodAPIKey,
		BaseURL:       "https://api.example.test/v1",
		WebhookEvents: []string{"contact.created", "contact.updated"},
		Permissions:   []string{"contacts:read"},
		Version:       "1.0.0",
		Status:        IntegrationStatusActive,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubResponse struct {
	status int
	body   string
	err    error
}

type stubTransport struct {
	mu        sync.Mutex
	responses []stubResponse
	fallback  stubResponse
	requests  []TransportRequest
}

func newStubTransport(responses ...stubResponse) *stubTransport {
	return &stubTransport{
		responses: responses,
		fallback:  stubResponse{status: http.StatusOK, body: "{}"},
	}
}

func (*stubTransport) Kind() string { return "stub" }

func (s *stubTransport) Do(_ context.Context, req TransportRequest) (TransportResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	next := s.fallback
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	}
	if next.err != nil {
		return TransportResponse{}, next.err
	}
	return TransportResponse{StatusCode: next.status, Body: []byte(next.body)}, nil
}

func (s *stubTransport) calls() []TransportRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransportRequest(nil), s.requests...)
}

type stubRateLimiter struct {
	mu    sync.Mutex
	deny  bool
	calls int
}

func (l *stubRateLimiter) Consume(_ context.Context, key string) (RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.deny {
		return RateLimitDecision{Key: key, Limit: 100}, fmt.Errorf("stub limiter: %w", ErrRateLimited)
	}
	return RateLimitDecision{Key: key, Limit: 100, Remaining: 99}, nil
}

type headerStrategy struct {
	method AuthMethod
	err    error
}

func (h headerStrategy) Method() AuthMethod { return h.method }

func (h headerStrategy) Apply(_ context.Context, req *AuthRequest) error {
	if h.err != nil {
		return h.err
	}
	req.Headers.Set("X-API-Key", req.Installation.Config.APIKey)
	return nil
}

type stubAuthResolver struct {
	strategy AuthStrategy
}

func (r stubAuthResolver) Resolve(AuthMethod) (AuthStrategy, error) {
	if r.strategy == nil {
		return nil, ErrUnsupportedAuthMethod
	}
	return r.strategy, nil
}

type stubSigner struct{}

func (stubSigner) Sign(event WebhookEvent, timestamp time.Time) (string, []byte, error) {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("sig-%s-%d", event.ID, timestamp.UnixMilli()), body, nil
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

func (e *recordingEnqueuer) setErr(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

type testHarness struct {
	svc           *Service
	clock         *testClock
	transport     *stubTransport
	limiter       *stubRateLimiter
	enqueuer      *recordingEnqueuer
	catalog       *MemoryIntegrationCatalog
	installations *MemoryInstallationStore
	events        *MemoryWebhookEventStore
	subscriptions *MemorySubscriptionStore
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		clock:         newTestClock(),
		transport:     newStubTransport(),
		limiter:       &stubRateLimiter{},
		enqueuer:      &recordingEnqueuer{},
		catalog:       NewMemoryIntegrationCatalog(testIntegration()),
		installations: NewMemoryInstallationStore(),
		events:        NewMemoryWebhookEventStore(),
		subscriptions: NewMemorySubscriptionStore(),
	}
	base := []Option{
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithClock(h.clock.Now),
		WithIntegrationCatalog(h.catalog),
		WithInstallationStore(h.installations),
		WithWebhookEventStore(h.events),
		WithSubscriptionStore(h.subscriptions),
		WithRateLimiter(h.limiter),
		WithAuthStrategyResolver(stubAuthResolver{strategy: headerStrategy{method: AuthMethodAPIKey}}),
		WithTransport(h.transport),
		WithWebhookSigner(stubSigner{}),
		WithJobEnqueuer(h.enqueuer),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *testHarness) install(t *testing.T, webhookURL string) Installation {
	t.Helper()
	inst, err := h.svc.Install(context.Background(), InstallRequest{
		TenantID:      testTenantID,
		IntegrationID: testIntegrationID,
		Config: InstallationConfig{
			APIKey:     "key_123",
			WebhookURL: webhookURL,
		},
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	return inst
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
