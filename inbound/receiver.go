package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-marketplace/core"
)

const (
	// WildcardEventType registers a handler for event types without their own.
	WildcardEventType = "*"

	DefaultKeyTTL       = 10 * time.Minute
	DefaultMaxBodyBytes = int64(1 << 20)
)

// Delivery is one verified webhook request.
type Delivery struct {
	EventID   string
	EventType string
	Timestamp time.Time
	Headers   http.Header
	Body      []byte
}

// Decode unmarshals the delivery payload into target.
func (d Delivery) Decode(target any) error {
	if len(d.Body) == 0 {
		return inboundBadInput("inbound: delivery body is empty", map[string]any{"event_id": d.EventID})
	}
	return json.Unmarshal(d.Body, target)
}

type Handler interface {
	HandleDelivery(ctx context.Context, delivery Delivery) error
}

type HandlerFunc func(ctx context.Context, delivery Delivery) error

func (f HandlerFunc) HandleDelivery(ctx context.Context, delivery Delivery) error {
	return f(ctx, delivery)
}

// Verifier checks the signature headers against the raw body.
// webhooks.Verifier satisfies it.
type Verifier interface {
	Verify(headers http.Header, body []byte) error
}

type ClaimStore interface {
	// Claim reserves key for lease. It reports false when the key is being
	// processed or was already completed.
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	// Fail releases the claim so the key can be claimed again at retryAt.
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

type Result struct {
	EventID    string
	EventType  string
	StatusCode int
	Handled    bool
	Deduped    bool
}

type Receiver struct {
	Verifier     Verifier
	Claims       ClaimStore
	KeyTTL       time.Duration
	MaxBodyBytes int64
	Logger       core.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewReceiver(verifier Verifier, claims ClaimStore) *Receiver {
	return &Receiver{
		Verifier:     verifier,
		Claims:       claims,
		KeyTTL:       DefaultKeyTTL,
		MaxBodyBytes: DefaultMaxBodyBytes,
		handlers:     map[string]Handler{},
	}
}

// Handle registers handler for eventType. Each event type takes one handler.
func (r *Receiver) Handle(eventType string, handler Handler) error {
	if r == nil {
		return inboundInternal("inbound: receiver is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	eventType = normalizeEventType(eventType)
	if eventType == "" {
		return inboundBadInput("inbound: event type is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string]Handler{}
	}
	if _, exists := r.handlers[eventType]; exists {
		return core.ServiceFailure(
			nil,
			goerrors.CategoryConflict,
			fmt.Sprintf("inbound: handler already registered for event type %q", eventType),
			http.StatusConflict,
			core.ServiceErrorConflict,
			map[string]any{"event_type": eventType},
		)
	}
	r.handlers[eventType] = handler
	return nil
}

func (r *Receiver) HandleFunc(eventType string, fn func(ctx context.Context, delivery Delivery) error) error {
	if fn == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	return r.Handle(eventType, HandlerFunc(fn))
}

// Receive verifies, claims and dispatches one delivery. Event types without
// a handler are acknowledged so the sender does not retry them.
func (r *Receiver) Receive(ctx context.Context, headers http.Header, body []byte) (Result, error) {
	if r == nil {
		return Result{}, inboundInternal("inbound: receiver is nil", nil)
	}
	if headers == nil {
		headers = http.Header{}
	}
	result := Result{
		EventID:   strings.TrimSpace(headers.Get(core.HeaderWebhookEventID)),
		EventType: normalizeEventType(headers.Get(core.HeaderWebhookEvent)),
	}
	metadata := map[string]any{"event_id": result.EventID, "event_type": result.EventType}
	if result.EventID == "" {
		return result, inboundBadInput("inbound: event id header is required", metadata)
	}
	if result.EventType == "" {
		return result, inboundBadInput("inbound: event type header is required", metadata)
	}

	if r.Verifier != nil {
		if err := r.Verifier.Verify(headers, body); err != nil {
			result.StatusCode = http.StatusUnauthorized
			return result, core.ServiceFailure(
				err,
				goerrors.CategoryAuth,
				"inbound: delivery verification failed",
				http.StatusUnauthorized,
				core.ServiceErrorUnauthorized,
				metadata,
			)
		}
	}

	handler := r.handlerFor(result.EventType)
	if handler == nil {
		result.StatusCode = http.StatusAccepted
		return result, nil
	}

	claimID := ""
	if r.Claims != nil {
		var accepted bool
		var err error
		claimID, accepted, err = r.Claims.Claim(ctx, result.EventID, r.keyTTL())
		if err != nil {
			return result, core.ServiceFailure(
				err,
				goerrors.CategoryOperation,
				"inbound: idempotency claim failed",
				http.StatusInternalServerError,
				core.ServiceErrorOperationFailed,
				metadata,
			)
		}
		if !accepted {
			result.StatusCode = http.StatusOK
			result.Deduped = true
			return result, nil
		}
	}

	delivery := Delivery{
		EventID:   result.EventID,
		EventType: result.EventType,
		Timestamp: parseTimestamp(headers.Get(core.HeaderWebhookTimestamp)),
		Headers:   headers.Clone(),
		Body:      append([]byte(nil), body...),
	}
	if err := handler.HandleDelivery(ctx, delivery); err != nil {
		handlerErr := core.ServiceFailure(
			err,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			http.StatusInternalServerError,
			core.ServiceErrorOperationFailed,
			metadata,
		)
		if claimID != "" {
			if failErr := r.Claims.Fail(ctx, claimID, err, time.Time{}); failErr != nil {
				return result, errors.Join(
					handlerErr,
					core.ServiceFailure(
						failErr,
						goerrors.CategoryOperation,
						"inbound: mark idempotency claim failed",
						http.StatusInternalServerError,
						core.ServiceErrorInternal,
						metadata,
					),
				)
			}
		}
		return result, handlerErr
	}
	if claimID != "" {
		if err := r.Claims.Complete(ctx, claimID); err != nil {
			return result, core.ServiceFailure(
				err,
				goerrors.CategoryOperation,
				"inbound: complete idempotency claim",
				http.StatusInternalServerError,
				core.ServiceErrorOperationFailed,
				metadata,
			)
		}
	}
	result.StatusCode = http.StatusOK
	result.Handled = true
	return result, nil
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBodyBytes()))
	if err != nil {
		r.writeError(req.Context(), w, core.ServiceFailure(
			err,
			goerrors.CategoryBadInput,
			"inbound: delivery body too large or unreadable",
			http.StatusRequestEntityTooLarge,
			core.ServiceErrorBadInput,
			nil,
		))
		return
	}
	result, err := r.Receive(req.Context(), req.Header, body)
	if err != nil {
		r.writeError(req.Context(), w, err)
		return
	}
	w.WriteHeader(result.StatusCode)
}

func (r *Receiver) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := http.StatusInternalServerError
	if mapped != nil && mapped.Code > 0 {
		status = mapped.Code
	}
	glog.Ensure(r.Logger).WithContext(ctx).Warn("inbound delivery rejected", "status", status, "error", err.Error())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]any{"status": status}
	if mapped != nil {
		payload["text_code"] = mapped.TextCode
		payload["message"] = mapped.Message
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"error": payload})
}

func (r *Receiver) handlerFor(eventType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handler, ok := r.handlers[eventType]; ok {
		return handler
	}
	return r.handlers[WildcardEventType]
}

func (r *Receiver) keyTTL() time.Duration {
	if r.KeyTTL > 0 {
		return r.KeyTTL
	}
	return DefaultKeyTTL
}

func (r *Receiver) maxBodyBytes() int64 {
	if r.MaxBodyBytes > 0 {
		return r.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

func normalizeEventType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func parseTimestamp(raw string) time.Time {
	millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
