package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

var (
	ErrSecretRequired    = errors.New("webhooks: signing secret is required")
	ErrSignatureMismatch = errors.New("webhooks: signature verification failed")
	ErrTimestampSkew     = errors.New("webhooks: timestamp outside tolerance")
)

// envelope is the canonical document the signature covers. Field order is
// fixed by the struct.
type envelope struct {
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Signer computes hex HMAC-SHA256 signatures with a shared secret. The request
// body is the compact payload JSON; the signature covers the envelope built
// from the event id, type, body and timestamp.
type Signer struct {
	Secret string
}

func NewSigner(secret string) *Signer {
	return &Signer{Secret: strings.TrimSpace(secret)}
}

func (s *Signer) Sign(event core.WebhookEvent, timestamp time.Time) (string, []byte, error) {
	if s == nil || strings.TrimSpace(s.Secret) == "" {
		return "", nil, ErrSecretRequired
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("webhooks: encode payload for event %s: %w", event.ID, err)
	}
	signature, err := Signature(s.Secret, event.ID, event.Type, body, timestamp.UnixMilli())
	if err != nil {
		return "", nil, err
	}
	return signature, body, nil
}

// Signature returns the hex signature over the canonical envelope.
func Signature(secret string, eventID string, eventType string, body []byte, timestampMillis int64) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", ErrSecretRequired
	}
	raw := json.RawMessage(body)
	if len(strings.TrimSpace(string(body))) == 0 {
		raw = json.RawMessage("null")
	}
	canonical, err := json.Marshal(envelope{
		EventID:   eventID,
		Type:      eventType,
		Payload:   raw,
		Timestamp: timestampMillis,
	})
	if err != nil {
		return "", fmt.Errorf("webhooks: encode signing envelope: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a received delivery against the shared secret.
func Verify(secret string, headers http.Header, body []byte) error {
	return Verifier{Secret: secret}.Verify(headers, body)
}

// Verifier checks signatures on the receiving side. A positive Tolerance
// rejects deliveries whose timestamp is too far from Now.
type Verifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func (v Verifier) Verify(headers http.Header, body []byte) error {
	signature := strings.TrimSpace(headers.Get(core.HeaderWebhookSignature))
	if signature == "" {
		return fmt.Errorf("webhooks: %s header is required", core.HeaderWebhookSignature)
	}
	rawTimestamp := strings.TrimSpace(headers.Get(core.HeaderWebhookTimestamp))
	timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: invalid %s header %q", core.HeaderWebhookTimestamp, rawTimestamp)
	}
	if v.Tolerance > 0 {
		now := time.Now()
		if v.Now != nil {
			now = v.Now()
		}
		skew := now.Sub(time.UnixMilli(timestamp))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.Tolerance {
			return fmt.Errorf("%w: skew %s", ErrTimestampSkew, skew)
		}
	}

	expected, err := Signature(
		v.Secret,
		strings.TrimSpace(headers.Get(core.HeaderWebhookEventID)),
		strings.TrimSpace(headers.Get(core.HeaderWebhookEvent)),
		body,
		timestamp,
	)
	if err != nil {
		return err
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("webhooks: decode hex signature: %w", err)
	}
	expectedBytes, _ := hex.DecodeString(expected)
	if subtle.ConstantTimeCompare(decoded, expectedBytes) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

var _ core.WebhookSigner = (*Signer)(nil)
