package security

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	envelopePrefix    = "marketplace.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

var errNotEnvelope = errors.New("security: value is not a sealed envelope")

// envelope is the JSON document stored after envelopePrefix. Data holds the
// GCM nonce followed by the sealed bytes.
type envelope struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
	Data      string `json:"data"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// IsEnvelope reports whether value carries the sealed credential prefix.
func IsEnvelope(value []byte) bool {
	return bytes.HasPrefix(value, []byte(envelopePrefix))
}

// ParseEnvelopeMetadata reads the key id, version and algorithm of a sealed
// value without decrypting it.
func ParseEnvelopeMetadata(value []byte) (EnvelopeMetadata, error) {
	env, err := openEnvelope(value)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm}, nil
}

// additionalData binds the key identity into the GCM tag so an envelope cannot
// be relabelled to another key version.
func (e envelope) additionalData() []byte {
	return []byte(e.KeyID + ":" + strconv.Itoa(e.Version))
}

func (e envelope) payload() ([]byte, error) {
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(e.Data))
	if err != nil {
		return nil, fmt.Errorf("security: decode envelope data: %w", err)
	}
	return raw, nil
}

func sealEnvelope(env envelope, payload []byte) ([]byte, error) {
	env.Data = base64.RawStdEncoding.EncodeToString(payload)
	doc, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), doc...), nil
}

func openEnvelope(value []byte) (envelope, error) {
	rest, ok := bytes.CutPrefix(value, []byte(envelopePrefix))
	if !ok {
		return envelope{}, errNotEnvelope
	}
	var env envelope
	if err := json.Unmarshal(rest, &env); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	env.KeyID = strings.TrimSpace(env.KeyID)
	env.Algorithm = strings.ToLower(strings.TrimSpace(env.Algorithm))
	if env.Algorithm == "" {
		env.Algorithm = envelopeAlgorithm
	}
	if strings.TrimSpace(env.Data) == "" {
		return envelope{}, errors.New("security: envelope data is required")
	}
	return env, nil
}
