package core

import (
	"slices"
	"strings"
)

const RedactedValue = "[REDACTED]"

// RedactSensitiveMap masks credential-looking keys at any depth. Identifier
// keys used to correlate logs are always kept.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

// RedactInstallation returns a copy safe to hand to callers outside the
// service: stored credentials are masked, the webhook url and settings are not.
func RedactInstallation(in Installation) Installation {
	out := cloneInstallation(in)
	out.Config.APIKey = redactString(out.Config.APIKey)
	out.Config.APISecret = redactString(out.Config.APISecret)
	out.Config.AccessToken = redactString(out.Config.AccessToken)
	out.Config.RefreshToken = redactString(out.Config.RefreshToken)
	if len(out.Config.Settings) > 0 {
		out.Config.Settings = redactSensitiveMap(out.Config.Settings)
	}
	return out
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if isSensitiveKey(key) {
			target[key] = RedactedValue
		} else {
			target[key] = redactNested(value)
		}
	}
	return target
}

func redactNested(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, redactNested(item))
		}
		return out
	}
	return value
}

var (
	sensitiveKeyFragments = []string{
		"password", "secret", "token", "authorization", "api_key",
		"apikey", "refresh", "credential", "signature",
	}
	correlationKeys = []string{
		"installation_id", "integration_id", "tenant_id", "event_id",
		"event_type", "idempotency_key", "trace_id", "request_id",
	}
)

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || slices.Contains(correlationKeys, key) {
		return false
	}
	return slices.ContainsFunc(sensitiveKeyFragments, func(fragment string) bool {
		return strings.Contains(key, fragment)
	})
}
