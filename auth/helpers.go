package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

var errNilAuthRequest = errors.New("auth: request is required")

// firstNonEmpty returns the first value that is not blank, trimmed.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// normalizeValues trims and sorts permission scopes and drops blanks and
// case-insensitive repeats. The first spelling seen is kept.
func normalizeValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || slices.ContainsFunc(out, func(kept string) bool { return strings.EqualFold(kept, value) }) {
			continue
		}
		out = append(out, value)
	}
	slices.Sort(out)
	return out
}

func requireRequest(req *core.AuthRequest) error {
	if req == nil {
		return errNilAuthRequest
	}
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	return nil
}

func missingCredentials(method core.AuthMethod, field string, installationID string) error {
	return fmt.Errorf("%w: %s installation %q has no %s", core.ErrMissingCredentials, method, installationID, field)
}
