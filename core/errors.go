package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrAlreadyInstalled          = errors.New("core: integration already installed for tenant")
	ErrRateLimited               = errors.New("core: rate limit exceeded")
	ErrNoWebhookURL              = errors.New("core: NoWebhookUrl: installation has no webhook url")
	ErrMissingCredentials        = errors.New("core: missing credentials for auth method")
	ErrUnsupportedAuthMethod     = errors.New("core: unsupported auth method")
	ErrInstallationNotFound      = errors.New("core: installation not found")
	ErrIntegrationNotFound       = errors.New("core: integration not found")
	ErrEventNotFound             = errors.New("core: webhook event not found")
	ErrIntegrationNotInstallable = errors.New("core: integration is not installable")
	ErrInstallationNotCallable   = errors.New("core: installation is not callable")
	ErrCallFailed                = errors.New("core: outbound call failed")
	ErrDeliveryFailed            = errors.New("core: webhook delivery failed")
	ErrVersionConflict           = errors.New("core: installation version conflict")
)

const (
	ServiceErrorBadInput           = "MARKETPLACE_BAD_INPUT"
	ServiceErrorNotFound           = "MARKETPLACE_NOT_FOUND"
	ServiceErrorAlreadyInstalled   = "MARKETPLACE_ALREADY_INSTALLED"
	ServiceErrorRateLimited        = "MARKETPLACE_RATE_LIMITED"
	ServiceErrorNoWebhookURL       = "MARKETPLACE_NO_WEBHOOK_URL"
	ServiceErrorMissingCredentials = "MARKETPLACE_MISSING_CREDENTIALS"
	ServiceErrorNotInstallable     = "MARKETPLACE_NOT_INSTALLABLE"
	ServiceErrorNotCallable        = "MARKETPLACE_NOT_CALLABLE"
	ServiceErrorUnauthorized       = "MARKETPLACE_UNAUTHORIZED"
	ServiceErrorForbidden          = "MARKETPLACE_FORBIDDEN"
	ServiceErrorConflict           = "MARKETPLACE_CONFLICT"
	ServiceErrorOperationFailed    = "MARKETPLACE_OPERATION_FAILED"
	ServiceErrorExternalFailure    = "MARKETPLACE_EXTERNAL_FAILURE"
	ServiceErrorInternal           = "MARKETPLACE_INTERNAL_ERROR"
)

// serviceErrorConverter is implemented by package errors that know their own
// envelope, such as rate limit rejections carrying retry hints.
type serviceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

type sentinelMapping struct {
	target   error
	category goerrors.Category
	code     int
	textCode string
}

var sentinelMappings = []sentinelMapping{
	{ErrAlreadyInstalled, goerrors.CategoryConflict, http.StatusConflict, ServiceErrorAlreadyInstalled},
	{ErrRateLimited, goerrors.CategoryRateLimit, http.StatusTooManyRequests, ServiceErrorRateLimited},
	{ErrNoWebhookURL, goerrors.CategoryValidation, http.StatusUnprocessableEntity, ServiceErrorNoWebhookURL},
	{ErrMissingCredentials, goerrors.CategoryValidation, http.StatusUnprocessableEntity, ServiceErrorMissingCredentials},
	{ErrUnsupportedAuthMethod, goerrors.CategoryBadInput, http.StatusBadRequest, ServiceErrorBadInput},
	{ErrInstallationNotFound, goerrors.CategoryNotFound, http.StatusNotFound, ServiceErrorNotFound},
	{ErrIntegrationNotFound, goerrors.CategoryNotFound, http.StatusNotFound, ServiceErrorNotFound},
	{ErrEventNotFound, goerrors.CategoryNotFound, http.StatusNotFound, ServiceErrorNotFound},
	{ErrIntegrationNotInstallable, goerrors.CategoryOperation, http.StatusConflict, ServiceErrorNotInstallable},
	{ErrInstallationNotCallable, goerrors.CategoryOperation, http.StatusConflict, ServiceErrorNotCallable},
	{ErrInvalidInstallationStatusTransition, goerrors.CategoryBadInput, http.StatusBadRequest, ServiceErrorBadInput},
	{ErrInvalidIntegrationStatusTransition, goerrors.CategoryBadInput, http.StatusBadRequest, ServiceErrorBadInput},
	{ErrVersionConflict, goerrors.CategoryConflict, http.StatusConflict, ServiceErrorConflict},
	{ErrCallFailed, goerrors.CategoryExternal, http.StatusBadGateway, ServiceErrorExternalFailure},
	{ErrDeliveryFailed, goerrors.CategoryExternal, http.StatusBadGateway, ServiceErrorExternalFailure},
}

// MapError converts any error into a go-errors envelope with a marketplace
// text code. Rich errors keep their category and gain missing envelope fields.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var convertible serviceErrorConverter
	if errors.As(err, &convertible) {
		if mapped := convertible.ToServiceError(); mapped != nil {
			return ensureServiceErrorEnvelope(mapped)
		}
	}

	for _, mapping := range sentinelMappings {
		if errors.Is(err, mapping.target) {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return ensureServiceErrorEnvelope(richErr)
			}
			return goerrors.Wrap(err, mapping.category, err.Error()).
				WithCode(mapping.code).
				WithTextCode(mapping.textCode)
		}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

// wrapServiceError keeps the sentinel reachable through errors.Is while
// attaching the envelope the sentinel maps to.
func wrapServiceError(sentinel error, message string, metadata map[string]any) error {
	for _, mapping := range sentinelMappings {
		if mapping.target != sentinel {
			continue
		}
		err := goerrors.Wrap(sentinel, mapping.category, message).
			WithCode(mapping.code).
			WithTextCode(mapping.textCode)
		if len(metadata) > 0 {
			err.WithMetadata(metadata)
		}
		return err
	}
	return sentinel
}

// ServiceFailure wraps source, which may be nil, in an envelope. A zero code
// or empty text code takes the category default.
func ServiceFailure(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	if code > 0 {
		err = err.WithCode(code)
	}
	if strings.TrimSpace(textCode) != "" {
		err = err.WithTextCode(textCode)
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return ensureServiceErrorEnvelope(err)
}

// FieldError reports one invalid message field.
func FieldError(scope string, field string, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ServiceErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// MissingDependency reports a handler built without the service it fronts.
func MissingDependency(message string) *goerrors.Error {
	return ServiceFailure(nil, goerrors.CategoryInternal, message, http.StatusInternalServerError, ServiceErrorInternal, nil)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth:
		return ServiceErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ServiceErrorForbidden
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryOperation:
		return ServiceErrorOperationFailed
	case goerrors.CategoryExternal:
		return ServiceErrorExternalFailure
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
