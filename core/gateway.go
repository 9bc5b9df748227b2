package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type CallRequest struct {
	InstallationID string
	Endpoint       string
	Method         string
	Body           []byte
	Headers        map[string]string
	Query          map[string]string
}

type CallResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Latency    time.Duration
}

type callOptions struct {
	timeout     time.Duration
	rateLimited bool
	accounting  bool
}

// Call performs one authenticated request against the integration's API on
// behalf of an installation. Rate limiting runs first; a rejected permit never
// reaches the network. Calls are not retried.
func (s *Service) Call(ctx context.Context, req CallRequest) (res CallResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"installation_id": strings.TrimSpace(req.InstallationID),
		"endpoint":        strings.TrimSpace(req.Endpoint),
	}
	defer func() {
		fields["status_code"] = res.StatusCode
		s.observeOperation(ctx, startedAt, "call", err, fields)
	}()

	inst, integration, err := s.loadCallTarget(ctx, req.InstallationID)
	if err != nil {
		return CallResponse{}, err
	}
	fields["integration_id"] = integration.ID
	fields["auth_method"] = string(integration.AuthMethod.Normalize())

	return s.call(ctx, inst, integration, req, callOptions{
		timeout:     s.config.Gateway.Timeout,
		rateLimited: true,
		accounting:  true,
	})
}

func (s *Service) loadCallTarget(ctx context.Context, installationID string) (Installation, Integration, error) {
	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, Integration{}, s.mapError(err)
	}
	if s.installations == nil || s.catalog == nil {
		return Installation{}, Integration{}, dependencyError("core: installation store and integration catalog are required")
	}
	inst, err := s.installations.Get(ctx, id)
	if err != nil {
		return Installation{}, Integration{}, s.mapError(err)
	}
	if inst.Status == InstallationStatusUninstalled || inst.Status == InstallationStatusPaused {
		return Installation{}, Integration{}, s.mapError(wrapServiceError(
			ErrInstallationNotCallable,
			fmt.Sprintf("core: installation %q is %s", inst.ID, inst.Status),
			map[string]any{"installation_id": inst.ID, "status": string(inst.Status)},
		))
	}
	integration, err := s.catalog.GetIntegration(ctx, inst.IntegrationID)
	if err != nil {
		return Installation{}, Integration{}, s.mapError(err)
	}
	return inst, integration, nil
}

func (s *Service) call(
	ctx context.Context,
	inst Installation,
	integration Integration,
	req CallRequest,
	opts callOptions,
) (CallResponse, error) {
	if s.transport == nil {
		return CallResponse{}, dependencyError("core: transport adapter is required")
	}
	if s.authResolver == nil {
		return CallResponse{}, dependencyError("core: auth strategy resolver is required")
	}
	if opts.rateLimited {
		if s.rateLimiter == nil {
			return CallResponse{}, dependencyError("core: rate limiter is required")
		}
		if _, err := s.rateLimiter.Consume(ctx, inst.ID); err != nil {
			return CallResponse{}, s.mapError(err)
		}
	}

	strategy, err := s.authResolver.Resolve(integration.AuthMethod)
	if err != nil {
		return CallResponse{}, s.mapError(err)
	}
	authReq := &AuthRequest{
		Installation: inst,
		Integration:  integration,
		Headers:      http.Header{},
		Now:          s.clock(),
	}
	if err := strategy.Apply(ctx, authReq); err != nil {
		return CallResponse{}, s.mapError(err)
	}

	headers := copyStringMap(req.Headers)
	for key := range authReq.Headers {
		headers[key] = authReq.Headers.Get(key)
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	timeout := opts.timeout
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	startedAt := time.Now()
	transportRes, callErr := s.transport.Do(callCtx, TransportRequest{
		Method:  method,
		URL:     JoinEndpoint(integration.BaseURL, req.Endpoint),
		Headers: headers,
		Query:   req.Query,
		Body:    req.Body,
		Timeout: timeout,
		Metadata: map[string]any{
			"installation_id": inst.ID,
			"integration_id":  integration.ID,
		},
	})
	latency := time.Since(startedAt)
	res := CallResponse{
		StatusCode: transportRes.StatusCode,
		Headers:    transportRes.Headers,
		Body:       transportRes.Body,
		Latency:    latency,
	}

	if callErr == nil && !isSuccessStatus(transportRes.StatusCode) {
		callErr = wrapServiceError(
			ErrCallFailed,
			fmt.Sprintf("core: integration responded with status %d", transportRes.StatusCode),
			map[string]any{"installation_id": inst.ID, "status_code": transportRes.StatusCode},
		)
	}
	if callErr != nil {
		if opts.accounting {
			if _, recordErr := s.RecordError(ctx, inst.ID, callErr); recordErr != nil {
				s.logWarn(ctx, "call error accounting failed", map[string]any{
					"installation_id": inst.ID,
					"error":           recordErr.Error(),
				})
			}
		}
		return res, s.mapError(callErr)
	}

	if opts.accounting {
		delta := UsageDelta{Calls: 1, Bytes: int64(len(transportRes.Body)), Latency: latency}
		if _, recordErr := s.RecordUsage(ctx, inst.ID, delta); recordErr != nil {
			s.logWarn(ctx, "call usage accounting failed", map[string]any{
				"installation_id": inst.ID,
				"error":           recordErr.Error(),
			})
		}
	}
	return res, nil
}

// JoinEndpoint resolves an endpoint against the integration base url. Absolute
// endpoints are returned unchanged.
func JoinEndpoint(baseURL string, endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if endpoint == "" {
		return baseURL
	}
	return baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
