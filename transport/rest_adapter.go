package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

const (
	KindREST    = "rest"
	KindWebhook = "webhook"

	HeaderIdempotencyKey = "Idempotency-Key"
	DefaultUserAgent     = "go-marketplace"
)

const defaultRESTClientTimeout = 30 * time.Second

const (
	defaultRESTResponseBodyLimit    int64 = 10 << 20
	defaultWebhookResponseBodyLimit int64 = 64 << 10
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter sends gateway calls and webhook deliveries over HTTP. Non-2xx
// statuses are returned as responses; only transport failures are errors.
type RESTAdapter struct {
	kind                 string
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		kind:                 KindREST,
		Client:               client,
		DefaultHeaders:       map[string]string{"User-Agent": DefaultUserAgent},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

// NewWebhookAdapter posts signed JSON to subscriber endpoints. Only the
// status of the reply matters, so its body is capped low.
func NewWebhookAdapter(client HTTPDoer) *RESTAdapter {
	adapter := NewRESTAdapter(client)
	adapter.kind = KindWebhook
	adapter.DefaultHeaders["Content-Type"] = "application/json"
	adapter.MaxResponseBodyBytes = defaultWebhookResponseBodyLimit
	return adapter
}

func (a *RESTAdapter) Kind() string {
	if a == nil || strings.TrimSpace(a.kind) == "" {
		return KindREST
	}
	return a.kind
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, core.ServiceFailure(nil,
			goerrors.CategoryInternal,
			"transport: rest adapter requires an http client",
			http.StatusInternalServerError,
			"",
			map[string]any{"adapter": a.Kind()},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	meta := map[string]any{"adapter": a.Kind(), "method": httpReq.Method, "url": httpReq.URL.String()}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, core.ServiceFailure(err,
			goerrors.CategoryExternal, "transport: execute http request", http.StatusBadGateway, "", meta)
	}
	defer httpRes.Body.Close()

	body, err := a.readBody(httpRes, req.MaxResponseBodyBytes)
	if err != nil {
		return core.TransportResponse{}, err
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"kind":        a.Kind(),
		},
	}, nil
}

// newRequest resolves the url with merged query values and applies default
// headers before per-call ones.
func (a *RESTAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, core.ServiceFailure(nil,
			goerrors.CategoryBadInput, "transport: request url is required", http.StatusBadRequest, "",
			map[string]any{"adapter": a.Kind()})
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, core.ServiceFailure(err,
			goerrors.CategoryBadInput, "transport: invalid request url", http.StatusBadRequest, "",
			map[string]any{"adapter": a.Kind(), "url": rawURL})
	}
	if len(req.Query) > 0 {
		values := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = values.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, core.ServiceFailure(err,
			goerrors.CategoryBadInput, "transport: create http request", http.StatusBadRequest, "",
			map[string]any{"adapter": a.Kind(), "method": method, "url": target.String()})
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)
	if key := strings.TrimSpace(req.Idempotency); key != "" && httpReq.Header.Get(HeaderIdempotencyKey) == "" {
		httpReq.Header.Set(HeaderIdempotencyKey, key)
	}
	return httpReq, nil
}

func (a *RESTAdapter) readBody(res *http.Response, requestLimit int64) ([]byte, error) {
	limit := requestLimit
	if limit <= 0 {
		limit = a.MaxResponseBodyBytes
	}
	if limit <= 0 {
		limit = defaultRESTResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, core.ServiceFailure(err,
			goerrors.CategoryExternal, "transport: read response body", http.StatusBadGateway, "",
			map[string]any{"adapter": a.Kind(), "status_code": res.StatusCode})
	}
	if int64(len(body)) > limit {
		return nil, core.ServiceFailure(nil,
			goerrors.CategoryExternal,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			http.StatusBadGateway,
			"",
			map[string]any{"adapter": a.Kind(), "status_code": res.StatusCode, "limit_bytes": limit},
		)
	}
	return body, nil
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
