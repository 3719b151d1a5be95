package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vaultline/treasury-backend/pkg/config"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

// HTTPGateway talks to the payment rail over its REST surface.
type HTTPGateway struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*HTTPGateway)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *HTTPGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// NewHTTPGateway builds the rail client from config.
func NewHTTPGateway(cfg config.GatewayConfig, opts ...Option) (*HTTPGateway, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gateway api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	g := &HTTPGateway{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *HTTPGateway) Collect(ctx context.Context, req CollectRequest) (*Result, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "collection source is required")
	}
	return g.post(ctx, "/collections", req)
}

func (g *HTTPGateway) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout destination is required")
	}
	return g.post(ctx, "/payouts", req)
}

func (g *HTTPGateway) Lookup(ctx context.Context, providerRef string) (*Result, error) {
	trimmed := strings.TrimSpace(providerRef)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider ref is required")
	}

	endpoint := fmt.Sprintf("%s/transactions/%s", g.baseURL, url.PathEscape(trimmed))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build lookup request")
	}
	g.setHeaders(httpReq)
	return g.do(httpReq, "lookup")
}

func (g *HTTPGateway) post(ctx context.Context, path string, body any) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal gateway request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	g.setHeaders(httpReq)
	return g.do(httpReq, strings.TrimPrefix(path, "/"))
}

func (g *HTTPGateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
}

func (g *HTTPGateway) do(req *http.Request, op string) (*Result, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, err, fmt.Sprintf("gateway %s timed out", op))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, fmt.Sprintf("gateway %s unreachable", op))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			fmt.Sprintf("gateway %s failed", op))
	case resp.StatusCode == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "gateway has no record of this movement")
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			fmt.Sprintf("gateway rejected %s", op))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	if result.ProviderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway response missing provider ref")
	}
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
