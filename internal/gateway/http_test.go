package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/vaultline/treasury-backend/pkg/config"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestGateway(t *testing.T, rt roundTripFunc) *HTTPGateway {
	t.Helper()
	gw, err := NewHTTPGateway(config.GatewayConfig{
		BaseURL: "http://rail.test/v1",
		APIKey:  "rail-key",
		Timeout: time.Second,
	}, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestPayoutSendsAuthAndBody(t *testing.T) {
	var capturedURL string
	var capturedAuth string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")

		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		var payload PayoutRequest
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if payload.Destination != "254700123456" || payload.AmountCents != 5000 {
			t.Fatalf("unexpected payload %+v", payload)
		}

		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"provider_ref":"pay_1","status":"pending"}`)),
			Header:     http.Header{},
		}, nil
	})
	gw := newTestGateway(t, rt)

	result, err := gw.Payout(context.Background(), PayoutRequest{
		Destination: "254700123456",
		AmountCents: 5000,
		Currency:    "KES",
		Reference:   "wd-1",
	})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if capturedURL != "http://rail.test/v1/payouts" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedAuth != "Bearer rail-key" {
		t.Fatalf("unexpected auth header %q", capturedAuth)
	}
	if result.ProviderRef != "pay_1" || result.Status != StatusPending {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestLookupEscapesRef(t *testing.T) {
	var capturedURL string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"provider_ref":"col 9","status":"settled"}`)),
			Header:     http.Header{},
		}, nil
	})
	gw := newTestGateway(t, rt)

	result, err := gw.Lookup(context.Background(), "col 9")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if capturedURL != "http://rail.test/v1/transactions/col%209" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if result.Status != StatusSettled {
		t.Fatalf("unexpected status %s", result.Status)
	}
}

func TestServerErrorMapsToGatewayUnavailable(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader(`upstream down`)),
			Header:     http.Header{},
		}, nil
	})
	gw := newTestGateway(t, rt)

	_, err := gw.Collect(context.Background(), CollectRequest{
		Source:      "254700123456",
		AmountCents: 100,
		Currency:    "KES",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable got %v", err)
	}
}

func TestTimeoutMapsToTimeout(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})
	gw := newTestGateway(t, rt)

	_, err := gw.Payout(context.Background(), PayoutRequest{
		Destination: "254700123456",
		AmountCents: 100,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeTimeout) {
		t.Fatalf("expected timeout got %v", err)
	}
}

func TestClientRejectsBadStatus(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnprocessableEntity,
			Body:       io.NopCloser(strings.NewReader(`{"error":"insufficient float"}`)),
			Header:     http.Header{},
		}, nil
	})
	gw := newTestGateway(t, rt)

	_, err := gw.Payout(context.Background(), PayoutRequest{
		Destination: "254700123456",
		AmountCents: 100,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error got %v", err)
	}
}

func TestLookupNotFound(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(``)),
			Header:     http.Header{},
		}, nil
	})
	gw := newTestGateway(t, rt)

	_, err := gw.Lookup(context.Background(), "missing")
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}
