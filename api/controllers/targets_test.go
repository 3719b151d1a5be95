package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/internal/scheduler"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

type testTargetsService struct {
	setFn func(ctx context.Context, input scheduler.TargetInput) (*models.Target, error)
	getFn func(ctx context.Context, kind enums.TargetKind) (*models.Target, error)
}

func (s *testTargetsService) Set(ctx context.Context, input scheduler.TargetInput) (*models.Target, error) {
	if s.setFn != nil {
		return s.setFn(ctx, input)
	}
	return nil, nil
}

func (s *testTargetsService) Get(ctx context.Context, kind enums.TargetKind) (*models.Target, error) {
	if s.getFn != nil {
		return s.getFn(ctx, kind)
	}
	return nil, nil
}

func TestSetTargetSuccess(t *testing.T) {
	actorID := uuid.NewString()
	svc := &testTargetsService{
		setFn: func(ctx context.Context, input scheduler.TargetInput) (*models.Target, error) {
			if input.Kind != enums.TargetKindProfitTransfer {
				t.Fatalf("unexpected kind %q", input.Kind)
			}
			if input.AmountCents != 500000 {
				t.Fatalf("unexpected amount %d", input.AmountCents)
			}
			if !input.ActorIsAuthority {
				t.Fatal("authority flag not forwarded")
			}
			return &models.Target{ID: uuid.New(), Kind: input.Kind, AmountCents: input.AmountCents, SetBy: actorID}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/targets/profit_transfer", strings.NewReader(`{"amount_cents":500000,"note":"raise the sweep floor"}`))
	ctx := middleware.WithActorID(req.Context(), actorID)
	ctx = middleware.WithAuthority(ctx, true)
	req = req.WithContext(ctx)
	req = addRouteParam(req, "kind", "profit_transfer")
	resp := httptest.NewRecorder()

	SetTarget(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data models.Target `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.AmountCents != 500000 {
		t.Fatalf("unexpected amount %d", envelope.Data.AmountCents)
	}
}

func TestSetTargetAllowsZeroAmount(t *testing.T) {
	called := false
	svc := &testTargetsService{
		setFn: func(ctx context.Context, input scheduler.TargetInput) (*models.Target, error) {
			called = true
			if input.AmountCents != 0 {
				t.Fatalf("unexpected amount %d", input.AmountCents)
			}
			return &models.Target{ID: uuid.New(), Kind: input.Kind}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/targets/daily_trade", strings.NewReader(`{"amount_cents":0}`))
	req = addRouteParam(req, "kind", "daily_trade")
	resp := httptest.NewRecorder()

	SetTarget(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if !called {
		t.Fatal("expected service called")
	}
}

func TestSetTargetRejectsNegativeAmount(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/targets/daily_trade", strings.NewReader(`{"amount_cents":-100}`))
	req = addRouteParam(req, "kind", "daily_trade")
	resp := httptest.NewRecorder()
	SetTarget(&testTargetsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSetTargetRejectsUnknownKind(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/targets/vacation_fund", strings.NewReader(`{"amount_cents":100}`))
	req = addRouteParam(req, "kind", "vacation_fund")
	resp := httptest.NewRecorder()
	SetTarget(&testTargetsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetTargetSuccess(t *testing.T) {
	svc := &testTargetsService{
		getFn: func(ctx context.Context, kind enums.TargetKind) (*models.Target, error) {
			if kind != enums.TargetKindReserveFloor {
				t.Fatalf("unexpected kind %q", kind)
			}
			return &models.Target{ID: uuid.New(), Kind: kind, AmountCents: 2_000_000}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets/reserve_floor", nil)
	req = addRouteParam(req, "kind", "reserve_floor")
	resp := httptest.NewRecorder()

	GetTarget(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestGetTargetNotFound(t *testing.T) {
	svc := &testTargetsService{
		getFn: func(ctx context.Context, kind enums.TargetKind) (*models.Target, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "target not set")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets/reserve_floor", nil)
	req = addRouteParam(req, "kind", "reserve_floor")
	resp := httptest.NewRecorder()

	GetTarget(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
