package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandlersHealthz(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	handler := NewHealthHandlers(
		WithHealthClock(func() time.Time { return current }),
		WithHealthVersion("1.4.2", "production"),
	)
	current = base.Add(90 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "1.4.2" || resp["environment"] != "production" {
		t.Fatalf("unexpected payload %#v", resp)
	}
	if resp["uptime"] != "1m30s" {
		t.Fatalf("unexpected uptime %v", resp["uptime"])
	}
}

func TestHealthHandlersReadyzAllProbesPass(t *testing.T) {
	handler := NewHealthHandlers(
		WithReadinessProbe("firestore", func(context.Context) error { return nil }),
		WithReadinessProbe("redis", func(context.Context) error { return nil }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ready" || resp.Checks["firestore"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Fatalf("unexpected payload %#v", resp)
	}
}

func TestHealthHandlersReadyzFailingProbe(t *testing.T) {
	handler := NewHealthHandlers(
		WithReadinessProbe("firestore", func(context.Context) error { return nil }),
		WithReadinessProbe("pubsub", func(context.Context) error { return errors.New("broker unreachable") }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "unavailable" || resp.Checks["pubsub"] != "broker unreachable" {
		t.Fatalf("unexpected payload %#v", resp)
	}
}
