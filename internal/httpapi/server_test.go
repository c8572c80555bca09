package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/bridge"
	"github.com/kingsmith/ftms-bridge/internal/facade"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
)

func newTestFacade(t *testing.T) *facade.Facade {
	t.Helper()
	cell := &telemetry.Cell{}
	sv := bridge.New(nil, cell, bridge.Config{
		AutoMode: false,
		Logger:   slog.New(slog.NewTextHandler(discard{}, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("supervisor did not stop")
		}
	})

	return facade.New(sv, cell)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleStatusReturnsIdle(t *testing.T) {
	s := New(newTestFacade(t), "127.0.0.1:0", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["state"] != "idle" {
		t.Fatalf("state = %v, want %q", body["state"], "idle")
	}
}

func TestHandleDisconnectInIdleReturnsConflict(t *testing.T) {
	s := New(newTestFacade(t), "127.0.0.1:0", nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/disconnect", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestHandleConnectRejectsMissingAddress(t *testing.T) {
	s := New(newTestFacade(t), "127.0.0.1:0", nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/connect", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	s := New(newTestFacade(t), "127.0.0.1:0", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
