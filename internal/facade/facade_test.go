package facade

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/bridge"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
)

func newRunningFacade(t *testing.T) (*Facade, context.CancelFunc) {
	t.Helper()
	cell := &telemetry.Cell{}
	sv := bridge.New(nil, cell, bridge.Config{
		AutoMode: false,
		Logger:   slog.New(slog.NewTextHandler(discardWriter{}, nil)),
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

	return New(sv, cell), cancel
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSnapshotReflectsIdleState(t *testing.T) {
	f, _ := newRunningFacade(t)
	snap := f.Snapshot()
	if snap.State.Kind != bridge.Idle {
		t.Fatalf("State.Kind = %v, want Idle", snap.State.Kind)
	}
	if snap.FTMSActive {
		t.Fatalf("FTMSActive = true in Idle, want false")
	}
}

func TestDisconnectInIdleReturnsInvalidState(t *testing.T) {
	f, _ := newRunningFacade(t)
	err := f.Disconnect(context.Background())
	if !errors.Is(err, bridge.ErrFacadeInvalidState) {
		t.Fatalf("Disconnect() in Idle = %v, want ErrFacadeInvalidState", err)
	}
}

func TestBridgeStopInIdleReturnsInvalidState(t *testing.T) {
	f, _ := newRunningFacade(t)
	err := f.BridgeStop(context.Background())
	if !errors.Is(err, bridge.ErrFacadeInvalidState) {
		t.Fatalf("BridgeStop() in Idle = %v, want ErrFacadeInvalidState", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	f, _ := newRunningFacade(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := f.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() = %v, want nil", err)
	}
	if err := f.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() = %v, want nil (idempotent)", err)
	}
}
