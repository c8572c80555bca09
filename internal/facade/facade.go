// Package facade exposes the Control Facade of SPEC_FULL.md §4.7: the
// thread-safe snapshot + command surface the HTTP control surface and the
// CLI are built against, so neither collaborator touches the Supervisor or
// the BLE adapter directly.
package facade

import (
	"context"

	"github.com/kingsmith/ftms-bridge/internal/bleadapter"
	"github.com/kingsmith/ftms-bridge/internal/bridge"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
)

// Snapshot is the read-only view the Facade returns, combining BridgeState
// with the current telemetry and FTMS-advertising flag.
type Snapshot struct {
	State      bridge.State
	Telemetry  telemetry.Snapshot
	FTMSActive bool
	UptimeSecs float64
}

// Facade wraps a running Supervisor. Every method is safe for concurrent
// use by multiple HTTP handlers and the CLI's status command.
type Facade struct {
	supervisor *bridge.Supervisor
	cell       *telemetry.Cell
}

// New wraps supervisor and cell. The Supervisor must already have Run
// started (typically by the caller's own errgroup, via bridge.RunGroup).
func New(supervisor *bridge.Supervisor, cell *telemetry.Cell) *Facade {
	return &Facade{supervisor: supervisor, cell: cell}
}

// Snapshot returns the current bridge state, telemetry, and FTMS advertising
// flag. State and telemetry are read under separate locks, one after the
// other, so they are not one atomic read.
func (f *Facade) Snapshot() Snapshot {
	state := f.supervisor.Snapshot()
	return Snapshot{
		State:      state,
		Telemetry:  f.cell.Snapshot(),
		FTMSActive: state.Kind == bridge.Bridging,
		UptimeSecs: f.supervisor.UptimeSeconds(),
	}
}

// ScanOnce runs a single bounded scan for treadmill candidates.
func (f *Facade) ScanOnce(ctx context.Context) ([]bleadapter.TreadmillDescriptor, error) {
	return f.supervisor.ScanOnce(ctx)
}

// Connect drives the bridge into Connecting/Connected for descriptor.
// Returns bridge.ErrFacadeInvalidState if the bridge isn't in a state that
// accepts a manual connect (e.g. already Connected elsewhere).
func (f *Facade) Connect(ctx context.Context, descriptor bleadapter.TreadmillDescriptor) error {
	return f.supervisor.Connect(ctx, descriptor)
}

// Disconnect tears down the current treadmill session, if any.
func (f *Facade) Disconnect(ctx context.Context) error {
	return f.supervisor.Disconnect(ctx)
}

// BridgeStart begins FTMS advertising over the current treadmill session.
// Idempotent while already Bridging.
func (f *Facade) BridgeStart(ctx context.Context) error {
	return f.supervisor.BridgeStart(ctx)
}

// BridgeStop halts FTMS advertising, returning to Connected. Idempotent
// while already Connected.
func (f *Facade) BridgeStop(ctx context.Context) error {
	return f.supervisor.BridgeStop(ctx)
}

// Shutdown stops the Supervisor's reactor loop, which stops FTMS advertising
// and disconnects the treadmill; the BLE adapter is not released.
// Idempotent.
func (f *Facade) Shutdown(ctx context.Context) error {
	return f.supervisor.Shutdown(ctx)
}
