package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/bleadapter"
	"github.com/kingsmith/ftms-bridge/internal/ftms"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
	"github.com/kingsmith/ftms-bridge/internal/treadmill"
	"golang.org/x/sync/errgroup"
)

// ErrFacadeInvalidState is returned by a Supervisor command that does not
// apply to the current BridgeState, per SPEC_FULL.md §4.7. The state is left
// unchanged.
var ErrFacadeInvalidState = errors.New("bridge: command invalid in current state")

// uptimeReportInterval is how often the reactor loop refreshes the bridge
// uptime gauge while otherwise idle, per SPEC_FULL.md §4.10.
const uptimeReportInterval = 5 * time.Second

// MetricsSink is the narrow observability seam the supervisor reports state
// transitions through. Implemented by internal/metrics.Registry.
type MetricsSink interface {
	IncTransition(from, to Kind)
	SetUptime(seconds float64)
}

type noopMetricsSink struct{}

func (noopMetricsSink) IncTransition(Kind, Kind) {}
func (noopMetricsSink) SetUptime(float64)        {}

// Config bundles the Supervisor's tunables, mirroring the YAML Config in
// SPEC_FULL.md §3.
type Config struct {
	ScanInterval    time.Duration
	StatsInterval   time.Duration
	AutoMode        bool
	AutoStartBridge bool
	FTMSDeviceName  string
	Logger          *slog.Logger
	Metrics         MetricsSink
}

// Supervisor is the top-level bridge state machine of SPEC_FULL.md §4.6. All
// state transitions are executed by a single reactor goroutine (Run), so the
// invariant "no two transitions observed concurrently" holds by
// construction — the teacher's `App.Init` blocking main loop generalized
// from a time.Sleep poll into an event-driven select.
type Supervisor struct {
	adapter *bleadapter.Adapter
	cell    *telemetry.Cell
	cfg     Config

	jobs chan func()

	mu    sync.RWMutex
	state State

	client     *treadmill.Client
	clientCh   <-chan treadmill.Event
	ftmsServer *ftms.Server

	failureCount int
	startedAt    time.Time

	// protocolMismatchUntil denylists an address that failed service
	// discovery until the recorded time, per SPEC_FULL.md §7's "do not retry
	// same address for scan_interval_s × 4". Reactor-goroutine-only, like
	// every other unguarded field above.
	protocolMismatchUntil map[string]time.Time

	// fatalErr is set by handleScanOrConnectErr when a recovery path is
	// fatal (ErrAdapterUnavailable, ErrPermissionDenied) and is returned by
	// Run once the reactor loop unwinds.
	fatalErr error

	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New constructs a Supervisor in state Idle. Run must be called to start the
// reactor loop.
func New(adapter *bleadapter.Adapter, cell *telemetry.Cell, cfg Config) *Supervisor {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 750 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetricsSink{}
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Supervisor{
		adapter:               adapter,
		cell:                  cell,
		cfg:                   cfg,
		jobs:                  make(chan func()),
		state:                 idleState(),
		protocolMismatchUntil: make(map[string]time.Time),
		runDone:               make(chan struct{}),
		runCtx:                runCtx,
		runCancel:             runCancel,
	}
}

// Snapshot returns the current BridgeState. Safe for concurrent use; does
// not go through the reactor loop since reads never race a transition
// (transitions replace s.state wholesale under mu).
func (s *Supervisor) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run starts the reactor loop and blocks until ctx is cancelled or Shutdown
// is invoked. Run enters Scanning immediately when cfg.AutoMode is set.
func (s *Supervisor) Run(ctx context.Context) error {
	// runCtx/runCancel are fixed at construction (see New) so dispatch, which
	// reads them from other goroutines, never races a reassignment here;
	// Run just wires the caller's ctx to also cancel them.
	stop := context.AfterFunc(ctx, s.runCancel)
	defer stop()

	s.startedAt = time.Now()
	defer close(s.runDone)

	uptimeTicker := time.NewTicker(uptimeReportInterval)
	defer uptimeTicker.Stop()

	if s.cfg.AutoMode {
		s.transition(scanningState())
		s.beginScan()
	}

	for {
		select {
		case <-s.runCtx.Done():
			s.teardown()
			return s.fatalErr
		case job := <-s.jobs:
			job()
		case ev, ok := <-s.clientEventsOrNil():
			if !ok {
				continue
			}
			s.handleClientEvent(ev)
		case <-uptimeTicker.C:
			s.cfg.Metrics.SetUptime(s.UptimeSeconds())
		}
	}
}

// clientEventsOrNil returns the current client's event channel, or a nil
// channel (which blocks forever in select) when no client is connected.
func (s *Supervisor) clientEventsOrNil() <-chan treadmill.Event {
	if s.clientCh == nil {
		return nil
	}
	return s.clientCh
}

// dispatch enqueues fn onto the reactor loop and waits for it to run,
// returning fn's error. Used by every exported command so state mutation
// stays confined to the reactor goroutine, matching SPEC_FULL.md §5(a).
func (s *Supervisor) dispatch(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() { result <- fn() }

	select {
	case s.jobs <- job:
	case <-s.runCtx.Done():
		return fmt.Errorf("bridge: supervisor not running")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.cfg.Logger.Info("bridge state transition", "from", prev.Kind, "to", next.Kind, "episode", next.Episode)
	s.cfg.Metrics.IncTransition(prev.Kind, next.Kind)
}

// ScanOnce runs a single bounded scan and returns its candidates without
// altering BridgeState outside of auto mode's own Scanning state.
func (s *Supervisor) ScanOnce(ctx context.Context) ([]bleadapter.TreadmillDescriptor, error) {
	var found []bleadapter.TreadmillDescriptor
	err := s.dispatch(ctx, func() error {
		var scanErr error
		found, scanErr = s.adapter.Scan(s.runCtx, s.cfg.ScanInterval)
		return scanErr
	})
	return found, err
}

// beginScan runs a scan synchronously on the reactor goroutine and reacts to
// its outcome, looping Scanning→Scanning on an empty (or fully denylisted)
// result or advancing to Connecting on the first eligible candidate. Only
// called while holding the reactor.
func (s *Supervisor) beginScan() {
	found, err := s.adapter.Scan(s.runCtx, s.cfg.ScanInterval)
	if err != nil {
		s.cfg.Logger.Warn("scan failed", "err", err)
		s.handleScanOrConnectErr(err, "")
		return
	}
	candidate, ok := s.firstEligibleCandidate(found)
	if !ok {
		s.cfg.Logger.Debug("scan empty, retrying", "interval", s.cfg.ScanInterval)
		go s.reQueueScan()
		return
	}
	s.connectTo(candidate)
}

// firstEligibleCandidate returns the first scan result whose address is not
// under a protocol-mismatch denylist cooldown.
func (s *Supervisor) firstEligibleCandidate(found []bleadapter.TreadmillDescriptor) (bleadapter.TreadmillDescriptor, bool) {
	for _, d := range found {
		if !s.isDenylisted(d.Address) {
			return d, true
		}
	}
	return bleadapter.TreadmillDescriptor{}, false
}

// isDenylisted reports whether address is still inside its post-protocol-
// mismatch cooldown window, lazily evicting it once the cooldown elapses.
func (s *Supervisor) isDenylisted(address string) bool {
	until, ok := s.protocolMismatchUntil[address]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(s.protocolMismatchUntil, address)
		return false
	}
	return true
}

// reQueueScan re-enters the reactor loop after scan_interval_s to retry a
// Scanning→Scanning arc without blocking the reactor goroutine itself.
func (s *Supervisor) reQueueScan() {
	select {
	case <-time.After(s.cfg.ScanInterval):
	case <-s.runCtx.Done():
		return
	}
	select {
	case s.jobs <- func() {
		if s.Snapshot().Kind == Scanning {
			s.beginScan()
		}
	}:
	case <-s.runCtx.Done():
	}
}

func (s *Supervisor) connectTo(descriptor bleadapter.TreadmillDescriptor) {
	next := connectingState(descriptor.Address)
	s.transition(next)
	s.cell.Reset()

	clientMetrics, _ := s.cfg.Metrics.(treadmill.MetricsSink)
	client, events, err := treadmill.Connect(s.runCtx, s.adapter, descriptor, s.cell, treadmill.Config{
		StatsInterval: s.cfg.StatsInterval,
		Logger:        s.cfg.Logger.With("episode", next.Episode),
		Metrics:       clientMetrics,
	})
	if err != nil {
		s.cfg.Logger.Warn("connect failed", "address", descriptor.Address, "err", err)
		s.handleScanOrConnectErr(err, descriptor.Address)
		return
	}

	s.client = client
	s.clientCh = events
	s.transition(connectedState(descriptor.Address, next.Episode))

	if s.cfg.AutoStartBridge {
		s.startBridging()
	}
}

func (s *Supervisor) startBridging() {
	cur := s.Snapshot()
	if cur.Kind != Connected {
		return
	}
	if s.ftmsServer == nil {
		notifyMetrics, _ := s.cfg.Metrics.(ftms.NotifyMetrics)
		s.ftmsServer = ftms.New(s.adapter, s.cell, ftms.Config{
			DeviceName:    s.cfg.FTMSDeviceName,
			StatsInterval: s.cfg.StatsInterval,
			Logger:        s.cfg.Logger.With("episode", cur.Episode),
			Metrics:       notifyMetrics,
		})
	}
	if err := s.ftmsServer.Start(); err != nil {
		// ErrRoleConflict (adapter can't run central+peripheral at once) and
		// any other advertise failure both leave the supervisor in Connected
		// and simply refuse Bridging, per SPEC_FULL.md §7 — there's nothing
		// further to classify here.
		s.cfg.Logger.Warn("ftms start failed, staying connected", "err", err)
		return
	}
	s.transition(bridgingState(cur.Address, cur.Episode))
	s.failureCount = 0
}

func (s *Supervisor) stopBridging() {
	cur := s.Snapshot()
	if cur.Kind != Bridging {
		return
	}
	if s.ftmsServer != nil {
		s.ftmsServer.Stop()
	}
	s.transition(connectedState(cur.Address, cur.Episode))
}

// nextBackoff implements SPEC_FULL.md §4.6's reconnect backoff:
// min(30s, 1s × 2^n) where n is the consecutive failure count (1-indexed:
// the first failure yields 1s, not 0s).
func nextBackoff(failureCount int) time.Duration {
	seconds := math.Min(30, math.Pow(2, float64(failureCount-1)))
	return time.Duration(seconds * float64(time.Second))
}

func (s *Supervisor) scheduleRetry(kind ErrorKind) {
	s.failureCount++
	backoff := nextBackoff(s.failureCount)
	retryAt := time.Now().Add(backoff)
	s.transition(errorState(kind, retryAt))
	s.rescanAfter(backoff)
}

// rescanAfter re-enters Scanning after wait elapses and, in auto mode, starts
// a new scan, without blocking the reactor goroutine itself. Shared by the
// exponential backoff path (scheduleRetry) and the fixed protocol-mismatch
// cooldown.
func (s *Supervisor) rescanAfter(wait time.Duration) {
	go func() {
		select {
		case <-time.After(wait):
		case <-s.runCtx.Done():
			return
		}
		select {
		case s.jobs <- func() {
			s.transition(scanningState())
			if s.cfg.AutoMode {
				s.beginScan()
			}
		}:
		case <-s.runCtx.Done():
		}
	}()
}

// handleScanOrConnectErr classifies a Scan or treadmill.Connect failure per
// the taxonomy in SPEC_FULL.md §7 and drives the matching recovery path.
// address is the descriptor that failed to connect, or "" for a bare scan
// failure that isn't attributable to one device.
func (s *Supervisor) handleScanOrConnectErr(err error, address string) {
	switch {
	case errors.Is(err, bleadapter.ErrAdapterUnavailable), errors.Is(err, bleadapter.ErrPermissionDenied):
		s.cfg.Logger.Error("fatal adapter error, stopping supervisor", "err", err)
		s.fatalErr = err
		s.runCancel()

	case errors.Is(err, bleadapter.ErrProtocolMismatch):
		cooldown := 4 * s.cfg.ScanInterval
		retryAt := time.Now().Add(cooldown)
		if address != "" {
			s.protocolMismatchUntil[address] = retryAt
		}
		s.cfg.Logger.Warn("protocol mismatch, denylisting address", "address", address, "retry_at", retryAt)
		s.transition(errorState(ErrorProtocolMismatch, retryAt))
		s.rescanAfter(cooldown)

	default:
		s.scheduleRetry(ErrorConnectFail)
	}
}

func (s *Supervisor) handleClientEvent(ev treadmill.Event) {
	s.clientCh = nil
	s.client = nil

	cur := s.Snapshot()
	if s.ftmsServer != nil && cur.Kind == Bridging {
		s.ftmsServer.Stop()
	}

	switch ev.Cause {
	case treadmill.CauseRequested:
		if s.cfg.AutoMode {
			s.transition(scanningState())
			s.beginScan()
		} else {
			s.transition(idleState())
		}
	default: // CauseLinkStale, CauseLinkLost
		s.cfg.Logger.Warn("treadmill link lost", "cause", ev.Cause, "err", ev.Err)
		s.scheduleRetry(ErrorLinkLost)
	}
}

// Connect drives a manual-mode Scanning/Idle→Connecting arc to a known
// address discovered by a prior ScanOnce.
func (s *Supervisor) Connect(ctx context.Context, descriptor bleadapter.TreadmillDescriptor) error {
	return s.dispatch(ctx, func() error {
		cur := s.Snapshot()
		if cur.Kind != Idle && cur.Kind != Scanning && cur.Kind != ErrorState {
			return ErrFacadeInvalidState
		}
		s.connectTo(descriptor)
		return nil
	})
}

// Disconnect tears down the current treadmill session, if any, and returns
// to Scanning (auto mode) or Idle (manual mode).
func (s *Supervisor) Disconnect(ctx context.Context) error {
	return s.dispatch(ctx, func() error {
		cur := s.Snapshot()
		switch cur.Kind {
		case Connected, Bridging:
		default:
			return ErrFacadeInvalidState
		}
		if cur.Kind == Bridging {
			s.stopBridging()
		}
		if s.client != nil {
			s.client.Disconnect()
		}
		return nil
	})
}

// BridgeStart enters Bridging. Idempotent: a no-op success while already
// Bridging.
func (s *Supervisor) BridgeStart(ctx context.Context) error {
	return s.dispatch(ctx, func() error {
		cur := s.Snapshot()
		switch cur.Kind {
		case Bridging:
			return nil
		case Connected:
			s.startBridging()
			return nil
		default:
			return ErrFacadeInvalidState
		}
	})
}

// BridgeStop leaves Bridging for Connected. Idempotent: a no-op success
// while already Connected.
func (s *Supervisor) BridgeStop(ctx context.Context) error {
	return s.dispatch(ctx, func() error {
		cur := s.Snapshot()
		switch cur.Kind {
		case Connected:
			return nil
		case Bridging:
			s.stopBridging()
			return nil
		default:
			return ErrFacadeInvalidState
		}
	})
}

// UptimeSeconds reports wall-clock seconds since Run started, for the
// subscriber-visible uptime gauge in SPEC_FULL.md §4.10.
func (s *Supervisor) UptimeSeconds() float64 {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt).Seconds()
}

// teardown stops FTMS advertising, then disconnects the central session —
// each step tolerating prior failure — and enters Idle. It does not release
// the BLE adapter, which stays enabled.
func (s *Supervisor) teardown() {
	if s.ftmsServer != nil {
		s.ftmsServer.Stop()
	}
	if s.client != nil {
		s.client.Disconnect()
	}
	s.transition(idleState())
}

// Shutdown cancels the reactor loop and waits for teardown to finish, or
// for ctx to expire. Idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.runCancel != nil {
		s.runCancel()
	}
	select {
	case <-s.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunGroup is a convenience wrapper that runs the Supervisor inside an
// errgroup tied to ctx, so callers that also run an HTTP server (internal/
// httpapi) can shut both down through one cancellation, per SPEC_FULL.md
// §4.6's errgroup-managed goroutine set.
func RunGroup(ctx context.Context, s *Supervisor) (*errgroup.Group, context.Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.Run(groupCtx)
	})
	return group, groupCtx
}
