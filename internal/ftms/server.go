package ftms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/bleadapter"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
	"tinygo.org/x/bluetooth"
)

// NotifyMetrics is the narrow observability seam the server reports
// through. Implemented by internal/metrics.Registry.
type NotifyMetrics interface {
	IncNotification()
}

type noopNotifyMetrics struct{}

func (noopNotifyMetrics) IncNotification() {}

// Server publishes Treadmill Data notifications from a telemetry.Cell as a
// Fitness Machine Service peripheral, per SPEC_FULL.md §4.5.
type Server struct {
	adapter  *bleadapter.Adapter
	cell     *telemetry.Cell
	advName  string
	interval time.Duration
	logger   *slog.Logger
	metrics  NotifyMetrics

	treadmillDataChar bluetooth.Characteristic
	statusChar        bluetooth.Characteristic

	handle *bleadapter.AdvertiseHandle

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active bool
}

// Config bundles the tunables a Server needs beyond the adapter and cell.
type Config struct {
	DeviceName    string
	StatsInterval time.Duration
	Logger        *slog.Logger
	Metrics       NotifyMetrics
}

// New builds a Server bound to cell. Start must be called to begin
// advertising and publishing notifications.
func New(adapter *bleadapter.Adapter, cell *telemetry.Cell, cfg Config) *Server {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 750 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopNotifyMetrics{}
	}
	return &Server{
		adapter:  adapter,
		cell:     cell,
		advName:  cfg.DeviceName,
		interval: cfg.StatsInterval,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Start registers the FTMS GATT service tree, begins advertising, and
// starts the notification pump. May only be called while the bridge holds
// a connected treadmill episode (SPEC_FULL.md §3 invariant: FTMS may
// advertise only while BridgeState ∈ {Connected, Bridging}).
func (s *Server) Start() error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	serviceUUID := mustUUID(ServiceUUID)
	treadmillDataUUID := mustUUID(TreadmillDataUUID)
	featureUUID := mustUUID(FeatureUUID)
	statusUUID := mustUUID(StatusUUID)

	svc := &bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &s.treadmillDataChar,
				UUID:   treadmillDataUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:  featureUUID,
				Flags: bluetooth.CharacteristicReadPermission,
				Value: EncodeFeature(),
			},
			{
				Handle: &s.statusChar,
				UUID:   statusUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
		},
	}

	handle, err := s.adapter.StartPeripheral(svc, s.advName, []bluetooth.UUID{serviceUUID})
	if err != nil {
		return fmt.Errorf("ftms: start peripheral: %w", err)
	}
	s.handle = handle

	_, _ = s.statusChar.Write(StatusStartedOrResumed)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.notifyLoop(ctx)

	return nil
}

func (s *Server) notifyLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.cell.Snapshot()
			if snap.UpdatedAt.IsZero() {
				continue // no telemetry yet: suppress notifications per §4.5
			}
			if _, err := s.treadmillDataChar.Write(EncodeTreadmillData(snap)); err != nil {
				s.logger.Warn("ftms notify failed", "err", err)
				continue
			}
			s.metrics.IncNotification()
		}
	}
}

// Stop halts the notification pump and advertising. Idempotent. The GATT
// service tree itself stays registered, matching tinygo.org/x/bluetooth's
// lack of a RemoveService API; a subsequent Start registers a new one.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	_, _ = s.statusChar.Write(StatusStopped)

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.handle.Stop()
}

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}
