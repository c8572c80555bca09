// Package treadmill operates the single GATT session to a connected
// Kingsmith treadmill: subscribing to stats notifications, polling on a
// timer, watchdogging the link, and folding replies into the shared
// telemetry cell. See SPEC_FULL.md §4.3.
package treadmill

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/bleadapter"
	"github.com/kingsmith/ftms-bridge/internal/codec"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
)

// ErrLinkStale is surfaced exactly once when the watchdog trips: no
// StatsReply arrived within the configured window.
var ErrLinkStale = errors.New("treadmill: link stale, no stats reply within watchdog window")

// MetricsSink is the narrow observability seam the client reports through.
// Implemented by internal/metrics.Registry; kept as an interface here so
// this package never imports metrics.
type MetricsSink interface {
	IncCodecError()
	IncStatsReply(speedEncoding codec.SpeedEncoding)
}

type noopSink struct{}

func (noopSink) IncCodecError()                                  {}
func (noopSink) IncStatsReply(speedEncoding codec.SpeedEncoding) {}

// DisconnectCause is attached to the one Disconnected event a Client emits.
type DisconnectCause int

const (
	CauseRequested DisconnectCause = iota
	CauseLinkStale
	CauseLinkLost
)

// Event is emitted exactly once per Client, on its events channel, when the
// session ends for any reason.
type Event struct {
	Cause DisconnectCause
	Err   error
}

// Config bundles the tunables a Client needs beyond the adapter and
// telemetry cell.
type Config struct {
	StatsInterval time.Duration
	Logger        *slog.Logger
	Metrics       MetricsSink
}

// Client operates one GATT session for the lifetime of a single connected
// episode. A Client is single-use: once Disconnect is called (or the link
// is lost), construct a new one for the next episode.
type Client struct {
	session   *bleadapter.Session
	telemetry *telemetry.Cell
	cfg       Config

	watchdogTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan Event

	mu          sync.Mutex
	lastReplyAt time.Time
	stopped     bool
}

// Connect opens a GATT session to descriptor via adapter, subscribes to
// stats notifications, resets telemetry for the new episode, and starts the
// poll timer and watchdog. The returned channel receives exactly one Event
// before it is closed.
func Connect(ctx context.Context, adapter *bleadapter.Adapter, descriptor bleadapter.TreadmillDescriptor, cell *telemetry.Cell, cfg Config) (*Client, <-chan Event, error) {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 750 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopSink{}
	}

	session, err := adapter.ConnectCentral(ctx, descriptor)
	if err != nil {
		return nil, nil, err
	}

	cell.Reset()

	watchdog := 3 * cfg.StatsInterval
	if watchdog < 3*time.Second {
		watchdog = 3 * time.Second
	}

	c := &Client{
		session:         session,
		telemetry:       cell,
		cfg:             cfg,
		watchdogTimeout: watchdog,
		events:          make(chan Event, 1),
	}

	if err := session.Subscribe(c.onNotification); err != nil {
		_ = session.Disconnect()
		return nil, nil, err
	}

	c.mu.Lock()
	c.lastReplyAt = time.Now()
	c.mu.Unlock()

	var loopCtx context.Context
	loopCtx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(2)
	go c.pollLoop(loopCtx)
	go c.watchdogLoop(loopCtx)

	return c, c.events, nil
}

func (c *Client) onNotification(buf []byte) {
	reply := codec.DecodeFrame(buf)
	switch reply.Kind {
	case codec.ReplyStats:
		c.mu.Lock()
		c.lastReplyAt = time.Now()
		c.mu.Unlock()
		c.telemetry.ApplyStatsReply(reply, time.Now())
		c.cfg.Metrics.IncStatsReply(reply.SpeedEncoding)
	case codec.ReplyUnknown:
		c.cfg.Metrics.IncCodecError()
		c.cfg.Logger.Warn("dropped malformed treadmill frame", "len", len(buf))
	case codec.ReplyControl:
		// acknowledgement of a command write; nothing to fold into telemetry.
	}
}

func (c *Client) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()

	c.sendAskStats()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendAskStats()
		}
	}
}

func (c *Client) sendAskStats() {
	if err := c.session.WriteWithoutResponse(codec.EncodeAskStats()); err != nil {
		c.cfg.Logger.Warn("ask-stats write failed", "err", err)
	}
}

func (c *Client) watchdogLoop(ctx context.Context) {
	defer c.wg.Done()

	checkEvery := c.cfg.StatsInterval
	if checkEvery <= 0 {
		checkEvery = 250 * time.Millisecond
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := time.Since(c.lastReplyAt) > c.watchdogTimeout
			c.mu.Unlock()
			if stale {
				c.emitOnce(Event{Cause: CauseLinkStale, Err: ErrLinkStale})
				return
			}
		}
	}
}

// emitOnce sends ev on the events channel and closes it, tolerating being
// called more than once (only the first send wins).
func (c *Client) emitOnce(ev Event) {
	c.mu.Lock()
	already := c.stopped
	c.stopped = true
	c.mu.Unlock()

	if already {
		return
	}
	c.events <- ev
	close(c.events)
}

// Disconnect tears the session down: cancels the poll and watchdog
// goroutines, waits for them, disconnects the GATT session, and emits the
// Disconnected event exactly once. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	alreadyStopped := c.stopped
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	_ = c.session.Disconnect()

	if !alreadyStopped {
		c.emitOnce(Event{Cause: CauseRequested})
	}
}
