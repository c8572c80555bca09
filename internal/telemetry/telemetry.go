// Package telemetry holds the single shared record of the treadmill's
// current state: a single-writer, multi-reader cell that is never observed
// torn, per SPEC_FULL.md §4.4.
package telemetry

import (
	"sync"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/codec"
)

// BeltState is the belt state as surfaced to readers (client/Facade/FTMS).
type BeltState = codec.BeltState

const (
	BeltStateIdle    = codec.BeltStateIdle
	BeltStateRunning = codec.BeltStateRunning
	BeltStatePaused  = codec.BeltStatePaused
	BeltStateUnknown = codec.BeltStateUnknown
)

// Snapshot is an immutable copy of the telemetry record at a point in time.
type Snapshot struct {
	SpeedKmh      float64
	DistanceM     int
	ElapsedS      int
	BeltState     BeltState
	SpeedEncoding codec.SpeedEncoding
	UpdatedAt     time.Time
}

// EffectiveBeltState maps BeltStateUnknown onto running/idle by the
// instantaneous speed, per SPEC_FULL.md §4.3.
func (s Snapshot) EffectiveBeltState() BeltState {
	if s.BeltState != BeltStateUnknown {
		return s.BeltState
	}
	if s.SpeedKmh > 0 {
		return BeltStateRunning
	}
	return BeltStateIdle
}

// Cell is the concurrency-safe telemetry record. The zero value is ready to
// use and reads as an empty Snapshot (UpdatedAt.IsZero()).
type Cell struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Reset clears the cell back to its zero snapshot. Called on every
// transition into a new Connecting episode so a stale session's counters
// never leak into the next one.
func (c *Cell) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{}
}

// Snapshot returns a full copy of the current record. Safe for concurrent
// use by any number of readers.
func (c *Cell) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// ApplyStatsReply folds a decoded codec.Reply (Kind == ReplyStats) into the
// cell, clamping distance and elapsed time so they never decrease within a
// session — duplicate or out-of-order replies are accepted as no-ops rather
// than rejected.
func (c *Cell) ApplyStatsReply(r codec.Reply, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.SpeedKmh = r.SpeedKmh
	c.snap.BeltState = r.BeltState
	c.snap.SpeedEncoding = r.SpeedEncoding
	if r.DistanceM > c.snap.DistanceM {
		c.snap.DistanceM = r.DistanceM
	}
	if r.ElapsedS > c.snap.ElapsedS {
		c.snap.ElapsedS = r.ElapsedS
	}
	c.snap.UpdatedAt = now
}
