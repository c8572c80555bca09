package telemetry

import (
	"testing"
	"time"

	"github.com/kingsmith/ftms-bridge/internal/codec"
)

func TestCellZeroValueIsEmpty(t *testing.T) {
	var c Cell
	snap := c.Snapshot()
	if !snap.UpdatedAt.IsZero() {
		t.Fatalf("zero Cell snapshot has non-zero UpdatedAt: %v", snap.UpdatedAt)
	}
}

func TestCellClampsDecreasingValues(t *testing.T) {
	var c Cell
	now := time.Now()

	c.ApplyStatsReply(codec.Reply{DistanceM: 100, ElapsedS: 50}, now)
	c.ApplyStatsReply(codec.Reply{DistanceM: 40, ElapsedS: 10}, now.Add(time.Second))

	snap := c.Snapshot()
	if snap.DistanceM != 100 {
		t.Fatalf("DistanceM = %d, want clamped at 100", snap.DistanceM)
	}
	if snap.ElapsedS != 50 {
		t.Fatalf("ElapsedS = %d, want clamped at 50", snap.ElapsedS)
	}
}

func TestCellResetClearsCounters(t *testing.T) {
	var c Cell
	c.ApplyStatsReply(codec.Reply{DistanceM: 500, ElapsedS: 200}, time.Now())
	c.Reset()

	snap := c.Snapshot()
	if snap.DistanceM != 0 || snap.ElapsedS != 0 {
		t.Fatalf("Reset() left snapshot %+v, want zero", snap)
	}
}

func TestEffectiveBeltState(t *testing.T) {
	cases := []struct {
		name string
		snap Snapshot
		want BeltState
	}{
		{"explicit running passthrough", Snapshot{BeltState: BeltStateRunning}, BeltStateRunning},
		{"unknown with speed maps to running", Snapshot{BeltState: BeltStateUnknown, SpeedKmh: 1.2}, BeltStateRunning},
		{"unknown with zero speed maps to idle", Snapshot{BeltState: BeltStateUnknown, SpeedKmh: 0}, BeltStateIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.snap.EffectiveBeltState(); got != tc.want {
				t.Fatalf("EffectiveBeltState() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCellMonotonicAcrossManyUpdates(t *testing.T) {
	var c Cell
	now := time.Now()
	maxDist, maxElapsed := 0, 0
	for i, d := range []int{10, 30, 5, 80, 80, 20, 100} {
		c.ApplyStatsReply(codec.Reply{DistanceM: d, ElapsedS: d}, now.Add(time.Duration(i)*time.Second))
		if d > maxDist {
			maxDist = d
		}
		if d > maxElapsed {
			maxElapsed = d
		}
		snap := c.Snapshot()
		if snap.DistanceM != maxDist {
			t.Fatalf("after update %d: DistanceM = %d, want %d", i, snap.DistanceM, maxDist)
		}
		if snap.ElapsedS != maxElapsed {
			t.Fatalf("after update %d: ElapsedS = %d, want %d", i, snap.ElapsedS, maxElapsed)
		}
	}
}
