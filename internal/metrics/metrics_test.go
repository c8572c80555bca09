package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kingsmith/ftms-bridge/internal/bridge"
	"github.com/kingsmith/ftms-bridge/internal/codec"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var total float64
	for m := range ch {
		var msg dto.Metric
		if err := m.Write(&msg); err != nil {
			t.Fatalf("Write metric: %v", err)
		}
		if msg.Counter != nil {
			total += msg.Counter.GetValue()
		}
	}
	return total
}

func TestIncCodecError(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.IncCodecError()
	reg.IncCodecError()
	if got := counterValue(t, reg.codecErrors); got != 2 {
		t.Fatalf("codecErrors = %v, want 2", got)
	}
}

func TestIncStatsReplyLabelsByEncoding(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.IncStatsReply(codec.SpeedEncodingOneByte)
	reg.IncStatsReply(codec.SpeedEncodingTwoByte)
	reg.IncStatsReply(codec.SpeedEncodingOneByte)

	if got := counterValue(t, reg.statsReplies); got != 3 {
		t.Fatalf("statsReplies total = %v, want 3", got)
	}
	if got := counterValue(t, reg.statsReplies.WithLabelValues("one_byte")); got != 2 {
		t.Fatalf("statsReplies{speed_encoding=one_byte} = %v, want 2", got)
	}
	if got := counterValue(t, reg.statsReplies.WithLabelValues("two_byte")); got != 1 {
		t.Fatalf("statsReplies{speed_encoding=two_byte} = %v, want 1", got)
	}
}

func TestIncTransitionLabelsByFromTo(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.IncTransition(bridge.Idle, bridge.Scanning)
	reg.IncTransition(bridge.Scanning, bridge.Connecting)

	if got := counterValue(t, reg.stateTransitions); got != 2 {
		t.Fatalf("stateTransitions total = %v, want 2", got)
	}
	if got := counterValue(t, reg.stateTransitions.WithLabelValues("idle", "scanning")); got != 1 {
		t.Fatalf("stateTransitions{from=idle,to=scanning} = %v, want 1", got)
	}
	if got := counterValue(t, reg.stateTransitions.WithLabelValues("scanning", "connecting")); got != 1 {
		t.Fatalf("stateTransitions{from=scanning,to=connecting} = %v, want 1", got)
	}
}

func TestSetUptimeOverwritesNotAccumulates(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.SetUptime(10)
	reg.SetUptime(25)

	ch := make(chan prometheus.Metric, 4)
	reg.bridgeUptime.Collect(ch)
	close(ch)

	var msg dto.Metric
	m := <-ch
	if err := m.Write(&msg); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := msg.Gauge.GetValue(); got != 25 {
		t.Fatalf("bridgeUptime = %v, want 25", got)
	}
}
