package codec

import "testing"

func TestEncodeAskStats(t *testing.T) {
	frame := EncodeAskStats()
	want := []byte{0xF7, 0xA2, 0x00, 0x00, 0xA2, 0xFD}
	if len(frame) != len(want) {
		t.Fatalf("EncodeAskStats() = % X, want % X", frame, want)
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Fatalf("EncodeAskStats() = % X, want % X", frame, want)
		}
	}

	reply := DecodeFrame(frame)
	if reply.Kind != ReplyControl {
		t.Fatalf("DecodeFrame(EncodeAskStats()) kind = %v, want ReplyControl", reply.Kind)
	}
	if reply.Opcode != OpcodeStats {
		t.Fatalf("DecodeFrame(EncodeAskStats()) opcode = %#x, want %#x", reply.Opcode, OpcodeStats)
	}
}

func TestDecodeFrameChecksum(t *testing.T) {
	frame := []byte{0xF7, 0xA2, 0x01, 0x02, 0x03, 0xA8, 0xFD}
	reply := DecodeFrame(frame)
	if reply.Kind == ReplyUnknown {
		t.Fatalf("DecodeFrame(%x) = Unknown, want a valid decode", frame)
	}

	corrupted := append([]byte(nil), frame...)
	corrupted[5] = 0xA9
	if DecodeFrame(corrupted).Kind != ReplyUnknown {
		t.Fatalf("DecodeFrame with corrupted checksum did not yield Unknown")
	}
}

func TestDecodeFrameSingleByteFlipMostlyUnknown(t *testing.T) {
	frame := []byte{0xF7, 0xA2, 0x01, 0x02, 0x03, 0xA8, 0xFD}

	flips := 0
	total := 0
	for i := 1; i < len(frame)-1; i++ { // skip the sync bytes at 0 and len-1
		for delta := 1; delta < 256; delta++ {
			total++
			corrupted := append([]byte(nil), frame...)
			corrupted[i] ^= byte(delta)
			if DecodeFrame(corrupted).Kind == ReplyUnknown {
				flips++
			}
		}
	}

	// almost every single-byte flip breaks the checksum; only a handful
	// of (position, delta) pairs can coincidentally preserve it.
	ratio := float64(flips) / float64(total)
	if ratio < 0.99 {
		t.Fatalf("flip-detection ratio too low: %f", ratio)
	}
}

func TestDecodeFrameMalformedNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0xF7},
		{0xF7, 0xFD},
		{0x00, 0x00, 0x00, 0x00},
		make([]byte, 16),
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("DecodeFrame(%v) panicked: %v", in, r)
				}
			}()
			reply := DecodeFrame(in)
			if len(in) < 4 && reply.Kind != ReplyUnknown {
				t.Fatalf("DecodeFrame(%v) = %v, want Unknown", in, reply.Kind)
			}
		}()
	}
}

func TestDecodeStatsReplyOneByteSpeed(t *testing.T) {
	payload := []byte{
		0x01,             // belt state: running
		0x22,             // speed: 3.4 km/h
		0x00, 0x00, 0x7B, // distance: 123 decameters -> 1230 m
		0x3C, 0x00, // elapsed: 60s
	}
	frame := encodeFrame(OpcodeStats, payload)
	reply := DecodeFrame(frame)

	if reply.Kind != ReplyStats {
		t.Fatalf("Kind = %v, want ReplyStats", reply.Kind)
	}
	if reply.SpeedEncoding != SpeedEncodingOneByte {
		t.Fatalf("SpeedEncoding = %v, want SpeedEncodingOneByte", reply.SpeedEncoding)
	}
	if reply.BeltState != BeltStateRunning {
		t.Fatalf("BeltState = %v, want Running", reply.BeltState)
	}
	if reply.SpeedKmh != 3.4 {
		t.Fatalf("SpeedKmh = %v, want 3.4", reply.SpeedKmh)
	}
	if reply.DistanceM != 1230 {
		t.Fatalf("DistanceM = %v, want 1230", reply.DistanceM)
	}
	if reply.ElapsedS != 60 {
		t.Fatalf("ElapsedS = %v, want 60", reply.ElapsedS)
	}
}

func TestDecodeStatsReplyTwoByteSpeed(t *testing.T) {
	payload := []byte{
		0x00,             // belt state: idle
		0x96, 0x00,       // speed: 15.0 km/h (150 deci-km/h, big payload variant)
		0x00, 0x00, 0x0A, // distance: 10 decameters -> 100 m
		0x05, 0x00, // elapsed: 5s
	}
	frame := encodeFrame(OpcodeStats, payload)
	reply := DecodeFrame(frame)

	if reply.Kind != ReplyStats {
		t.Fatalf("Kind = %v, want ReplyStats", reply.Kind)
	}
	if reply.SpeedEncoding != SpeedEncodingTwoByte {
		t.Fatalf("SpeedEncoding = %v, want SpeedEncodingTwoByte", reply.SpeedEncoding)
	}
	if reply.SpeedKmh != 15.0 {
		t.Fatalf("SpeedKmh = %v, want 15.0", reply.SpeedKmh)
	}
	if reply.DistanceM != 100 {
		t.Fatalf("DistanceM = %v, want 100", reply.DistanceM)
	}
}
