// Package ftms publishes treadmill telemetry as a Bluetooth SIG Fitness
// Machine Service (0x1826) peripheral, per SPEC_FULL.md §4.5.
package ftms

import "github.com/kingsmith/ftms-bridge/internal/telemetry"

const (
	// ServiceUUID is the Fitness Machine Service (FTMS).
	ServiceUUID = "00001826-0000-1000-8000-00805f9b34fb"
	// TreadmillDataUUID is the Treadmill Data characteristic (notify).
	TreadmillDataUUID = "00002acd-0000-1000-8000-00805f9b34fb"
	// FeatureUUID is the Fitness Machine Feature characteristic (read).
	FeatureUUID = "00002acc-0000-1000-8000-00805f9b34fb"
	// StatusUUID is the Fitness Machine Status characteristic (notify).
	StatusUUID = "00002ada-0000-1000-8000-00805f9b34fb"
)

const maxDistanceMeters = 1<<24 - 1 // uint24 clamp per SPEC_FULL.md §4.5

// featureFlags is the Fitness Machine Feature bitfield: Average Speed (bit
// 0), Total Distance (bit 2), Elapsed Time (bit 14). All other bits are 0.
const featureFlags uint32 = 1<<0 | 1<<2 | 1<<14

// Status bytes for the Fitness Machine Status characteristic.
var (
	StatusStartedOrResumed = []byte{0x04}
	StatusStopped          = []byte{0x02}
)

// EncodeFeature returns the Fitness Machine Feature characteristic value:
// a pair of little-endian uint32s (feature flags, target setting flags —
// the latter always 0 since this bridge exposes no control point).
func EncodeFeature() []byte {
	buf := make([]byte, 8)
	putUint32LE(buf[0:4], featureFlags)
	putUint32LE(buf[4:8], 0)
	return buf
}

// EncodeTreadmillData builds the Treadmill Data notification payload for
// snap, per the layout in SPEC_FULL.md §4.5:
//
//	[Flags: uint16][Instantaneous Speed: uint16 0.01 km/h]
//	[Total Distance: uint24 meters][Elapsed Time: uint16 seconds]
func EncodeTreadmillData(snap telemetry.Snapshot) []byte {
	const (
		flagTotalDistancePresent = 1 << 2
		flagElapsedTimePresent   = 1 << 8
	)
	flags := uint16(flagTotalDistancePresent | flagElapsedTimePresent)

	speedHundredths := uint16(clampUint(int(snap.SpeedKmh*100), 0xFFFF))
	distance := clampUint(snap.DistanceM, maxDistanceMeters)
	elapsed := uint16(clampUint(snap.ElapsedS, 0xFFFF))

	buf := make([]byte, 9)
	putUint16LE(buf[0:2], flags)
	putUint16LE(buf[2:4], speedHundredths)
	putUint24LE(buf[4:7], distance)
	putUint16LE(buf[7:9], elapsed)
	return buf
}

func clampUint(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func putUint16LE(dst []byte, v uint16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

func putUint24LE(dst []byte, v int) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

func putUint32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
