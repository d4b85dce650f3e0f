package audio

import (
	"fmt"
	"math/bits"
)

const microsPerSecond = 1_000_000

// TicksToMicros converts media time units to microseconds, rounding toward
// negative infinity.
func TicksToMicros(ticks int64, timescale uint32) int64 {
	if timescale == 0 {
		return 0
	}
	return floorDiv(mulDiv(ticks, microsPerSecond), int64(timescale))
}

// MicrosToTicks converts microseconds to media time units, rounding toward
// positive infinity. For timescales up to one million it is the exact inverse
// of TicksToMicros: MicrosToTicks(TicksToMicros(t, ts), ts) == t.
func MicrosToTicks(us int64, timescale uint32) int64 {
	if timescale == 0 {
		return 0
	}
	return ceilDiv(mulDiv(us, int64(timescale)), microsPerSecond)
}

// mulDiv multiplies a by b, saturating instead of wrapping on overflow
func mulDiv(a, b int64) int64 {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(abs(a)), uint64(abs(b))
	hi, lo := bits.Mul64(ua, ub)
	if hi != 0 || lo > 1<<63-1 {
		if neg {
			return -1 << 63
		}
		return 1<<63 - 1
	}
	if neg {
		return -int64(lo)
	}
	return int64(lo)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}

// Timestamp is a wall-clock position rendered as HH:MM:SS.mmm
type Timestamp struct {
	Hours        int
	Minutes      int
	Seconds      int
	Milliseconds int
}

// TimestampFromMicros splits a microsecond offset into its clock fields.
// Negative offsets clamp to zero.
func TimestampFromMicros(us int64) Timestamp {
	if us < 0 {
		us = 0
	}
	ms := us / 1000
	return Timestamp{
		Hours:        int(ms / 3_600_000),
		Minutes:      int(ms / 60_000 % 60),
		Seconds:      int(ms / 1000 % 60),
		Milliseconds: int(ms % 1000),
	}
}

// String returns the timestamp in HH:MM:SS.mmm format
func (t Timestamp) String() string {
	return fmt.Sprintf("%02d:%02d:%02d.%03d", t.Hours, t.Minutes, t.Seconds, t.Milliseconds)
}

// TotalMillis returns the timestamp as total milliseconds
func (t Timestamp) TotalMillis() int64 {
	return int64(t.Hours)*3_600_000 + int64(t.Minutes)*60_000 + int64(t.Seconds)*1000 + int64(t.Milliseconds)
}
