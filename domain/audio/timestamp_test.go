package audio

import "testing"

func TestTicksToMicros(t *testing.T) {
	tests := []struct {
		ticks     int64
		timescale uint32
		want      int64
	}{
		{0, 44100, 0},
		{44100, 44100, 1_000_000},
		{1024, 44100, 23219},
		{1024, 48000, 21333},
		{-1024, 48000, -21334},
		{90000, 90000, 1_000_000},
		{5, 0, 0},
	}

	for _, tt := range tests {
		if got := TicksToMicros(tt.ticks, tt.timescale); got != tt.want {
			t.Errorf("TicksToMicros(%d, %d) = %d, want %d", tt.ticks, tt.timescale, got, tt.want)
		}
	}
}

func TestMicrosToTicks_InvertsTicksToMicros(t *testing.T) {
	timescales := []uint32{1000, 8000, 22050, 44100, 48000, 90000, 96000, 192000, 1_000_000}

	for _, ts := range timescales {
		for _, ticks := range []int64{0, 1, 2, 1023, 1024, 1025, 44099, 1 << 20, 1<<32 + 7, -1, -1024} {
			us := TicksToMicros(ticks, ts)
			if back := MicrosToTicks(us, ts); back != ticks {
				t.Errorf("timescale %d: ticks %d -> %dus -> %d", ts, ticks, us, back)
			}
		}
	}
}

func TestMicrosToTicks_Saturates(t *testing.T) {
	got := MicrosToTicks(1<<62, 1_000_000)
	if got <= 0 {
		t.Errorf("MicrosToTicks overflowed to %d", got)
	}
}

func TestTimestampFromMicros(t *testing.T) {
	tests := []struct {
		us   int64
		want string
	}{
		{0, "00:00:00.000"},
		{-5, "00:00:00.000"},
		{1_500_000, "00:00:01.500"},
		{3_723_004_000, "01:02:03.004"},
	}

	for _, tt := range tests {
		ts := TimestampFromMicros(tt.us)
		if got := ts.String(); got != tt.want {
			t.Errorf("TimestampFromMicros(%d).String() = %q, want %q", tt.us, got, tt.want)
		}
	}

	if got := TimestampFromMicros(3_723_004_000).TotalMillis(); got != 3_723_004 {
		t.Errorf("TotalMillis() = %d, want 3723004", got)
	}
}
