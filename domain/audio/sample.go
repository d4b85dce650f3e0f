package audio

import "strings"

// SampleFlags carries per-sample attributes
type SampleFlags uint32

const (
	// FlagSync marks a sample that can be decoded without earlier samples
	FlagSync SampleFlags = 1 << iota
	// FlagCodecConfig marks a sample carrying codec configuration instead of media data
	FlagCodecConfig
	// FlagEndOfStream marks the terminal sample of a stream
	FlagEndOfStream
)

// Has reports whether all bits of flag are set
func (f SampleFlags) Has(flag SampleFlags) bool {
	return f&flag == flag
}

func (f SampleFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	if f.Has(FlagSync) {
		names = append(names, "sync")
	}
	if f.Has(FlagCodecConfig) {
		names = append(names, "codec-config")
	}
	if f.Has(FlagEndOfStream) {
		names = append(names, "eos")
	}
	return strings.Join(names, "|")
}

// Sample is one unit of compressed media data. Data aliases the caller's
// transfer buffer and is only valid until the next read.
type Sample struct {
	Data []byte
	Size int
	// PresentationTimeUs is the render time relative to stream start
	PresentationTimeUs int64
	// DecodeTimeUs is non-decreasing within a track
	DecodeTimeUs int64
	DurationUs   int64
	Flags        SampleFlags

	// DescriptionIndex is the 1-based sample entry in Track.Config the
	// sample is coded with; 0 means the first entry
	DescriptionIndex uint32
}

// Payload returns the valid bytes of the sample
func (s Sample) Payload() []byte {
	return s.Data[:s.Size]
}
