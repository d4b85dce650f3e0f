package audio

import (
	"fmt"
	"sort"
	"strings"
)

// MIMEPrefixAudio is the MIME type prefix shared by all audio elementary streams
const MIMEPrefixAudio = "audio/"

// Track describes one elementary stream within a container.
// Tracks are immutable once discovered.
type Track struct {
	// Index is the zero-based position of the track within its container
	Index int
	// ID is the container-level track identifier
	ID uint32
	// MIME is the stream type, e.g. "audio/mp4a-latm" or "video/avc"
	MIME string
	// Codec is the container's codec tag (for ISO-BMFF the sample entry fourcc)
	Codec string
	// Timescale is the number of media time units per second
	Timescale uint32
	// DurationUs is the media duration in microseconds
	DurationUs int64
	// Language is an ISO-639-2/T code, "und" when unknown
	Language     string
	ChannelCount int
	SampleRate   int
	SampleCount  int
	// Config holds the codec parameters exactly as the source container stores
	// them. Sinks copy it verbatim and never reinterpret it.
	Config []byte
}

// IsAudio reports whether the track carries an audio stream
func (t Track) IsAudio() bool {
	return strings.HasPrefix(t.MIME, MIMEPrefixAudio)
}

// String returns a short human-readable summary of the track
func (t Track) String() string {
	return fmt.Sprintf("#%d %s (%s)", t.Index, t.MIME, t.Codec)
}

// SelectAudioTrack returns the first track, in ascending index order, whose
// MIME type begins with the audio prefix.
func SelectAudioTrack(tracks []Track) (Track, error) {
	if len(tracks) == 0 {
		return Track{}, fmt.Errorf("%w: container reports zero tracks", ErrNoAudioTrack)
	}

	ordered := make([]Track, len(tracks))
	copy(ordered, tracks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	for _, t := range ordered {
		if t.IsAudio() {
			return t, nil
		}
	}
	return Track{}, fmt.Errorf("%w: scanned %d tracks", ErrNoAudioTrack, len(tracks))
}
