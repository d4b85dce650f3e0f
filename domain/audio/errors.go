package audio

import "errors"

// Extraction failure taxonomy. Every pipeline failure wraps exactly one of these.
var (
	// ErrSourceNotFound is returned when the source path does not reference an existing file
	ErrSourceNotFound = errors.New("source file not found")

	// ErrNoAudioTrack is returned when the source container has no audio stream
	ErrNoAudioTrack = errors.New("no audio track in source container")

	// ErrSampleTooLarge is returned when a single sample exceeds the transfer buffer
	ErrSampleTooLarge = errors.New("sample exceeds transfer buffer")

	// ErrContainerOpen is returned when a source or destination container cannot be opened
	ErrContainerOpen = errors.New("failed to open container")

	// ErrContainerRead is returned when reading a sample from the source container fails
	ErrContainerRead = errors.New("failed to read container")

	// ErrContainerWrite is returned when declaring the track or writing a sample fails
	ErrContainerWrite = errors.New("failed to write container")

	// ErrContainerFinalize is returned when the destination container cannot be finalized
	ErrContainerFinalize = errors.New("failed to finalize container")

	// ErrUnspecified covers any other fault, including a failing progress sink
	ErrUnspecified = errors.New("unspecified extraction failure")

	// ErrExtractionFailed is the uniform outcome reported at the invocation boundary
	ErrExtractionFailed = errors.New("extraction failed")
)

// Container state errors reported by Source and Sink implementations.
var (
	ErrNoTrackSelected       = errors.New("no track selected")
	ErrTrackIndexOutOfRange  = errors.New("track index out of range")
	ErrTrackAlreadyDeclared  = errors.New("a track has already been declared")
	ErrNoTrackDeclared       = errors.New("no track declared")
	ErrSinkStarted           = errors.New("sink already started")
	ErrSinkNotStarted        = errors.New("sink not started")
	ErrSinkStopped           = errors.New("sink already stopped")
	ErrNonMonotonicTimestamp = errors.New("decode timestamp went backwards")
	ErrInvalidSample         = errors.New("invalid sample")
	ErrHandleClosed          = errors.New("container handle closed")
	ErrDestinationIsSource   = errors.New("destination is the source file")
)

var taxonomy = []struct {
	err  error
	kind string
}{
	{ErrSourceNotFound, "source_not_found"},
	{ErrNoAudioTrack, "no_audio_track"},
	{ErrSampleTooLarge, "sample_too_large"},
	{ErrContainerOpen, "container_open"},
	{ErrContainerRead, "container_read"},
	{ErrContainerWrite, "container_write"},
	{ErrContainerFinalize, "container_finalize"},
	{ErrUnspecified, "unspecified"},
}

// Classify returns the taxonomy kind of err, or "unspecified" when err
// wraps none of the taxonomy sentinels. A nil error classifies as "".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.kind
		}
	}
	return "unspecified"
}

// IsClassified reports whether err already wraps a taxonomy sentinel.
func IsClassified(err error) bool {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return true
		}
	}
	return false
}
