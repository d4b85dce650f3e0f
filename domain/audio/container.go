package audio

// SourceOpener opens source containers for demuxing.
// This is a port that can be implemented by different infrastructure adapters
type SourceOpener interface {
	// OpenSource parses the container at path and enumerates its tracks
	OpenSource(path string) (Source, error)
}

// Source is an open source container. It is owned by a single goroutine.
type Source interface {
	// Tracks returns the container's tracks in ascending index order
	Tracks() []Track
	// SelectTrack pins the reader to one track; samples of other tracks are never returned
	SelectTrack(index int) error
	// ReadSample copies the next sample of the selected track into buf.
	// It returns io.EOF once the track is exhausted, and an error wrapping
	// ErrSampleTooLarge when the sample does not fit into buf.
	ReadSample(buf []byte) (Sample, error)
	// Advance moves past the sample returned by the last successful ReadSample
	Advance() error
	// Close releases the container; subsequent calls are no-ops
	Close() error
}

// SinkOpener creates destination containers for muxing.
// This is a port that can be implemented by different infrastructure adapters
type SinkOpener interface {
	// CreateSink creates (or truncates) the container at path
	CreateSink(path string) (Sink, error)
}

// Sink is an open destination container holding exactly one track.
type Sink interface {
	// AddTrack declares the output track and returns its index
	AddTrack(track Track) (int, error)
	// Start ends track declaration; samples may be written afterwards
	Start() error
	// WriteSample appends one sample to the declared track
	WriteSample(trackIndex int, sample Sample) error
	// Stop finalizes the container so the file becomes a standalone playable asset
	Stop() error
	// Close releases the container; subsequent calls are no-ops
	Close() error
}

// FileSystem provides the file checks the extraction pipeline needs
type FileSystem interface {
	// Exists returns true if a regular file exists at path
	Exists(path string) bool
	// Size returns the size of the file at path in bytes
	Size(path string) (int64, error)
	// EnsureDir creates dir and any missing parents
	EnsureDir(dir string) error
	// SameFile reports whether a and b both exist and name the same file
	SameFile(a, b string) bool
}
