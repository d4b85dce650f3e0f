package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultBufferSize is the default capacity of the sample transfer buffer (1 MiB)
const DefaultBufferSize = 1 << 20

// DefaultOutputExtension is the file extension used when deriving an output path
const DefaultOutputExtension = "m4a"

// Request represents a request to extract the audio track of a source container
type Request struct {
	SourcePath string
	DestPath   string
	// BufferSize caps the size of a single sample; larger samples fail the extraction
	BufferSize int
}

// NewRequest creates a new Request with validation. A zero bufferSize selects
// DefaultBufferSize.
func NewRequest(sourcePath, destPath string, bufferSize int) (*Request, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, fmt.Errorf("source path is required")
	}
	if strings.TrimSpace(destPath) == "" {
		return nil, fmt.Errorf("destination path is required")
	}
	if bufferSize < 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", bufferSize)
	}
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}

	return &Request{
		SourcePath: sourcePath,
		DestPath:   destPath,
		BufferSize: bufferSize,
	}, nil
}

// DestDir returns the directory that will hold the destination file
func (r *Request) DestDir() string {
	return filepath.Dir(r.DestPath)
}

// DefaultOutputPath derives an output path in outputDir named after the
// source file's stem, e.g. "/videos/talk.mp4" -> "<outputDir>/talk.m4a".
// When that would be the source itself, "-audio" is appended to the stem.
func DefaultOutputPath(sourcePath, outputDir, ext string) string {
	if ext == "" {
		ext = DefaultOutputExtension
	}
	ext = strings.TrimPrefix(ext, ".")

	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if outputDir == "" {
		outputDir = filepath.Dir(sourcePath)
	}
	out := filepath.Join(outputDir, stem+"."+ext)
	if samePath(out, sourcePath) {
		out = filepath.Join(outputDir, stem+"-audio."+ext)
	}
	return out
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
