package filesystem

import (
	"fmt"
	"os"

	"audio-extract/domain/audio"
)

// Checker implements audio.FileSystem using the os package
type Checker struct {
	dirMode os.FileMode
}

// NewChecker creates a new filesystem checker
func NewChecker() *Checker {
	return &Checker{dirMode: 0o755}
}

// Exists returns true if a regular file exists at path
func (c *Checker) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size of the file in bytes
func (c *Checker) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// EnsureDir creates dir and any missing parents
func (c *Checker) EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, c.dirMode); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// SameFile reports whether a and b both exist and refer to the same file,
// including through hard links and symlinks
func (c *Checker) SameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// Ensure Checker implements audio.FileSystem
var _ audio.FileSystem = (*Checker)(nil)
