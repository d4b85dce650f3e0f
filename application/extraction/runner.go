package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"audio-extract/domain/audio"
)

// ErrDestinationBusy is returned when another job holds the destination lock
var ErrDestinationBusy = errors.New("destination is locked by another extraction")

// Runner starts pipeline runs on background goroutines
type Runner struct {
	pipeline        *Pipeline
	lockDestination bool
	lockDir         string
}

// RunnerOption is a functional option for configuring Runner
type RunnerOption func(*Runner)

// WithDestinationLock serializes jobs writing the same destination path
func WithDestinationLock(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.lockDestination = enabled
	}
}

// WithLockDir sets where lock files are created (default os.TempDir)
func WithLockDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.lockDir = dir
	}
}

// NewRunner creates a new Runner
func NewRunner(pipeline *Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{pipeline: pipeline, lockDir: os.TempDir()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Job is one background extraction
type Job struct {
	ID      string
	Request audio.Request

	done   chan struct{}
	result *Result
	err    error
}

// Done is closed once the job has finished and released its handles
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes. Failures wrap audio.ErrExtractionFailed.
func (j *Job) Wait() (*Result, error) {
	<-j.done
	return j.result, j.err
}

// LockPath returns the lock file guarding dest. Locks live outside the
// destination directory so a rejected job leaves no trace there.
func (r *Runner) LockPath(dest string) string {
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+dest))
	return filepath.Join(r.lockDir, "audio-extract-"+key.String()+".lock")
}

// Start launches an extraction. The context is only consulted before the
// job starts; a running extraction is not cancellable.
func (r *Runner) Start(ctx context.Context, req *audio.Request, progress audio.ProgressFunc) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lock *flock.Flock
	if r.lockDestination {
		lock = flock.New(r.LockPath(req.DestPath))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock destination %s: %w", req.DestPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrDestinationBusy, req.DestPath)
		}
	}

	job := &Job{
		ID:      uuid.NewString(),
		Request: *req,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(job.done)
		if lock != nil {
			defer releaseLock(lock)
		}
		job.result, job.err = r.pipeline.Run(req, progress)
		if job.err != nil {
			job.err = fmt.Errorf("%w: %w", audio.ErrExtractionFailed, job.err)
		}
	}()

	return job, nil
}

// releaseLock deletes the lock file before unlocking it, so finished jobs
// leave nothing behind in the lock directory
func releaseLock(lock *flock.Flock) {
	_ = os.Remove(lock.Path())
	_ = lock.Unlock()
}
