package extraction

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"audio-extract/domain/audio"
	"audio-extract/infrastructure/logging"
)

// Result describes a finalized destination container
type Result struct {
	// Path is the absolute destination path
	Path       string
	Track      audio.Track
	Samples    int
	Bytes      int64
	SourceSize int64
	Elapsed    time.Duration
}

// Pipeline copies the first audio track of a source container into a new
// single-track container without re-encoding. A Pipeline holds no per-run
// state and may be shared, but each run is strictly sequential.
type Pipeline struct {
	files      audio.FileSystem
	sources    audio.SourceOpener
	sinks      audio.SinkOpener
	logger     *slog.Logger
	bufferSize int
	observer   func(State)
}

// Option is a functional option for configuring Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger used for run diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithBufferSize sets the transfer buffer capacity used by ExtractAudio
func WithBufferSize(size int) Option {
	return func(p *Pipeline) {
		p.bufferSize = size
	}
}

// WithStateObserver registers fn to be called on every state transition
func WithStateObserver(fn func(State)) Option {
	return func(p *Pipeline) {
		p.observer = fn
	}
}

// NewPipeline creates a new extraction pipeline
func NewPipeline(files audio.FileSystem, sources audio.SourceOpener, sinks audio.SinkOpener, opts ...Option) *Pipeline {
	p := &Pipeline{
		files:      files,
		sources:    sources,
		sinks:      sinks,
		bufferSize: audio.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "extraction")
	return p
}

// ExtractAudio extracts the first audio track of sourcePath into destPath and
// returns the absolute destination path. Every failure is reported as an error
// wrapping audio.ErrExtractionFailed; the underlying cause stays reachable
// through errors.Is for diagnostics.
func (p *Pipeline) ExtractAudio(sourcePath, destPath string, progress audio.ProgressFunc) (string, error) {
	req, err := audio.NewRequest(sourcePath, destPath, p.bufferSize)
	if err != nil {
		return "", fmt.Errorf("%w: %w", audio.ErrExtractionFailed, err)
	}

	res, err := p.Run(req, progress)
	if err != nil {
		return "", fmt.Errorf("%w: %w", audio.ErrExtractionFailed, err)
	}
	return res.Path, nil
}

// Run executes one extraction. On failure the returned error is a *Failure
// wrapping one taxonomy sentinel, and both container handles have already
// been released.
func (p *Pipeline) Run(req *audio.Request, progress audio.ProgressFunc) (res *Result, err error) {
	r := &run{p: p, req: req, state: StateIdle, started: time.Now()}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", audio.ErrUnspecified, rec)
		}
		if relErr := r.release(err == nil); relErr != nil && err == nil {
			err = relErr
		}
		if err != nil {
			failedIn := r.state
			r.transition(StateFailed)
			p.logger.Error("audio extraction failed",
				slog.String("source", req.SourcePath),
				slog.String("dest", req.DestPath),
				slog.String(logging.FieldState, failedIn.String()),
				slog.String(logging.FieldKind, audio.Classify(err)),
				logging.Error(err),
			)
			res, err = nil, &Failure{State: failedIn, Err: err}
			return
		}
		res.Elapsed = time.Since(r.started)
		p.logger.Info("audio extracted",
			slog.String("source", req.SourcePath),
			slog.String("dest", res.Path),
			slog.String("mime", res.Track.MIME),
			slog.Int("samples", res.Samples),
			slog.Int64("bytes", res.Bytes),
			slog.Duration("elapsed", res.Elapsed),
		)
	}()

	return r.execute(progress)
}

// run holds the state of a single pipeline execution
type run struct {
	p       *Pipeline
	req     *audio.Request
	state   State
	started time.Time

	source audio.Source
	sink   audio.Sink
}

func (r *run) transition(to State) {
	r.p.logger.Debug("pipeline state", slog.String("from", r.state.String()), slog.String("to", to.String()))
	r.state = to
	if r.p.observer != nil {
		r.p.observer(to)
	}
}

// classify wraps err with kind unless it already carries a taxonomy sentinel
func classify(kind, err error) error {
	if audio.IsClassified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func (r *run) execute(progress audio.ProgressFunc) (*Result, error) {
	log := r.p.logger
	sourcePath := r.req.SourcePath

	if !r.p.files.Exists(sourcePath) {
		return nil, fmt.Errorf("%w: %s", audio.ErrSourceNotFound, sourcePath)
	}
	total, err := r.p.files.Size(sourcePath)
	if err != nil {
		log.Warn("source size unavailable, progress disabled",
			slog.String("source", sourcePath), logging.Error(err))
		total = 0
	}

	src, err := r.p.sources.OpenSource(sourcePath)
	if err != nil {
		return nil, classify(audio.ErrContainerOpen, err)
	}
	r.source = src
	r.transition(StateSourceOpened)

	tracks := src.Tracks()
	track, err := audio.SelectAudioTrack(tracks)
	if err != nil {
		return nil, err
	}
	if err := src.SelectTrack(track.Index); err != nil {
		return nil, classify(audio.ErrContainerRead, err)
	}
	r.transition(StateTrackSelected)
	log.Debug("audio track selected",
		slog.Int("track", track.Index),
		slog.Int("tracks", len(tracks)),
		slog.String("mime", track.MIME),
		slog.String("codec", track.Codec),
	)

	dest, err := filepath.Abs(r.req.DestPath)
	if err != nil {
		return nil, classify(audio.ErrContainerOpen, err)
	}
	if r.overwritesSource(dest) {
		return nil, fmt.Errorf("%w: %w: %s", audio.ErrContainerOpen, audio.ErrDestinationIsSource, dest)
	}
	if err := r.p.files.EnsureDir(filepath.Dir(dest)); err != nil {
		return nil, classify(audio.ErrContainerOpen, err)
	}
	snk, err := r.p.sinks.CreateSink(dest)
	if err != nil {
		return nil, classify(audio.ErrContainerOpen, err)
	}
	r.sink = snk
	r.transition(StateDestOpened)

	out, err := snk.AddTrack(track)
	if err != nil {
		return nil, classify(audio.ErrContainerWrite, fmt.Errorf("declare track: %w", err))
	}
	if err := snk.Start(); err != nil {
		return nil, classify(audio.ErrContainerWrite, fmt.Errorf("start: %w", err))
	}
	r.transition(StateWriting)

	res := &Result{Path: dest, Track: track, SourceSize: total}
	tracker := audio.NewProgressTracker(total, progress)
	buf := make([]byte, r.req.BufferSize)
	for {
		sample, err := src.ReadSample(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classify(audio.ErrContainerRead, fmt.Errorf("sample %d: %w", res.Samples, err))
		}
		if err := snk.WriteSample(out, sample); err != nil {
			return nil, classify(audio.ErrContainerWrite, fmt.Errorf("sample %d: %w", res.Samples, err))
		}
		res.Samples++
		res.Bytes += int64(sample.Size)
		tracker.Add(sample.Size)
		if err := src.Advance(); err != nil {
			return nil, classify(audio.ErrContainerRead, fmt.Errorf("advance past sample %d: %w", res.Samples-1, err))
		}
	}

	if err := snk.Stop(); err != nil {
		return nil, classify(audio.ErrContainerFinalize, err)
	}
	r.transition(StateFinalized)
	return res, nil
}

// overwritesSource reports whether opening dest for writing would truncate
// the file being read
func (r *run) overwritesSource(dest string) bool {
	if src, err := filepath.Abs(r.req.SourcePath); err == nil && src == dest {
		return true
	}
	return r.p.files.SameFile(r.req.SourcePath, dest)
}

// release closes both handles. A sink close failure after a successful run
// means the file may be incomplete, so it fails the run.
func (r *run) release(succeeded bool) error {
	var result error
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			if succeeded {
				result = classify(audio.ErrContainerFinalize, fmt.Errorf("close destination: %w", err))
			} else {
				r.p.logger.Warn("destination close failed", logging.Error(err))
			}
		}
		r.sink = nil
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.p.logger.Warn("source close failed", logging.Error(err))
		}
		r.source = nil
	}
	return result
}
