package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"audio-extract/application/extraction"
	"audio-extract/domain/audio"
	"audio-extract/infrastructure/filesystem"
	"audio-extract/infrastructure/mp4"

	"github.com/spf13/cobra"
)

var (
	extractSourcePath string
	extractOutputPath string
	extractBufferSize int
)

var extractAudioCmd = &cobra.Command{
	Use:   "extract-audio",
	Short: "Copy the first audio track of a video into a new MP4 file",
	Long: `Copy the first audio track of an MP4/MOV file into a new single-track
MP4 file. The samples are not re-encoded.

If --output is omitted the file is written to the configured output directory
(or next to the source) as <source name>.<output_extension>.

Example:
  audio-extract extract-audio --source talk.mp4
  audio-extract extract-audio --source talk.mp4 --output /srv/audio/talk.m4a --buffer-size 4194304`,
	RunE: runExtractAudio,
}

func init() {
	rootCmd.AddCommand(extractAudioCmd)
	extractAudioCmd.Flags().StringVar(&extractSourcePath, "source", "", "Path to source video file (required)")
	extractAudioCmd.Flags().StringVar(&extractOutputPath, "output", "", "Path of the output file (default derived from --source)")
	extractAudioCmd.Flags().IntVar(&extractBufferSize, "buffer-size", 0, "Largest sample size in bytes (default from config or 1 MiB)")
	extractAudioCmd.MarkFlagRequired("source")
}

// ExtractAudioOptions holds the resolved inputs of one extract-audio invocation
type ExtractAudioOptions struct {
	SourcePath      string
	OutputPath      string
	OutputDir       string
	Extension       string
	BufferSize      int
	LockDestination bool
	// LockDir overrides where destination locks are created
	LockDir  string
	Progress audio.ProgressFunc
}

func runExtractAudio(cmd *cobra.Command, args []string) error {
	cfg := EffectiveConfig()

	bufferSize := extractBufferSize
	if bufferSize == 0 {
		bufferSize = cfg.Extraction.BufferSize
	}

	reporter := NewProgressReporter(os.Stderr, GetLogger())

	err := RunExtractAudioWithDependencies(
		cmd.Context(),
		filesystem.NewChecker(),
		mp4.NewDemuxer(),
		mp4.NewMuxer(),
		GetLogger(),
		ExtractAudioOptions{
			SourcePath:      extractSourcePath,
			OutputPath:      extractOutputPath,
			OutputDir:       cfg.Paths.OutputDirectory,
			Extension:       cfg.Extraction.OutputExtension,
			BufferSize:      bufferSize,
			LockDestination: cfg.Extraction.LockDestination,
			Progress:        reporter.Func(),
		},
		DefaultOutput,
	)
	if err != nil {
		reporter.Abort()
		return err
	}
	reporter.Finish()
	return nil
}

// RunExtractAudioWithDependencies runs the extract-audio command with injected dependencies (for testing)
func RunExtractAudioWithDependencies(
	ctx context.Context,
	files audio.FileSystem,
	sources audio.SourceOpener,
	sinks audio.SinkOpener,
	logger *slog.Logger,
	opts ExtractAudioOptions,
	output OutputWriter,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	dest := opts.OutputPath
	if dest == "" && opts.SourcePath != "" {
		dest = audio.DefaultOutputPath(opts.SourcePath, opts.OutputDir, opts.Extension)
	}

	req, err := audio.NewRequest(opts.SourcePath, dest, opts.BufferSize)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	pipeline := extraction.NewPipeline(files, sources, sinks,
		extraction.WithLogger(logger),
		extraction.WithBufferSize(req.BufferSize),
	)
	runnerOpts := []extraction.RunnerOption{extraction.WithDestinationLock(opts.LockDestination)}
	if opts.LockDir != "" {
		runnerOpts = append(runnerOpts, extraction.WithLockDir(opts.LockDir))
	}
	runner := extraction.NewRunner(pipeline, runnerOpts...)

	fmt.Fprintf(output, "Extracting audio from %s...\n", req.SourcePath)

	job, err := runner.Start(ctx, req, opts.Progress)
	if err != nil {
		return err
	}
	result, err := job.Wait()
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "Successfully created: %s (%s, %d samples, %d bytes)\n",
		result.Path, result.Track.MIME, result.Samples, result.Bytes)
	return nil
}
