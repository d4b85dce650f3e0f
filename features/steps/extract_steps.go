//go:build integration

package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"audio-extract/cmd"
	"audio-extract/domain/audio"
	"audio-extract/infrastructure/filesystem"
	"audio-extract/infrastructure/logging"
	"audio-extract/infrastructure/mp4"
	"audio-extract/infrastructure/mp4/mp4test"

	"github.com/cucumber/godog"
)

// extractContext holds test state for extract and probe scenarios
type extractContext struct {
	tempDir    string
	sourcePath string
	outputDir  string
	audioTrack mp4test.Track
	sourceSize int64
	sourceData []byte
	progress   []float64
	output     *bytes.Buffer
	err        error
}

// SharedExtractContext is reset before each scenario via Before hook
var SharedExtractContext *extractContext

func getExtractContext() *extractContext {
	return SharedExtractContext
}

func InitializeExtractScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "extract-test-*")
		if err != nil {
			return c, err
		}
		SharedExtractContext = &extractContext{
			tempDir: tempDir,
			output:  &bytes.Buffer{},
		}
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if e := getExtractContext(); e != nil && e.tempDir != "" {
			os.RemoveAll(e.tempDir)
		}
		SharedExtractContext = nil
		return c, nil
	})

	ctx.Step(`^a source video "([^"]*)" with (\d+) video samples and (\d+) audio samples of (\d+) bytes$`, aSourceVideoWithVideoAndAudioSamples)
	ctx.Step(`^a source video "([^"]*)" with only (\d+) video samples$`, aSourceVideoWithOnlyVideoSamples)
	ctx.Step(`^a fragmented source video "([^"]*)" with (\d+) video samples and (\d+) audio samples of (\d+) bytes$`, aFragmentedSourceVideo)
	ctx.Step(`^an audio-only file "([^"]*)" with (\d+) samples of (\d+) bytes$`, anAudioOnlyFile)
	ctx.Step(`^no source video exists at "([^"]*)"$`, noSourceVideoExistsAt)
	ctx.Step(`^the audio output directory is "([^"]*)"$`, theAudioOutputDirectoryIs)
	ctx.Step(`^I extract audio to "([^"]*)"$`, iExtractAudioTo)
	ctx.Step(`^I extract audio with the default output path$`, iExtractAudioWithTheDefaultOutputPath)
	ctx.Step(`^I attempt to extract audio to "([^"]*)"$`, iAttemptToExtractAudioTo)
	ctx.Step(`^I attempt to extract audio to "([^"]*)" with buffer size (\d+)$`, iAttemptToExtractAudioWithBufferSize)
	ctx.Step(`^the file "([^"]*)" should contain one audio track with (\d+) samples$`, theFileShouldContainOneAudioTrack)
	ctx.Step(`^the audio samples in "([^"]*)" should match the source byte for byte$`, theAudioSamplesShouldMatchTheSource)
	ctx.Step(`^the final progress should be the audio bytes divided by the source size$`, theFinalProgressShouldBeAudioBytesOverSourceSize)
	ctx.Step(`^progress should never decrease$`, progressShouldNeverDecrease)
	ctx.Step(`^the extraction should fail as "([^"]*)"$`, theExtractionShouldFailAs)
	ctx.Step(`^no file should exist at "([^"]*)"$`, noFileShouldExistAt)
	ctx.Step(`^the file "([^"]*)" should be unchanged$`, theFileShouldBeUnchanged)
	ctx.Step(`^the command output should contain "([^"]*)"$`, theCommandOutputShouldContain)
	ctx.Step(`^I probe the source video$`, iProbeTheSourceVideo)
}

func (e *extractContext) path(rel string) string {
	return filepath.Join(e.tempDir, rel)
}

func (e *extractContext) writeSource(name string, tracks ...mp4test.Track) error {
	return e.writeFile(name, mp4test.File{Tracks: tracks})
}

func (e *extractContext) writeFile(name string, f mp4test.File) error {
	e.sourcePath = e.path(name)
	if err := mp4test.Write(e.sourcePath, f); err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	info, err := os.Stat(e.sourcePath)
	if err != nil {
		return err
	}
	e.sourceSize = info.Size()
	e.sourceData, err = os.ReadFile(e.sourcePath)
	return err
}

func aSourceVideoWithVideoAndAudioSamples(name string, videoSamples, audioSamples, audioSize int) error {
	e := getExtractContext()
	e.audioTrack = mp4test.AACTrack(audioSamples, audioSize)
	return e.writeSource(name, mp4test.AVCTrack(videoSamples, 512), e.audioTrack)
}

func aSourceVideoWithOnlyVideoSamples(name string, videoSamples int) error {
	e := getExtractContext()
	return e.writeSource(name, mp4test.AVCTrack(videoSamples, 512))
}

func aFragmentedSourceVideo(name string, videoSamples, audioSamples, audioSize int) error {
	e := getExtractContext()
	e.audioTrack = mp4test.AACTrack(audioSamples, audioSize)
	return e.writeFile(name, mp4test.File{
		Tracks:     []mp4test.Track{mp4test.AVCTrack(videoSamples, 512), e.audioTrack},
		Fragmented: true,
	})
}

func anAudioOnlyFile(name string, samples, size int) error {
	e := getExtractContext()
	e.audioTrack = mp4test.AACTrack(samples, size)
	return e.writeSource(name, e.audioTrack)
}

func noSourceVideoExistsAt(name string) error {
	e := getExtractContext()
	e.sourcePath = e.path(name)
	return nil
}

func theAudioOutputDirectoryIs(dir string) error {
	e := getExtractContext()
	e.outputDir = e.path(dir)
	return nil
}

func (e *extractContext) run(output string, bufferSize int) error {
	dest := ""
	if output != "" {
		dest = e.path(output)
	}
	return cmd.RunExtractAudioWithDependencies(
		context.Background(),
		filesystem.NewChecker(),
		mp4.NewDemuxer(),
		mp4.NewMuxer(),
		logging.NewNop(),
		cmd.ExtractAudioOptions{
			SourcePath:      e.sourcePath,
			OutputPath:      dest,
			OutputDir:       e.outputDir,
			BufferSize:      bufferSize,
			LockDestination: true,
			LockDir:         e.tempDir,
			Progress:        func(f float64) { e.progress = append(e.progress, f) },
		},
		e.output,
	)
}

func iExtractAudioTo(output string) error {
	e := getExtractContext()
	if err := e.run(output, 0); err != nil {
		return fmt.Errorf("unexpected error: %v", err)
	}
	return nil
}

func iExtractAudioWithTheDefaultOutputPath() error {
	return iExtractAudioTo("")
}

func iAttemptToExtractAudioTo(output string) error {
	e := getExtractContext()
	e.err = e.run(output, 0)
	return nil
}

func iAttemptToExtractAudioWithBufferSize(output string, bufferSize int) error {
	e := getExtractContext()
	e.err = e.run(output, bufferSize)
	return nil
}

func theFileShouldContainOneAudioTrack(output string, samples int) error {
	e := getExtractContext()
	tracks, err := mp4.NewDemuxer().Probe(e.path(output))
	if err != nil {
		return fmt.Errorf("output does not parse: %w", err)
	}
	if len(tracks) != 1 {
		return fmt.Errorf("expected 1 track, got %d", len(tracks))
	}
	if !tracks[0].IsAudio() {
		return fmt.Errorf("expected an audio track, got %s", tracks[0].MIME)
	}
	if tracks[0].SampleCount != samples {
		return fmt.Errorf("expected %d samples, got %d", samples, tracks[0].SampleCount)
	}
	return nil
}

func theAudioSamplesShouldMatchTheSource(output string) error {
	e := getExtractContext()
	src, err := mp4.NewDemuxer().OpenSource(e.path(output))
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.SelectTrack(0); err != nil {
		return err
	}

	buf := make([]byte, audio.DefaultBufferSize)
	for i, want := range e.audioTrack.Samples {
		sample, err := src.ReadSample(buf)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if !bytes.Equal(sample.Payload(), want.Data) {
			return fmt.Errorf("sample %d differs from the source", i)
		}
		if err := src.Advance(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	if _, err := src.ReadSample(buf); !errors.Is(err, io.EOF) {
		return fmt.Errorf("expected end of stream after %d samples, got %v", len(e.audioTrack.Samples), err)
	}
	return nil
}

func theFinalProgressShouldBeAudioBytesOverSourceSize() error {
	e := getExtractContext()
	if len(e.progress) == 0 {
		return fmt.Errorf("no progress was reported")
	}
	want := float64(e.audioTrack.SampleBytes()) / float64(e.sourceSize)
	if got := e.progress[len(e.progress)-1]; got != want {
		return fmt.Errorf("expected final progress %v, got %v", want, got)
	}
	return nil
}

func progressShouldNeverDecrease() error {
	e := getExtractContext()
	for i := 1; i < len(e.progress); i++ {
		if e.progress[i] < e.progress[i-1] {
			return fmt.Errorf("progress went from %v to %v", e.progress[i-1], e.progress[i])
		}
	}
	return nil
}

func theExtractionShouldFailAs(kind string) error {
	e := getExtractContext()
	if e.err == nil {
		return fmt.Errorf("expected extraction to fail as %s", kind)
	}
	if !errors.Is(e.err, audio.ErrExtractionFailed) {
		return fmt.Errorf("expected error to wrap ErrExtractionFailed, got %v", e.err)
	}
	if got := audio.Classify(e.err); got != kind {
		return fmt.Errorf("expected failure kind %q, got %q (%v)", kind, got, e.err)
	}
	return nil
}

func noFileShouldExistAt(output string) error {
	e := getExtractContext()
	if _, err := os.Stat(e.path(output)); !os.IsNotExist(err) {
		return fmt.Errorf("expected no file at %s, stat error: %v", output, err)
	}
	return nil
}

func theFileShouldBeUnchanged(name string) error {
	e := getExtractContext()
	data, err := os.ReadFile(e.path(name))
	if err != nil {
		return err
	}
	if !bytes.Equal(data, e.sourceData) {
		return fmt.Errorf("%s changed: %d bytes before, %d after", name, len(e.sourceData), len(data))
	}
	return nil
}

func theCommandOutputShouldContain(text string) error {
	e := getExtractContext()
	out := strings.ReplaceAll(e.output.String(), e.tempDir+string(filepath.Separator), "")
	if !strings.Contains(out, text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, out)
	}
	return nil
}

func iProbeTheSourceVideo() error {
	e := getExtractContext()
	if err := cmd.RunProbeWithDependencies(mp4.NewDemuxer(), e.sourcePath, e.output); err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	return nil
}
