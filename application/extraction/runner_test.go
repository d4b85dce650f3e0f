package extraction

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"audio-extract/domain/audio"
	"audio-extract/infrastructure/filesystem"
	"audio-extract/infrastructure/mp4"
	"audio-extract/infrastructure/mp4/mp4test"
)

func newRequest(t *testing.T, source, dest string) *audio.Request {
	t.Helper()
	req, err := audio.NewRequest(source, dest, 0)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestRunner_Start(t *testing.T) {
	h := newHarness(10_000)
	runner := NewRunner(h.pipeline(), WithDestinationLock(true), WithLockDir(t.TempDir()))

	job, err := runner.Start(context.Background(), newRequest(t, testSource, testDest), nil)
	if err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	if _, err := uuid.Parse(job.ID); err != nil {
		t.Errorf("job ID %q is not a UUID: %v", job.ID, err)
	}

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}

	res, err := job.Wait()
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if res.Samples != 20 || res.Bytes != 2000 || res.SourceSize != 10_000 {
		t.Errorf("result = %+v", res)
	}

	if _, err := os.Stat(runner.LockPath(testDest)); !os.IsNotExist(err) {
		t.Errorf("lock file left behind after job finished: %v", err)
	}
	lock := flock.New(runner.LockPath(testDest))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("lock still held after job finished: locked=%v err=%v", locked, err)
	}
	lock.Unlock()
}

func TestRunner_StartFailureWrapsExtractionFailed(t *testing.T) {
	h := newHarness(10_000)
	h.files.sizes = map[string]int64{}
	runner := NewRunner(h.pipeline())

	job, err := runner.Start(context.Background(), newRequest(t, testSource, testDest), nil)
	if err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	res, err := job.Wait()
	if res != nil {
		t.Errorf("Wait() result = %+v, want nil", res)
	}
	if !errors.Is(err, audio.ErrExtractionFailed) || !errors.Is(err, audio.ErrSourceNotFound) {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	h := newHarness(10_000)
	runner := NewRunner(h.pipeline())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Start(ctx, newRequest(t, testSource, testDest), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
	if len(h.sources.opened) != 0 {
		t.Error("pipeline ran despite a cancelled context")
	}
}

func TestRunner_DestinationBusy(t *testing.T) {
	h := newHarness(10_000)
	lockDir := t.TempDir()
	runner := NewRunner(h.pipeline(), WithDestinationLock(true), WithLockDir(lockDir))

	held := flock.New(runner.LockPath(testDest))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("could not take lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	_, err := runner.Start(context.Background(), newRequest(t, testSource, testDest), nil)
	if !errors.Is(err, ErrDestinationBusy) {
		t.Errorf("Start() error = %v, want ErrDestinationBusy", err)
	}
	if len(h.sources.opened) != 0 {
		t.Error("pipeline ran although the destination is locked")
	}
}

func TestRunner_FailedJobRemovesLockFile(t *testing.T) {
	h := newHarness(10_000)
	h.files.sizes = map[string]int64{}
	lockDir := t.TempDir()
	runner := NewRunner(h.pipeline(), WithDestinationLock(true), WithLockDir(lockDir))

	job, err := runner.Start(context.Background(), newRequest(t, testSource, testDest), nil)
	if err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	if _, err := job.Wait(); err == nil {
		t.Fatal("Wait() expected error, got nil")
	}

	entries, err := os.ReadDir(lockDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("lock directory holds %d entries after a failed job, want 0", len(entries))
	}
}

func TestRunner_LockPath(t *testing.T) {
	runner := NewRunner(nil, WithLockDir("/locks"))

	a := runner.LockPath("/out/a.m4a")
	if a != runner.LockPath("/out/a.m4a") {
		t.Error("LockPath is not stable")
	}
	if a == runner.LockPath("/out/b.m4a") {
		t.Error("different destinations share a lock")
	}
	if filepath.Dir(a) != "/locks" {
		t.Errorf("LockPath() = %q, want it under /locks", a)
	}
}

// Real MP4 containers through the whole stack: nested output directories are
// created and the result is a playable single-track file.
func TestPipeline_WithMP4Containers(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "talk.mp4")
	fixture := mp4test.AACTrack(40, 64)
	if err := mp4test.Write(source, mp4test.File{Tracks: []mp4test.Track{mp4test.AVCTrack(30, 256), fixture}}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(source)
	if err != nil {
		t.Fatal(err)
	}

	var last float64
	dest := filepath.Join(dir, "nested", "deeper", "talk.m4a")
	pipeline := NewPipeline(filesystem.NewChecker(), mp4.NewDemuxer(), mp4.NewMuxer())

	got, err := pipeline.ExtractAudio(source, dest, func(f float64) { last = f })
	if err != nil {
		t.Fatalf("ExtractAudio() unexpected error: %v", err)
	}
	if got != dest {
		t.Errorf("ExtractAudio() = %q, want %q", got, dest)
	}

	wantFraction := float64(fixture.SampleBytes()) / float64(info.Size())
	if last != wantFraction {
		t.Errorf("final progress = %v, want %v", last, wantFraction)
	}

	tracks, err := mp4.NewDemuxer().Probe(dest)
	if err != nil {
		t.Fatalf("output does not demux: %v", err)
	}
	if len(tracks) != 1 || !tracks[0].IsAudio() || tracks[0].SampleCount != 40 {
		t.Errorf("output tracks = %+v", tracks)
	}
}

func TestPipeline_WithMP4Containers_FragmentedSource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "stream.mp4")
	fixture := mp4test.AACTrack(33, 48)
	err := mp4test.Write(source, mp4test.File{
		Tracks:             []mp4test.Track{mp4test.AVCTrack(12, 128), fixture},
		Fragmented:         true,
		SamplesPerFragment: 6,
	})
	if err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "stream.m4a")
	pipeline := NewPipeline(filesystem.NewChecker(), mp4.NewDemuxer(), mp4.NewMuxer())

	res, err := pipeline.Run(newRequest(t, source, dest), nil)
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if res.Samples != 33 || res.Bytes != int64(fixture.SampleBytes()) {
		t.Errorf("result = %d samples, %d bytes, want 33, %d", res.Samples, res.Bytes, fixture.SampleBytes())
	}

	out, err := mp4.NewDemuxer().OpenSource(dest)
	if err != nil {
		t.Fatalf("output does not demux: %v", err)
	}
	defer out.Close()
	if err := out.SelectTrack(0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 48)
	for i, want := range fixture.Samples {
		sample, err := out.ReadSample(buf)
		if err != nil {
			t.Fatalf("output ReadSample(%d) unexpected error: %v", i, err)
		}
		if !bytes.Equal(sample.Payload(), want.Data) {
			t.Fatalf("output sample %d differs from the fragment payload", i)
		}
		if err := out.Advance(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPipeline_WithMP4Containers_MissingSourceCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "talk.m4a")
	pipeline := NewPipeline(filesystem.NewChecker(), mp4.NewDemuxer(), mp4.NewMuxer())

	_, err := pipeline.ExtractAudio(filepath.Join(dir, "missing.mp4"), dest, nil)

	if !errors.Is(err, audio.ErrSourceNotFound) {
		t.Errorf("error = %v, want ErrSourceNotFound", err)
	}
	if _, statErr := os.Stat(filepath.Dir(dest)); !os.IsNotExist(statErr) {
		t.Errorf("destination directory exists: %v", statErr)
	}
}

func TestPipeline_WithMP4Containers_KeepsSourceWhenDestinationIsSource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "talk.m4a")
	if err := mp4test.Write(source, mp4test.File{Tracks: []mp4test.Track{mp4test.AACTrack(40, 64)}}); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "alias.m4a")
	if err := os.Link(source, link); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	pipeline := NewPipeline(filesystem.NewChecker(), mp4.NewDemuxer(), mp4.NewMuxer())

	for _, dest := range []string{source, link} {
		_, err := pipeline.ExtractAudio(source, dest, nil)
		if !errors.Is(err, audio.ErrDestinationIsSource) {
			t.Errorf("ExtractAudio(%s) error = %v, want ErrDestinationIsSource", filepath.Base(dest), err)
		}
	}

	after, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("source changed: %d bytes before, %d after", len(before), len(after))
	}
}
