package mp4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-extract/domain/audio"
	"audio-extract/infrastructure/mp4/mp4test"
)

func writeFixture(t *testing.T, f mp4test.File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.mp4")
	if err := mp4test.Write(path, f); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func openFixture(t *testing.T, f mp4test.File) audio.Source {
	t.Helper()
	src, err := NewDemuxer().OpenSource(writeFixture(t, f))
	if err != nil {
		t.Fatalf("OpenSource() unexpected error: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func TestDemuxer_OpenSource_ListsTracks(t *testing.T) {
	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{
		mp4test.AVCTrack(10, 64),
		mp4test.AACTrack(20, 32),
	}})

	tracks := src.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}

	video, sound := tracks[0], tracks[1]
	if video.Index != 0 || video.MIME != "video/avc" || video.Codec != "avc1" {
		t.Errorf("video track = %+v", video)
	}
	if video.IsAudio() {
		t.Error("video track reported as audio")
	}

	if sound.Index != 1 || sound.ID != 2 {
		t.Errorf("audio track index/id = %d/%d, want 1/2", sound.Index, sound.ID)
	}
	if sound.MIME != "audio/mp4a-latm" {
		t.Errorf("audio MIME = %q, want audio/mp4a-latm", sound.MIME)
	}
	if sound.Codec != "mp4a" {
		t.Errorf("audio codec = %q, want mp4a", sound.Codec)
	}
	if sound.Timescale != 44100 || sound.SampleRate != 44100 || sound.ChannelCount != 2 {
		t.Errorf("audio format = %d Hz timescale, %d Hz, %d channels", sound.Timescale, sound.SampleRate, sound.ChannelCount)
	}
	if sound.SampleCount != 20 {
		t.Errorf("SampleCount = %d, want 20", sound.SampleCount)
	}
	if sound.Language != "eng" {
		t.Errorf("Language = %q, want eng", sound.Language)
	}
	if want := audio.TicksToMicros(20*1024, 44100); sound.DurationUs != want {
		t.Errorf("DurationUs = %d, want %d", sound.DurationUs, want)
	}
	if len(sound.Config) < 16 || string(sound.Config[4:8]) != "stsd" {
		t.Errorf("Config does not hold an stsd box: % x", sound.Config)
	}

	selected, err := audio.SelectAudioTrack(tracks)
	if err != nil {
		t.Fatalf("SelectAudioTrack() unexpected error: %v", err)
	}
	if selected.Index != 1 {
		t.Errorf("selected track %d, want 1", selected.Index)
	}
}

func TestDemuxer_ReadSample_PinnedToSelectedTrack(t *testing.T) {
	fixture := mp4test.AACTrack(20, 32)
	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.AVCTrack(10, 64), fixture}})

	if err := src.SelectTrack(1); err != nil {
		t.Fatalf("SelectTrack() unexpected error: %v", err)
	}

	buf := make([]byte, 1024)
	for i := 0; ; i++ {
		sample, err := src.ReadSample(buf)
		if errors.Is(err, io.EOF) {
			if i != len(fixture.Samples) {
				t.Fatalf("end of stream after %d samples, want %d", i, len(fixture.Samples))
			}
			break
		}
		if err != nil {
			t.Fatalf("ReadSample(%d) unexpected error: %v", i, err)
		}
		if !bytes.Equal(sample.Payload(), fixture.Samples[i].Data) {
			t.Fatalf("sample %d payload differs from source", i)
		}
		wantTime := audio.TicksToMicros(int64(i)*1024, 44100)
		if sample.DecodeTimeUs != wantTime || sample.PresentationTimeUs != wantTime {
			t.Errorf("sample %d times = %d/%d, want %d", i, sample.DecodeTimeUs, sample.PresentationTimeUs, wantTime)
		}
		if !sample.Flags.Has(audio.FlagSync) {
			t.Errorf("sample %d flags = %v, want sync", i, sample.Flags)
		}
		if err := src.Advance(); err != nil {
			t.Fatalf("Advance() unexpected error: %v", err)
		}
	}

	if err := src.Advance(); !errors.Is(err, io.EOF) {
		t.Errorf("Advance() past end = %v, want io.EOF", err)
	}
}

func TestDemuxer_ReadSample_ChunkedLargeOffsets(t *testing.T) {
	fixture := mp4test.AACTrack(10, 48)
	fixture.SamplesPerChunk = 4
	video := mp4test.AVCTrack(6, 100)
	video.SamplesPerChunk = 3

	src := openFixture(t, mp4test.File{
		Tracks:       []mp4test.Track{video, fixture},
		Padding:      100,
		LargeOffsets: true,
	})
	if err := src.SelectTrack(1); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 48)
	for i := range fixture.Samples {
		sample, err := src.ReadSample(buf)
		if err != nil {
			t.Fatalf("ReadSample(%d) unexpected error: %v", i, err)
		}
		if !bytes.Equal(sample.Payload(), fixture.Samples[i].Data) {
			t.Fatalf("sample %d payload differs from source", i)
		}
		if err := src.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := src.ReadSample(buf); !errors.Is(err, io.EOF) {
		t.Errorf("ReadSample() after last sample = %v, want io.EOF", err)
	}
}

func TestDemuxer_ReadSample_CompositionOffsetsAndSync(t *testing.T) {
	fixture := mp4test.AVCTrack(10, 16)
	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{fixture}})
	if err := src.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	for i, want := range fixture.Samples {
		sample, err := src.ReadSample(buf)
		if err != nil {
			t.Fatalf("ReadSample(%d) unexpected error: %v", i, err)
		}
		dts := int64(i) * 3000
		if sample.DecodeTimeUs != audio.TicksToMicros(dts, 90000) {
			t.Errorf("sample %d DTS = %d", i, sample.DecodeTimeUs)
		}
		if sample.PresentationTimeUs != audio.TicksToMicros(dts+int64(want.CompositionOffset), 90000) {
			t.Errorf("sample %d PTS = %d", i, sample.PresentationTimeUs)
		}
		if sample.Flags.Has(audio.FlagSync) != want.Sync {
			t.Errorf("sample %d sync = %v, want %v", i, sample.Flags.Has(audio.FlagSync), want.Sync)
		}
		if err := src.Advance(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDemuxer_ReadSample_DescriptionIndex(t *testing.T) {
	fixture := mp4test.AACTrack(6, 16)
	fixture.SamplesPerChunk = 4
	wantDesc := []uint32{1, 1, 2, 2, 2, 1}
	for i := range fixture.Samples {
		fixture.Samples[i].Description = wantDesc[i]
	}
	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{fixture}})
	if err := src.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	if cfg := src.Tracks()[0].Config; binary.BigEndian.Uint32(cfg[12:16]) != 2 {
		t.Fatalf("stsd entry count = %d, want 2", binary.BigEndian.Uint32(cfg[12:16]))
	}
	buf := make([]byte, 16)
	for i, want := range wantDesc {
		sample, err := src.ReadSample(buf)
		if err != nil {
			t.Fatalf("ReadSample(%d) unexpected error: %v", i, err)
		}
		if sample.DescriptionIndex != want {
			t.Errorf("sample %d DescriptionIndex = %d, want %d", i, sample.DescriptionIndex, want)
		}
		if !bytes.Equal(sample.Payload(), fixture.Samples[i].Data) {
			t.Errorf("sample %d payload differs from source", i)
		}
		if err := src.Advance(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDemuxer_ReadSample_Fragmented(t *testing.T) {
	video := mp4test.AVCTrack(10, 64)
	sound := mp4test.AACTrack(22, 32)
	src := openFixture(t, mp4test.File{
		Tracks:             []mp4test.Track{video, sound},
		Fragmented:         true,
		SamplesPerFragment: 5,
	})

	tracks := src.Tracks()
	if tracks[0].SampleCount != 10 || tracks[1].SampleCount != 22 {
		t.Fatalf("SampleCount = %d/%d, want 10/22", tracks[0].SampleCount, tracks[1].SampleCount)
	}
	if want := audio.TicksToMicros(22*1024, 44100); tracks[1].DurationUs != want {
		t.Errorf("audio DurationUs = %d, want %d", tracks[1].DurationUs, want)
	}

	tests := []struct {
		name      string
		index     int
		fixture   mp4test.Track
		timescale uint32
	}{
		{"video", 0, video, 90000},
		{"audio", 1, sound, 44100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := src.SelectTrack(tt.index); err != nil {
				t.Fatal(err)
			}
			buf := make([]byte, 64)
			var dts int64
			for i, want := range tt.fixture.Samples {
				sample, err := src.ReadSample(buf)
				if err != nil {
					t.Fatalf("ReadSample(%d) unexpected error: %v", i, err)
				}
				if !bytes.Equal(sample.Payload(), want.Data) {
					t.Fatalf("sample %d payload differs from source", i)
				}
				if sample.DecodeTimeUs != audio.TicksToMicros(dts, tt.timescale) {
					t.Errorf("sample %d DTS = %d", i, sample.DecodeTimeUs)
				}
				if sample.PresentationTimeUs != audio.TicksToMicros(dts+int64(want.CompositionOffset), tt.timescale) {
					t.Errorf("sample %d PTS = %d", i, sample.PresentationTimeUs)
				}
				if sample.Flags.Has(audio.FlagSync) != want.Sync {
					t.Errorf("sample %d sync = %v, want %v", i, sample.Flags.Has(audio.FlagSync), want.Sync)
				}
				if sample.DescriptionIndex != 1 {
					t.Errorf("sample %d DescriptionIndex = %d, want 1", i, sample.DescriptionIndex)
				}
				dts += int64(want.Delta)
				if err := src.Advance(); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := src.ReadSample(buf); !errors.Is(err, io.EOF) {
				t.Errorf("ReadSample() after last fragment = %v, want io.EOF", err)
			}
		})
	}
}

func TestDemuxer_OpenSource_FragmentForUndeclaredTrack(t *testing.T) {
	path := writeFixture(t, mp4test.File{
		Tracks:     []mp4test.Track{mp4test.AACTrack(4, 8)},
		Fragmented: true,
	})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	at := bytes.Index(data, []byte("tfhd"))
	if at < 0 {
		t.Fatal("fixture has no tfhd box")
	}
	// type, then version and flags, then track_ID
	binary.BigEndian.PutUint32(data[at+8:], 99)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = NewDemuxer().OpenSource(path)
	if err == nil {
		t.Fatal("OpenSource() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "track ID 99") {
		t.Errorf("OpenSource() error = %v, want mention of track ID 99", err)
	}
}

func TestDemuxer_ReadSample_TooLarge(t *testing.T) {
	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.AACTrack(3, 32)}})
	if err := src.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	_, err := src.ReadSample(make([]byte, 16))
	if !errors.Is(err, audio.ErrSampleTooLarge) {
		t.Fatalf("ReadSample() error = %v, want ErrSampleTooLarge", err)
	}
}

func TestDemuxer_CodecDetection(t *testing.T) {
	opus := mp4test.AACTrack(1, 8)
	opus.Codec = "Opus"
	opus.ObjectType = 0

	mp3 := mp4test.AACTrack(1, 8)
	mp3.ObjectType = 0x6B

	opaque := mp4test.AACTrack(1, 8)
	opaque.Codec = "zzzz"

	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{opus, mp3, opaque}})

	want := []string{"audio/opus", "audio/mpeg", "audio/x-zzzz"}
	for i, track := range src.Tracks() {
		if track.MIME != want[i] {
			t.Errorf("track %d MIME = %q, want %q", i, track.MIME, want[i])
		}
	}
	if got := src.Tracks()[2].ChannelCount; got != 0 {
		t.Errorf("opaque entry ChannelCount = %d, want 0", got)
	}
}

func TestDemuxer_OpenSource_Errors(t *testing.T) {
	dir := t.TempDir()

	notMP4 := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notMP4, []byte("hello world, not a movie"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.mp4")},
		{"not a container", notMP4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDemuxer().OpenSource(tt.path); err == nil {
				t.Fatal("OpenSource() expected error, got nil")
			}
		})
	}
}

func TestDemuxer_SourceStateErrors(t *testing.T) {
	src := openFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.AACTrack(1, 8)}})
	buf := make([]byte, 8)

	if _, err := src.ReadSample(buf); !errors.Is(err, audio.ErrNoTrackSelected) {
		t.Errorf("ReadSample() before SelectTrack = %v, want ErrNoTrackSelected", err)
	}
	if err := src.SelectTrack(3); !errors.Is(err, audio.ErrTrackIndexOutOfRange) {
		t.Errorf("SelectTrack(3) = %v, want ErrTrackIndexOutOfRange", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if err := src.SelectTrack(0); !errors.Is(err, audio.ErrHandleClosed) {
		t.Errorf("SelectTrack() after Close = %v, want ErrHandleClosed", err)
	}
}

func TestDemuxer_Probe(t *testing.T) {
	path := writeFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.AACTrack(4, 8)}})

	tracks, err := NewDemuxer().Probe(path)
	if err != nil {
		t.Fatalf("Probe() unexpected error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].SampleCount != 4 {
		t.Errorf("Probe() = %+v", tracks)
	}
}
