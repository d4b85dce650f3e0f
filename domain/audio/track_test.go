package audio

import (
	"errors"
	"testing"
)

func TestSelectAudioTrack(t *testing.T) {
	tests := []struct {
		name      string
		tracks    []Track
		wantIndex int
		wantErr   error
	}{
		{
			name:    "zero tracks",
			tracks:  nil,
			wantErr: ErrNoAudioTrack,
		},
		{
			name: "video only",
			tracks: []Track{
				{Index: 0, MIME: "video/avc"},
			},
			wantErr: ErrNoAudioTrack,
		},
		{
			name: "audio after video",
			tracks: []Track{
				{Index: 0, MIME: "video/avc"},
				{Index: 1, MIME: "audio/mp4a-latm"},
			},
			wantIndex: 1,
		},
		{
			name: "first audio wins",
			tracks: []Track{
				{Index: 0, MIME: "video/hevc"},
				{Index: 1, MIME: "audio/opus"},
				{Index: 2, MIME: "audio/mp4a-latm"},
			},
			wantIndex: 1,
		},
		{
			name: "scan is by index not slice order",
			tracks: []Track{
				{Index: 3, MIME: "audio/ac3"},
				{Index: 0, MIME: "text/x-tx3g"},
				{Index: 2, MIME: "audio/mp4a-latm"},
			},
			wantIndex: 2,
		},
		{
			name: "prefix must match exactly",
			tracks: []Track{
				{Index: 0, MIME: "application/audio"},
				{Index: 1, MIME: "Audio/aac"},
			},
			wantErr: ErrNoAudioTrack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectAudioTrack(tt.tracks)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("SelectAudioTrack() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectAudioTrack() unexpected error: %v", err)
			}
			if got.Index != tt.wantIndex {
				t.Errorf("SelectAudioTrack() Index = %d, want %d", got.Index, tt.wantIndex)
			}
		})
	}
}

func TestTrack_IsAudio(t *testing.T) {
	if !(Track{MIME: "audio/mpeg"}).IsAudio() {
		t.Error("audio/mpeg should be audio")
	}
	if (Track{MIME: "video/avc"}).IsAudio() {
		t.Error("video/avc should not be audio")
	}
	if (Track{}).IsAudio() {
		t.Error("empty MIME should not be audio")
	}
}

func TestSampleFlags(t *testing.T) {
	tests := []struct {
		flags SampleFlags
		want  string
	}{
		{0, "none"},
		{FlagSync, "sync"},
		{FlagSync | FlagEndOfStream, "sync|eos"},
		{FlagCodecConfig, "codec-config"},
	}

	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("SampleFlags(%d).String() = %q, want %q", tt.flags, got, tt.want)
		}
	}

	f := FlagSync | FlagEndOfStream
	if !f.Has(FlagSync) || !f.Has(FlagEndOfStream) || f.Has(FlagCodecConfig) {
		t.Errorf("Has() mismatch for %s", f)
	}
}
