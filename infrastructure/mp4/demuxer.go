package mp4

import (
	"errors"
	"fmt"
	"io"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"audio-extract/domain/audio"
)

const undeterminedLanguage = "und"

// Demuxer implements audio.SourceOpener for ISO base media files (MP4, M4A, MOV)
type Demuxer struct{}

// NewDemuxer creates a new ISO-BMFF demuxer
func NewDemuxer() *Demuxer {
	return &Demuxer{}
}

// OpenSource implements audio.SourceOpener. The moov box is parsed eagerly so
// that every track and its sample table is known before any sample is read.
func (d *Demuxer) OpenSource(path string) (audio.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	src, err := parseSource(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return src, nil
}

// Probe lists the tracks of the container at path without reading samples
func (d *Demuxer) Probe(path string) ([]audio.Track, error) {
	src, err := d.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.Tracks(), nil
}

type demuxedTrack struct {
	info    audio.Track
	samples []sampleRef
}

type source struct {
	file     *os.File
	tracks   []demuxedTrack
	selected int
	cursor   int
	closed   bool
}

func parseSource(f *os.File) (*source, error) {
	moovs, err := gomp4.ExtractBox(f, nil, gomp4.BoxPath{gomp4.BoxTypeMoov()})
	if err != nil {
		return nil, fmt.Errorf("scan top-level boxes: %w", err)
	}
	if len(moovs) == 0 {
		return nil, errors.New("moov box not found")
	}

	traks, err := gomp4.ExtractBox(f, moovs[0], gomp4.BoxPath{gomp4.BoxTypeTrak()})
	if err != nil {
		return nil, fmt.Errorf("scan tracks: %w", err)
	}

	src := &source{file: f, selected: -1}
	for i, trak := range traks {
		t, err := parseTrack(f, trak, i)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
		src.tracks = append(src.tracks, t)
	}
	if err := readFragments(f, moovs[0], src.tracks); err != nil {
		return nil, err
	}
	return src, nil
}

func parseTrack(f *os.File, trak *gomp4.BoxInfo, index int) (demuxedTrack, error) {
	stbl := gomp4.BoxPath{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl()}
	under := func(t gomp4.BoxType) gomp4.BoxPath {
		p := make(gomp4.BoxPath, 0, len(stbl)+1)
		return append(append(p, stbl...), t)
	}

	boxes, err := gomp4.ExtractBoxesWithPayload(f, trak, []gomp4.BoxPath{
		{gomp4.BoxTypeTkhd()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMdhd()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeHdlr()},
		under(gomp4.BoxTypeStts()),
		under(gomp4.BoxTypeCtts()),
		under(gomp4.BoxTypeStsc()),
		under(gomp4.BoxTypeStsz()),
		under(gomp4.BoxTypeStco()),
		under(gomp4.BoxTypeCo64()),
		under(gomp4.BoxTypeStss()),
	})
	if err != nil {
		return demuxedTrack{}, fmt.Errorf("read track boxes: %w", err)
	}

	info := audio.Track{Index: index, Language: undeterminedLanguage}
	var handler string
	var tables sampleTableBoxes
	for _, b := range boxes {
		switch p := b.Payload.(type) {
		case *gomp4.Tkhd:
			info.ID = p.TrackID
		case *gomp4.Mdhd:
			info.Timescale = p.Timescale
			info.DurationUs = audio.TicksToMicros(int64(p.GetDuration()), p.Timescale)
			info.Language = decodeLanguage(p.Language)
		case *gomp4.Hdlr:
			handler = string(p.HandlerType[:])
		case *gomp4.Stts:
			tables.stts = p
		case *gomp4.Ctts:
			tables.ctts = p
		case *gomp4.Stsc:
			tables.stsc = p
		case *gomp4.Stsz:
			tables.stsz = p
		case *gomp4.Stco:
			tables.stco = p
		case *gomp4.Co64:
			tables.co64 = p
		case *gomp4.Stss:
			tables.stss = p
		}
	}
	if info.Timescale == 0 {
		return demuxedTrack{}, errors.New("mdhd box missing or zero timescale")
	}

	if err := readSampleDescription(f, trak, stbl, handler, &info); err != nil {
		return demuxedTrack{}, err
	}

	samples, err := tables.expand()
	if err != nil {
		return demuxedTrack{}, fmt.Errorf("sample table: %w", err)
	}
	info.SampleCount = len(samples)

	return demuxedTrack{info: info, samples: samples}, nil
}

// readSampleDescription captures the raw stsd box and derives codec details
// from its first sample entry.
func readSampleDescription(f *os.File, trak *gomp4.BoxInfo, stbl gomp4.BoxPath, handler string, info *audio.Track) error {
	stsdPath := append(append(gomp4.BoxPath{}, stbl...), gomp4.BoxTypeStsd())
	stsds, err := gomp4.ExtractBox(f, trak, stsdPath)
	if err != nil {
		return fmt.Errorf("read stsd: %w", err)
	}
	if len(stsds) == 0 {
		return errors.New("stsd box not found")
	}
	stsd := stsds[0]
	raw := make([]byte, stsd.Size)
	if _, err := f.ReadAt(raw, int64(stsd.Offset)); err != nil {
		return fmt.Errorf("read stsd payload: %w", err)
	}
	info.Config = raw

	entryPath := append(append(gomp4.BoxPath{}, stsdPath...), gomp4.BoxTypeAny())
	entries, err := gomp4.ExtractBox(f, trak, entryPath)
	if err != nil {
		return fmt.Errorf("read sample entries: %w", err)
	}

	var objectType byte
	if len(entries) > 0 {
		entry := entries[0]
		info.Codec = entry.Type.String()
		if handler == handlerSound && entry.IsSupportedType() {
			if err := readAudioEntry(f, entry, info); err != nil {
				return err
			}
			if entry.Type == gomp4.BoxTypeMp4a() {
				objectType = readObjectType(f, entry)
			}
		}
	}
	info.MIME = mimeType(handler, info.Codec, objectType)
	return nil
}

func readAudioEntry(f *os.File, entry *gomp4.BoxInfo, info *audio.Track) error {
	if _, err := entry.SeekToPayload(f); err != nil {
		return fmt.Errorf("seek sample entry: %w", err)
	}
	box, _, err := gomp4.UnmarshalAny(f, entry.Type, entry.Size-entry.HeaderSize, entry.Context)
	if err != nil {
		return fmt.Errorf("decode %s sample entry: %w", entry.Type, err)
	}
	if ase, ok := box.(*gomp4.AudioSampleEntry); ok {
		info.ChannelCount = int(ase.ChannelCount)
		info.SampleRate = int(ase.SampleRate >> 16)
	}
	return nil
}

// readObjectType returns the esds object type indication, or 0 when the entry
// carries no decodable esds.
func readObjectType(f *os.File, entry *gomp4.BoxInfo) byte {
	boxes, err := gomp4.ExtractBoxWithPayload(f, entry, gomp4.BoxPath{gomp4.BoxTypeEsds()})
	if err != nil || len(boxes) == 0 {
		return 0
	}
	esds, ok := boxes[0].Payload.(*gomp4.Esds)
	if !ok {
		return 0
	}
	for _, d := range esds.Descriptors {
		if d.Tag == gomp4.DecoderConfigDescrTag && d.DecoderConfigDescriptor != nil {
			return d.DecoderConfigDescriptor.ObjectTypeIndication
		}
	}
	return 0
}

// decodeLanguage unpacks the ISO-639-2/T code stored as three 5-bit letters
func decodeLanguage(packed [3]byte) string {
	if packed == [3]byte{} {
		return undeterminedLanguage
	}
	code := make([]byte, 3)
	for i, c := range packed {
		if c == 0 || c > 26 {
			return undeterminedLanguage
		}
		code[i] = c + 0x60
	}
	return string(code)
}

// Tracks implements audio.Source
func (s *source) Tracks() []audio.Track {
	tracks := make([]audio.Track, len(s.tracks))
	for i, t := range s.tracks {
		tracks[i] = t.info
	}
	return tracks
}

// SelectTrack implements audio.Source
func (s *source) SelectTrack(index int) error {
	if s.closed {
		return audio.ErrHandleClosed
	}
	if index < 0 || index >= len(s.tracks) {
		return fmt.Errorf("%w: %d of %d", audio.ErrTrackIndexOutOfRange, index, len(s.tracks))
	}
	s.selected = index
	s.cursor = 0
	return nil
}

// ReadSample implements audio.Source
func (s *source) ReadSample(buf []byte) (audio.Sample, error) {
	if s.closed {
		return audio.Sample{}, audio.ErrHandleClosed
	}
	if s.selected < 0 {
		return audio.Sample{}, audio.ErrNoTrackSelected
	}
	t := &s.tracks[s.selected]
	if s.cursor >= len(t.samples) {
		return audio.Sample{}, io.EOF
	}

	ref := t.samples[s.cursor]
	size := int(ref.size)
	if size > len(buf) {
		return audio.Sample{}, fmt.Errorf("%w: sample %d is %d bytes, buffer holds %d",
			audio.ErrSampleTooLarge, s.cursor, size, len(buf))
	}

	n, err := s.file.ReadAt(buf[:size], int64(ref.offset))
	if n < size {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return audio.Sample{}, fmt.Errorf("read sample %d at offset %d: %w", s.cursor, ref.offset, err)
	}

	ts := t.info.Timescale
	sample := audio.Sample{
		Data:               buf,
		Size:               size,
		DecodeTimeUs:       audio.TicksToMicros(ref.decodeTime, ts),
		PresentationTimeUs: audio.TicksToMicros(ref.decodeTime+ref.ctsOffset, ts),
		DurationUs:         audio.TicksToMicros(int64(ref.duration), ts),
		DescriptionIndex:   ref.description,
	}
	if ref.sync {
		sample.Flags |= audio.FlagSync
	}
	return sample, nil
}

// Advance implements audio.Source
func (s *source) Advance() error {
	if s.closed {
		return audio.ErrHandleClosed
	}
	if s.selected < 0 {
		return audio.ErrNoTrackSelected
	}
	if s.cursor >= len(s.tracks[s.selected].samples) {
		return io.EOF
	}
	s.cursor++
	return nil
}

// Close implements audio.Source
func (s *source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Ensure Demuxer implements audio.SourceOpener
var _ audio.SourceOpener = (*Demuxer)(nil)

// Ensure source implements audio.Source
var _ audio.Source = (*source)(nil)
