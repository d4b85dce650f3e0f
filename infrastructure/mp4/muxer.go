package mp4

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"audio-extract/domain/audio"
)

const (
	// maxTimescale caps the output media timescale at microsecond precision
	maxTimescale = 1_000_000
	// movieTimescale is the mvhd/tkhd timescale
	movieTimescale = 1000
	outputTrackID  = 1
)

var (
	brandM4A  = [4]byte{'M', '4', 'A', ' '}
	brandISOM = [4]byte{'i', 's', 'o', 'm'}
	brandISO2 = [4]byte{'i', 's', 'o', '2'}
	brandMP41 = [4]byte{'m', 'p', '4', '1'}

	unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
)

// Muxer implements audio.SinkOpener by writing single-track M4A files
type Muxer struct {
	fileMode os.FileMode
}

// MuxerOption is a functional option for configuring Muxer
type MuxerOption func(*Muxer)

// WithFileMode sets the permission bits of created files
func WithFileMode(mode os.FileMode) MuxerOption {
	return func(m *Muxer) {
		m.fileMode = mode
	}
}

// NewMuxer creates a new M4A muxer
func NewMuxer(opts ...MuxerOption) *Muxer {
	m := &Muxer{fileMode: 0o644}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSink implements audio.SinkOpener. An existing file at path is truncated.
func (m *Muxer) CreateSink(path string) (audio.Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, m.fileMode)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &sink{file: f, w: gomp4.NewWriter(f)}, nil
}

type sinkState int

const (
	sinkDeclaring sinkState = iota
	sinkWriting
	sinkStopped
)

// writtenSample is the table entry kept for each muxed sample
type writtenSample struct {
	size        uint32
	decodeTime  int64
	ctsOffset   int64
	duration    int64
	sync        bool
	description uint32
}

type sink struct {
	file  *os.File
	w     *gomp4.Writer
	state sinkState

	declared  bool
	track     audio.Track
	timescale uint32
	entries   uint32

	mdat       *gomp4.BoxInfo
	dataOffset uint64
	samples    []writtenSample
	lastDTS    int64

	closed bool
}

// AddTrack implements audio.Sink. The track's Config must hold a complete
// stsd box, which is written to the output unchanged.
func (s *sink) AddTrack(track audio.Track) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	switch {
	case s.state == sinkWriting:
		return 0, audio.ErrSinkStarted
	case s.state == sinkStopped:
		return 0, audio.ErrSinkStopped
	case s.declared:
		return 0, audio.ErrTrackAlreadyDeclared
	}
	entries, err := validateSampleDescription(track.Config)
	if err != nil {
		return 0, err
	}
	s.entries = entries

	s.track = track
	s.timescale = track.Timescale
	if s.timescale == 0 || s.timescale > maxTimescale {
		s.timescale = maxTimescale
	}
	s.declared = true
	return 0, nil
}

// validateSampleDescription checks config is a complete stsd box and returns
// its entry count
func validateSampleDescription(config []byte) (uint32, error) {
	if len(config) < 16 {
		return 0, fmt.Errorf("codec config too short for a sample description box: %d bytes", len(config))
	}
	if string(config[4:8]) != "stsd" {
		return 0, fmt.Errorf("codec config is a %q box, want stsd", config[4:8])
	}
	if size := binary.BigEndian.Uint32(config[:4]); int(size) != len(config) {
		return 0, fmt.Errorf("codec config box size %d does not match its length %d", size, len(config))
	}
	entries := binary.BigEndian.Uint32(config[12:16])
	if entries == 0 {
		return 0, fmt.Errorf("codec config holds no sample entries")
	}
	return entries, nil
}

// Start implements audio.Sink: it writes ftyp and opens the mdat box
func (s *sink) Start() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	switch {
	case s.state == sinkWriting:
		return audio.ErrSinkStarted
	case s.state == sinkStopped:
		return audio.ErrSinkStopped
	case !s.declared:
		return audio.ErrNoTrackDeclared
	}

	ftyp := &gomp4.Ftyp{
		MajorBrand:   brandM4A,
		MinorVersion: 0,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: brandM4A},
			{CompatibleBrand: brandISOM},
			{CompatibleBrand: brandISO2},
			{CompatibleBrand: brandMP41},
		},
	}
	if err := s.writeBox(ftyp); err != nil {
		return fmt.Errorf("write ftyp: %w", err)
	}

	mdat, err := s.w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat(), HeaderSize: gomp4.LargeHeaderSize})
	if err != nil {
		return fmt.Errorf("start mdat: %w", err)
	}
	s.mdat = mdat
	s.dataOffset = mdat.Offset + mdat.HeaderSize
	s.state = sinkWriting
	return nil
}

// WriteSample implements audio.Sink
func (s *sink) WriteSample(trackIndex int, sample audio.Sample) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	switch s.state {
	case sinkDeclaring:
		return audio.ErrSinkNotStarted
	case sinkStopped:
		return audio.ErrSinkStopped
	}
	if trackIndex != 0 {
		return fmt.Errorf("%w: %d", audio.ErrTrackIndexOutOfRange, trackIndex)
	}
	if sample.Size < 0 || sample.Size > len(sample.Data) || uint64(sample.Size) > math.MaxUint32 {
		return fmt.Errorf("%w: size %d with %d bytes of data", audio.ErrInvalidSample, sample.Size, len(sample.Data))
	}

	description := sample.DescriptionIndex
	if description == 0 {
		description = 1
	}
	if description > s.entries {
		return fmt.Errorf("%w: sample entry %d of %d", audio.ErrInvalidSample, description, s.entries)
	}

	dts := audio.MicrosToTicks(sample.DecodeTimeUs, s.timescale)
	if len(s.samples) > 0 && dts < s.lastDTS {
		return fmt.Errorf("%w: %dus after %dus", audio.ErrNonMonotonicTimestamp,
			sample.DecodeTimeUs, audio.TicksToMicros(s.lastDTS, s.timescale))
	}

	if _, err := s.w.Write(sample.Payload()); err != nil {
		return fmt.Errorf("write sample %d: %w", len(s.samples), err)
	}

	pts := audio.MicrosToTicks(sample.PresentationTimeUs, s.timescale)
	s.samples = append(s.samples, writtenSample{
		size:        uint32(sample.Size),
		decodeTime:  dts,
		ctsOffset:   pts - dts,
		duration:    audio.MicrosToTicks(sample.DurationUs, s.timescale),
		sync:        sample.Flags.Has(audio.FlagSync),
		description: description,
	})
	s.lastDTS = dts
	return nil
}

// Stop implements audio.Sink: it closes mdat and writes moov
func (s *sink) Stop() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	switch s.state {
	case sinkDeclaring:
		return audio.ErrSinkNotStarted
	case sinkStopped:
		return audio.ErrSinkStopped
	}
	s.state = sinkStopped

	if _, err := s.w.EndBox(); err != nil {
		return fmt.Errorf("close mdat: %w", err)
	}
	if err := s.writeMovie(); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Close implements audio.Sink
func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func (s *sink) checkOpen() error {
	if s.closed {
		return audio.ErrHandleClosed
	}
	return nil
}

func (s *sink) writeBox(box gomp4.IImmutableBox) error {
	if _, err := s.w.StartBox(&gomp4.BoxInfo{Type: box.GetType()}); err != nil {
		return err
	}
	if _, err := gomp4.Marshal(s.w, box, gomp4.Context{}); err != nil {
		return err
	}
	_, err := s.w.EndBox()
	return err
}

// container writes a box whose payload is produced by children
func (s *sink) container(boxType gomp4.BoxType, children func() error) error {
	if _, err := s.w.StartBox(&gomp4.BoxInfo{Type: boxType}); err != nil {
		return err
	}
	if err := children(); err != nil {
		return fmt.Errorf("%s: %w", boxType, err)
	}
	_, err := s.w.EndBox()
	return err
}

// mediaDuration is the end of the last sample in media time units
func (s *sink) mediaDuration() uint64 {
	if len(s.samples) == 0 {
		return 0
	}
	last := s.samples[len(s.samples)-1]
	end := last.decodeTime - s.samples[0].decodeTime + last.duration
	if end < 0 {
		return 0
	}
	return uint64(end)
}

func (s *sink) writeMovie() error {
	duration := s.mediaDuration()
	movieDuration := uint64(audio.MicrosToTicks(audio.TicksToMicros(int64(duration), s.timescale), movieTimescale))

	return s.container(gomp4.BoxTypeMoov(), func() error {
		mvhd := &gomp4.Mvhd{
			Timescale:   movieTimescale,
			Rate:        0x00010000,
			Volume:      0x0100,
			Matrix:      unityMatrix,
			NextTrackID: outputTrackID + 1,
		}
		if movieDuration > math.MaxUint32 {
			mvhd.SetVersion(1)
			mvhd.DurationV1 = movieDuration
		} else {
			mvhd.DurationV0 = uint32(movieDuration)
		}
		if err := s.writeBox(mvhd); err != nil {
			return err
		}
		return s.container(gomp4.BoxTypeTrak(), func() error {
			return s.writeTrack(duration, movieDuration)
		})
	})
}

func (s *sink) writeTrack(duration, movieDuration uint64) error {
	tkhd := &gomp4.Tkhd{
		TrackID: outputTrackID,
		Volume:  0x0100,
		Matrix:  unityMatrix,
	}
	tkhd.SetFlags(0x000003) // enabled, in movie
	if movieDuration > math.MaxUint32 {
		tkhd.SetVersion(1)
		tkhd.DurationV1 = movieDuration
	} else {
		tkhd.DurationV0 = uint32(movieDuration)
	}
	if err := s.writeBox(tkhd); err != nil {
		return err
	}

	return s.container(gomp4.BoxTypeMdia(), func() error {
		mdhd := &gomp4.Mdhd{
			Timescale: s.timescale,
			Language:  encodeLanguage(s.track.Language),
		}
		if duration > math.MaxUint32 {
			mdhd.SetVersion(1)
			mdhd.DurationV1 = duration
		} else {
			mdhd.DurationV0 = uint32(duration)
		}
		if err := s.writeBox(mdhd); err != nil {
			return err
		}
		hdlr := &gomp4.Hdlr{
			HandlerType: [4]byte{'s', 'o', 'u', 'n'},
			Name:        "SoundHandler",
		}
		if err := s.writeBox(hdlr); err != nil {
			return err
		}
		return s.container(gomp4.BoxTypeMinf(), s.writeMediaInfo)
	})
}

func (s *sink) writeMediaInfo() error {
	if err := s.writeBox(&gomp4.Smhd{}); err != nil {
		return err
	}
	err := s.container(gomp4.BoxTypeDinf(), func() error {
		return s.container(gomp4.BoxTypeDref(), func() error {
			dref := &gomp4.Dref{EntryCount: 1}
			if _, err := gomp4.Marshal(s.w, dref, gomp4.Context{}); err != nil {
				return err
			}
			url := &gomp4.Url{}
			url.SetFlags(0x000001) // media data in this file
			return s.writeBox(url)
		})
	})
	if err != nil {
		return err
	}
	return s.container(gomp4.BoxTypeStbl(), s.writeSampleTable)
}

func (s *sink) writeSampleTable() error {
	if _, err := s.w.Write(s.track.Config); err != nil {
		return fmt.Errorf("copy stsd: %w", err)
	}

	boxes := []gomp4.IImmutableBox{s.timeToSample()}
	if ctts := s.compositionOffsets(); ctts != nil {
		boxes = append(boxes, ctts)
	}
	runs := s.chunks()
	boxes = append(boxes, s.sampleToChunk(runs), s.sampleSizes(), s.chunkOffsets(runs))
	if stss := s.syncSamples(); stss != nil {
		boxes = append(boxes, stss)
	}

	for _, box := range boxes {
		if err := s.writeBox(box); err != nil {
			return fmt.Errorf("%s: %w", box.GetType(), err)
		}
	}
	return nil
}

// timeToSample run-length encodes decode deltas; the last sample uses its own duration
func (s *sink) timeToSample() *gomp4.Stts {
	stts := &gomp4.Stts{}
	for i, smp := range s.samples {
		delta := smp.duration
		if i+1 < len(s.samples) {
			delta = s.samples[i+1].decodeTime - smp.decodeTime
		}
		d := clampUint32(delta)
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == d {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: d})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	return stts
}

// compositionOffsets returns nil when presentation equals decode time for every sample
func (s *sink) compositionOffsets() *gomp4.Ctts {
	needed, negative := false, false
	for _, smp := range s.samples {
		if smp.ctsOffset != 0 {
			needed = true
		}
		if smp.ctsOffset < 0 {
			negative = true
		}
	}
	if !needed {
		return nil
	}

	ctts := &gomp4.Ctts{}
	if negative {
		ctts.SetVersion(1)
	}
	for _, smp := range s.samples {
		if n := len(ctts.Entries); n > 0 && ctts.GetSampleOffset(n-1) == smp.ctsOffset {
			ctts.Entries[n-1].SampleCount++
			continue
		}
		entry := gomp4.CttsEntry{SampleCount: 1}
		if negative {
			entry.SampleOffsetV1 = int32(smp.ctsOffset)
		} else {
			entry.SampleOffsetV0 = uint32(smp.ctsOffset)
		}
		ctts.Entries = append(ctts.Entries, entry)
	}
	ctts.EntryCount = uint32(len(ctts.Entries))
	return ctts
}

// chunkRun is a chunk of consecutive samples sharing one sample entry
type chunkRun struct {
	offset      uint64
	samples     uint32
	description uint32
}

// chunks splits the samples, which are contiguous in mdat, into one chunk
// per run of equal sample description index
func (s *sink) chunks() []chunkRun {
	var runs []chunkRun
	offset := s.dataOffset
	for _, smp := range s.samples {
		if n := len(runs); n > 0 && runs[n-1].description == smp.description {
			runs[n-1].samples++
		} else {
			runs = append(runs, chunkRun{offset: offset, samples: 1, description: smp.description})
		}
		offset += uint64(smp.size)
	}
	return runs
}

func (s *sink) sampleToChunk(runs []chunkRun) *gomp4.Stsc {
	stsc := &gomp4.Stsc{}
	for i, run := range runs {
		if n := len(stsc.Entries); n > 0 &&
			stsc.Entries[n-1].SamplesPerChunk == run.samples &&
			stsc.Entries[n-1].SampleDescriptionIndex == run.description {
			continue
		}
		stsc.Entries = append(stsc.Entries, gomp4.StscEntry{
			FirstChunk:             uint32(i + 1),
			SamplesPerChunk:        run.samples,
			SampleDescriptionIndex: run.description,
		})
	}
	stsc.EntryCount = uint32(len(stsc.Entries))
	return stsc
}

func (s *sink) sampleSizes() *gomp4.Stsz {
	stsz := &gomp4.Stsz{SampleCount: uint32(len(s.samples))}
	stsz.EntrySize = make([]uint32, len(s.samples))
	for i, smp := range s.samples {
		stsz.EntrySize[i] = smp.size
	}
	return stsz
}

func (s *sink) chunkOffsets(runs []chunkRun) gomp4.IImmutableBox {
	if n := len(runs); n > 0 && runs[n-1].offset > math.MaxUint32 {
		co64 := &gomp4.Co64{EntryCount: uint32(n)}
		for _, run := range runs {
			co64.ChunkOffset = append(co64.ChunkOffset, run.offset)
		}
		return co64
	}
	stco := &gomp4.Stco{EntryCount: uint32(len(runs))}
	for _, run := range runs {
		stco.ChunkOffset = append(stco.ChunkOffset, uint32(run.offset))
	}
	return stco
}

// syncSamples returns nil when every sample is a sync sample
func (s *sink) syncSamples() *gomp4.Stss {
	stss := &gomp4.Stss{}
	for i, smp := range s.samples {
		if smp.sync {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}
	}
	if len(stss.SampleNumber) == len(s.samples) {
		return nil
	}
	stss.EntryCount = uint32(len(stss.SampleNumber))
	return stss
}

func clampUint32(v int64) uint32 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(v)
	}
}

// encodeLanguage packs an ISO-639-2/T code into three 5-bit letters
func encodeLanguage(code string) [3]byte {
	if len(code) != 3 {
		code = undeterminedLanguage
	}
	var packed [3]byte
	for i := 0; i < 3; i++ {
		c := code[i]
		if c < 'a' || c > 'z' {
			return encodeLanguage(undeterminedLanguage)
		}
		packed[i] = c - 0x60
	}
	return packed
}

// Ensure Muxer implements audio.SinkOpener
var _ audio.SinkOpener = (*Muxer)(nil)

// Ensure sink implements audio.Sink
var _ audio.Sink = (*sink)(nil)
