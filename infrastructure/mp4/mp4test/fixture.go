// Package mp4test builds small ISO-BMFF files for tests.
package mp4test

import (
	"fmt"
	"io"
	"os"

	gomp4 "github.com/abema/go-mp4"
)

// Sample is one fixture sample. Delta is its decode duration in media time units.
type Sample struct {
	Data              []byte
	Delta             uint32
	CompositionOffset int32
	Sync              bool
	// Description is the 1-based sample entry the sample uses; 0 means 1
	Description uint32
}

// Track describes one fixture track
type Track struct {
	// Handler is the hdlr type, "soun" or "vide"
	Handler string
	// Codec is the sample entry fourcc
	Codec     string
	Timescale uint32
	Language  string

	ChannelCount uint16
	SampleRate   uint32
	// ObjectType is written into an esds box for mp4a entries; 0 omits esds
	ObjectType byte

	Width, Height uint16

	// SamplesPerChunk groups samples into chunks; 0 means one sample per chunk
	SamplesPerChunk int
	Samples         []Sample
}

// File describes a fixture container
type File struct {
	Tracks []Track
	// Padding inserts a free box of this many payload bytes before mdat
	Padding int
	// LargeOffsets writes co64 instead of stco
	LargeOffsets bool
	// Fragmented leaves the moov sample tables empty and stores samples in
	// moof/mdat pairs instead
	Fragmented bool
	// SamplesPerFragment caps each track fragment; 0 means 4
	SamplesPerFragment int
}

// SampleBytes returns the total payload size of the track
func (t Track) SampleBytes() int {
	total := 0
	for _, s := range t.Samples {
		total += len(s.Data)
	}
	return total
}

// Descriptions returns the number of sample entries the track needs
func (t Track) Descriptions() uint32 {
	n := uint32(1)
	for _, s := range t.Samples {
		if s.Description > n {
			n = s.Description
		}
	}
	return n
}

func (s Sample) description() uint32 {
	if s.Description == 0 {
		return 1
	}
	return s.Description
}

// AACTrack returns an mp4a track of n sync samples of size bytes, 1024 ticks apart at 44.1 kHz
func AACTrack(n, size int) Track {
	t := Track{
		Handler:      "soun",
		Codec:        "mp4a",
		Timescale:    44100,
		Language:     "eng",
		ChannelCount: 2,
		SampleRate:   44100,
		ObjectType:   0x40,
	}
	for i := 0; i < n; i++ {
		t.Samples = append(t.Samples, Sample{Data: Payload(i, size), Delta: 1024, Sync: true})
	}
	return t
}

// AVCTrack returns an avc1 track of n samples with a sync sample every 5 frames
// and B-frame style composition offsets
func AVCTrack(n, size int) Track {
	t := Track{
		Handler:   "vide",
		Codec:     "avc1",
		Timescale: 90000,
		Language:  "und",
		Width:     320,
		Height:    240,
	}
	for i := 0; i < n; i++ {
		t.Samples = append(t.Samples, Sample{
			Data:              Payload(1000+i, size),
			Delta:             3000,
			CompositionOffset: int32((i % 3) * 3000),
			Sync:              i%5 == 0,
		})
	}
	return t
}

// Payload returns size deterministic bytes seeded by n
func Payload(n, size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte(n*31 + i*7)
	}
	return p
}

// Write creates the fixture at path
func Write(path string, f File) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(out, f); err != nil {
		out.Close()
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return out.Close()
}

func write(ws io.WriteSeeker, f File) error {
	w := gomp4.NewWriter(ws)

	ftyp := &gomp4.Ftyp{
		MajorBrand: [4]byte{'i', 's', 'o', 'm'},
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}
	if err := writeBox(w, ftyp); err != nil {
		return err
	}
	if f.Padding > 0 {
		if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeFree()}); err != nil {
			return err
		}
		if _, err := w.Write(make([]byte, f.Padding)); err != nil {
			return err
		}
		if _, err := w.EndBox(); err != nil {
			return err
		}
	}

	if f.Fragmented {
		if err := writeMovie(w, f, make([]chunkLayout, len(f.Tracks))); err != nil {
			return err
		}
		return writeFragments(w, f)
	}

	chunks, err := writeMediaData(w, f.Tracks)
	if err != nil {
		return err
	}
	return writeMovie(w, f, chunks)
}

// chunkLayout records where each chunk of a track landed
type chunkLayout struct {
	offsets      []uint64
	sizes        []int
	descriptions []uint32
}

func chunkSize(t Track) int {
	if t.SamplesPerChunk <= 0 {
		return 1
	}
	return t.SamplesPerChunk
}

// writeMediaData interleaves track chunks round robin inside one mdat
func writeMediaData(w *gomp4.Writer, tracks []Track) ([]chunkLayout, error) {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat()}); err != nil {
		return nil, err
	}

	layouts := make([]chunkLayout, len(tracks))
	next := make([]int, len(tracks))
	for remaining := true; remaining; {
		remaining = false
		for i, t := range tracks {
			if next[i] >= len(t.Samples) {
				continue
			}
			remaining = true
			pos, err := w.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			end := next[i] + chunkSize(t)
			if end > len(t.Samples) {
				end = len(t.Samples)
			}
			desc := t.Samples[next[i]].description()
			for j := next[i] + 1; j < end; j++ {
				if t.Samples[j].description() != desc {
					end = j
					break
				}
			}
			for _, s := range t.Samples[next[i]:end] {
				if _, err := w.Write(s.Data); err != nil {
					return nil, err
				}
			}
			layouts[i].offsets = append(layouts[i].offsets, uint64(pos))
			layouts[i].sizes = append(layouts[i].sizes, end-next[i])
			layouts[i].descriptions = append(layouts[i].descriptions, desc)
			next[i] = end
		}
	}

	_, err := w.EndBox()
	return layouts, err
}

func mediaDuration(f File, t Track) uint64 {
	if f.Fragmented {
		return 0
	}
	var d uint64
	for _, s := range t.Samples {
		d += uint64(s.Delta)
	}
	return d
}

func writeMovie(w *gomp4.Writer, f File, chunks []chunkLayout) error {
	var movieDuration uint32
	for _, t := range f.Tracks {
		if t.Timescale == 0 {
			continue
		}
		if d := uint32(mediaDuration(f, t) * 1000 / uint64(t.Timescale)); d > movieDuration {
			movieDuration = d
		}
	}

	return container(w, gomp4.BoxTypeMoov(), func() error {
		mvhd := &gomp4.Mvhd{
			Timescale:   1000,
			DurationV0:  movieDuration,
			Rate:        0x00010000,
			Volume:      0x0100,
			NextTrackID: uint32(len(f.Tracks) + 1),
		}
		if err := writeBox(w, mvhd); err != nil {
			return err
		}
		for i, t := range f.Tracks {
			err := container(w, gomp4.BoxTypeTrak(), func() error {
				return writeTrack(w, f, i, t, chunks[i])
			})
			if err != nil {
				return fmt.Errorf("track %d: %w", i, err)
			}
		}
		if f.Fragmented {
			return writeTrackExtends(w, f.Tracks)
		}
		return nil
	})
}

func writeTrack(w *gomp4.Writer, f File, index int, t Track, chunks chunkLayout) error {
	tkhd := &gomp4.Tkhd{TrackID: uint32(index + 1), Width: uint32(t.Width) << 16, Height: uint32(t.Height) << 16}
	tkhd.SetFlags(0x000003)
	if t.Handler == "soun" {
		tkhd.Volume = 0x0100
	}
	if err := writeBox(w, tkhd); err != nil {
		return err
	}

	return container(w, gomp4.BoxTypeMdia(), func() error {
		mdhd := &gomp4.Mdhd{
			Timescale:  t.Timescale,
			DurationV0: uint32(mediaDuration(f, t)),
			Language:   packLanguage(t.Language),
		}
		if err := writeBox(w, mdhd); err != nil {
			return err
		}
		var handler [4]byte
		copy(handler[:], t.Handler)
		if err := writeBox(w, &gomp4.Hdlr{HandlerType: handler, Name: t.Handler + " fixture"}); err != nil {
			return err
		}
		return container(w, gomp4.BoxTypeMinf(), func() error {
			if t.Handler == "vide" {
				if err := writeBox(w, &gomp4.Vmhd{}); err != nil {
					return err
				}
			} else if err := writeBox(w, &gomp4.Smhd{}); err != nil {
				return err
			}
			return container(w, gomp4.BoxTypeStbl(), func() error {
				return writeSampleTable(w, f, t, chunks)
			})
		})
	})
}

func writeSampleTable(w *gomp4.Writer, f File, t Track, chunks chunkLayout) error {
	entries := t.Descriptions()
	err := container(w, gomp4.BoxTypeStsd(), func() error {
		if _, err := gomp4.Marshal(w, &gomp4.Stsd{EntryCount: entries}, gomp4.Context{}); err != nil {
			return err
		}
		for i := uint32(0); i < entries; i++ {
			if err := writeSampleEntry(w, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// fragmented files keep their samples in moof boxes
	if f.Fragmented {
		t.Samples = nil
	}

	stts := &gomp4.Stts{}
	for _, s := range t.Samples {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == s.Delta {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: s.Delta})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	if err := writeBox(w, stts); err != nil {
		return err
	}

	if ctts := compositionOffsets(t); ctts != nil {
		if err := writeBox(w, ctts); err != nil {
			return err
		}
	}

	stsc := &gomp4.Stsc{}
	for i, n := range chunks.sizes {
		desc := chunks.descriptions[i]
		if k := len(stsc.Entries); k > 0 && stsc.Entries[k-1].SamplesPerChunk == uint32(n) &&
			stsc.Entries[k-1].SampleDescriptionIndex == desc {
			continue
		}
		stsc.Entries = append(stsc.Entries, gomp4.StscEntry{
			FirstChunk:             uint32(i + 1),
			SamplesPerChunk:        uint32(n),
			SampleDescriptionIndex: desc,
		})
	}
	stsc.EntryCount = uint32(len(stsc.Entries))
	if err := writeBox(w, stsc); err != nil {
		return err
	}

	stsz := &gomp4.Stsz{SampleCount: uint32(len(t.Samples))}
	for _, s := range t.Samples {
		stsz.EntrySize = append(stsz.EntrySize, uint32(len(s.Data)))
	}
	if err := writeBox(w, stsz); err != nil {
		return err
	}

	if f.LargeOffsets {
		err = writeBox(w, &gomp4.Co64{EntryCount: uint32(len(chunks.offsets)), ChunkOffset: chunks.offsets})
	} else {
		stco := &gomp4.Stco{EntryCount: uint32(len(chunks.offsets))}
		for _, o := range chunks.offsets {
			stco.ChunkOffset = append(stco.ChunkOffset, uint32(o))
		}
		err = writeBox(w, stco)
	}
	if err != nil {
		return err
	}

	stss := &gomp4.Stss{}
	for i, s := range t.Samples {
		if s.Sync {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}
	}
	if len(stss.SampleNumber) == len(t.Samples) {
		return nil
	}
	stss.EntryCount = uint32(len(stss.SampleNumber))
	return writeBox(w, stss)
}

func compositionOffsets(t Track) *gomp4.Ctts {
	needed := false
	for _, s := range t.Samples {
		if s.CompositionOffset != 0 {
			needed = true
		}
	}
	if !needed {
		return nil
	}
	ctts := &gomp4.Ctts{}
	ctts.SetVersion(1)
	for _, s := range t.Samples {
		ctts.Entries = append(ctts.Entries, gomp4.CttsEntry{SampleCount: 1, SampleOffsetV1: s.CompositionOffset})
	}
	ctts.EntryCount = uint32(len(ctts.Entries))
	return ctts
}

func writeSampleEntry(w *gomp4.Writer, t Track) error {
	boxType := gomp4.StrToBoxType(t.Codec)
	entry := gomp4.SampleEntry{AnyTypeBox: gomp4.AnyTypeBox{Type: boxType}, DataReferenceIndex: 1}

	if !boxType.IsSupported(gomp4.Context{}) {
		// opaque entry: reserved, data reference index, then zeroed codec fields
		return container(w, boxType, func() error {
			_, err := w.Write([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
			return err
		})
	}

	return container(w, boxType, func() error {
		if t.Handler == "vide" {
			vse := &gomp4.VisualSampleEntry{
				SampleEntry:     entry,
				Width:           t.Width,
				Height:          t.Height,
				Horizresolution: 0x00480000,
				Vertresolution:  0x00480000,
				FrameCount:      1,
				Depth:           0x0018,
				PreDefined3:     -1,
			}
			_, err := gomp4.Marshal(w, vse, gomp4.Context{})
			return err
		}

		ase := &gomp4.AudioSampleEntry{
			SampleEntry:  entry,
			ChannelCount: t.ChannelCount,
			SampleSize:   16,
			SampleRate:   t.SampleRate << 16,
		}
		if _, err := gomp4.Marshal(w, ase, gomp4.Context{}); err != nil {
			return err
		}
		if boxType == gomp4.BoxTypeMp4a() && t.ObjectType != 0 {
			return writeBox(w, elementaryStreamDescriptor(t.ObjectType))
		}
		return nil
	})
}

// elementaryStreamDescriptor builds an esds box with a two-byte AudioSpecificConfig
func elementaryStreamDescriptor(objectType byte) *gomp4.Esds {
	const header = 5 // tag + 4-byte varint size
	asc := []byte{0x12, 0x10}
	return &gomp4.Esds{
		Descriptors: []gomp4.Descriptor{
			{
				Tag:          gomp4.ESDescrTag,
				Size:         3 + header + 13 + header + uint32(len(asc)) + header + 1,
				ESDescriptor: &gomp4.ESDescriptor{ESID: 1},
			},
			{
				Tag:  gomp4.DecoderConfigDescrTag,
				Size: 13 + header + uint32(len(asc)),
				DecoderConfigDescriptor: &gomp4.DecoderConfigDescriptor{
					ObjectTypeIndication: objectType,
					StreamType:           0x05,
					Reserved:             true,
				},
			},
			{Tag: gomp4.DecSpecificInfoTag, Size: uint32(len(asc)), Data: asc},
			{Tag: gomp4.SLConfigDescrTag, Size: 1, Data: []byte{0x02}},
		},
	}
}

func packLanguage(code string) [3]byte {
	if len(code) != 3 {
		code = "und"
	}
	return [3]byte{code[0] - 0x60, code[1] - 0x60, code[2] - 0x60}
}

func writeBox(w *gomp4.Writer, box gomp4.IImmutableBox) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: box.GetType()}); err != nil {
		return err
	}
	if _, err := gomp4.Marshal(w, box, gomp4.Context{}); err != nil {
		return err
	}
	_, err := w.EndBox()
	return err
}

func container(w *gomp4.Writer, boxType gomp4.BoxType, children func() error) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: boxType}); err != nil {
		return err
	}
	if err := children(); err != nil {
		return err
	}
	_, err := w.EndBox()
	return err
}
