package mp4

import (
	"fmt"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"audio-extract/domain/audio"
)

// trun flags; go-mp4 only names the tfhd ones
const (
	trunDataOffsetPresent        = 0x000001
	trunFirstSampleFlagsPresent  = 0x000004
	trunSampleDurationPresent    = 0x000100
	trunSampleSizePresent        = 0x000200
	trunSampleFlagsPresent       = 0x000400
	trunCompositionOffsetPresent = 0x000800

	sampleIsNonSync = 0x00010000
)

// fragmentDefaults are the per-track sample values a trun falls back to
type fragmentDefaults struct {
	description uint32
	duration    uint32
	size        uint32
	flags       uint32
}

// fragmentReader appends the samples of movie fragments to the tracks
// declared in moov
type fragmentReader struct {
	file       *os.File
	tracks     []demuxedTrack
	byID       map[uint32]int
	defaults   map[uint32]fragmentDefaults
	decodeTime []int64
}

// readFragments expands every top-level moof, in file order. Files without
// fragments are left untouched.
func readFragments(f *os.File, moov *gomp4.BoxInfo, tracks []demuxedTrack) error {
	moofs, err := gomp4.ExtractBox(f, nil, gomp4.BoxPath{gomp4.BoxTypeMoof()})
	if err != nil {
		return fmt.Errorf("scan movie fragments: %w", err)
	}
	if len(moofs) == 0 {
		return nil
	}

	r := &fragmentReader{
		file:       f,
		tracks:     tracks,
		byID:       make(map[uint32]int, len(tracks)),
		defaults:   make(map[uint32]fragmentDefaults, len(tracks)),
		decodeTime: make([]int64, len(tracks)),
	}
	for i, t := range tracks {
		r.byID[t.info.ID] = i
		if n := len(t.samples); n > 0 {
			last := t.samples[n-1]
			r.decodeTime[i] = last.decodeTime + int64(last.duration)
		}
	}
	if err := r.readTrackExtends(moov); err != nil {
		return err
	}

	for n, moof := range moofs {
		if err := r.readFragment(moof); err != nil {
			return fmt.Errorf("fragment %d: %w", n, err)
		}
	}

	for i := range tracks {
		t := &tracks[i]
		t.info.SampleCount = len(t.samples)
		if t.info.DurationUs == 0 {
			t.info.DurationUs = audio.TicksToMicros(r.decodeTime[i], t.info.Timescale)
		}
	}
	return nil
}

func (r *fragmentReader) readTrackExtends(moov *gomp4.BoxInfo) error {
	boxes, err := gomp4.ExtractBoxWithPayload(r.file, moov, gomp4.BoxPath{gomp4.BoxTypeMvex(), gomp4.BoxTypeTrex()})
	if err != nil {
		return fmt.Errorf("read trex: %w", err)
	}
	for _, b := range boxes {
		trex, ok := b.Payload.(*gomp4.Trex)
		if !ok {
			continue
		}
		r.defaults[trex.TrackID] = fragmentDefaults{
			description: trex.DefaultSampleDescriptionIndex,
			duration:    trex.DefaultSampleDuration,
			size:        trex.DefaultSampleSize,
			flags:       trex.DefaultSampleFlags,
		}
	}
	return nil
}

func (r *fragmentReader) readFragment(moof *gomp4.BoxInfo) error {
	trafs, err := gomp4.ExtractBox(r.file, moof, gomp4.BoxPath{gomp4.BoxTypeTraf()})
	if err != nil {
		return fmt.Errorf("scan traf: %w", err)
	}

	// the first traf without an explicit base starts at the moof, later ones
	// where the previous traf's data ended
	dataEnd := moof.Offset
	for _, traf := range trafs {
		end, err := r.readTrackFragment(moof, traf, dataEnd)
		if err != nil {
			return err
		}
		dataEnd = end
	}
	return nil
}

func (r *fragmentReader) readTrackFragment(moof, traf *gomp4.BoxInfo, implicitBase uint64) (uint64, error) {
	boxes, err := gomp4.ExtractBoxesWithPayload(r.file, traf, []gomp4.BoxPath{
		{gomp4.BoxTypeTfhd()},
		{gomp4.BoxTypeTfdt()},
		{gomp4.BoxTypeTrun()},
	})
	if err != nil {
		return 0, fmt.Errorf("read traf boxes: %w", err)
	}

	var tfhd *gomp4.Tfhd
	var tfdt *gomp4.Tfdt
	var truns []*gomp4.Trun
	for _, b := range boxes {
		switch p := b.Payload.(type) {
		case *gomp4.Tfhd:
			tfhd = p
		case *gomp4.Tfdt:
			tfdt = p
		case *gomp4.Trun:
			truns = append(truns, p)
		}
	}
	if tfhd == nil {
		return 0, fmt.Errorf("traf at offset %d has no tfhd", traf.Offset)
	}
	index, ok := r.byID[tfhd.TrackID]
	if !ok {
		return 0, fmt.Errorf("traf references track ID %d, which moov does not declare", tfhd.TrackID)
	}

	defaults := r.defaults[tfhd.TrackID]
	flags := tfhd.GetFlags()
	if flags&gomp4.TfhdSampleDescriptionIndexPresent != 0 {
		defaults.description = tfhd.SampleDescriptionIndex
	}
	if flags&gomp4.TfhdDefaultSampleDurationPresent != 0 {
		defaults.duration = tfhd.DefaultSampleDuration
	}
	if flags&gomp4.TfhdDefaultSampleSizePresent != 0 {
		defaults.size = tfhd.DefaultSampleSize
	}
	if flags&gomp4.TfhdDefaultSampleFlagsPresent != 0 {
		defaults.flags = tfhd.DefaultSampleFlags
	}

	base := implicitBase
	switch {
	case flags&gomp4.TfhdBaseDataOffsetPresent != 0:
		base = tfhd.BaseDataOffset
	case flags&gomp4.TfhdDefaultBaseIsMoof != 0:
		base = moof.Offset
	}
	if tfdt != nil {
		r.decodeTime[index] = int64(tfdt.GetBaseMediaDecodeTime())
	}

	offset := base
	for n, trun := range truns {
		next, err := r.expandRun(index, trun, base, offset, defaults)
		if err != nil {
			return 0, fmt.Errorf("trun %d of track ID %d: %w", n, tfhd.TrackID, err)
		}
		offset = next
	}
	return offset, nil
}

// expandRun appends one sampleRef per trun entry and returns the offset just
// past the run's data
func (r *fragmentReader) expandRun(index int, trun *gomp4.Trun, base, offset uint64, d fragmentDefaults) (uint64, error) {
	flags := trun.GetFlags()
	if flags&trunDataOffsetPresent != 0 {
		start := int64(base) + int64(trun.DataOffset)
		if start < 0 {
			return 0, fmt.Errorf("data offset %d points before the file start", trun.DataOffset)
		}
		offset = uint64(start)
	}
	if len(trun.Entries) < int(trun.SampleCount) {
		return 0, fmt.Errorf("lists %d entries for %d samples", len(trun.Entries), trun.SampleCount)
	}

	t := &r.tracks[index]
	for i := 0; i < int(trun.SampleCount); i++ {
		e := trun.Entries[i]
		ref := sampleRef{
			offset:      offset,
			size:        d.size,
			decodeTime:  r.decodeTime[index],
			duration:    d.duration,
			description: d.description,
		}
		sampleFlags := d.flags
		if flags&trunSampleDurationPresent != 0 {
			ref.duration = e.SampleDuration
		}
		if flags&trunSampleSizePresent != 0 {
			ref.size = e.SampleSize
		}
		switch {
		case i == 0 && flags&trunFirstSampleFlagsPresent != 0:
			sampleFlags = trun.FirstSampleFlags
		case flags&trunSampleFlagsPresent != 0:
			sampleFlags = e.SampleFlags
		}
		if flags&trunCompositionOffsetPresent != 0 {
			ref.ctsOffset = trun.GetSampleCompositionTimeOffset(i)
		}
		ref.sync = sampleFlags&sampleIsNonSync == 0

		t.samples = append(t.samples, ref)
		offset += uint64(ref.size)
		r.decodeTime[index] += int64(ref.duration)
	}
	return offset, nil
}
