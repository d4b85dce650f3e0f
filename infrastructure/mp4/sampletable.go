package mp4

import (
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// sampleRef locates one sample of a track inside the file
type sampleRef struct {
	offset      uint64
	size        uint32
	decodeTime  int64 // media time units
	ctsOffset   int64 // presentation minus decode, media time units
	duration    uint32
	sync        bool
	description uint32 // 1-based stsd entry
}

// sampleTableBoxes holds the stbl children needed to locate samples
type sampleTableBoxes struct {
	stts *gomp4.Stts
	ctts *gomp4.Ctts
	stsc *gomp4.Stsc
	stsz *gomp4.Stsz
	stco *gomp4.Stco
	co64 *gomp4.Co64
	stss *gomp4.Stss
}

// expand flattens the run-length encoded sample tables into one entry per
// sample, in decode order.
func (b *sampleTableBoxes) expand() ([]sampleRef, error) {
	if b.stsz == nil {
		return nil, fmt.Errorf("missing stsz box")
	}
	if b.stts == nil {
		return nil, fmt.Errorf("missing stts box")
	}
	if b.stsc == nil {
		return nil, fmt.Errorf("missing stsc box")
	}

	count := int(b.stsz.SampleCount)
	if b.stsz.SampleSize == 0 && len(b.stsz.EntrySize) < count {
		return nil, fmt.Errorf("stsz lists %d sizes for %d samples", len(b.stsz.EntrySize), count)
	}
	refs := make([]sampleRef, count)
	for i := range refs {
		if b.stsz.SampleSize != 0 {
			refs[i].size = b.stsz.SampleSize
		} else {
			refs[i].size = b.stsz.EntrySize[i]
		}
	}
	if count == 0 {
		return refs, nil
	}

	if err := b.assignOffsets(refs); err != nil {
		return nil, err
	}
	if err := b.assignTimes(refs); err != nil {
		return nil, err
	}
	b.assignSync(refs)
	return refs, nil
}

func (b *sampleTableBoxes) chunkOffsets() ([]uint64, error) {
	switch {
	case b.co64 != nil:
		return b.co64.ChunkOffset, nil
	case b.stco != nil:
		offsets := make([]uint64, len(b.stco.ChunkOffset))
		for i, o := range b.stco.ChunkOffset {
			offsets[i] = uint64(o)
		}
		return offsets, nil
	default:
		return nil, fmt.Errorf("missing stco/co64 box")
	}
}

func (b *sampleTableBoxes) assignOffsets(refs []sampleRef) error {
	chunks, err := b.chunkOffsets()
	if err != nil {
		return err
	}
	entries := b.stsc.Entries
	if len(entries) == 0 {
		return fmt.Errorf("stsc has no entries for %d samples", len(refs))
	}

	sample := 0
	for e, entry := range entries {
		if entry.FirstChunk == 0 {
			return fmt.Errorf("stsc entry %d: chunk numbers start at 1", e)
		}
		lastChunk := uint32(len(chunks))
		if e+1 < len(entries) {
			if entries[e+1].FirstChunk <= entry.FirstChunk {
				return fmt.Errorf("stsc entry %d: first chunk %d not increasing", e+1, entries[e+1].FirstChunk)
			}
			lastChunk = entries[e+1].FirstChunk - 1
		}
		for chunk := entry.FirstChunk; chunk <= lastChunk && sample < len(refs); chunk++ {
			if int(chunk) > len(chunks) {
				return fmt.Errorf("stsc references chunk %d but only %d chunks exist", chunk, len(chunks))
			}
			offset := chunks[chunk-1]
			for i := uint32(0); i < entry.SamplesPerChunk && sample < len(refs); i++ {
				refs[sample].offset = offset
				refs[sample].description = entry.SampleDescriptionIndex
				offset += uint64(refs[sample].size)
				sample++
			}
		}
	}
	if sample != len(refs) {
		return fmt.Errorf("chunk tables cover %d of %d samples", sample, len(refs))
	}
	return nil
}

func (b *sampleTableBoxes) assignTimes(refs []sampleRef) error {
	sample := 0
	var decodeTime int64
	for _, entry := range b.stts.Entries {
		for i := uint32(0); i < entry.SampleCount && sample < len(refs); i++ {
			refs[sample].decodeTime = decodeTime
			refs[sample].duration = entry.SampleDelta
			decodeTime += int64(entry.SampleDelta)
			sample++
		}
	}
	if sample != len(refs) {
		return fmt.Errorf("stts covers %d of %d samples", sample, len(refs))
	}

	if b.ctts == nil {
		return nil
	}
	sample = 0
	for i, entry := range b.ctts.Entries {
		offset := b.ctts.GetSampleOffset(i)
		for j := uint32(0); j < entry.SampleCount && sample < len(refs); j++ {
			refs[sample].ctsOffset = offset
			sample++
		}
	}
	return nil
}

// assignSync marks sync samples; without an stss box every sample is a sync sample
func (b *sampleTableBoxes) assignSync(refs []sampleRef) {
	if b.stss == nil {
		for i := range refs {
			refs[i].sync = true
		}
		return
	}
	for _, n := range b.stss.SampleNumber {
		if n >= 1 && int(n) <= len(refs) {
			refs[n-1].sync = true
		}
	}
}
