package mp4test

import (
	"encoding/binary"
	"io"

	gomp4 "github.com/abema/go-mp4"
)

const (
	trunFlags       = 0x000001 | 0x000100 | 0x000200 | 0x000400 | 0x000800
	sampleIsNonSync = 0x00010000
)

func writeTrackExtends(w *gomp4.Writer, tracks []Track) error {
	return container(w, gomp4.BoxTypeMvex(), func() error {
		for i := range tracks {
			trex := &gomp4.Trex{TrackID: uint32(i + 1), DefaultSampleDescriptionIndex: 1}
			if err := writeBox(w, trex); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeFragments emits moof/mdat pairs, one track fragment each, rotating
// through the tracks
func writeFragments(w *gomp4.Writer, f File) error {
	per := f.SamplesPerFragment
	if per <= 0 {
		per = 4
	}

	next := make([]int, len(f.Tracks))
	decodeTime := make([]uint64, len(f.Tracks))
	var sequence uint32
	for remaining := true; remaining; {
		remaining = false
		for i, t := range f.Tracks {
			if next[i] >= len(t.Samples) {
				continue
			}
			remaining = true
			end := next[i] + per
			if end > len(t.Samples) {
				end = len(t.Samples)
			}
			sequence++
			samples := t.Samples[next[i]:end]
			if err := writeFragment(w, sequence, uint32(i+1), decodeTime[i], samples); err != nil {
				return err
			}
			for _, s := range samples {
				decodeTime[i] += uint64(s.Delta)
			}
			next[i] = end
		}
	}
	return nil
}

func writeFragment(w *gomp4.Writer, sequence, trackID uint32, decodeTime uint64, samples []Sample) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMoof()}); err != nil {
		return err
	}
	if err := writeBox(w, &gomp4.Mfhd{SequenceNumber: sequence}); err != nil {
		return err
	}

	var trunPayload uint64
	err := container(w, gomp4.BoxTypeTraf(), func() error {
		tfhd := &gomp4.Tfhd{TrackID: trackID}
		tfhd.SetFlags(gomp4.TfhdDefaultBaseIsMoof | gomp4.TfhdSampleDescriptionIndexPresent)
		tfhd.SampleDescriptionIndex = samples[0].description()
		if err := writeBox(w, tfhd); err != nil {
			return err
		}
		tfdt := &gomp4.Tfdt{BaseMediaDecodeTimeV1: decodeTime}
		tfdt.SetVersion(1)
		if err := writeBox(w, tfdt); err != nil {
			return err
		}

		trun := &gomp4.Trun{SampleCount: uint32(len(samples))}
		trun.SetVersion(1)
		trun.SetFlags(trunFlags)
		for _, s := range samples {
			var flags uint32
			if !s.Sync {
				flags = sampleIsNonSync
			}
			trun.Entries = append(trun.Entries, gomp4.TrunEntry{
				SampleDuration:                s.Delta,
				SampleSize:                    uint32(len(s.Data)),
				SampleFlags:                   flags,
				SampleCompositionTimeOffsetV1: s.CompositionOffset,
			})
		}
		bi, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeTrun()})
		if err != nil {
			return err
		}
		trunPayload = bi.Offset + bi.HeaderSize
		if _, err := gomp4.Marshal(w, trun, gomp4.Context{}); err != nil {
			return err
		}
		_, err = w.EndBox()
		return err
	})
	if err != nil {
		return err
	}
	moof, err := w.EndBox()
	if err != nil {
		return err
	}

	// data_offset follows version/flags and sample_count; it points past
	// the mdat header
	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.Seek(int64(trunPayload)+8, io.SeekStart); err != nil {
		return err
	}
	var offset [4]byte
	binary.BigEndian.PutUint32(offset[:], uint32(moof.Size+8))
	if _, err := w.Write(offset[:]); err != nil {
		return err
	}
	if _, err := w.Seek(end, io.SeekStart); err != nil {
		return err
	}

	return container(w, gomp4.BoxTypeMdat(), func() error {
		for _, s := range samples {
			if _, err := w.Write(s.Data); err != nil {
				return err
			}
		}
		return nil
	})
}
