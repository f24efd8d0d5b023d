package isobmff

import (
	"fmt"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// SyncSampleIndex decodes an stss box's sorted sync-sample indices (C7).
// The file stores 1-based indices in ascending order; Load converts them
// to 0-based.
type SyncSampleIndex struct {
	loaded  bool
	present bool // distinguishes "no stss box" from "stss box with zero entries"
	indices []uint32
}

// Load parses the stss box at [dataOffset, dataOffset+dataSize) of src.
func (s *SyncSampleIndex) Load(src bytesource.Source, dataOffset, dataSize int64) error {
	if s.loaded {
		return errs.New(errs.Malformed, "stss: loaded more than once")
	}

	var hdr [8]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "stss: read header", err)
	}
	if n < 8 {
		return errs.New(errs.IO, "stss: short header read")
	}
	if pio.U32BE(hdr[0:4]) != 0 {
		return errs.New(errs.Malformed, "stss: non-zero version/flags")
	}
	count := pio.U32BE(hdr[4:8])

	need := int64(8) + int64(count)*4
	if dataSize < need {
		return errs.New(errs.Malformed, fmt.Sprintf("stss: data_size %d too small for %d entries", dataSize, count))
	}

	buf := make([]byte, count*4)
	if count > 0 {
		n, err := src.ReadAt(dataOffset+8, buf)
		if err != nil {
			return errs.Wrap(errs.IO, "stss: read entries", err)
		}
		if int64(n) < int64(len(buf)) {
			return errs.New(errs.IO, "stss: short entries read")
		}
	}

	indices := make([]uint32, count)
	var prev uint32
	for i := uint32(0); i < count; i++ {
		v := pio.U32BE(buf[i*4 : i*4+4])
		if v < 1 {
			return errs.New(errs.Malformed, fmt.Sprintf("stss: entry %d has value %d < 1", i, v))
		}
		v--
		if i > 0 && v < prev {
			return errs.New(errs.Malformed, fmt.Sprintf("stss: entry %d not ascending", i))
		}
		indices[i] = v
		prev = v
	}

	s.indices = indices
	s.present = true
	s.loaded = true
	return nil
}

// Present reports whether an stss box was loaded for this track at all
// (as opposed to every sample being a sync sample).
func (s *SyncSampleIndex) Present() bool {
	return s.present
}

// Count reports N_sync.
func (s *SyncSampleIndex) Count() uint32 {
	return uint32(len(s.indices))
}

// Indices returns the decoded, 0-based, ascending sync-sample indices.
// Callers must not mutate it.
func (s *SyncSampleIndex) Indices() []uint32 {
	return s.indices
}
