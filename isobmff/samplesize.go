package isobmff

import (
	"fmt"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// SampleSizeIndex decodes an stsz or stz2 box (C4). It exposes per-sample
// size either as a constant default, a lazily-read 4-byte-per-entry table
// (stsz), or a lazily-read bit-packed table with a 4/8/16-bit field width
// (stz2). Like ChunkOffsetIndex, the per-sample table is never materialized
// in full; only the constant-size fast path avoids touching the source at
// all.
type SampleSizeIndex struct {
	loaded      bool
	defaultSize uint32
	count       uint32
	fieldSize   uint32 // 0 for stsz (always 4 bytes/entry); 4, 8, or 16 for stz2
	dataStart   int64
}

// LoadSTSZ parses an stsz box at [dataOffset, dataOffset+dataSize) of src.
// Load may be called at most once (either LoadSTSZ or LoadSTZ2, not both).
func (s *SampleSizeIndex) LoadSTSZ(src bytesource.Source, dataOffset, dataSize int64) error {
	if s.loaded {
		return errs.New(errs.Malformed, "stsz: loaded more than once")
	}

	var hdr [12]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "stsz: read header", err)
	}
	if n < 12 {
		return errs.New(errs.IO, "stsz: short header read")
	}
	if pio.U32BE(hdr[0:4]) != 0 {
		return errs.New(errs.Malformed, "stsz: non-zero version/flags")
	}
	defaultSize := pio.U32BE(hdr[4:8])
	count := pio.U32BE(hdr[8:12])

	if defaultSize == 0 {
		need := int64(12) + int64(count)*4
		if dataSize < need {
			return errs.New(errs.Malformed, fmt.Sprintf("stsz: data_size %d too small for %d entries", dataSize, count))
		}
	}

	s.defaultSize = defaultSize
	s.count = count
	s.fieldSize = 0
	s.dataStart = dataOffset + 12
	s.loaded = true
	return nil
}

// LoadSTZ2 parses an stz2 box at [dataOffset, dataOffset+dataSize) of src.
func (s *SampleSizeIndex) LoadSTZ2(src bytesource.Source, dataOffset, dataSize int64) error {
	if s.loaded {
		return errs.New(errs.Malformed, "stz2: loaded more than once")
	}

	var hdr [12]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "stz2: read header", err)
	}
	if n < 12 {
		return errs.New(errs.IO, "stz2: short header read")
	}
	if pio.U32BE(hdr[0:4]) != 0 {
		return errs.New(errs.Malformed, "stz2: non-zero version/flags")
	}
	packed := pio.U32BE(hdr[4:8])
	if packed&0xFFFFFF00 != 0 {
		return errs.New(errs.Malformed, "stz2: reserved bits set")
	}
	fieldSize := packed & 0xFF
	if fieldSize != 4 && fieldSize != 8 && fieldSize != 16 {
		return errs.New(errs.Malformed, fmt.Sprintf("stz2: invalid field size %d", fieldSize))
	}
	count := pio.U32BE(hdr[8:12])

	need := (int64(count)*int64(fieldSize) + 4) / 8
	if dataSize < need {
		return errs.New(errs.Malformed, fmt.Sprintf("stz2: data_size %d too small for %d entries at %d bits", dataSize, count, fieldSize))
	}

	s.defaultSize = 0
	s.count = count
	s.fieldSize = fieldSize
	s.dataStart = dataOffset + 12
	s.loaded = true
	return nil
}

// Count reports N_samples.
func (s *SampleSizeIndex) Count() uint32 {
	return s.count
}

// DefaultSize reports the constant size, or 0 if sizes vary per sample.
func (s *SampleSizeIndex) DefaultSize() uint32 {
	return s.defaultSize
}

// At returns the size of sample index (0-based), reading lazily from src
// when sizes are not constant.
func (s *SampleSizeIndex) At(src bytesource.Source, index uint32) (uint32, error) {
	if !s.loaded {
		return 0, errs.New(errs.InvalidOperation, "stsz/stz2: not loaded")
	}
	if index >= s.count {
		return 0, errs.New(errs.BadIndex, fmt.Sprintf("stsz/stz2: sample index %d out of range [0,%d)", index, s.count))
	}
	if s.defaultSize != 0 {
		return s.defaultSize, nil
	}

	switch s.fieldSize {
	case 0: // stsz table, 4 bytes/entry
		var buf [4]byte
		n, err := src.ReadAt(s.dataStart+int64(index)*4, buf[:])
		if err != nil {
			return 0, errs.Wrap(errs.IO, "stsz: read entry", err)
		}
		if n < 4 {
			return 0, errs.New(errs.IO, "stsz: short entry read")
		}
		return pio.U32BE(buf[:]), nil

	case 4:
		byteOff := s.dataStart + int64(index)/2
		var b [1]byte
		n, err := src.ReadAt(byteOff, b[:])
		if err != nil {
			return 0, errs.Wrap(errs.IO, "stz2: read nibble byte", err)
		}
		if n < 1 {
			return 0, errs.New(errs.IO, "stz2: short nibble read")
		}
		if index%2 == 0 {
			return uint32(b[0] >> 4), nil
		}
		return uint32(b[0] & 0x0F), nil

	case 8:
		var b [1]byte
		n, err := src.ReadAt(s.dataStart+int64(index), b[:])
		if err != nil {
			return 0, errs.Wrap(errs.IO, "stz2: read byte entry", err)
		}
		if n < 1 {
			return 0, errs.New(errs.IO, "stz2: short byte read")
		}
		return uint32(b[0]), nil

	case 16:
		var b [2]byte
		n, err := src.ReadAt(s.dataStart+int64(index)*2, b[:])
		if err != nil {
			return 0, errs.Wrap(errs.IO, "stz2: read 16-bit entry", err)
		}
		if n < 2 {
			return 0, errs.New(errs.IO, "stz2: short 16-bit read")
		}
		return uint32(pio.U16BE(b[:])), nil

	default:
		return 0, errs.New(errs.Malformed, "stz2: invalid field size")
	}
}
