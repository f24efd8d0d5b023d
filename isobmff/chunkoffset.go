package isobmff

import (
	"fmt"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// ChunkOffsetIndex decodes an stco/co64 box into an indexable sequence of
// chunk byte offsets (C2). Entries are not materialized at load time; each
// is read lazily, one at a time, off the backing bytesource.Source so a
// track with millions of chunks doesn't force an O(N) allocation.
type ChunkOffsetIndex struct {
	loaded    bool
	is64      bool
	count     uint32
	dataStart int64 // byte offset of the first entry, past the 8-byte header
}

// Load parses the stco/co64 header at [dataOffset, dataOffset+dataSize) of
// src. is64 selects co64 (8-byte entries) over stco (4-byte entries).
// Load may be called at most once.
func (c *ChunkOffsetIndex) Load(src bytesource.Source, dataOffset, dataSize int64, is64 bool) error {
	if c.loaded {
		return errs.New(errs.Malformed, "stco/co64: loaded more than once")
	}

	var hdr [8]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "stco/co64: read header", err)
	}
	if n < 8 {
		return errs.New(errs.IO, "stco/co64: short header read")
	}
	versionFlags := pio.U32BE(hdr[0:4])
	if versionFlags != 0 {
		return errs.New(errs.Malformed, "stco/co64: non-zero version/flags")
	}
	count := pio.U32BE(hdr[4:8])

	entrySize := int64(4)
	if is64 {
		entrySize = 8
	}
	need := int64(8) + int64(count)*entrySize
	if dataSize < need {
		return errs.New(errs.Malformed, fmt.Sprintf("stco/co64: data_size %d too small for %d entries", dataSize, count))
	}

	c.is64 = is64
	c.count = count
	c.dataStart = dataOffset + 8
	c.loaded = true
	return nil
}

// Count reports N_chunks.
func (c *ChunkOffsetIndex) Count() uint32 {
	return c.count
}

// At reads chunk offset index (0-based) lazily from src.
func (c *ChunkOffsetIndex) At(src bytesource.Source, index uint32) (uint64, error) {
	if !c.loaded {
		return 0, errs.New(errs.InvalidOperation, "stco/co64: not loaded")
	}
	if index >= c.count {
		return 0, errs.New(errs.BadIndex, fmt.Sprintf("stco/co64: chunk index %d out of range [0,%d)", index, c.count))
	}

	if c.is64 {
		var buf [8]byte
		off := c.dataStart + int64(index)*8
		n, err := src.ReadAt(off, buf[:])
		if err != nil {
			return 0, errs.Wrap(errs.IO, "co64: read entry", err)
		}
		if n < 8 {
			return 0, errs.New(errs.IO, "co64: short entry read")
		}
		return pio.U64BE(buf[:]), nil
	}

	var buf [4]byte
	off := c.dataStart + int64(index)*4
	n, err := src.ReadAt(off, buf[:])
	if err != nil {
		return 0, errs.Wrap(errs.IO, "stco: read entry", err)
	}
	if n < 4 {
		return 0, errs.New(errs.IO, "stco: short entry read")
	}
	return uint64(pio.U32BE(buf[:])), nil
}
