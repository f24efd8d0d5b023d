package isobmff

import (
	"fmt"
	"sync"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// CompositionOffsetRun is a decoded ctts (count, offset) pair. Offset is
// stored as the raw 32-bit field exactly as it appears on disk; callers that
// need a composition time widen it to 64 bits with a signed sign-extend of
// those same bits, regardless of the box version (see GetOffset's doc
// comment).
type CompositionOffsetRun struct {
	Count  uint32
	Offset uint32
}

// CompositionOffsetIndex decodes a ctts box and provides a cached
// linear-scan lookup with hysteresis (C6). GetOffset is safe for concurrent
// use; the hysteretic cursor is serialized by an independent mutex.
type CompositionOffsetIndex struct {
	loaded bool
	runs   []CompositionOffsetRun

	mu              sync.Mutex
	currentRun      int
	currentRunStart uint32
}

// Load parses the ctts box at [dataOffset, dataOffset+dataSize) of src.
// version must be 0 or 1; flags must be zero. data_size must equal exactly
// 8 + numEntries*8.
func (c *CompositionOffsetIndex) Load(src bytesource.Source, dataOffset, dataSize int64) error {
	if c.loaded {
		return errs.New(errs.Malformed, "ctts: loaded more than once")
	}

	var hdr [8]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "ctts: read header", err)
	}
	if n < 8 {
		return errs.New(errs.IO, "ctts: short header read")
	}
	versionFlags := pio.U32BE(hdr[0:4])
	version := versionFlags >> 24
	flags := versionFlags & 0x00FFFFFF
	if version != 0 && version != 1 {
		return errs.New(errs.Malformed, fmt.Sprintf("ctts: unsupported version %d", version))
	}
	if flags != 0 {
		return errs.New(errs.Malformed, "ctts: non-zero flags")
	}
	count := pio.U32BE(hdr[4:8])

	want := int64(8) + int64(count)*8
	if dataSize != want {
		return errs.New(errs.Malformed, fmt.Sprintf("ctts: data_size %d != exactly %d for %d entries", dataSize, want, count))
	}

	buf := make([]byte, count*8)
	if count > 0 {
		n, err := src.ReadAt(dataOffset+8, buf)
		if err != nil {
			return errs.Wrap(errs.IO, "ctts: read entries", err)
		}
		if int64(n) < int64(len(buf)) {
			return errs.New(errs.IO, "ctts: short entries read")
		}
	}

	runs := make([]CompositionOffsetRun, count)
	for i := uint32(0); i < count; i++ {
		e := buf[i*8 : i*8+8]
		runs[i] = CompositionOffsetRun{
			Count:  pio.U32BE(e[0:4]),
			Offset: pio.U32BE(e[4:8]), // unsigned even at version 1, per original source
		}
	}

	c.runs = runs
	c.loaded = true
	return nil
}

// Loaded reports whether a ctts table is present for this track.
func (c *CompositionOffsetIndex) Loaded() bool {
	return c.loaded
}

// Runs returns the decoded run table. Callers must not mutate it.
func (c *CompositionOffsetIndex) Runs() []CompositionOffsetRun {
	return c.runs
}

// GetOffset returns the raw composition-offset bits for sampleIndex via a
// hysteretic cursor: if sampleIndex regressed behind the last query, the
// cursor resets to the start of the run table; otherwise it resumes
// scanning forward from wherever it last stopped. Callers wanting a signed
// composition time should sign-extend the returned bits as int32 before
// widening to int64 — the field is read and cached as unsigned regardless
// of the box version, matching the original decoder's bit-for-bit behavior.
func (c *CompositionOffsetIndex) GetOffset(sampleIndex uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sampleIndex < c.currentRunStart {
		c.currentRun = 0
		c.currentRunStart = 0
	}

	for c.currentRun < len(c.runs) {
		run := c.runs[c.currentRun]
		if sampleIndex < c.currentRunStart+run.Count {
			return run.Offset
		}
		c.currentRunStart += run.Count
		c.currentRun++
	}
	return 0
}
