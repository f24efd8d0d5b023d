package isobmff

import (
	"fmt"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// TimeToSampleRun is a decoded stts (count, delta) pair in decode-time units.
type TimeToSampleRun struct {
	Count uint32
	Delta uint32
}

// TimeToSampleIndex decodes an stts box's run-length (count, delta) pairs
// and exposes sample→decode-time (C5). Small and scanned frequently, so it
// is loaded in full.
type TimeToSampleIndex struct {
	loaded bool
	runs   []TimeToSampleRun
}

// Load parses the stts box at [dataOffset, dataOffset+dataSize) of src.
func (t *TimeToSampleIndex) Load(src bytesource.Source, dataOffset, dataSize int64) error {
	if t.loaded {
		return errs.New(errs.Malformed, "stts: loaded more than once")
	}

	var hdr [8]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "stts: read header", err)
	}
	if n < 8 {
		return errs.New(errs.IO, "stts: short header read")
	}
	if pio.U32BE(hdr[0:4]) != 0 {
		return errs.New(errs.Malformed, "stts: non-zero version/flags")
	}
	count := pio.U32BE(hdr[4:8])

	need := int64(8) + int64(count)*8
	if dataSize < need {
		return errs.New(errs.Malformed, fmt.Sprintf("stts: data_size %d too small for %d entries", dataSize, count))
	}

	buf := make([]byte, count*8)
	if count > 0 {
		n, err := src.ReadAt(dataOffset+8, buf)
		if err != nil {
			return errs.Wrap(errs.IO, "stts: read entries", err)
		}
		if int64(n) < int64(len(buf)) {
			return errs.New(errs.IO, "stts: short entries read")
		}
	}

	runs := make([]TimeToSampleRun, count)
	for i := uint32(0); i < count; i++ {
		e := buf[i*8 : i*8+8]
		runs[i] = TimeToSampleRun{
			Count: pio.U32BE(e[0:4]),
			Delta: pio.U32BE(e[4:8]),
		}
	}

	t.runs = runs
	t.loaded = true
	return nil
}

// Runs returns the decoded run table. Callers must not mutate it.
func (t *TimeToSampleIndex) Runs() []TimeToSampleRun {
	return t.runs
}

// DecodeTimeForSample walks the run table from the start, accumulating
// runCount*delta, and returns the decode time of sampleIndex.
func (t *TimeToSampleIndex) DecodeTimeForSample(sampleIndex uint32) (uint64, error) {
	if !t.loaded {
		return 0, errs.New(errs.InvalidOperation, "stts: not loaded")
	}

	var time uint64
	var sampleCursor uint32
	for _, run := range t.runs {
		if sampleIndex < sampleCursor+run.Count {
			time += uint64(sampleIndex-sampleCursor) * uint64(run.Delta)
			return time, nil
		}
		time += uint64(run.Count) * uint64(run.Delta)
		sampleCursor += run.Count
	}
	return 0, errs.New(errs.BadIndex, fmt.Sprintf("stts: sample index %d exceeds run table extent", sampleIndex))
}
