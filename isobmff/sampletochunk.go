package isobmff

import (
	"fmt"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// SampleToChunkRun is a decoded stsc entry: firstChunk is 0-based (the file's
// 1-based value has already been decremented).
type SampleToChunkRun struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	DescIndex       uint32
}

// SampleToChunkIndex decodes an stsc box into run-length-encoded
// (first-chunk, samples-per-chunk, sample-description-index) triples (C3).
// The run table is small relative to a track's sample count, so it is
// loaded in full rather than read lazily.
type SampleToChunkIndex struct {
	loaded bool
	runs   []SampleToChunkRun
}

// Load parses the stsc box at [dataOffset, dataOffset+dataSize) of src.
// Load may be called at most once.
func (s *SampleToChunkIndex) Load(src bytesource.Source, dataOffset, dataSize int64) error {
	if s.loaded {
		return errs.New(errs.Malformed, "stsc: loaded more than once")
	}

	var hdr [8]byte
	n, err := src.ReadAt(dataOffset, hdr[:])
	if err != nil {
		return errs.Wrap(errs.IO, "stsc: read header", err)
	}
	if n < 8 {
		return errs.New(errs.IO, "stsc: short header read")
	}
	if pio.U32BE(hdr[0:4]) != 0 {
		return errs.New(errs.Malformed, "stsc: non-zero version/flags")
	}
	count := pio.U32BE(hdr[4:8])

	need := int64(8) + int64(count)*12
	if dataSize < need {
		return errs.New(errs.Malformed, fmt.Sprintf("stsc: data_size %d too small for %d entries", dataSize, count))
	}

	buf := make([]byte, count*12)
	if count > 0 {
		n, err := src.ReadAt(dataOffset+8, buf)
		if err != nil {
			return errs.Wrap(errs.IO, "stsc: read entries", err)
		}
		if int64(n) < int64(len(buf)) {
			return errs.New(errs.IO, "stsc: short entries read")
		}
	}

	runs := make([]SampleToChunkRun, count)
	var prevFirstChunk uint32
	for i := uint32(0); i < count; i++ {
		e := buf[i*12 : i*12+12]
		firstChunk := pio.U32BE(e[0:4])
		if firstChunk < 1 {
			return errs.New(errs.Malformed, fmt.Sprintf("stsc: entry %d has first_chunk %d < 1", i, firstChunk))
		}
		firstChunk--
		if i > 0 && firstChunk <= prevFirstChunk {
			return errs.New(errs.Malformed, fmt.Sprintf("stsc: entry %d first_chunk not strictly increasing", i))
		}
		runs[i] = SampleToChunkRun{
			FirstChunk:      firstChunk,
			SamplesPerChunk: pio.U32BE(e[4:8]),
			DescIndex:       pio.U32BE(e[8:12]),
		}
		prevFirstChunk = firstChunk
	}

	s.runs = runs
	s.loaded = true
	return nil
}

// Runs returns the decoded run table. Callers must not mutate it.
func (s *SampleToChunkIndex) Runs() []SampleToChunkRun {
	return s.runs
}

// Resolve finds the run containing sampleIndex given the total chunk count
// (needed because the last run's extent is bounded by N_chunks, not by a
// following run), and returns the run index, the chunk index, and the
// sample's position within that chunk.
func (s *SampleToChunkIndex) Resolve(sampleIndex uint32, chunkCount uint32) (runIndex int, chunkIndex uint32, sampleInChunk uint32, err error) {
	if !s.loaded {
		return 0, 0, 0, errs.New(errs.InvalidOperation, "stsc: not loaded")
	}
	if len(s.runs) == 0 {
		return 0, 0, 0, errs.New(errs.BadIndex, "stsc: empty run table")
	}

	var firstSampleOfRun uint32
	for r := 0; r < len(s.runs); r++ {
		run := s.runs[r]
		var nextFirstChunk uint32
		if r+1 < len(s.runs) {
			nextFirstChunk = s.runs[r+1].FirstChunk
		} else {
			nextFirstChunk = chunkCount
		}
		chunksInRun := nextFirstChunk - run.FirstChunk
		samplesInRun := chunksInRun * run.SamplesPerChunk

		if sampleIndex < firstSampleOfRun+samplesInRun {
			rel := sampleIndex - firstSampleOfRun
			if run.SamplesPerChunk == 0 {
				return 0, 0, 0, errs.New(errs.Malformed, "stsc: zero samples_per_chunk")
			}
			chunkIndex = run.FirstChunk + rel/run.SamplesPerChunk
			sampleInChunk = rel % run.SamplesPerChunk
			return r, chunkIndex, sampleInChunk, nil
		}
		firstSampleOfRun += samplesInRun
	}

	return 0, 0, 0, errs.New(errs.BadIndex, fmt.Sprintf("stsc: sample index %d exceeds run table extent", sampleIndex))
}

// FirstSampleOfChunk returns the sample index at which the given chunk
// (0-based, absolute, not run-relative) begins.
func (s *SampleToChunkIndex) FirstSampleOfChunk(chunkIndex uint32, chunkCount uint32) (uint32, error) {
	if !s.loaded {
		return 0, errs.New(errs.InvalidOperation, "stsc: not loaded")
	}
	var firstSampleOfRun uint32
	for r := 0; r < len(s.runs); r++ {
		run := s.runs[r]
		var nextFirstChunk uint32
		if r+1 < len(s.runs) {
			nextFirstChunk = s.runs[r+1].FirstChunk
		} else {
			nextFirstChunk = chunkCount
		}
		if chunkIndex < nextFirstChunk {
			return firstSampleOfRun + (chunkIndex-run.FirstChunk)*run.SamplesPerChunk, nil
		}
		chunksInRun := nextFirstChunk - run.FirstChunk
		firstSampleOfRun += chunksInRun * run.SamplesPerChunk
	}
	return 0, errs.New(errs.BadIndex, fmt.Sprintf("stsc: chunk index %d exceeds run table extent", chunkIndex))
}
