package isobmff

import (
	"fmt"

	"github.com/icecoldsandwich/mediaindex/errs"
)

// SampleIterator is a cursor over logical samples that resolves
// (offset, size, time, description-index) by composing the sample-to-chunk,
// chunk-offset, sample-size, time-to-sample, and composition-offset indices
// with chunk arithmetic (C9). It holds a non-owning back-reference to the
// SampleTable that built it; per the design note on the cyclic
// back-reference, the table must outlive every iterator it hands out.
type SampleIterator struct {
	table *SampleTable

	resolved        bool
	sampleIndex     uint32
	offset          uint64
	size            uint32
	decodeTime      uint64
	compositionTime int64
	descIndex       uint32
}

// NewSampleIterator returns an iterator borrowing table's indices.
func NewSampleIterator(table *SampleTable) *SampleIterator {
	return &SampleIterator{table: table}
}

// SeekTo resolves sampleIndex's offset, size, decode time, composition
// time, and description index without persisting any intermediate array
// larger than the run tables the table already owns.
func (it *SampleIterator) SeekTo(sampleIndex uint32) error {
	t := it.table

	if t.sampleSize.loaded && sampleIndex >= t.sampleSize.Count() {
		return errs.New(errs.BadIndex, fmt.Sprintf("sample index %d out of range [0,%d)", sampleIndex, t.sampleSize.Count()))
	}

	chunkCount := t.chunkOffset.Count()
	_, chunkIndex, sampleInChunk, err := t.sampleToChunk.Resolve(sampleIndex, chunkCount)
	if err != nil {
		return err
	}

	chunkOffset, err := t.chunkOffset.At(t.src, chunkIndex)
	if err != nil {
		return err
	}

	var offsetInChunk uint64
	var size uint32
	if def := t.sampleSize.DefaultSize(); def != 0 {
		offsetInChunk = uint64(sampleInChunk) * uint64(def)
		size = def
	} else {
		firstSampleOfChunk, err := t.sampleToChunk.FirstSampleOfChunk(chunkIndex, chunkCount)
		if err != nil {
			return err
		}
		for s := firstSampleOfChunk; s < sampleIndex; s++ {
			sz, err := t.sampleSize.At(t.src, s)
			if err != nil {
				return err
			}
			offsetInChunk += uint64(sz)
		}
		size, err = t.sampleSize.At(t.src, sampleIndex)
		if err != nil {
			return err
		}
	}

	decodeTime, err := t.timeToSample.DecodeTimeForSample(sampleIndex)
	if err != nil {
		return err
	}

	var compositionTime int64
	if t.compositionOffset.Loaded() {
		raw := t.compositionOffset.GetOffset(sampleIndex)
		compositionTime = int64(decodeTime) + int64(int32(raw))
	} else {
		compositionTime = int64(decodeTime)
	}

	run := t.sampleToChunk.Runs()
	descIndex := uint32(0)
	for r := len(run) - 1; r >= 0; r-- {
		if run[r].FirstChunk <= chunkIndex {
			descIndex = run[r].DescIndex
			break
		}
	}

	it.sampleIndex = sampleIndex
	it.offset = chunkOffset + offsetInChunk
	it.size = size
	it.decodeTime = decodeTime
	it.compositionTime = compositionTime
	it.descIndex = descIndex
	it.resolved = true
	return nil
}

func (it *SampleIterator) checkResolved() error {
	if !it.resolved {
		return errs.New(errs.InvalidOperation, "iterator: SeekTo not called")
	}
	return nil
}

// GetSampleOffset returns the absolute byte offset of the last sample
// resolved by SeekTo.
func (it *SampleIterator) GetSampleOffset() (uint64, error) {
	if err := it.checkResolved(); err != nil {
		return 0, err
	}
	return it.offset, nil
}

// GetSampleSize returns the byte size of the last sample resolved by SeekTo.
func (it *SampleIterator) GetSampleSize() (uint32, error) {
	if err := it.checkResolved(); err != nil {
		return 0, err
	}
	return it.size, nil
}

// GetSampleTime returns the decode and composition time of the last sample
// resolved by SeekTo.
func (it *SampleIterator) GetSampleTime() (decodeTime uint64, compositionTime int64, err error) {
	if err := it.checkResolved(); err != nil {
		return 0, 0, err
	}
	return it.decodeTime, it.compositionTime, nil
}

// GetDescIndex returns the 1-based sample-description index of the last
// sample resolved by SeekTo.
func (it *SampleIterator) GetDescIndex() (uint32, error) {
	if err := it.checkResolved(); err != nil {
		return 0, err
	}
	return it.descIndex, nil
}
