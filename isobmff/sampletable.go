package isobmff

import (
	"fmt"
	"sort"
	"sync"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// SeekFlags selects the direction a temporal or sync-sample search resolves
// ties and misses in.
type SeekFlags int

const (
	// SeekFlagClosest picks whichever candidate is nearest the requested
	// time, ties favoring the candidate at or after it.
	SeekFlagClosest SeekFlags = iota
	// SeekFlagBefore requires the result to be at or before the request;
	// when no candidate is, the earliest candidate is returned.
	SeekFlagBefore
	// SeekFlagAfter requires the result to be at or after the request;
	// OUT_OF_RANGE if nothing qualifies.
	SeekFlagAfter
)

// SampleTimeEntry pairs a sample index with its composition time, built
// lazily by buildSampleTimeEntries and sorted ascending by CompositionTime.
type SampleTimeEntry struct {
	SampleIndex     uint32
	CompositionTime int64
}

// SampleTable is the public façade (C10) over a single track's sample-table
// sub-boxes. It owns every index (C2-C8), the SampleIterator (C9) it hands
// queries to, and the composition-sorted search table built lazily on first
// temporal query. All of that state is protected by a single mutex; the
// iterator is mutable cursor state shared across every query method, so it
// cannot be handed out to callers directly.
type SampleTable struct {
	src bytesource.Source

	chunkOffset       ChunkOffsetIndex
	sampleToChunk     SampleToChunkIndex
	sampleSize        SampleSizeIndex
	timeToSample      TimeToSampleIndex
	compositionOffset CompositionOffsetIndex
	syncSample        SyncSampleIndex
	sampleDescription SampleDescriptionIndex

	mu              sync.Mutex
	iterator        *SampleIterator
	timeEntriesBuilt bool
	timeEntries      []SampleTimeEntry
	syncScanCursor   int // last position scanned by isSyncSampleLocked
}

// NewSampleTable returns a table that reads sample data through src. Callers
// load each sub-box index with the corresponding Load* method before issuing
// any query.
func NewSampleTable(src bytesource.Source) *SampleTable {
	t := &SampleTable{src: src}
	t.iterator = NewSampleIterator(t)
	return t
}

// LoadChunkOffset decodes an stco (is64=false) or co64 (is64=true) box.
func (t *SampleTable) LoadChunkOffset(dataOffset, dataSize int64, is64 bool) error {
	return t.chunkOffset.Load(t.src, dataOffset, dataSize, is64)
}

// LoadSampleToChunk decodes an stsc box.
func (t *SampleTable) LoadSampleToChunk(dataOffset, dataSize int64) error {
	return t.sampleToChunk.Load(t.src, dataOffset, dataSize)
}

// LoadSampleSizeSTSZ decodes an stsz box.
func (t *SampleTable) LoadSampleSizeSTSZ(dataOffset, dataSize int64) error {
	return t.sampleSize.LoadSTSZ(t.src, dataOffset, dataSize)
}

// LoadSampleSizeSTZ2 decodes an stz2 box.
func (t *SampleTable) LoadSampleSizeSTZ2(dataOffset, dataSize int64) error {
	return t.sampleSize.LoadSTZ2(t.src, dataOffset, dataSize)
}

// LoadTimeToSample decodes an stts box.
func (t *SampleTable) LoadTimeToSample(dataOffset, dataSize int64) error {
	return t.timeToSample.Load(t.src, dataOffset, dataSize)
}

// LoadCompositionOffset decodes a ctts box. Optional: tracks without B-frame
// reordering have no ctts box at all.
func (t *SampleTable) LoadCompositionOffset(dataOffset, dataSize int64) error {
	return t.compositionOffset.Load(t.src, dataOffset, dataSize)
}

// LoadSyncSample decodes an stss box. Optional: a track with no stss box
// treats every sample as a sync sample.
func (t *SampleTable) LoadSyncSample(dataOffset, dataSize int64) error {
	return t.syncSample.Load(t.src, dataOffset, dataSize)
}

// LoadSampleDescription walks count avc1/avcC child atoms of an stsd box
// starting at offset.
func (t *SampleTable) LoadSampleDescription(offset int64, count uint32) error {
	return t.sampleDescription.Load(t.src, offset, count)
}

// CountSamples reports N_samples, as recorded by the stsz/stz2 header.
func (t *SampleTable) CountSamples() uint32 {
	return t.sampleSize.Count()
}

// SampleDescription returns the avcC payload for a 1-based description
// index.
func (t *SampleTable) SampleDescription(index uint32) ([]byte, error) {
	return t.sampleDescription.Get(index)
}

// GetMetaDataForSample resolves sampleIndex's byte offset, size, decode and
// composition time, and sync-sample membership in one call.
func (t *SampleTable) GetMetaDataForSample(sampleIndex uint32) (offset uint64, size uint32, decodeTime uint64, compositionTime int64, isSync bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err = t.iterator.SeekTo(sampleIndex); err != nil {
		return 0, 0, 0, 0, false, err
	}
	offset, err = t.iterator.GetSampleOffset()
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	size, err = t.iterator.GetSampleSize()
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	decodeTime, compositionTime, err = t.iterator.GetSampleTime()
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	isSync = t.isSyncSampleLocked(sampleIndex)
	return offset, size, decodeTime, compositionTime, isSync, nil
}

// isSyncSampleLocked reports whether sampleIndex is a sync sample. It
// remembers the last scanned position in the sorted sync-sample list and
// resumes from there, rewinding to zero only when the request is behind
// where the cursor last stopped.
func (t *SampleTable) isSyncSampleLocked(sampleIndex uint32) bool {
	if !t.syncSample.Present() {
		return true
	}
	indices := t.syncSample.Indices()
	if len(indices) == 0 {
		return false
	}
	if t.syncScanCursor > 0 && indices[t.syncScanCursor-1] >= sampleIndex {
		t.syncScanCursor = 0
	}
	for t.syncScanCursor < len(indices) {
		v := indices[t.syncScanCursor]
		if v == sampleIndex {
			return true
		}
		if v > sampleIndex {
			return false
		}
		t.syncScanCursor++
	}
	return false
}

// buildSampleTimeEntriesLocked populates t.timeEntries exactly once, walking
// the time-to-sample runs to compute decode time and folding in the
// composition offset (when a ctts box was loaded) for every sample in
// range, then sorting the result ascending by composition time. Callers
// must hold t.mu.
func (t *SampleTable) buildSampleTimeEntriesLocked() error {
	if t.timeEntriesBuilt {
		return nil
	}

	n := t.CountSamples()
	entries := make([]SampleTimeEntry, 0, n)

	var sampleIndex uint32
	var decodeTime uint64

runs:
	for _, run := range t.timeToSample.Runs() {
		for i := uint32(0); i < run.Count; i++ {
			if sampleIndex >= n {
				break runs
			}
			compositionTime := int64(decodeTime)
			if t.compositionOffset.Loaded() {
				raw := t.compositionOffset.GetOffset(sampleIndex)
				compositionTime = int64(decodeTime) + int64(int32(raw))
			}
			entries = append(entries, SampleTimeEntry{SampleIndex: sampleIndex, CompositionTime: compositionTime})
			decodeTime += uint64(run.Delta)
			sampleIndex++
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CompositionTime < entries[j].CompositionTime })

	t.timeEntries = entries
	t.timeEntriesBuilt = true
	return nil
}

// FindSampleAtTime performs a binary search over the composition-sorted
// table built by buildSampleTimeEntriesLocked and returns the sample index
// selected by flags.
func (t *SampleTable) FindSampleAtTime(reqTime int64, flags SeekFlags) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.buildSampleTimeEntriesLocked(); err != nil {
		return 0, err
	}
	entries := t.timeEntries
	if len(entries) == 0 {
		return 0, errs.New(errs.OutOfRange, "no sample time entries")
	}

	idx := sort.Search(len(entries), func(i int) bool { return entries[i].CompositionTime >= reqTime })

	switch flags {
	case SeekFlagAfter:
		if idx >= len(entries) {
			return 0, errs.New(errs.OutOfRange, fmt.Sprintf("no sample at or after time %d", reqTime))
		}
		return entries[idx].SampleIndex, nil

	case SeekFlagBefore:
		if idx < len(entries) && entries[idx].CompositionTime == reqTime {
			return entries[idx].SampleIndex, nil
		}
		back := idx - 1
		if back < 0 {
			back = 0
		}
		return entries[back].SampleIndex, nil

	default: // SeekFlagClosest
		if idx >= len(entries) {
			return entries[len(entries)-1].SampleIndex, nil
		}
		if idx == 0 || entries[idx].CompositionTime == reqTime {
			return entries[idx].SampleIndex, nil
		}
		dAfter := absDiffI64(entries[idx].CompositionTime, reqTime)
		dBefore := absDiffI64(entries[idx-1].CompositionTime, reqTime)
		if dBefore < dAfter {
			return entries[idx-1].SampleIndex, nil
		}
		return entries[idx].SampleIndex, nil // ties favor "found" (idx)
	}
}

// FindSyncSampleNear locates the sync sample nearest startIndex, refined by
// flags. If no stss box was loaded every sample is sync and startIndex is
// returned unchanged; if stss was loaded but empty, 0 is returned.
func (t *SampleTable) FindSyncSampleNear(startIndex uint32, flags SeekFlags) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.syncSample.Present() {
		return startIndex, nil
	}
	indices := t.syncSample.Indices()
	n := len(indices)
	if n == 0 {
		return 0, nil
	}

	left := sort.Search(n, func(i int) bool { return indices[i] >= startIndex })
	if left == n && flags == SeekFlagAfter {
		return 0, errs.New(errs.OutOfRange, fmt.Sprintf("no sync sample at or after %d", startIndex))
	}
	if left != 0 {
		left--
	}

	chosen := indices[left]
	if left+1 < n {
		x := indices[left]
		y := indices[left+1]
		xTime, err := t.decodeTimeOfLocked(x)
		if err != nil {
			return 0, err
		}
		yTime, err := t.decodeTimeOfLocked(y)
		if err != nil {
			return 0, err
		}
		startTime, err := t.decodeTimeOfLocked(startIndex)
		if err != nil {
			return 0, err
		}
		xDist := absDiffU64(xTime, startTime)
		yDist := absDiffU64(yTime, startTime)
		if yDist <= xDist {
			chosen = y // ties favor y
		} else {
			chosen = x
		}
	}

	switch flags {
	case SeekFlagBefore:
		if chosen > startIndex {
			pos := sort.Search(n, func(i int) bool { return indices[i] >= chosen })
			if pos > 0 {
				chosen = indices[pos-1]
			}
		}
	case SeekFlagAfter:
		if chosen < startIndex {
			pos := sort.Search(n, func(i int) bool { return indices[i] > chosen })
			if pos >= n {
				return 0, errs.New(errs.OutOfRange, fmt.Sprintf("no sync sample at or after %d", startIndex))
			}
			chosen = indices[pos]
		}
	}
	return chosen, nil
}

func (t *SampleTable) decodeTimeOfLocked(sampleIndex uint32) (uint64, error) {
	if err := t.iterator.SeekTo(sampleIndex); err != nil {
		return 0, err
	}
	decodeTime, _, err := t.iterator.GetSampleTime()
	return decodeTime, err
}

// FindThumbnailSample scans the first min(20, N_sync) sync samples and
// returns the one with the largest size. If no stss box was loaded, it
// returns sample 0 (the first frame is trivially a sync sample).
func (t *SampleTable) FindThumbnailSample() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.syncSample.Present() {
		return 0, nil
	}
	indices := t.syncSample.Indices()
	limit := len(indices)
	if limit > 20 {
		limit = 20
	}
	if limit == 0 {
		return 0, nil
	}

	var best, bestSize uint32
	for i := 0; i < limit; i++ {
		idx := indices[i]
		if err := t.iterator.SeekTo(idx); err != nil {
			return 0, err
		}
		size, err := t.iterator.GetSampleSize()
		if err != nil {
			return 0, err
		}
		if i == 0 || size > bestSize {
			best, bestSize = idx, size
		}
	}
	return best, nil
}

// GetMaxSampleSize scans every sample and returns the largest size. When
// stsz carries a constant defaultSize, every sample is that size and no scan
// is needed.
func (t *SampleTable) GetMaxSampleSize() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if def := t.sampleSize.DefaultSize(); def != 0 {
		return def, nil
	}
	n := t.sampleSize.Count()
	var max uint32
	for i := uint32(0); i < n; i++ {
		size, err := t.sampleSize.At(t.src, i)
		if err != nil {
			return 0, err
		}
		if size > max {
			max = size
		}
	}
	return max, nil
}

func absDiffI64(a, b int64) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

func absDiffU64(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
