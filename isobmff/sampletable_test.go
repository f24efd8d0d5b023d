package isobmff

import (
	"testing"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
)

func u32box(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		pio.PutU32BE(b[i*4:], v)
	}
	return b
}

func sttsBox(runs [][2]uint32) []byte {
	b := u32box(0, uint32(len(runs)))
	for _, r := range runs {
		b = append(b, u32box(r[0], r[1])...)
	}
	return b
}

func cttsBox(version uint32, runs [][2]uint32) []byte {
	b := u32box(version<<24, uint32(len(runs)))
	for _, r := range runs {
		b = append(b, u32box(r[0], r[1])...)
	}
	return b
}

func stscBox(entries [][3]uint32) []byte {
	b := u32box(0, uint32(len(entries)))
	for _, e := range entries {
		b = append(b, u32box(e[0], e[1], e[2])...)
	}
	return b
}

func stcoBox(offsets []uint32) []byte {
	return append(u32box(0, uint32(len(offsets))), u32box(offsets...)...)
}

func stszDefaultBox(defaultSize, count uint32) []byte {
	return u32box(0, defaultSize, count)
}

func stszTableBox(sizes []uint32) []byte {
	return append(u32box(0, 0, uint32(len(sizes))), u32box(sizes...)...)
}

func stssBox(indices []uint32) []byte {
	return append(u32box(0, uint32(len(indices))), u32box(indices...)...)
}

// buildTable concatenates the given boxes back to back into one
// bytesource.MemSource and loads each into a fresh SampleTable, returning
// both.
type tableBoxes struct {
	stco, stsc, stsz, stts, ctts, stss []byte
}

func buildTable(t *testing.T, boxes tableBoxes) *SampleTable {
	t.Helper()

	var data []byte
	offsetOf := func(b []byte) (int64, int64) {
		off := int64(len(data))
		data = append(data, b...)
		return off, int64(len(b))
	}

	stcoOff, stcoLen := offsetOf(boxes.stco)
	stscOff, stscLen := offsetOf(boxes.stsc)
	stszOff, stszLen := offsetOf(boxes.stsz)
	sttsOff, sttsLen := offsetOf(boxes.stts)
	var cttsOff, cttsLen int64
	if boxes.ctts != nil {
		cttsOff, cttsLen = offsetOf(boxes.ctts)
	}
	var stssOff, stssLen int64
	if boxes.stss != nil {
		stssOff, stssLen = offsetOf(boxes.stss)
	}

	src := bytesource.NewMemSource(data)
	table := NewSampleTable(src)

	if err := table.LoadChunkOffset(stcoOff, stcoLen, false); err != nil {
		t.Fatalf("LoadChunkOffset: %v", err)
	}
	if err := table.LoadSampleToChunk(stscOff, stscLen); err != nil {
		t.Fatalf("LoadSampleToChunk: %v", err)
	}
	if err := table.LoadSampleSizeSTSZ(stszOff, stszLen); err != nil {
		t.Fatalf("LoadSampleSizeSTSZ: %v", err)
	}
	if err := table.LoadTimeToSample(sttsOff, sttsLen); err != nil {
		t.Fatalf("LoadTimeToSample: %v", err)
	}
	if boxes.ctts != nil {
		if err := table.LoadCompositionOffset(cttsOff, cttsLen); err != nil {
			t.Fatalf("LoadCompositionOffset: %v", err)
		}
	}
	if boxes.stss != nil {
		if err := table.LoadSyncSample(stssOff, stssLen); err != nil {
			t.Fatalf("LoadSyncSample: %v", err)
		}
	}
	return table
}

// Scenario 1: stts composition, spec.md §8.
func TestSampleTable_SttsComposition(t *testing.T) {
	table := buildTable(t, tableBoxes{
		stco: stcoBox([]uint32{0}),
		stsc: stscBox([][3]uint32{{1, 5, 1}}),
		stsz: stszDefaultBox(10, 5),
		stts: sttsBox([][2]uint32{{3, 100}, {2, 50}}),
		ctts: cttsBox(0, [][2]uint32{{5, 0}}),
	})

	wantDecode := []uint64{0, 100, 200, 300, 400}
	for i, want := range wantDecode {
		_, _, decodeTime, compositionTime, _, err := table.GetMetaDataForSample(uint32(i))
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if decodeTime != want {
			t.Errorf("sample %d: decodeTime = %d, want %d", i, decodeTime, want)
		}
		if compositionTime != int64(want) {
			t.Errorf("sample %d: compositionTime = %d, want %d", i, compositionTime, want)
		}
	}
}

// Scenario 2: ctts v0 reordering, spec.md §8.
func TestSampleTable_CttsReordering(t *testing.T) {
	table := buildTable(t, tableBoxes{
		stco: stcoBox([]uint32{0}),
		stsc: stscBox([][3]uint32{{1, 4, 1}}),
		stsz: stszDefaultBox(10, 4),
		stts: sttsBox([][2]uint32{{4, 1000}}),
		ctts: cttsBox(0, [][2]uint32{{1, 0}, {1, 2000}, {1, 0}, {1, 0}}),
	})

	wantComposition := []int64{0, 3000, 2000, 3000}
	for i, want := range wantComposition {
		_, _, _, compositionTime, _, err := table.GetMetaDataForSample(uint32(i))
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if compositionTime != want {
			t.Errorf("sample %d: compositionTime = %d, want %d", i, compositionTime, want)
		}
	}

	// idx lands on the first entry with CompositionTime >= 2500, which is
	// one of the two composition-time-3000 entries (samples 1 and 3); the
	// tie between it and the composition-time-2000 entry below it favors
	// the found side (sampletable.go's CLOSEST tie-break), not sample 2.
	got, err := table.FindSampleAtTime(2500, SeekFlagClosest)
	if err != nil {
		t.Fatalf("FindSampleAtTime: %v", err)
	}
	if got != 1 && got != 3 {
		t.Errorf("FindSampleAtTime(2500, CLOSEST) = %d, want 1 or 3", got)
	}
}

// Scenario 3: stsc fan-out, spec.md §8.
func TestSampleTable_StscFanOut(t *testing.T) {
	table := buildTable(t, tableBoxes{
		stco: stcoBox([]uint32{0, 100, 200, 300}),
		stsc: stscBox([][3]uint32{{1, 2, 1}, {3, 1, 1}}),
		stsz: stszDefaultBox(10, 6),
		stts: sttsBox([][2]uint32{{6, 100}}),
	})

	if got := table.CountSamples(); got != 6 {
		t.Fatalf("CountSamples() = %d, want 6", got)
	}

	wantOffsets := []uint64{0, 10, 100, 110, 200, 300}
	for i, want := range wantOffsets {
		offset, _, _, _, _, err := table.GetMetaDataForSample(uint32(i))
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if offset != want {
			t.Errorf("sample %d: offset = %d, want %d", i, offset, want)
		}
	}
}

// Scenario 4: stss thumbnail, spec.md §8. Sync samples (0-based 0, 2, 4)
// have sizes 2000, 5000, 1000; the thumbnail pick is the largest, sample 2.
func TestSampleTable_ThumbnailSample(t *testing.T) {
	table := buildTable(t, tableBoxes{
		stco: stcoBox([]uint32{0, 2000, 7000, 12000, 13000}),
		stsc: stscBox([][3]uint32{{1, 1, 1}}),
		stsz: stszTableBox([]uint32{2000, 4999, 5000, 4999, 1000}),
		stts: sttsBox([][2]uint32{{5, 100}}),
		stss: stssBox([]uint32{1, 3, 5}),
	})

	got, err := table.FindThumbnailSample()
	if err != nil {
		t.Fatalf("FindThumbnailSample: %v", err)
	}
	if got != 2 {
		t.Errorf("FindThumbnailSample() = %d, want 2", got)
	}
}
