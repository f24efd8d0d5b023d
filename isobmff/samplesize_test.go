package isobmff

import (
	"testing"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// stsz with defaultSize=7, sample_count=5 must return size 7 for indices
// 0..4 and a BAD_INDEX error for index 5. spec.md §8.
func TestSampleSizeIndex_Default(t *testing.T) {
	src := bytesource.NewMemSource(stszDefaultBox(7, 5))
	var idx SampleSizeIndex
	if err := idx.LoadSTSZ(src, 0, int64(len(stszDefaultBox(7, 5)))); err != nil {
		t.Fatalf("LoadSTSZ: %v", err)
	}

	for i := uint32(0); i < 5; i++ {
		size, err := idx.At(src, i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		if size != 7 {
			t.Errorf("At(%d) = %d, want 7", i, size)
		}
	}

	if _, err := idx.At(src, 5); !errs.Is(err, errs.BadIndex) {
		t.Errorf("At(5) error = %v, want BadIndex", err)
	}
}

// stz2 with field-width 4 and three samples packed as nibbles 0xA, 0xB,
// 0xC (high nibble first, final half-byte padded) must yield sizes
// [10, 11, 12]. spec.md §8.
func TestSampleSizeIndex_STZ2FourBitPacking(t *testing.T) {
	header := u32box(0, 4, 3) // version/flags=0, packed(reserved|fieldSize=4), count=3
	packed := []byte{0xAB, 0xC0}
	data := append(header, packed...)

	src := bytesource.NewMemSource(data)
	var idx SampleSizeIndex
	if err := idx.LoadSTZ2(src, 0, int64(len(data))); err != nil {
		t.Fatalf("LoadSTZ2: %v", err)
	}

	want := []uint32{10, 11, 12}
	for i, w := range want {
		got, err := idx.At(src, uint32(i))
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		if got != w {
			t.Errorf("At(%d) = %d, want %d", i, got, w)
		}
	}
}

// Loading twice with the same byte ranges is an idempotency violation and
// must be rejected. spec.md §8.
func TestSampleSizeIndex_LoadOnceOnly(t *testing.T) {
	box := stszDefaultBox(7, 5)
	src := bytesource.NewMemSource(box)
	var idx SampleSizeIndex
	if err := idx.LoadSTSZ(src, 0, int64(len(box))); err != nil {
		t.Fatalf("first LoadSTSZ: %v", err)
	}
	if err := idx.LoadSTSZ(src, 0, int64(len(box))); !errs.Is(err, errs.Malformed) {
		t.Errorf("second LoadSTSZ error = %v, want Malformed", err)
	}
}

func TestSyncSampleIndex_LoadZeroBased(t *testing.T) {
	box := stssBox([]uint32{1, 3, 5})
	src := bytesource.NewMemSource(box)
	var idx SyncSampleIndex
	if err := idx.Load(src, 0, int64(len(box))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []uint32{0, 2, 4}
	got := idx.Indices()
	if len(got) != len(want) {
		t.Fatalf("Indices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Indices()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
