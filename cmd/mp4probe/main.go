// mp4probe walks an MP4 file's box tree down to the first track's sample
// table, loads it through isobmff.SampleTable, and dumps per-sample
// metadata plus a thumbnail and a composition-time seek, mirroring the
// kind of ad hoc poking stagefright's own mp4 tools do against a clip.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/isobmff"
)

// box is one node of the size/fourcc/offset tree every ISO base media file
// is built from: a 4-byte big-endian size (or the 64-bit extension when
// size == 1), a 4-byte fourcc, and a body that starts right after.
type box struct {
	fourcc     string
	bodyOffset int64
	bodySize   int64
}

// readBoxes scans src's [start, start+limit) range one box at a time,
// without descending into any of them.
func readBoxes(src bytesource.Source, start, limit int64) ([]box, error) {
	var boxes []box
	offset := start
	end := start + limit

	for offset < end {
		var hdr [8]byte
		n, err := src.ReadAt(offset, hdr[:])
		if err != nil {
			return nil, fmt.Errorf("mp4probe: read box header at %d: %w", offset, err)
		}
		if n < 8 {
			break
		}
		size := int64(pio.U32BE(hdr[0:4]))
		fourcc := string(hdr[4:8])
		bodyOffset := offset + 8

		if size == 1 {
			var ext [8]byte
			if _, err := src.ReadAt(bodyOffset, ext[:]); err != nil {
				return nil, fmt.Errorf("mp4probe: read largesize at %d: %w", bodyOffset, err)
			}
			size = int64(pio.U64BE(ext[:]))
			bodyOffset += 8
		} else if size == 0 {
			size = end - offset
		}

		boxes = append(boxes, box{fourcc: fourcc, bodyOffset: bodyOffset, bodySize: offset + size - bodyOffset})
		offset += size
	}
	return boxes, nil
}

func findBox(boxes []box, fourcc string) (box, bool) {
	for _, b := range boxes {
		if b.fourcc == fourcc {
			return b, true
		}
	}
	return box{}, false
}

// findFirstTrackStbl descends ftyp/moov/trak[0]/mdia/minf/stbl, returning
// the stbl box's children.
func findFirstTrackStbl(src bytesource.Source, clipSize int64) ([]box, error) {
	top, err := readBoxes(src, 0, clipSize)
	if err != nil {
		return nil, err
	}
	moov, ok := findBox(top, "moov")
	if !ok {
		return nil, fmt.Errorf("mp4probe: no moov box")
	}
	moovChildren, err := readBoxes(src, moov.bodyOffset, moov.bodySize)
	if err != nil {
		return nil, err
	}
	trak, ok := findBox(moovChildren, "trak")
	if !ok {
		return nil, fmt.Errorf("mp4probe: no trak box")
	}
	trakChildren, err := readBoxes(src, trak.bodyOffset, trak.bodySize)
	if err != nil {
		return nil, err
	}
	mdia, ok := findBox(trakChildren, "mdia")
	if !ok {
		return nil, fmt.Errorf("mp4probe: no mdia box")
	}
	mdiaChildren, err := readBoxes(src, mdia.bodyOffset, mdia.bodySize)
	if err != nil {
		return nil, err
	}
	minf, ok := findBox(mdiaChildren, "minf")
	if !ok {
		return nil, fmt.Errorf("mp4probe: no minf box")
	}
	minfChildren, err := readBoxes(src, minf.bodyOffset, minf.bodySize)
	if err != nil {
		return nil, err
	}
	stbl, ok := findBox(minfChildren, "stbl")
	if !ok {
		return nil, fmt.Errorf("mp4probe: no stbl box")
	}
	return readBoxes(src, stbl.bodyOffset, stbl.bodySize)
}

func loadSampleTable(src bytesource.Source, stblChildren []box) (*isobmff.SampleTable, error) {
	t := isobmff.NewSampleTable(src)

	if b, ok := findBox(stblChildren, "stco"); ok {
		if err := t.LoadChunkOffset(b.bodyOffset, b.bodySize, false); err != nil {
			return nil, err
		}
	} else if b, ok := findBox(stblChildren, "co64"); ok {
		if err := t.LoadChunkOffset(b.bodyOffset, b.bodySize, true); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("mp4probe: no stco/co64 box")
	}

	if b, ok := findBox(stblChildren, "stsc"); ok {
		if err := t.LoadSampleToChunk(b.bodyOffset, b.bodySize); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("mp4probe: no stsc box")
	}

	if b, ok := findBox(stblChildren, "stsz"); ok {
		if err := t.LoadSampleSizeSTSZ(b.bodyOffset, b.bodySize); err != nil {
			return nil, err
		}
	} else if b, ok := findBox(stblChildren, "stz2"); ok {
		if err := t.LoadSampleSizeSTZ2(b.bodyOffset, b.bodySize); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("mp4probe: no stsz/stz2 box")
	}

	if b, ok := findBox(stblChildren, "stts"); ok {
		if err := t.LoadTimeToSample(b.bodyOffset, b.bodySize); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("mp4probe: no stts box")
	}

	if b, ok := findBox(stblChildren, "ctts"); ok {
		if err := t.LoadCompositionOffset(b.bodyOffset, b.bodySize); err != nil {
			return nil, err
		}
	}
	if b, ok := findBox(stblChildren, "stss"); ok {
		if err := t.LoadSyncSample(b.bodyOffset, b.bodySize); err != nil {
			return nil, err
		}
	}

	if b, ok := findBox(stblChildren, "stsd"); ok {
		var hdr [8]byte
		if _, err := src.ReadAt(b.bodyOffset, hdr[:]); err != nil {
			return nil, fmt.Errorf("mp4probe: read stsd header: %w", err)
		}
		count := pio.U32BE(hdr[4:8])
		if err := t.LoadSampleDescription(b.bodyOffset+8, count); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("mp4probe: no stsd box")
	}

	return t, nil
}

func main() {
	dumpSamples := flag.Int("samples", 5, "number of leading samples to print")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mp4probe [-samples N] <file.mp4>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Fatal(err)
	}

	src := bytesource.NewFileSource(f, info.Size())
	stblChildren, err := findFirstTrackStbl(src, info.Size())
	if err != nil {
		log.Fatal(err)
	}

	table, err := loadSampleTable(src, stblChildren)
	if err != nil {
		log.Fatal(err)
	}

	n := table.CountSamples()
	fmt.Printf("samples: %d\n", n)

	max, err := table.GetMaxSampleSize()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("max sample size: %d\n", max)

	limit := uint32(*dumpSamples)
	if limit > n {
		limit = n
	}
	for i := uint32(0); i < limit; i++ {
		offset, size, decodeTime, compTime, isSync, err := table.GetMetaDataForSample(i)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("sample %d: offset=%d size=%d dts=%d cts=%d sync=%v\n", i, offset, size, decodeTime, compTime, isSync)
	}

	if idx, err := table.FindThumbnailSample(); err == nil {
		fmt.Printf("thumbnail sample: %d\n", idx)
	}

	if n > 0 {
		_, _, midDTS, _, _, err := table.GetMetaDataForSample(n / 2)
		if err == nil {
			if idx, err := table.FindSampleAtTime(int64(midDTS), isobmff.SeekFlagClosest); err == nil {
				fmt.Printf("sample closest to time %d: %d\n", midDTS, idx)
			}
		}
	}
}
