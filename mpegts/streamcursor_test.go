package mpegts

import (
	"testing"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/mpegts/tsparser"
)

func packPTS(ts int64) []byte {
	b := make([]byte, 5)
	b[0] = 0x2<<4 | byte((ts>>30)&0x7)<<1 | 1
	mid := uint16((ts >> 15) & 0x7fff)
	b[1] = byte(mid >> 7)
	b[2] = byte(mid<<1) | 1
	lo := uint16(ts & 0x7fff)
	b[3] = byte(lo >> 7)
	b[4] = byte(lo<<1) | 1
	return b
}

// buildPESPacket returns one aligned 188-byte transport packet carrying a
// payload-unit-start PES header with a PTS-only timestamp, for pid.
func buildPESPacket(pid uint16, pts int64) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid>>8&0x1f) | 0x40 // payload_unit_start_indicator
	pkt[2] = byte(pid & 0xff)
	pkt[3] = 0x10 // payload present, no adaptation field

	payload := []byte{0, 0, 1, 0xe0, 0, 0, 0x80, 0x80, 5}
	payload = append(payload, packPTS(pts)...)
	copy(pkt[4:], payload)
	return pkt
}

func buildClip(pid uint16, startPTS, stepPTS int64, n int) []byte {
	data := make([]byte, 0, n*PacketSize)
	for i := 0; i < n; i++ {
		data = append(data, buildPESPacket(pid, startPTS+int64(i)*stepPTS)...)
	}
	return data
}

func TestStreamCursor_FindStreamDuration(t *testing.T) {
	const pid = 0x41
	const startPTS = int64(90000)
	const stepPTS = int64(9000) // 100ms per packet, 90kHz clock
	const n = 10

	clip := buildClip(pid, startPTS, stepPTS, n)
	src := bytesource.NewMemSource(clip)

	cursor := NewStreamCursor(src, int64(len(clip)), pid, 0x100, tsparser.NewParser(), nil, false)
	cursor.RecordFirstPTS(startPTS, 0)

	if err := cursor.FindStreamDuration(); err != nil {
		t.Fatalf("FindStreamDuration: %v", err)
	}

	lastPTS := startPTS + int64(n-1)*stepPTS
	wantUs := (lastPTS - startPTS) * 100 / 9
	gotUs, found := cursor.Duration()
	if !found {
		t.Fatal("Duration() found = false, want true")
	}
	if gotUs != wantUs {
		t.Errorf("Duration() = %d, want %d", gotUs, wantUs)
	}

	info := cursor.Info()
	if info.LastPTSOffset != int64(n-1)*PacketSize {
		t.Errorf("LastPTSOffset = %d, want %d", info.LastPTSOffset, int64(n-1)*PacketSize)
	}
}

// findOffsetForPTS, seeded anywhere in the clip and asked for the exact PTS
// carried by some packet, must return that packet's offset (spec.md §8:
// "findOffsetForPTS(PTS(pkt@offset)) returns an offset whose extracted PTS
// equals PTS(pkt@offset)").
func TestStreamCursor_FindOffsetForPTS_ExactMatch(t *testing.T) {
	const pid = 0x41
	const startPTS = int64(90000)
	const stepPTS = int64(9000)
	const n = 20

	clip := buildClip(pid, startPTS, stepPTS, n)
	src := bytesource.NewMemSource(clip)

	cursor := NewStreamCursor(src, int64(len(clip)), pid, 0x100, tsparser.NewParser(), nil, false)
	cursor.RecordFirstPTS(startPTS, 0)
	if err := cursor.FindStreamDuration(); err != nil {
		t.Fatalf("FindStreamDuration: %v", err)
	}

	for _, target := range []int{3, 7, 12, 18} {
		wantOffset := int64(target) * PacketSize
		targetPTS := startPTS + int64(target)*stepPTS

		for _, seed := range []int64{0, int64(n-1) * PacketSize, wantOffset} {
			offset, err := cursor.findOffsetForPTS(seed, targetPTS)
			if err != nil {
				t.Fatalf("findOffsetForPTS(seed=%d, pts=%d): %v", seed, targetPTS, err)
			}
			pkt, err := cursor.readRawPacket(offset)
			if err != nil {
				t.Fatalf("readRawPacket(%d): %v", offset, err)
			}
			gotPTS, ok, err := tsparser.ParseToPTS(pid, pkt)
			if err != nil {
				t.Fatalf("ParseToPTS: %v", err)
			}
			if !ok {
				t.Fatalf("ParseToPTS at offset %d: no PTS found", offset)
			}
			if gotPTS != targetPTS {
				t.Errorf("seed=%d target idx=%d: findOffsetForPTS resolved to PTS %d (offset %d), want %d", seed, target, gotPTS, offset, targetPTS)
			}
		}
	}
}

func TestStreamCursor_FindOffsetForPTS_ClampsToEnds(t *testing.T) {
	const pid = 0x41
	const startPTS = int64(90000)
	const stepPTS = int64(9000)
	const n = 10

	clip := buildClip(pid, startPTS, stepPTS, n)
	src := bytesource.NewMemSource(clip)

	cursor := NewStreamCursor(src, int64(len(clip)), pid, 0x100, tsparser.NewParser(), nil, false)
	cursor.RecordFirstPTS(startPTS, 0)
	if err := cursor.FindStreamDuration(); err != nil {
		t.Fatalf("FindStreamDuration: %v", err)
	}

	if off, err := cursor.findOffsetForPTS(0, startPTS-1); err != nil || off != PacketSize {
		t.Errorf("seek before first PTS: offset=%d err=%v, want %d,nil", off, err, PacketSize)
	}
	lastOffset := int64(n-1) * PacketSize
	if off, err := cursor.findOffsetForPTS(0, startPTS+int64(n)*stepPTS); err != nil || off != lastOffset {
		t.Errorf("seek past last PTS: offset=%d err=%v, want %d,nil", off, err, lastOffset)
	}
}
