package mpegts

import (
	"testing"

	"github.com/icecoldsandwich/mediaindex/bytesource"
)

func buildPSISection(tableID uint8, tableIDExt uint16, body []byte) []byte {
	sectionLength := 5 + len(body) + 4
	section := make([]byte, 0, 9+len(body)+4)
	section = append(section, 0) // pointer field
	section = append(section, tableID)
	section = append(section, byte(sectionLength>>8), byte(sectionLength))
	section = append(section, byte(tableIDExt>>8), byte(tableIDExt))
	section = append(section, 0xC1) // version 0, current_next_indicator
	section = append(section, 0, 0) // section_number, last_section_number
	section = append(section, body...)
	section = append(section, 0, 0, 0, 0) // CRC32, unchecked by the parser
	return section
}

func wrapInPacket(pid uint16, payload []byte) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid>>8&0x1f) | 0x40
	pkt[2] = byte(pid & 0xff)
	pkt[3] = 0x10
	copy(pkt[4:], payload)
	return pkt
}

func buildPATPacket(programNumber, pmtPID uint16) []byte {
	entryPID := uint16(0x7<<13) | pmtPID
	body := []byte{
		byte(programNumber >> 8), byte(programNumber),
		byte(entryPID >> 8), byte(entryPID),
	}
	section := buildPSISection(0x00, 1, body)
	return wrapInPacket(0, section)
}

func buildPMTPacket(pmtPID, programNumber uint16, streamType uint8, streamPID uint16) []byte {
	pcrField := uint16(0x7<<13) | streamPID
	body := []byte{
		byte(pcrField >> 8), byte(pcrField),
		0, 0, // program_info_length = 0
		streamType,
		byte((0x7<<13|streamPID)>>8), byte(0x7<<13 | streamPID),
		0, 0, // ES_info_length = 0
	}
	section := buildPSISection(0x02, programNumber, body)
	return wrapInPacket(pmtPID, section)
}

// buildVideoPacket returns one aligned transport packet carrying a
// complete single-packet PES access unit: start code, stream id, a
// PTS-only optional header, and an ES payload sized to exactly fill the
// remaining TS payload capacity (no stuffing, so nothing from an
// adjacent packet bleeds into this one's reassembled access unit).
func buildVideoPacket(pid uint16, pts int64, marker byte, randomAccess bool) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid>>8&0x1f) | 0x40
	pkt[2] = byte(pid & 0xff)

	payloadStart := 4
	if randomAccess {
		pkt[3] = 0x30
		pkt[4] = 1
		pkt[5] = 0x40
		payloadStart = 6
	} else {
		pkt[3] = 0x10
	}

	const ptsHeaderLen = 14 // 6 fixed + flags1 + flags2 + headerDataLength + 5-byte PTS
	esLen := PacketSize - payloadStart - ptsHeaderLen
	dataLength := 8 + esLen

	payload := []byte{0, 0, 1, 0xe0, byte(dataLength >> 8), byte(dataLength), 0x80, 0x80, 5}
	payload = append(payload, packPTS(pts)...)
	for i := 0; i < esLen; i++ {
		payload = append(payload, marker)
	}
	copy(pkt[payloadStart:], payload)
	return pkt
}

func buildVideoClip(pmtPID, programNumber, videoPID uint16, startPTS, stepPTS int64, n int) []byte {
	var data []byte
	data = append(data, buildPATPacket(programNumber, pmtPID)...)
	data = append(data, buildPMTPacket(pmtPID, programNumber, 0x1b, videoPID)...)
	for i := 0; i < n; i++ {
		// Every access unit is marked random-access so a mid-stream Seek
		// can resync on the first packet it feeds, rather than scanning
		// forward for a sync frame that may not exist before clip end.
		data = append(data, buildVideoPacket(videoPID, startPTS+int64(i)*stepPTS, byte('A'+i%26), true)...)
	}
	// trailing packet flushes the last AU's buffered data.
	data = append(data, buildVideoPacket(videoPID, startPTS+int64(n)*stepPTS, 'Z', true)...)
	return data
}

func TestExtractor_ProbeFindsVideoTrack(t *testing.T) {
	const pmtPID, programNumber, videoPID = 0x30, 1, 0x41
	const startPTS, stepPTS = int64(90000), int64(9000)
	const n = 12

	clip := buildVideoClip(pmtPID, programNumber, videoPID, startPTS, stepPTS, n)
	src := bytesource.NewMemSource(clip)

	ex, err := NewExtractor(src, ExtractorConfig{})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	if !ex.Sized() {
		t.Fatal("Sized() = false, want true")
	}

	cursor, ok := ex.Video()
	if !ok {
		t.Fatal("Video() found no track")
	}
	if _, ok := ex.Audio(); ok {
		t.Fatal("Audio() unexpectedly found a track")
	}

	if !ex.Seekable() {
		t.Fatal("Seekable() = false, want true")
	}
	caps := ex.Capabilities()
	if caps&CapabilitySeek == 0 || caps&CapabilityPause == 0 {
		t.Errorf("Capabilities() = %v, missing PAUSE or SEEK", caps)
	}

	// The backward scan for duration lands on the trailing flush packet,
	// one step past the last real access unit's PTS.
	lastPTS := startPTS + int64(n)*stepPTS
	wantUs := (lastPTS - startPTS) * 100 / 9
	gotUs, found := cursor.Duration()
	if !found {
		t.Fatal("cursor.Duration() found = false")
	}
	if gotUs != wantUs {
		t.Errorf("Duration() = %d, want %d", gotUs, wantUs)
	}
}

func TestExtractor_ReadYieldsAccessUnitsInOrder(t *testing.T) {
	const pmtPID, programNumber, videoPID = 0x30, 1, 0x41
	const startPTS, stepPTS = int64(90000), int64(9000)
	const n = 6

	clip := buildVideoClip(pmtPID, programNumber, videoPID, startPTS, stepPTS, n)
	src := bytesource.NewMemSource(clip)

	ex, err := NewExtractor(src, ExtractorConfig{})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	cursor, ok := ex.Video()
	if !ok {
		t.Fatal("Video() found no track")
	}

	var lastPTS int64 = -1
	for i := 0; i < n; i++ {
		au, err := cursor.Read()
		if err != nil {
			t.Fatalf("Read() AU %d: %v", i, err)
		}
		if !au.HasPTS {
			t.Fatalf("Read() AU %d: HasPTS = false", i)
		}
		if au.PTS <= lastPTS {
			t.Errorf("Read() AU %d: PTS %d not increasing from %d", i, au.PTS, lastPTS)
		}
		lastPTS = au.PTS
	}
}

func TestExtractor_SeekRepositionsReads(t *testing.T) {
	const pmtPID, programNumber, videoPID = 0x30, 1, 0x41
	const startPTS, stepPTS = int64(90000), int64(9000)
	const n = 20

	clip := buildVideoClip(pmtPID, programNumber, videoPID, startPTS, stepPTS, n)
	src := bytesource.NewMemSource(clip)

	ex, err := NewExtractor(src, ExtractorConfig{})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	cursor, ok := ex.Video()
	if !ok {
		t.Fatal("Video() found no track")
	}
	if !ex.Seekable() {
		t.Fatal("Seekable() = false, want true")
	}

	durationUs, _ := cursor.Duration()
	seekTimeUs := durationUs / 2
	cursor.Seek(seekTimeUs)

	// The first AU dequeued after a seek can be whatever access unit was
	// mid-reassembly at the moment the discontinuity landed (feedPES
	// flushes it one packet late); only the one after that is guaranteed
	// to come from the resolved seek offset. Both must at least fall
	// within the clip's overall PTS range.
	lastPTS := startPTS + int64(n)*stepPTS
	for i := 0; i < 2; i++ {
		au, err := cursor.Read()
		if err != nil {
			t.Fatalf("Read() %d after Seek: %v", i, err)
		}
		if !au.HasPTS {
			t.Fatalf("Read() %d after Seek: HasPTS = false", i)
		}
		if au.PTS < startPTS || au.PTS > lastPTS {
			t.Errorf("Read() %d after Seek: PTS = %d, want within [%d,%d]", i, au.PTS, startPTS, lastPTS)
		}
	}
}
