// Package tsparser is the external TS protocol parser collaborator (C12):
// it consumes 188-byte transport packets, reassembles PAT/PMT/PES, and
// exposes per-elementary-stream PacketSource queues carrying PTS and sync
// flags. mpegts.StreamCursor and mpegts.Extractor drive it; it never reads
// from a bytesource.Source itself.
//
// The wire-layout decoding (TS header, PSI sections, PES header) is
// adapted from the teacher's format/ts/tsio and format/ts/demuxer.go,
// generalized from joy4's H264/AAC-only Demuxer into a parser that hands
// its callers raw access-unit payloads instead of av.Packet values.
package tsparser

import (
	"fmt"

	"github.com/icecoldsandwich/mediaindex/errs"
)

// PacketSize is the fixed transport-packet length the whole engine aligns
// reads and seeks to.
const PacketSize = 188

const syncByte = 0x47

// header is a decoded transport packet header, stripped of its payload.
type header struct {
	PID               uint16
	PayloadUnitStart  bool
	RandomAccess      bool
	AdaptationPresent bool
	PayloadStart      int
}

// parseHeader decodes packet's 4-byte TS header plus adaptation field, if
// present, and reports where the payload begins. packet must be exactly
// PacketSize bytes.
func parseHeader(packet []byte) (header, error) {
	var h header
	if len(packet) != PacketSize {
		return h, errs.New(errs.Malformed, fmt.Sprintf("tsparser: packet length %d != %d", len(packet), PacketSize))
	}
	if packet[0] != syncByte {
		return h, errs.New(errs.Malformed, "tsparser: bad sync byte")
	}

	h.PID = (uint16(packet[1])&0x1f)<<8 | uint16(packet[2])
	h.PayloadUnitStart = packet[1]&0x40 != 0
	adaptationFieldControl := (packet[3] >> 4) & 0x3
	h.AdaptationPresent = adaptationFieldControl&0x2 != 0

	hdrLen := 4
	if h.AdaptationPresent {
		if len(packet) < 5 {
			return h, errs.New(errs.Malformed, "tsparser: truncated adaptation field")
		}
		adaptLen := int(packet[4])
		hdrLen += 1 + adaptLen
		if adaptLen > 0 {
			h.RandomAccess = packet[5]&0x40 != 0
		}
	}
	if hdrLen > len(packet) {
		return h, errs.New(errs.Malformed, "tsparser: adaptation field overruns packet")
	}
	h.PayloadStart = hdrLen
	return h, nil
}

// ParseToPID reports the PID carried by a single 188-byte transport
// packet. StreamCursor uses it to detect an unexpected PID change
// (feedMoreForStream's DEAD_OBJECT condition) without running the full
// parser.
func ParseToPID(packet []byte) (uint16, error) {
	h, err := parseHeader(packet)
	if err != nil {
		return 0, err
	}
	return h.PID, nil
}

// ParseToPTS extracts the PTS carried by a single 188-byte transport
// packet, if any. ok is false (with a nil error) when the packet carries
// no PES start, or its PES header has no PTS field — neither is an error,
// matching the Design Notes' "skip packets that yield no PTS" wording.
// wantPID restricts extraction to packets for that PID; other PIDs report
// ok=false.
func ParseToPTS(wantPID uint16, packet []byte) (pts int64, ok bool, err error) {
	h, err := parseHeader(packet)
	if err != nil {
		return 0, false, err
	}
	if h.PID != wantPID || !h.PayloadUnitStart {
		return 0, false, nil
	}
	payload := packet[h.PayloadStart:]
	pes, err := parsePESHeader(payload)
	if err != nil {
		// A non-PES payload (e.g. a PSI table on this PID) is not an
		// extraction error; it simply carries no PTS.
		return 0, false, nil
	}
	if !pes.hasPTS {
		return 0, false, nil
	}
	return pes.pts, true, nil
}
