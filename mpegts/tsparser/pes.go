package tsparser

import (
	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/errs"
)

// pesHeader is the decoded prefix of a PES packet: start code, stream id,
// declared payload length, and the optional PTS/DTS pair. Layout and the
// 33-bit timestamp unpacking follow the teacher's ReadPESHeader (ts.go) and
// tsio.TimeToTs/TsToTime, adapted to read a byte slice instead of an
// io.Reader since the whole PES header always fits in one TS packet's
// worth of payload.
type pesHeader struct {
	streamID   byte
	dataLength int // 0 means "unbounded", per the PES spec
	hasPTS     bool
	pts        int64
	hasDTS     bool
	dts        int64
}

// ptsHZ is the 90kHz PTS/DTS clock rate.
const ptsHZ = 90000

func unpackTimestamp(b []byte) int64 {
	// 4 bits marker, PTS[32:30](3), marker(1), PTS[29:15](15), marker(1),
	// PTS[14:0](15), marker(1) — 5 bytes total, bit-packed.
	v := pio.U40BE(b)
	hi := (v >> 33) & 0x7
	mid := (v >> 17) & 0x7fff
	lo := (v >> 1) & 0x7fff
	return int64(hi<<30 | mid<<15 | lo)
}

// parsePESHeader decodes the PES header at the start of payload. payload
// must begin with the 3-byte start code 0x000001.
func parsePESHeader(payload []byte) (pesHeader, error) {
	var h pesHeader
	if len(payload) < 6 {
		return h, errs.New(errs.Malformed, "tsparser: pes header truncated")
	}
	if payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
		return h, errs.New(errs.Malformed, "tsparser: invalid pes start code")
	}
	h.streamID = payload[3]
	h.dataLength = int(pio.U16BE(payload[4:6]))

	if len(payload) < 9 {
		return h, errs.New(errs.Malformed, "tsparser: pes header truncated")
	}
	ptsDTSFlags := (payload[7] >> 6) & 0x3
	headerDataLength := int(payload[8])
	rest := payload[9:]
	if len(rest) < headerDataLength {
		return h, errs.New(errs.Malformed, "tsparser: pes header data length overruns packet")
	}

	pos := 0
	if ptsDTSFlags&0x2 != 0 {
		if pos+5 > headerDataLength {
			return h, errs.New(errs.Malformed, "tsparser: pes pts truncated")
		}
		h.pts = unpackTimestamp(rest[pos : pos+5])
		h.hasPTS = true
		pos += 5
	}
	if ptsDTSFlags == 0x3 {
		if pos+5 > headerDataLength {
			return h, errs.New(errs.Malformed, "tsparser: pes dts truncated")
		}
		h.dts = unpackTimestamp(rest[pos : pos+5])
		h.hasDTS = true
		pos += 5
	}
	return h, nil
}

// pesHeaderByteLength reports how many bytes of payload the fixed PES
// header (through the optional PTS/DTS fields) occupies, so the caller can
// locate where the elementary-stream payload begins.
func pesHeaderByteLength(payload []byte) (int, error) {
	if len(payload) < 9 {
		return 0, errs.New(errs.Malformed, "tsparser: pes header truncated")
	}
	headerDataLength := int(payload[8])
	return 9 + headerDataLength, nil
}
