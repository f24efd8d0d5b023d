package mpegts

import "github.com/icecoldsandwich/mediaindex/bytesource"

// MimeType is the MIME string Sniff reports on a match.
const MimeType = "video/mp2ts"

// sniffConfidence is the fixed confidence SniffMPEG2TS in the original
// always returns on a match; it never scores higher or lower based on how
// much of the clip looks like TS.
const sniffConfidence = 0.6

// Sniff is the trivial 5-packet TS heuristic from the original's
// SniffMPEG2TS: it checks only that the bytes at offsets 0, 188, 376, 564,
// and 752 are the sync byte 0x47, without parsing PAT/PMT or anything
// else. A clip of 752 bytes or fewer, which ends before the fifth sync
// byte, can never match.
func Sniff(src bytesource.Source) (confidence float64, mime string, matched bool) {
	var b [1]byte
	for i := 0; i < 5; i++ {
		offset := int64(i) * PacketSize
		n, err := src.ReadAt(offset, b[:])
		if err != nil || n < 1 || b[0] != 0x47 {
			return 0, "", false
		}
	}
	return sniffConfidence, MimeType, true
}
