package isobmff

import (
	"fmt"

	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

// avcCBodyOffset is the byte offset of the avcC child atom inside an avc1
// sample entry's body, matching SampleTable::setSampleDescParams.
const avcCBodyOffset = 78

// SampleDescriptionIndex extracts zero or more AVC (avc1/avcC) decoder
// configuration payloads from an stsd box, indexed from 1 in the
// sample-to-chunk triple (C8).
type SampleDescriptionIndex struct {
	loaded  bool
	entries [][]byte // avcC payloads, 0-based internally
}

// Load walks count child atoms of the stsd box starting at offset. Only
// avc1 entries are accepted; any other codec atom is MALFORMED.
func (d *SampleDescriptionIndex) Load(src bytesource.Source, offset int64, count uint32) error {
	if d.loaded {
		return errs.New(errs.Malformed, "stsd: loaded more than once")
	}

	entries := make([][]byte, 0, count)
	cur := offset

	for i := uint32(0); i < count; i++ {
		var hdr [8]byte
		n, err := src.ReadAt(cur, hdr[:])
		if err != nil {
			return errs.Wrap(errs.IO, "stsd: read entry header", err)
		}
		if n < 8 {
			return errs.New(errs.IO, "stsd: short entry header read")
		}

		chunkSize := uint64(pio.U32BE(hdr[0:4]))
		chunkType := string(hdr[4:8])
		headerSize := int64(8)

		if chunkSize == 1 {
			var ext [8]byte
			n, err := src.ReadAt(cur+8, ext[:])
			if err != nil {
				return errs.Wrap(errs.IO, "stsd: read extended size", err)
			}
			if n < 8 {
				return errs.New(errs.IO, "stsd: short extended size read")
			}
			chunkSize = pio.U64BE(ext[:])
			headerSize = 16
			if chunkSize < 16 {
				return errs.New(errs.Malformed, fmt.Sprintf("stsd: entry %d extended size %d below minimum 16", i, chunkSize))
			}
		} else if chunkSize < 8 {
			return errs.New(errs.Malformed, fmt.Sprintf("stsd: entry %d size %d below minimum 8", i, chunkSize))
		}

		if chunkType != "avc1" {
			return errs.New(errs.Malformed, fmt.Sprintf("stsd: entry %d type %q not supported", i, chunkType))
		}

		bodyStart := cur + headerSize
		avcCHeaderOffset := bodyStart + avcCBodyOffset

		var avcHdr [8]byte
		n, err = src.ReadAt(avcCHeaderOffset, avcHdr[:])
		if err != nil {
			return errs.Wrap(errs.IO, "stsd: read avcC header", err)
		}
		if n < 8 {
			return errs.New(errs.IO, "stsd: short avcC header read")
		}
		avcCSize := pio.U32BE(avcHdr[0:4])
		avcCType := string(avcHdr[4:8])
		if avcCType != "avcC" {
			return errs.New(errs.Malformed, fmt.Sprintf("stsd: entry %d missing avcC child at offset %d", i, avcCBodyOffset))
		}
		if avcCSize < 8 {
			return errs.New(errs.Malformed, fmt.Sprintf("stsd: entry %d avcC size %d below minimum 8", i, avcCSize))
		}

		payloadSize := avcCSize - 8
		payload := make([]byte, payloadSize)
		if payloadSize > 0 {
			n, err := src.ReadAt(avcCHeaderOffset+8, payload)
			if err != nil {
				return errs.Wrap(errs.IO, "stsd: read avcC payload", err)
			}
			if uint32(n) < payloadSize {
				return errs.New(errs.IO, "stsd: short avcC payload read")
			}
		}

		entries = append(entries, payload)
		cur += int64(chunkSize)
	}

	d.entries = entries
	d.loaded = true
	return nil
}

// Get returns the avcC payload for a 1-based description index, as used by
// SampleToChunkRun.DescIndex.
func (d *SampleDescriptionIndex) Get(index uint32) ([]byte, error) {
	if !d.loaded {
		return nil, errs.New(errs.InvalidOperation, "stsd: not loaded")
	}
	if index < 1 || index > uint32(len(d.entries)) {
		return nil, errs.New(errs.BadIndex, fmt.Sprintf("stsd: description index %d out of range [1,%d]", index, len(d.entries)))
	}
	return d.entries[index-1], nil
}

// Count reports the number of decoded sample descriptions.
func (d *SampleDescriptionIndex) Count() uint32 {
	return uint32(len(d.entries))
}
