package tsparser

import (
	"github.com/nareix/pio"

	"github.com/icecoldsandwich/mediaindex/errs"
)

// patEntry and pat mirror the teacher's tsio.PATEntry/PAT, trimmed to the
// one field the parser actually consumes: the PID of the program map
// table for program_number != 0.
type patEntry struct {
	programNumber uint16
	programMapPID uint16
}

func parsePAT(section []byte) ([]patEntry, error) {
	var entries []patEntry
	n := 0
	for n+4 <= len(section) {
		programNumber := pio.U16BE(section[n:])
		n += 2
		pid := pio.U16BE(section[n:]) & 0x1fff
		n += 2
		entries = append(entries, patEntry{programNumber: programNumber, programMapPID: pid})
	}
	return entries, nil
}

// elementaryStreamInfo mirrors tsio.ElementaryStreamInfo.
type elementaryStreamInfo struct {
	streamType uint8
	pid        uint16
}

func parsePMT(section []byte) ([]elementaryStreamInfo, error) {
	if len(section) < 4 {
		return nil, errs.New(errs.Malformed, "tsparser: pmt section truncated")
	}
	n := 2 // skip PCR PID field (3 reserved bits + 13-bit PID)
	programInfoLen := int(pio.U16BE(section[n:]) & 0x3ff)
	n += 2
	n += programInfoLen

	var infos []elementaryStreamInfo
	for n+5 <= len(section) {
		streamType := section[n]
		n++
		pid := pio.U16BE(section[n:]) & 0x1fff
		n += 2
		esInfoLen := int(pio.U16BE(section[n:]) & 0x3ff)
		n += 2
		n += esInfoLen
		infos = append(infos, elementaryStreamInfo{streamType: streamType, pid: pid})
	}
	return infos, nil
}

// parsePSISection strips the pointer_field and the 8-byte section header
// (table_id, section_length, table_id_extension, version/current_next,
// section_number, last_section_number) that both PAT and PMT payloads
// begin with, per tsio.ParsePSI, and returns the section body plus the
// declared table id.
func parsePSISection(payload []byte) (tableID uint8, body []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, errs.New(errs.Malformed, "tsparser: empty psi payload")
	}
	pointer := payload[0]
	n := 1 + int(pointer)
	if len(payload) < n+8 {
		return 0, nil, errs.New(errs.Malformed, "tsparser: psi header truncated")
	}
	tableID = payload[n]
	n++
	sectionLength := int(pio.U16BE(payload[n:]) & 0x3ff)
	n += 2
	// sectionLength covers everything from table_id_extension through the
	// trailing CRC32; the 5 header bytes after section_length and the
	// 4-byte CRC are subtracted below to get the body length.
	n += 5 // table_id_extension(2) + version/current_next(1) + section_number(1) + last_section_number(1)
	dataLen := sectionLength - 5 - 4
	if dataLen < 0 || n+dataLen > len(payload) {
		return 0, nil, errs.New(errs.Malformed, "tsparser: psi section length inconsistent")
	}
	return tableID, payload[n : n+dataLen], nil
}
