package mpegts

import (
	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
	"github.com/icecoldsandwich/mediaindex/mpegts/tsparser"
)

// maxProbePackets bounds the probe loop, matching the original's
// MAX_NUM_TS_PACKETS_FOR_META_DATA.
const maxProbePackets = 10000

// Capability is a bitmask of the seek/pause operations Extractor reports
// supporting for this clip.
type Capability int

const (
	CapabilityPause Capability = 1 << iota
	CapabilitySeek
	CapabilitySeekForward
	CapabilitySeekBackward
)

// ExtractorConfig carries the process-wide TSParser.disable.seek knob
// (§6) as an explicit field, per the Design Notes §9 directive to pass
// configuration at construction rather than look it up ambiently.
type ExtractorConfig struct {
	DisableSeek bool
}

// Extractor (C14) is the clip-level façade: it sizes the clip, probes
// tracks by feeding packets until audio and video appear (or a cap is
// hit), and exposes one StreamCursor per discovered elementary stream plus
// the clip's seek capability flags.
type Extractor struct {
	src      bytesource.Source
	clipSize int64
	sized    bool
	cfg      ExtractorConfig

	cache  *PacketCache
	parser *tsparser.Parser

	probeOffset int64
	cursorByPID map[uint16]*StreamCursor

	video *StreamCursor
	audio *StreamCursor

	seekable bool
}

// NewExtractor sizes src and, if its length is 188-byte aligned, probes it
// for elementary streams. A clip whose size is not 188-byte aligned is
// marked unsized: seekability is disabled and no probe runs, matching the
// original's immediate bail-out.
func NewExtractor(src bytesource.Source, cfg ExtractorConfig) (*Extractor, error) {
	size, err := src.Size()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "mpegts: query clip size", err)
	}

	e := &Extractor{
		src:         src,
		clipSize:    size,
		cfg:         cfg,
		parser:      tsparser.NewParser(),
		cursorByPID: make(map[uint16]*StreamCursor),
	}

	if size%PacketSize != 0 {
		return e, nil
	}
	e.sized = true
	e.cache = NewPacketCache(size, DefaultCacheCapacityPackets)

	if err := e.probe(); err != nil {
		return nil, err
	}
	return e, nil
}

// Sized reports whether the clip's length was 188-byte aligned, and so
// whether the probe and duration-based seek machinery ran at all.
func (e *Extractor) Sized() bool {
	return e.sized
}

// Video returns the video StreamCursor, if a video track was found.
func (e *Extractor) Video() (*StreamCursor, bool) {
	return e.video, e.video != nil
}

// Audio returns the audio StreamCursor, if an audio track was found.
func (e *Extractor) Audio() (*StreamCursor, bool) {
	return e.audio, e.audio != nil
}

// Seekable reports whether FindStreamDuration succeeded on every
// discovered track and the config did not force seeking off.
func (e *Extractor) Seekable() bool {
	return e.seekable
}

// Capabilities reports the flags the original's getFlags() returns: PAUSE
// is always set; SEEK, SEEK_FORWARD, and SEEK_BACKWARD are set only when
// the clip is seekable.
func (e *Extractor) Capabilities() Capability {
	caps := CapabilityPause
	if e.seekable {
		caps |= CapabilitySeek | CapabilitySeekForward | CapabilitySeekBackward
	}
	return caps
}

// probeFeed reads and forwards one aligned packet to the parser, recording
// a first PTS for whichever cursor owns that packet's PID if one has been
// created already.
func (e *Extractor) probeFeed() error {
	pkt, err := e.cache.GetTSPacket(e.src, e.probeOffset)
	if err != nil {
		return err
	}
	offset := e.probeOffset
	e.probeOffset += PacketSize

	pid, err := tsparser.ParseToPID(pkt)
	if err != nil {
		return err
	}
	if err := e.parser.Feed(pkt); err != nil {
		return err
	}
	if cursor, ok := e.cursorByPID[pid]; ok {
		if pts, ok, err := tsparser.ParseToPTS(pid, pkt); err == nil && ok {
			cursor.RecordFirstPTS(pts, offset)
		}
	}
	return nil
}

// probe feeds packets until both a video and an audio source have been
// discovered, maxProbePackets packets have been fed in total, or the clip
// ends. A clip with only one of the two tracks is therefore fed up to the
// cap (or its end) before probing stops.
func (e *Extractor) probe() error {
	for i := 0; i < maxProbePackets; i++ {
		if err := e.probeFeed(); err != nil {
			if errs.Is(err, errs.EndOfStream) {
				break
			}
			return err
		}

		programPID, _ := e.parser.ProgramMapPID()

		if e.video == nil {
			if src, ok := e.parser.Source(tsparser.Video); ok {
				pid := e.pidForSource(src)
				e.video = NewStreamCursor(e.src, e.clipSize, pid, programPID, e.parser, src, true)
				e.cursorByPID[pid] = e.video
			}
		}
		if e.audio == nil {
			if src, ok := e.parser.Source(tsparser.Audio); ok {
				pid := e.pidForSource(src)
				e.audio = NewStreamCursor(e.src, e.clipSize, pid, programPID, e.parser, src, false)
				e.cursorByPID[pid] = e.audio
			}
		}

		if e.video != nil && e.audio != nil {
			break
		}
	}

	allFound := true
	for _, cursor := range []*StreamCursor{e.video, e.audio} {
		if cursor == nil {
			continue
		}
		if err := cursor.FindStreamDuration(); err != nil {
			allFound = false
		}
	}

	haveTrack := e.video != nil || e.audio != nil
	e.seekable = haveTrack && allFound && !e.cfg.DisableSeek
	return nil
}

// pidForSource recovers the PID a PacketSource was registered under. The
// parser only ever hands out sources it created in feedPMT, where the PID
// and the source are assigned together; scanning cursorByPID's would-be
// keys isn't available yet at this point in probe, so the lookup walks the
// parser's own stream table.
func (e *Extractor) pidForSource(source *tsparser.PacketSource) uint16 {
	return e.parser.PIDForSource(source)
}
