package mpegts

import (
	"fmt"
	"sync"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
	"github.com/icecoldsandwich/mediaindex/mpegts/tsparser"
)

// StreamInfo (§3) describes one elementary stream's position and timing
// within the clip. FirstPTS/FirstPTSOffset are recorded by Extractor the
// moment the stream's first timestamped access unit is seen during probe;
// everything else is filled in by FindStreamDuration and mutated by reads
// and seeks thereafter.
type StreamInfo struct {
	StreamPID      uint16
	ProgramPID     uint16
	FirstPTS       int64
	FirstPTSOffset int64
	LastPTS        int64
	LastPTSOffset  int64
	DurationUs     int64
	CurrentOffset  int64
}

// StreamCursor (C13) is the per-elementary-stream source TSExtractor hands
// callers: a packet feeder, a duration finder, a PTS-bisection seek, and a
// seek-to-sync refinement for video. Each cursor serializes its own read,
// FindStreamDuration, and seek helpers under its own mutex (§5); it owns
// its own PacketCache, independent of every other cursor's.
type StreamCursor struct {
	mu sync.Mutex

	src      bytesource.Source
	clipSize int64
	cache    *PacketCache
	parser   *tsparser.Parser
	source   *tsparser.PacketSource
	video    bool

	info StreamInfo

	durationFound          bool
	seekRequested          bool
	seekTimeUs             int64
	lastKnownSyncFrameTime int64
}

// NewStreamCursor returns a cursor over the elementary stream at
// streamPID, fed by parser and reading queued access units from source.
// video selects whether reads resync to the next sync frame after a seek.
func NewStreamCursor(src bytesource.Source, clipSize int64, streamPID, programPID uint16, parser *tsparser.Parser, source *tsparser.PacketSource, video bool) *StreamCursor {
	return &StreamCursor{
		src:      src,
		clipSize: clipSize,
		cache:    NewPacketCache(clipSize, DefaultCacheCapacityPackets),
		parser:   parser,
		source:   source,
		video:    video,
		info: StreamInfo{
			StreamPID:     streamPID,
			ProgramPID:    programPID,
			CurrentOffset: PacketSize,
		},
	}
}

// Info returns a snapshot of the cursor's current StreamInfo.
func (c *StreamCursor) Info() StreamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// RecordFirstPTS stores the first PTS/offset pair Extractor's probe loop
// observed for this stream. Later calls are no-ops: only the first
// timestamped access unit counts, matching the original's probe-time
// bookkeeping.
func (c *StreamCursor) RecordFirstPTS(pts, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info.FirstPTS == 0 && c.info.FirstPTSOffset == 0 {
		c.info.FirstPTS = pts
		c.info.FirstPTSOffset = offset
	}
}

// readRawPacket reads one aligned 188-byte packet directly from the
// source, bypassing the cursor's sequential-read cache. FindStreamDuration
// and findOffsetForPTS jump around non-sequentially and would thrash the
// cache's single read-ahead window if they shared it with feedMore.
func (c *StreamCursor) readRawPacket(offset int64) ([]byte, error) {
	buf := make([]byte, PacketSize)
	n, err := c.src.ReadAt(offset, buf)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "mpegts: read raw packet", err)
	}
	if n < PacketSize {
		return nil, errs.New(errs.EndOfStream, "mpegts: short raw packet read")
	}
	return buf, nil
}

// FindStreamDuration (§4.6) scans backward from the clip's last packet to
// find the last PTS carried by this stream, then derives DurationUs from
// the (FirstPTS, LastPTS) pair RecordFirstPTS already captured during
// probe. Invoked once, after probe.
func (c *StreamCursor) FindStreamDuration() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clipSize == 0 {
		return errs.New(errs.InvalidOperation, "mpegts: FindStreamDuration on unsized clip")
	}

	offset := c.clipSize - PacketSize
	for offset >= 0 {
		pkt, err := c.readRawPacket(offset)
		if err != nil {
			return err
		}
		pts, ok, err := tsparser.ParseToPTS(c.info.StreamPID, pkt)
		if err != nil {
			return err
		}
		if ok {
			c.info.LastPTS = pts
			c.info.LastPTSOffset = offset
			break
		}
		offset -= PacketSize
	}
	if offset < 0 {
		return errs.New(errs.InvalidOperation, "mpegts: no PTS found scanning backward from clip end")
	}

	durationUs := (c.info.LastPTS - c.info.FirstPTS) * 100 / 9
	if durationUs == 0 {
		return errs.New(errs.InvalidOperation, "mpegts: zero duration")
	}
	c.info.DurationUs = durationUs
	c.durationFound = true
	return nil
}

// Duration reports the duration found by FindStreamDuration, and whether
// one was found at all.
func (c *StreamCursor) Duration() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.DurationUs, c.durationFound
}

func absI64(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

func strictlyBetween(a, b, x int64) bool {
	return (a < x && x < b) || (b < x && x < a)
}

// findOffsetForPTS (§4.6) is a bidirectional linear probe seeded at
// seedOffset, not a true bisection: direction flips adaptively based on
// whether the packet just read is before or after seekPTS. A seed beyond
// LastPTSOffset or before FirstPTSOffset starts the walk backward or
// forward from that end; a walk that leaves the file returns the boundary
// offset it crossed.
func (c *StreamCursor) findOffsetForPTS(seedOffset, seekPTS int64) (int64, error) {
	info := c.info

	if seekPTS <= info.FirstPTS {
		return PacketSize, nil
	}
	if seekPTS >= info.LastPTS {
		return info.LastPTSOffset, nil
	}

	fileOffset := (seedOffset / PacketSize) * PacketSize
	if fileOffset < PacketSize {
		fileOffset = PacketSize
	}
	if fileOffset > c.clipSize-PacketSize {
		fileOffset = c.clipSize - PacketSize
	}
	forward := true
	havePrev := false
	var prevPTS, prevOffset int64

	if fileOffset > info.LastPTSOffset {
		forward = false
		prevPTS, prevOffset = info.LastPTS, info.LastPTSOffset
		havePrev = true
	} else if fileOffset < info.FirstPTSOffset {
		forward = true
		prevPTS, prevOffset = info.FirstPTS, info.FirstPTSOffset
		havePrev = true
	}

	for {
		if fileOffset < PacketSize {
			return PacketSize, nil
		}
		if fileOffset+PacketSize > c.clipSize {
			return info.LastPTSOffset, nil
		}

		pkt, err := c.readRawPacket(fileOffset)
		if err != nil {
			return 0, err
		}
		currPTS, ok, err := tsparser.ParseToPTS(info.StreamPID, pkt)
		if err != nil {
			return 0, err
		}
		if !ok {
			if forward {
				fileOffset += PacketSize
			} else {
				fileOffset -= PacketSize
			}
			continue
		}

		if currPTS == seekPTS || (havePrev && strictlyBetween(prevPTS, currPTS, seekPTS)) {
			chosen := fileOffset
			if havePrev && absI64(prevPTS, seekPTS) < absI64(currPTS, seekPTS) {
				chosen = prevOffset
			}
			return chosen, nil
		}

		if currPTS < seekPTS {
			forward = true
		} else {
			forward = false
		}
		prevPTS, prevOffset = currPTS, fileOffset
		havePrev = true

		if forward {
			fileOffset += PacketSize
		} else {
			fileOffset -= PacketSize
		}
	}
}

// feedMore reads and forwards one aligned packet to the parser, through
// this cursor's own cache, without filtering by PID. Used by seekToSync,
// which must keep feeding regardless of which stream's packets arrive.
func (c *StreamCursor) feedMore() error {
	pkt, err := c.cache.GetTSPacket(c.src, c.info.CurrentOffset)
	if err != nil {
		return err
	}
	c.info.CurrentOffset += PacketSize
	return c.parser.Feed(pkt)
}

// feedMoreForStream (§4.6) pulls packets through the cache until one
// carrying this cursor's streamPID arrives, forwarding every packet to the
// parser along the way (PAT/PMT packets must reach it too). A packet whose
// PID is reserved (0) or belongs to the program map other than this
// stream's own PID is an unrecoverable state change, per the original's
// feedMoreForStream PID-change detection.
func (c *StreamCursor) feedMoreForStream() error {
	for {
		pkt, err := c.cache.GetTSPacket(c.src, c.info.CurrentOffset)
		if err != nil {
			return err
		}
		c.info.CurrentOffset += PacketSize
		pid, err := tsparser.ParseToPID(pkt)
		if err != nil {
			return err
		}
		if err := c.parser.Feed(pkt); err != nil {
			return err
		}
		if pid == c.info.StreamPID {
			return nil
		}
		if pid == 0 || (pid == c.info.ProgramPID && pid != c.info.StreamPID) {
			return errs.New(errs.DeadObject, fmt.Sprintf("mpegts: unexpected pid %d while feeding stream %d", pid, c.info.StreamPID))
		}
	}
}

// seekToSync (§4.6, video only) discards queued access units until the
// next one available is a sync frame, feeding more packets as needed.
func (c *StreamCursor) seekToSync() error {
	for {
		au, ok := c.source.Peek()
		if !ok {
			if err := c.feedMoreForStream(); err != nil {
				return err
			}
			continue
		}
		if au.Sync {
			return nil
		}
		c.source.Dequeue()
	}
}

// seekPrepare (§4.6) resolves seekTimeUs to a byte offset via PTS
// bisection, repositions the cursor and flushes its cache, signals the
// parser of the discontinuity, and — for video — resyncs to the next sync
// frame.
func (c *StreamCursor) seekPrepare(seekTimeUs int64) error {
	if !c.durationFound {
		return errs.New(errs.InvalidOperation, "mpegts: seek before duration known")
	}

	seekPTS := seekTimeUs*9/100 + c.info.FirstPTS
	seedOffset := (seekTimeUs * c.clipSize / c.info.DurationUs / PacketSize) * PacketSize

	offset, err := c.findOffsetForPTS(seedOffset, seekPTS)
	if err != nil {
		return err
	}

	c.info.CurrentOffset = offset
	c.cache.Flush()
	c.parser.SignalDiscontinuity()

	if c.video {
		if err := c.seekToSync(); err != nil {
			return err
		}
	}
	return nil
}

// Seek requests that the next Read reposition to seekTimeUs before
// returning an access unit.
func (c *StreamCursor) Seek(seekTimeUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekRequested = true
	c.seekTimeUs = seekTimeUs
}

// Read (§4.6) performs any pending seek, then blocks (by feeding more
// packets) until an access unit is available, returning it. A DEAD_OBJECT
// failure while feeding surfaces as end of stream on this source's queue,
// matching the original's treatment of an unsupported PID mutation.
func (c *StreamCursor) Read() (tsparser.AccessUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seekRequested {
		c.seekRequested = false
		if err := c.seekPrepare(c.seekTimeUs); err != nil {
			// Fall back to the last known sync frame's time, or the
			// start of the clip, per §7's seekPrepare recovery policy.
			fallback := c.lastKnownSyncFrameTime
			if ferr := c.seekPrepare(fallback); ferr != nil {
				return tsparser.AccessUnit{}, ferr
			}
		}
	}

	for !c.source.HasAccessUnit() {
		if err := c.feedMoreForStream(); err != nil {
			if errs.Is(err, errs.DeadObject) {
				c.source.SignalEOS()
			}
			return tsparser.AccessUnit{}, err
		}
	}

	au, ok := c.source.Dequeue()
	if !ok {
		return tsparser.AccessUnit{}, errs.New(errs.EndOfStream, "mpegts: queue drained concurrently")
	}
	if au.Sync && au.HasPTS {
		c.lastKnownSyncFrameTime = au.PTS
	}
	return au, nil
}
