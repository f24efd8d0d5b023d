package mpegts

import (
	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
	"github.com/icecoldsandwich/mediaindex/mpegts/tsparser"
)

// PacketSize is the fixed transport-packet alignment the whole engine
// reads and seeks at.
const PacketSize = tsparser.PacketSize

// DefaultCacheCapacityPackets matches the teacher's TSBuffer default of
// 1000 packets (188KB) of read-ahead.
const DefaultCacheCapacityPackets = 1000

// PacketCache is a fixed-capacity read-ahead buffer (C11) yielding aligned
// 188-byte packets from a bytesource.Source. Per the §4.5 invariant, the
// slice returned by GetTSPacket is valid only until the next call on the
// same cache.
type PacketCache struct {
	clipSize int64
	buf      []byte
	dataLen  int
	pos      int
}

// NewPacketCache returns a cache of the given capacity (in packets) that
// will never refill past clipSize bytes of the underlying source.
func NewPacketCache(clipSize int64, capacityPackets int) *PacketCache {
	if capacityPackets <= 0 {
		capacityPackets = DefaultCacheCapacityPackets
	}
	return &PacketCache{
		clipSize: clipSize,
		buf:      make([]byte, capacityPackets*PacketSize),
	}
}

// GetTSPacket returns the next aligned packet starting at sourceOffset,
// refilling from src when fewer than PacketSize unread bytes remain
// buffered. The returned slice aliases the cache's internal buffer and is
// invalidated by the next GetTSPacket or Flush call.
func (c *PacketCache) GetTSPacket(src bytesource.Source, sourceOffset int64) ([]byte, error) {
	if c.dataLen-c.pos < PacketSize {
		remaining := c.clipSize - sourceOffset
		if remaining < PacketSize {
			return nil, errs.New(errs.EndOfStream, "mpegts: packet cache refill short of clip end")
		}
		size := int64(len(c.buf))
		if remaining < size {
			size = remaining
		}
		n, err := src.ReadAt(sourceOffset, c.buf[:size])
		if err != nil {
			return nil, errs.Wrap(errs.IO, "mpegts: packet cache refill", err)
		}
		if n < PacketSize {
			return nil, errs.New(errs.EndOfStream, "mpegts: packet cache refill short read")
		}
		c.dataLen = n
		c.pos = 0
	}
	pkt := c.buf[c.pos : c.pos+PacketSize]
	c.pos += PacketSize
	return pkt, nil
}

// Flush invalidates the buffered data, forcing the next GetTSPacket call
// to refill from the source.
func (c *PacketCache) Flush() {
	c.dataLen = 0
	c.pos = 0
}
