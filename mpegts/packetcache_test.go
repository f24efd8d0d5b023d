package mpegts

import (
	"testing"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/errs"
)

func syntheticPackets(n int) []byte {
	data := make([]byte, n*PacketSize)
	for i := 0; i < n; i++ {
		data[i*PacketSize] = 0x47
		data[i*PacketSize+1] = byte(i) // distinguishes packets in assertions
	}
	return data
}

func TestPacketCache_SequentialRead(t *testing.T) {
	data := syntheticPackets(5)
	src := bytesource.NewMemSource(data)
	cache := NewPacketCache(int64(len(data)), 2) // capacity smaller than the stream, forces refills

	var offset int64
	for i := 0; i < 5; i++ {
		pkt, err := cache.GetTSPacket(src, offset)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if pkt[0] != 0x47 || pkt[1] != byte(i) {
			t.Errorf("packet %d: got sync=%#x tag=%d, want sync=0x47 tag=%d", i, pkt[0], pkt[1], i)
		}
		offset += PacketSize
	}

	if _, err := cache.GetTSPacket(src, offset); !errs.Is(err, errs.EndOfStream) {
		t.Errorf("past-end GetTSPacket error = %v, want EndOfStream", err)
	}
}

func TestPacketCache_FlushForcesRefill(t *testing.T) {
	data := syntheticPackets(3)
	src := bytesource.NewMemSource(data)
	cache := NewPacketCache(int64(len(data)), 10)

	if _, err := cache.GetTSPacket(src, 0); err != nil {
		t.Fatalf("GetTSPacket: %v", err)
	}
	cache.Flush()
	pkt, err := cache.GetTSPacket(src, PacketSize)
	if err != nil {
		t.Fatalf("GetTSPacket after flush: %v", err)
	}
	if pkt[1] != 1 {
		t.Errorf("packet tag = %d, want 1", pkt[1])
	}
}

func TestPacketCache_ShortRefillIsEndOfStream(t *testing.T) {
	data := syntheticPackets(1)
	data = data[:100] // truncate below one full packet
	src := bytesource.NewMemSource(data)
	cache := NewPacketCache(int64(len(data)), 10)

	if _, err := cache.GetTSPacket(src, 0); !errs.Is(err, errs.EndOfStream) {
		t.Errorf("GetTSPacket on truncated clip error = %v, want EndOfStream", err)
	}
}
