// Package mpegts implements the MPEG-2 Transport Stream navigation
// engine: given a bytesource.Source, it packetizes a 188-byte-aligned
// stream, drives tsparser to discover elementary streams, determines clip
// duration from first/last PTS, and implements byte-offset seeks keyed by
// PTS with fallback to the nearest video sync frame.
//
// PacketCache (C11) is the fixed-capacity read-ahead buffer every
// StreamCursor (C13) reads through; Extractor (C14) is the clip-level
// façade that probes tracks and owns one StreamCursor per elementary
// stream. Sniff is the trivial 5-packet heuristic (§6) a caller runs
// before ever constructing an Extractor.
package mpegts
