// Package isobmff implements the ISO Base Media (MP4) sample-table engine:
// given a bytesource.Source and the byte ranges of the standard sample-table
// sub-boxes (stco/co64, stsc, stsz/stz2, stts, ctts, stss, stsd), it answers
// per-sample queries — byte offset, size, decode/composition timestamp,
// sync-sample membership — and temporal seeks.
//
// SampleTable is the public façade; it owns every index and the
// SampleIterator it hands queries to. Indices are loaded at most once each
// and are immutable afterward. stco/stsz/stz2 entries are read lazily,
// one at a time, through the backing bytesource.Source to avoid holding an
// O(N) array for tracks with very large sample counts; stts/ctts/stss are
// small and scanned frequently, so they are loaded in full.
package isobmff
