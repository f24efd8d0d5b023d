// tsprobe opens an MPEG-2 transport stream clip, probes it for audio and
// video tracks the way mediaindex's mpegts package does internally, and
// reads a handful of access units from whichever track was found, then
// exercises a seek.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/icecoldsandwich/mediaindex/bytesource"
	"github.com/icecoldsandwich/mediaindex/mpegts"
)

func main() {
	dumpUnits := flag.Int("units", 5, "number of access units to read after probing")
	seekFrac := flag.Float64("seek", 0.5, "fraction of the clip's duration to seek to before reading, 0 to disable")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: tsprobe [-units N] [-seek frac] <file.ts>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Fatal(err)
	}

	src := bytesource.NewFileSource(f, info.Size())
	ex, err := mpegts.NewExtractor(src, mpegts.ExtractorConfig{})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("sized: %v\n", ex.Sized())
	fmt.Printf("seekable: %v\n", ex.Seekable())
	fmt.Printf("capabilities: %v\n", ex.Capabilities())

	video, hasVideo := ex.Video()
	audio, hasAudio := ex.Audio()
	fmt.Printf("video track: %v\n", hasVideo)
	fmt.Printf("audio track: %v\n", hasAudio)

	cursor := video
	label := "video"
	if !hasVideo {
		cursor, label = audio, "audio"
	}
	if cursor == nil {
		fmt.Println("no tracks found")
		return
	}

	durationUs, found := cursor.Duration()
	if found {
		fmt.Printf("%s duration: %dus\n", label, durationUs)
	}

	if found && *seekFrac > 0 {
		seekTimeUs := int64(float64(durationUs) * *seekFrac)
		fmt.Printf("seeking %s to %dus\n", label, seekTimeUs)
		cursor.Seek(seekTimeUs)
	}

	for i := 0; i < *dumpUnits; i++ {
		au, err := cursor.Read()
		if err != nil {
			fmt.Printf("%s read %d: %v\n", label, i, err)
			break
		}
		fmt.Printf("%s unit %d: bytes=%d pts=%d sync=%v\n", label, i, len(au.Data), au.PTS, au.Sync)
	}
}
