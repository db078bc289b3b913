package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	midiplay "github.com/ivanfourie/midi-play"
	"github.com/ivanfourie/midi-play/internal/smfio"
	"github.com/ivanfourie/midi-play/internal/timeline"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 44100, "output sample rate")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		tail       = flag.Duration("tail", 2*time.Second, "silence after the last event")
		reverb     = flag.Bool("reverb", false, "enable master reverb")
		chorus     = flag.Bool("chorus", false, "enable master chorus")
		wavPath    = flag.String("wav", "", "render to a WAV file instead of playing")
	)
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.mid> <soundfont.sf2>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	midiPath, sfPath := flag.Arg(0), flag.Arg(1)

	song, err := smfio.ReadFile(midiPath)
	if err != nil {
		log.Fatal(err)
	}
	tl, err := timeline.Build(song.Tracks, song.PPQ)
	if err != nil {
		log.Fatal(err)
	}
	printBanner(midiPath, song, tl)

	sf, err := os.Open(sfPath)
	if err != nil {
		log.Fatal(err)
	}
	defer sf.Close()

	opts := []midiplay.PlayerOption{
		midiplay.WithTail(*tail),
		midiplay.WithVolume(*volume),
	}
	if *reverb {
		opts = append(opts, midiplay.WithReverb(0.6, 0.3, 0.25))
	}
	if *chorus {
		opts = append(opts, midiplay.WithChorus(1.5, 3, 0.2))
	}

	if *wavPath != "" {
		samples, err := midiplay.RenderSong(sf, song, *sampleRate, opts...)
		if err != nil {
			log.Fatal(err)
		}
		wav := midiplay.EncodeWAVFloat32LE(samples, *sampleRate, 2)
		if err := os.WriteFile(*wavPath, wav, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s (%.1fs)\n", *wavPath, float64(len(samples)/2)/float64(*sampleRate))
		return
	}

	pl, err := midiplay.NewPlayer(sf, *sampleRate, opts...)
	if err != nil {
		log.Fatal(err)
	}
	ch := pl.Watch()
	if err := pl.Play(song); err != nil {
		log.Fatal(err)
	}
	switch event := <-ch; event.Kind {
	case midiplay.EventPlaybackFinished:
		fmt.Println("playback completed")
	case midiplay.EventPlaybackStopped:
		fmt.Println("playback stopped")
	}
	pl.Wait()
	if n := pl.Underruns(); n > 0 {
		fmt.Printf("audio underruns: %d\n", n)
	}
}

func printBanner(path string, song *smfio.Song, tl timeline.Timeline) {
	bpm := 60e6 / float64(timeline.InitialTempo(song.Tracks))
	total := tl.Duration().Round(time.Second)
	fmt.Printf("%s: %d tracks, %d ppq, %.1f bpm, %d events, %d:%02d\n",
		path, len(song.Tracks), song.PPQ, bpm, song.EventCount(),
		int(total.Minutes()), int(total.Seconds())%60)
}
