// Package smfio decodes Standard MIDI Files into the delta-ticked event
// sequences the timeline builder consumes. Parsing itself is delegated to
// gitlab.com/gomidi/midi/v2/smf; this package only maps its messages onto the
// playback message set and extracts the file-wide tick resolution.
package smfio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/ivanfourie/midi-play/internal/timeline"
)

// ErrIO reports a failure to read the file itself, as opposed to malformed
// contents (timeline.ErrMalformedInput).
var ErrIO = errors.New("io error")

// fallbackPPQ is used for SMPTE-timed files, which encode wall time directly
// and carry no metrical resolution.
const fallbackPPQ = 480

// Song is a decoded MIDI file: the tick resolution from the header plus every
// track's raw event sequence in file order.
type Song struct {
	PPQ    uint16
	Tracks [][]timeline.RawEvent
}

// EventCount returns the total number of decoded events across all tracks.
func (s *Song) EventCount() int {
	n := 0
	for _, tr := range s.Tracks {
		n += len(tr)
	}
	return n
}

// ReadFile decodes the MIDI file at path.
func ReadFile(path string) (*Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a MIDI file from r.
func Read(r io.Reader) (*Song, error) {
	data, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", timeline.ErrMalformedInput, err)
	}

	ppq := uint16(fallbackPPQ)
	if mt, ok := data.TimeFormat.(smf.MetricTicks); ok {
		if uint16(mt) == 0 {
			return nil, fmt.Errorf("%w: PPQ is zero or absent", timeline.ErrMalformedInput)
		}
		ppq = uint16(mt)
	}

	song := &Song{PPQ: ppq, Tracks: make([][]timeline.RawEvent, 0, len(data.Tracks))}
	for _, track := range data.Tracks {
		events := make([]timeline.RawEvent, 0, len(track))
		for _, ev := range track {
			msg, ok := decodeMessage(ev.Message)
			if !ok {
				// Unhandled message kinds still advance the tick cursor.
				msg = timeline.Message{Kind: timeline.KindOther}
			}
			events = append(events, timeline.RawEvent{Delta: ev.Delta, Message: msg})
		}
		song.Tracks = append(song.Tracks, events)
	}
	return song, nil
}

func decodeMessage(m smf.Message) (timeline.Message, bool) {
	var (
		channel, key, velocity     uint8
		program, controller, value uint8
		relative                   int16
		absolute                   uint16
		bpm                        float64
	)
	switch {
	case m.GetNoteStart(&channel, &key, &velocity):
		return timeline.NoteOn(channel, key, velocity), true
	case m.GetNoteEnd(&channel, &key):
		// Covers NoteOff and the velocity-0 NoteOn convention.
		return timeline.NoteOff(channel, key, 0), true
	case m.GetProgramChange(&channel, &program):
		return timeline.ProgramChange(channel, program), true
	case m.GetControlChange(&channel, &controller, &value):
		return timeline.ControlChange(channel, controller, value), true
	case m.GetPitchBend(&channel, &relative, &absolute):
		return timeline.PitchBend(channel, absolute), true
	case m.GetMetaTempo(&bpm):
		if bpm <= 0 {
			return timeline.Tempo(0), true // surfaced as MalformedInput by Build
		}
		return timeline.Tempo(uint32(math.Round(60000000 / bpm))), true
	default:
		return timeline.Message{}, false
	}
}
