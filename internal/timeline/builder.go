package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMalformedInput reports track data the builder cannot convert: a missing
// or zero PPQ, or a tempo of zero microseconds per quarter note.
var ErrMalformedInput = errors.New("malformed input")

// Event is a message stamped with its absolute playback time. Events are
// immutable; all timing math happens once, during Build.
type Event struct {
	// Timestamp is microseconds since the start of playback.
	Timestamp uint64
	Message   Message
}

// Timeline is the merged, globally time-ordered event sequence for a whole
// song, ready to be replayed against a wall clock. It is read-only after
// Build returns.
type Timeline []Event

// Duration returns the time of the last event.
func (tl Timeline) Duration() time.Duration {
	if len(tl) == 0 {
		return 0
	}
	return time.Duration(tl[len(tl)-1].Timestamp) * time.Microsecond
}

// InitialTempo returns the tempo that seeds conversion for every track: the
// first Tempo message found anywhere in the file, in track order. Format-1
// files keep all tempo events on a dedicated track, so per-track scanning
// alone would play the other tracks at the 120 BPM default.
func InitialTempo(tracks [][]RawEvent) uint32 {
	for _, track := range tracks {
		for _, ev := range track {
			if ev.Message.Kind == KindTempo {
				return ev.Message.USPerQuarter
			}
		}
	}
	return DefaultUSPerQuarter
}

// Build converts every track's delta-ticked events into one timeline of
// absolute-microsecond events.
//
// Each track is scanned independently: a running absolute tick count feeds a
// per-track TempoMap, and each event's timestamp is derived from the
// breakpoint active at its tick. Tempo changes are prospective, never
// retroactive. Tempo messages are consumed by the conversion and do not
// appear in the result; Other messages are dropped.
//
// The merge is stable: equal timestamps keep ascending track order, and
// events within a track keep their original order.
func Build(tracks [][]RawEvent, ppq uint16) (Timeline, error) {
	if ppq == 0 {
		return nil, fmt.Errorf("%w: PPQ is zero or absent", ErrMalformedInput)
	}
	seed := InitialTempo(tracks)
	if seed == 0 {
		return nil, fmt.Errorf("%w: tempo of 0 microseconds per quarter", ErrMalformedInput)
	}

	var merged Timeline
	for i, track := range tracks {
		converted, err := convertTrack(track, ppq, seed)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
		merged = append(merged, converted...)
	}
	// Tracks were appended in index order, so a stable sort on timestamp
	// alone yields the (timestamp, track, intra-track order) tie-breaking.
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Timestamp < merged[b].Timestamp
	})
	return merged, nil
}

func convertTrack(track []RawEvent, ppq uint16, seedTempo uint32) ([]Event, error) {
	tm := NewTempoMap(ppq, seedTempo)
	out := make([]Event, 0, len(track))
	var absTicks uint64
	for _, ev := range track {
		absTicks += uint64(ev.Delta)
		switch ev.Message.Kind {
		case KindTempo:
			if ev.Message.USPerQuarter == 0 {
				return nil, fmt.Errorf("%w: tempo of 0 microseconds per quarter at tick %d", ErrMalformedInput, absTicks)
			}
			tm.SetTempo(absTicks, ev.Message.USPerQuarter)
		case KindOther:
			// Nothing downstream consumes these.
		default:
			out = append(out, Event{Timestamp: tm.TimestampUS(absTicks), Message: ev.Message})
		}
	}
	return out, nil
}
