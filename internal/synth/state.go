// Package synth owns the SoundFont synthesizer engine and serializes all
// access to it behind one mutex. Two callers share it for the lifetime of a
// playback session: the conductor goroutine issuing short command operations,
// and the audio goroutine pulling rendered sample blocks. Neither path ever
// holds the lock across a sleep or I/O.
package synth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	meltysynth "github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/ivanfourie/midi-play/internal/timeline"
)

// ErrEngine reports a fatal engine setup failure: an unreadable SoundFont or
// a synthesizer the engine refuses to build. Reported before playback starts.
var ErrEngine = errors.New("engine error")

// ErrCommand reports a single rejected command. Recovered locally by callers;
// a bad event never halts playback.
var ErrCommand = errors.New("command failure")

// Engine is the subset of the synthesizer used by State. Tests inject fakes.
type Engine interface {
	NoteOn(channel, key, velocity int32)
	NoteOff(channel, key int32)
	NoteOffAll(immediate bool)
	ProcessMidiMessage(channel, command, data1, data2 int32)
	Render(left, right []float32)
}

// MIDI status bytes the engine understands for non-note commands.
const (
	cmdControlChange = 0xB0
	cmdProgramChange = 0xC0
	cmdPitchBend     = 0xE0

	ccResetAllControllers = 121
	ccAllSoundOff         = 120

	bendCenter = 8192
)

// State is the mutually-exclusive region around the engine. Command and
// render operations take the same lock; the render path additionally offers a
// try-acquire variant so the audio deadline is never missed on contention.
type State struct {
	mu         sync.Mutex
	engine     Engine
	sampleRate int
	underruns  atomic.Uint64
}

// New loads a SoundFont from sf and builds a meltysynth synthesizer rendering
// at sampleRate. The sample rate is fixed here, before playback; the audio
// device must be opened at the same rate.
func New(sf io.Reader, sampleRate int) (*State, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrEngine, sampleRate)
	}
	data, err := io.ReadAll(sf)
	if err != nil {
		return nil, fmt.Errorf("%w: reading soundfont: %v", ErrEngine, err)
	}
	sfnt, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing soundfont: %v", ErrEngine, err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	engine, err := meltysynth.NewSynthesizer(sfnt, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	return &State{engine: engine, sampleRate: sampleRate}, nil
}

// NewWithEngine wraps an already-built engine. Used by offline rendering and
// tests.
func NewWithEngine(engine Engine, sampleRate int) *State {
	return &State{engine: engine, sampleRate: sampleRate}
}

func (s *State) SampleRate() int { return s.sampleRate }

// Apply forwards one timed message to the engine as the corresponding
// command. Tempo and Other messages are no-ops: tempo is already resolved
// into timestamps upstream. A validation failure returns ErrCommand and
// leaves the engine untouched.
func (s *State) Apply(m timeline.Message) error {
	switch m.Kind {
	case timeline.KindTempo, timeline.KindOther:
		return nil
	}
	if m.Channel > 15 {
		return fmt.Errorf("%w: channel %d out of range for %v", ErrCommand, m.Channel, m.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch m.Kind {
	case timeline.KindNoteOn:
		if m.Key > 127 || m.Velocity > 127 {
			return fmt.Errorf("%w: note on key=%d vel=%d", ErrCommand, m.Key, m.Velocity)
		}
		s.engine.NoteOn(int32(m.Channel), int32(m.Key), int32(m.Velocity))
	case timeline.KindNoteOff:
		if m.Key > 127 {
			return fmt.Errorf("%w: note off key=%d", ErrCommand, m.Key)
		}
		s.engine.NoteOff(int32(m.Channel), int32(m.Key))
	case timeline.KindProgramChange:
		if m.Program > 127 {
			return fmt.Errorf("%w: program %d", ErrCommand, m.Program)
		}
		s.engine.ProcessMidiMessage(int32(m.Channel), cmdProgramChange, int32(m.Program), 0)
	case timeline.KindControlChange:
		if m.Controller > 127 || m.Value > 127 {
			return fmt.Errorf("%w: controller %d value %d", ErrCommand, m.Controller, m.Value)
		}
		s.engine.ProcessMidiMessage(int32(m.Channel), cmdControlChange, int32(m.Controller), int32(m.Value))
	case timeline.KindPitchBend:
		if m.Bend > 16383 {
			return fmt.Errorf("%w: pitch bend %d out of 14-bit range", ErrCommand, m.Bend)
		}
		s.engine.ProcessMidiMessage(int32(m.Channel), cmdPitchBend, int32(m.Bend&0x7F), int32(m.Bend>>7))
	default:
		return fmt.Errorf("%w: unknown message kind %d", ErrCommand, m.Kind)
	}
	return nil
}

// Reset brings every channel to a clean start: centered pitch bend, Reset All
// Controllers, All Sound Off.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := int32(0); ch < 16; ch++ {
		s.engine.ProcessMidiMessage(ch, cmdPitchBend, bendCenter&0x7F, bendCenter>>7)
		s.engine.ProcessMidiMessage(ch, cmdControlChange, ccResetAllControllers, 0)
		s.engine.ProcessMidiMessage(ch, cmdControlChange, ccAllSoundOff, 0)
	}
}

// AllNotesOff releases every sounding voice. Used on stop so an abrupt
// cancellation does not leave notes ringing.
func (s *State) AllNotesOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.NoteOffAll(false)
}

// Render fills the planar stereo buffers with the next len(left) frames,
// blocking on the lock. A zero-length request is a no-op.
func (s *State) Render(left, right []float32) {
	if len(left) == 0 || len(right) == 0 {
		return
	}
	if len(left) != len(right) {
		n := min(len(left), len(right))
		left, right = left[:n], right[:n]
	}
	s.mu.Lock()
	s.engine.Render(left, right)
	s.mu.Unlock()
}

// TryRender is the real-time variant: if the lock is contended it fills both
// buffers with silence, counts an underrun, and reports false instead of
// blocking past the audio deadline. A zero-length request is a no-op
// reporting true.
func (s *State) TryRender(left, right []float32) bool {
	if len(left) == 0 || len(right) == 0 {
		return true
	}
	if len(left) != len(right) {
		n := min(len(left), len(right))
		left, right = left[:n], right[:n]
	}
	if !s.mu.TryLock() {
		clear(left)
		clear(right)
		s.underruns.Add(1)
		return false
	}
	s.engine.Render(left, right)
	s.mu.Unlock()
	return true
}

// Underruns returns how many render calls fell back to silence.
func (s *State) Underruns() uint64 {
	return s.underruns.Load()
}
