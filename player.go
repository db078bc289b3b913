// Package midiplay plays Standard MIDI Files through a SoundFont synthesizer
// in real time.
//
// Playback runs on two concurrent paths that share only the mutex-guarded
// synthesizer state: a conductor goroutine walks the pre-built event timeline
// against the wall clock and issues synth commands, while the audio device
// pulls rendered sample blocks on its own real-time goroutine. All timing
// math happens once, up front, when the timeline is built.
package midiplay

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ivanfourie/midi-play/internal/audio"
	"github.com/ivanfourie/midi-play/internal/conductor"
	"github.com/ivanfourie/midi-play/internal/effects"
	"github.com/ivanfourie/midi-play/internal/smfio"
	"github.com/ivanfourie/midi-play/internal/synth"
	"github.com/ivanfourie/midi-play/internal/timeline"
)

// PlaybackEvent carries playback lifecycle events from Watch().
type PlaybackEvent struct {
	Kind int
}

const (
	// EventPlaybackFinished: the timeline ran to its end and the tail elapsed.
	EventPlaybackFinished int = iota
	// EventPlaybackStopped: playback was cancelled before the end.
	EventPlaybackStopped
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	quantum time.Duration
	tail    time.Duration
	volume  float64
	reverb  *reverbParams
	chorus  *chorusParams
}

type reverbParams struct{ roomSize, damping, wet float32 }
type chorusParams struct{ speedHz, depthMs, wet float32 }

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		quantum: 2 * time.Millisecond,
		tail:    2 * time.Second,
		volume:  1,
	}
}

// WithQuantum sets the conductor's scheduling quantum (capped at 2ms).
func WithQuantum(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		if d > 0 {
			cfg.quantum = d
		}
	}
}

// WithTail sets the trailing silence window after the last event, giving
// releases and reverb time to ring out.
func WithTail(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		if d >= 0 {
			cfg.tail = d
		}
	}
}

// WithVolume sets the initial master volume scalar. 1.0 is unity.
func WithVolume(v float64) PlayerOption {
	return func(cfg *playerConfig) {
		if v >= 0 {
			cfg.volume = v
		}
	}
}

// WithReverb enables a master reverb on the output bus.
// roomSize, damping and wet are all 0..1.
func WithReverb(roomSize, damping, wet float32) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.reverb = &reverbParams{roomSize: roomSize, damping: damping, wet: wet}
	}
}

// WithChorus enables a master chorus on the output bus.
func WithChorus(speedHz, depthMs, wet float32) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.chorus = &chorusParams{speedHz: speedHz, depthMs: depthMs, wet: wet}
	}
}

// Player owns the synthesizer state for its lifetime and runs one playback
// session at a time. Methods are safe for concurrent use.
type Player struct {
	mu         sync.Mutex
	sampleRate int
	cfg        playerConfig
	state      *synth.State
	masterEQ   *effects.EQ5Band
	fx         *effects.Chain
	volume     float64

	cond    *conductor.Conductor
	backend *audio.Player
	done    chan struct{}

	eventMu sync.Mutex
	eventCh chan PlaybackEvent
}

// NewPlayer loads the SoundFont and builds a synthesizer rendering at
// sampleRate. The audio device is opened lazily on the first Play and must
// run at the same rate; a mismatch is reported there, before any audio
// starts.
func NewPlayer(soundfont io.Reader, sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	state, err := synth.New(soundfont, sampleRate)
	if err != nil {
		return nil, err
	}
	fx, eq := buildEffectsBus(cfg, sampleRate)
	return &Player{
		sampleRate: sampleRate,
		cfg:        cfg,
		state:      state,
		masterEQ:   eq,
		fx:         fx,
		volume:     cfg.volume,
	}, nil
}

// buildEffectsBus assembles the master output chain: optional chorus, then
// optional reverb, then the always-present EQ.
func buildEffectsBus(cfg playerConfig, sampleRate int) (*effects.Chain, *effects.EQ5Band) {
	eq := effects.NewEQ5Band(sampleRate)
	fx := effects.NewChain()
	if cfg.chorus != nil {
		fx.Add(effects.NewChorus(sampleRate, cfg.chorus.speedHz, cfg.chorus.depthMs, cfg.chorus.wet))
	}
	if cfg.reverb != nil {
		fx.Add(effects.NewReverb(sampleRate, cfg.reverb.roomSize, cfg.reverb.damping, cfg.reverb.wet))
	}
	fx.Add(eq)
	return fx, eq
}

// playbackSource feeds the audio stream from the shared synth state. The
// try-render fallback keeps the device callback inside its deadline when the
// conductor holds the lock; that block plays as silence.
type playbackSource struct {
	state *synth.State
	cond  *conductor.Conductor
}

func (s *playbackSource) RenderFrames(left, right []float32) bool {
	return s.state.TryRender(left, right)
}

func (s *playbackSource) Finished() bool {
	select {
	case <-s.cond.Done():
		return true
	default:
		return false
	}
}

// PlayFile loads and plays the MIDI file at path.
func (p *Player) PlayFile(path string) error {
	song, err := smfio.ReadFile(path)
	if err != nil {
		return err
	}
	return p.Play(song)
}

// Play builds the timeline for song and starts playback. A session already
// running is stopped and fully wound down first, so its remaining events and
// its stop-time all-notes-off can never land on the new session's state. It
// returns once playback has started; use Wait or Watch to observe the end.
func (p *Player) Play(song *smfio.Song) error {
	tl, err := timeline.Build(song.Tracks, song.PPQ)
	if err != nil {
		return err
	}

	// Wind down any prior session before touching shared state. The watcher
	// closes done only after the conductor goroutine has exited and the old
	// backend stopped, so past this loop nothing else dispatches to the synth.
	for {
		p.mu.Lock()
		if p.cond == nil {
			break
		}
		cond, done := p.cond, p.done
		p.mu.Unlock()
		cond.Stop()
		<-done
	}
	defer p.mu.Unlock()

	p.fx.Reset()
	p.state.Reset()

	cond := conductor.New(tl, p.state,
		conductor.WithQuantum(p.cfg.quantum),
		conductor.WithTail(p.cfg.tail),
	)
	source := &playbackSource{state: p.state, cond: cond}
	backend, err := audio.NewPlayer(p.sampleRate, source, p.fx.ProcessBuffer)
	if err != nil {
		return err
	}
	backend.SetVolume(p.volume)

	p.done = make(chan struct{})
	p.cond = cond
	p.backend = backend

	backend.Play()
	if err := cond.Play(); err != nil {
		_ = backend.Stop()
		p.cond = nil
		p.backend = nil
		p.done = nil
		return err
	}
	go p.watchSession(cond, backend, p.done)
	return nil
}

// watchSession resolves the session once the conductor ends, on whichever
// path: silence lingering notes, stop the device, report the outcome.
func (p *Player) watchSession(cond *conductor.Conductor, backend *audio.Player, done chan struct{}) {
	<-cond.Done()
	p.state.AllNotesOff()
	if backend != nil {
		_ = backend.Stop()
	}

	kind := EventPlaybackFinished
	if cond.State() == conductor.Stopped {
		kind = EventPlaybackStopped
	}
	p.sendEvent(PlaybackEvent{Kind: kind})

	p.mu.Lock()
	if p.cond == cond {
		p.cond = nil
		p.backend = nil
		p.done = nil
	}
	p.mu.Unlock()
	close(done)
}

// Stop cancels the current playback. Remaining events are dropped and all
// sounding notes are released. Safe to call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	cond := p.cond
	p.mu.Unlock()
	if cond != nil {
		cond.Stop()
	}
}

// Pause freezes both the event schedule and the device output.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cond != nil {
		p.cond.Pause()
	}
	if p.backend != nil {
		p.backend.Pause()
	}
}

// Resume continues a paused playback.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend != nil {
		p.backend.Play()
	}
	if p.cond != nil {
		p.cond.Resume()
	}
}

// Wait blocks until the current playback finishes or is stopped. It returns
// immediately if nothing is playing.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel receiving playback events. The channel is buffered
// (cap 8); events are dropped rather than blocking the session watcher. Only
// the most recent Watch channel receives events; call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.eventMu.Lock()
	p.eventCh = ch
	p.eventMu.Unlock()
	return ch
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventMu.Lock()
	ch := p.eventCh
	p.eventMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SetMasterVolume sets the runtime volume scalar. 1.0 is default; negative
// values clamp to 0.
func (p *Player) SetMasterVolume(v float64) {
	if v < 0 {
		v = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	if p.backend != nil {
		p.backend.SetVolume(v)
	}
}

// MasterVolume returns the current volume scalar.
func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band splits: <200Hz, 200-800Hz, 800-2.5kHz, 2.5-8kHz, >8kHz.
// Takes effect immediately on the audio goroutine, lock-free.
func (p *Player) SetEQBand(band int, gain float32) {
	p.masterEQ.SetGain(band, gain)
}

// EQBand returns the current gain for a master EQ band (0-4).
func (p *Player) EQBand(band int) float32 {
	return p.masterEQ.Gain(band)
}

// Underruns reports how many device blocks played as silence because the
// synth lock was contended at render time.
func (p *Player) Underruns() uint64 {
	return p.state.Underruns()
}

// PlaybackPosition returns the output position the listener actually hears,
// or 0 when nothing is playing.
func (p *Player) PlaybackPosition() time.Duration {
	p.mu.Lock()
	backend := p.backend
	p.mu.Unlock()
	if backend == nil {
		return 0
	}
	return backend.Position()
}
