package midiplay

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ivanfourie/midi-play/internal/conductor"
	"github.com/ivanfourie/midi-play/internal/effects"
	"github.com/ivanfourie/midi-play/internal/synth"
	"github.com/ivanfourie/midi-play/internal/timeline"
)

func TestNewPlayerRejectsBadSampleRate(t *testing.T) {
	if _, err := NewPlayer(strings.NewReader(""), 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewPlayer(strings.NewReader(""), -44100); err == nil {
		t.Error("expected error for negative sample rate")
	}
}

func TestNewPlayerRejectsBadSoundFont(t *testing.T) {
	_, err := NewPlayer(strings.NewReader("not a soundfont"), 44100)
	if !errors.Is(err, synth.ErrEngine) {
		t.Errorf("err = %v, want ErrEngine", err)
	}
}

func TestPlayerOptions(t *testing.T) {
	cfg := defaultPlayerConfig()
	for _, opt := range []PlayerOption{
		WithQuantum(time.Millisecond),
		WithTail(3 * time.Second),
		WithVolume(0.5),
	} {
		opt(&cfg)
	}
	if cfg.quantum != time.Millisecond {
		t.Errorf("quantum = %v, want 1ms", cfg.quantum)
	}
	if cfg.tail != 3*time.Second {
		t.Errorf("tail = %v, want 3s", cfg.tail)
	}
	if cfg.volume != 0.5 {
		t.Errorf("volume = %v, want 0.5", cfg.volume)
	}
}

func TestPlayerOptionsIgnoreInvalidValues(t *testing.T) {
	cfg := defaultPlayerConfig()
	for _, opt := range []PlayerOption{
		WithQuantum(0),
		WithTail(-time.Second),
		WithVolume(-1),
	} {
		opt(&cfg)
	}
	def := defaultPlayerConfig()
	if cfg != def {
		t.Errorf("invalid option values changed config: %+v", cfg)
	}
}

func TestBuildEffectsBus(t *testing.T) {
	cfg := defaultPlayerConfig()
	fx, eq := buildEffectsBus(cfg, 44100)
	if eq == nil {
		t.Fatal("EQ must always be present")
	}
	if fx.Len() != 1 {
		t.Errorf("bare bus length = %d, want 1 (EQ only)", fx.Len())
	}

	WithReverb(0.5, 0.2, 0.3)(&cfg)
	WithChorus(1.5, 3, 0.2)(&cfg)
	fx, _ = buildEffectsBus(cfg, 44100)
	if fx.Len() != 3 {
		t.Errorf("full bus length = %d, want 3", fx.Len())
	}
}

func TestMasterVolumeClampsNegative(t *testing.T) {
	p := &Player{volume: 1}
	p.SetMasterVolume(-2)
	if got := p.MasterVolume(); got != 0 {
		t.Errorf("volume = %v, want 0", got)
	}
	p.SetMasterVolume(0.35)
	if got := p.MasterVolume(); got != 0.35 {
		t.Errorf("volume = %v, want 0.35", got)
	}
}

func TestEQBandRoundTrip(t *testing.T) {
	p := &Player{masterEQ: effects.NewEQ5Band(44100)}
	p.SetEQBand(2, 1.5)
	if got := p.EQBand(2); got != 1.5 {
		t.Errorf("band 2 gain = %v, want 1.5", got)
	}
	if got := p.EQBand(0); got != 1.0 {
		t.Errorf("band 0 gain = %v, want unity default", got)
	}
}

// startFakeSession wires a running conductor session into p the way Play
// does, minus the audio device, so wind-down behavior is observable.
func startFakeSession(t *testing.T, p *Player, tl timeline.Timeline) *conductor.Conductor {
	t.Helper()
	cond := conductor.New(tl, p.state)
	p.cond = cond
	p.done = make(chan struct{})
	if err := cond.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	go p.watchSession(cond, nil, p.done)
	return cond
}

func TestStopWindsDownSessionCompletely(t *testing.T) {
	// The wind-down contract Play relies on when replacing a session: once
	// the old session's done channel closes, its all-notes-off has landed,
	// its fields are cleared, and nothing further reaches the synth.
	engine := &offlineEngine{}
	p := &Player{state: synth.NewWithEngine(engine, 44100)}
	startFakeSession(t, p, timeline.Timeline{
		{Timestamp: 3600 * 1e6, Message: timeline.NoteOn(0, 60, 100)},
	})

	p.Stop()
	p.Wait()

	if engine.allOff != 1 {
		t.Errorf("all-notes-off delivered %d times before Wait returned, want 1", engine.allOff)
	}
	if len(engine.noteOnAt) != 0 {
		t.Error("stopped session still dispatched events")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cond != nil || p.done != nil {
		t.Error("session fields not cleared after wind-down")
	}
}

func TestWatchDropsEventsWhenFull(t *testing.T) {
	p := &Player{}
	ch := p.Watch()
	for i := 0; i < 20; i++ {
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackFinished})
	}
	if len(ch) != cap(ch) {
		t.Errorf("channel holds %d events, want full buffer %d", len(ch), cap(ch))
	}
	ev := <-ch
	if ev.Kind != EventPlaybackFinished {
		t.Errorf("event kind = %d, want finished", ev.Kind)
	}
}

func TestSendEventWithoutWatcherDoesNotBlock(t *testing.T) {
	p := &Player{}
	done := make(chan struct{})
	go func() {
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackStopped})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendEvent blocked with no watcher")
	}
}

func TestPlaybackPositionZeroWhenIdle(t *testing.T) {
	p := &Player{}
	if got := p.PlaybackPosition(); got != 0 {
		t.Errorf("position = %v, want 0", got)
	}
}
