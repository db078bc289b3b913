package conductor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ivanfourie/midi-play/internal/timeline"
)

// fakeClock advances virtual time only when the conductor sleeps, so a whole
// song plays out in microseconds of real time, deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(0, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSynth stamps each applied message with the virtual clock.
type recordingSynth struct {
	mu      sync.Mutex
	clock   *fakeClock
	origin  time.Time
	applied []appliedMessage
	failOn  timeline.Kind
	failSet bool
}

type appliedMessage struct {
	msg  timeline.Message
	atUS uint64
}

func (s *recordingSynth) Apply(m timeline.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, appliedMessage{
		msg:  m,
		atUS: uint64(s.clock.now().Sub(s.origin) / time.Microsecond),
	})
	if s.failSet && m.Kind == s.failOn {
		return fmt.Errorf("synth rejected %v", m)
	}
	return nil
}

func (s *recordingSynth) snapshot() []appliedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appliedMessage{}, s.applied...)
}

func waitDone(t *testing.T, c *Conductor) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("conductor did not finish")
	}
}

func evenlySpacedNotes(n int, spacingUS uint64) timeline.Timeline {
	tl := make(timeline.Timeline, 0, n)
	for i := 0; i < n; i++ {
		tl = append(tl, timeline.Event{
			Timestamp: uint64(i+1) * spacingUS,
			Message:   timeline.NoteOn(0, uint8(i%128), 100),
		})
	}
	return tl
}

func TestDispatchesAllEventsOnceWithinQuantum(t *testing.T) {
	const n = 200
	clock := newFakeClock()
	synth := &recordingSynth{clock: clock, origin: clock.now()}
	tl := evenlySpacedNotes(n, 1500) // 1.5ms apart

	c := New(tl, synth, WithClock(clock.now, clock.sleep), WithTail(0))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, c)

	if got := c.State(); got != Finished {
		t.Fatalf("state = %v, want finished", got)
	}
	applied := synth.snapshot()
	if len(applied) != n {
		t.Fatalf("dispatched %d events, want %d", len(applied), n)
	}
	const quantumUS = 2000
	for i, a := range applied {
		target := tl[i].Timestamp
		if a.atUS < target {
			t.Fatalf("event %d dispatched early: %d < %d", i, a.atUS, target)
		}
		if a.atUS-target > quantumUS {
			t.Fatalf("event %d late by %dus (> one quantum)", i, a.atUS-target)
		}
	}
}

func TestDispatchOrderMatchesTimeline(t *testing.T) {
	clock := newFakeClock()
	synth := &recordingSynth{clock: clock, origin: clock.now()}
	tl := timeline.Timeline{
		{Timestamp: 1000, Message: timeline.ProgramChange(0, 25)},
		{Timestamp: 1000, Message: timeline.NoteOn(0, 60, 100)},
		{Timestamp: 2000, Message: timeline.NoteOff(0, 60, 0)},
	}
	c := New(tl, synth, WithClock(clock.now, clock.sleep), WithTail(0))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, c)

	applied := synth.snapshot()
	if len(applied) != len(tl) {
		t.Fatalf("dispatched %d, want %d", len(applied), len(tl))
	}
	for i := range tl {
		if applied[i].msg != tl[i].Message {
			t.Fatalf("position %d dispatched %v, want %v", i, applied[i].msg, tl[i].Message)
		}
	}
}

func TestStopAbandonsRemainingEvents(t *testing.T) {
	clock := newFakeClock()
	synth := &recordingSynth{clock: clock, origin: clock.now()}
	// All events an hour of virtual time away; stop should win the race
	// because virtual time only advances while the loop sleeps.
	tl := timeline.Timeline{
		{Timestamp: 3600 * 1e6, Message: timeline.NoteOn(0, 60, 100)},
	}

	blocked := make(chan struct{})
	sleep := func(d time.Duration) {
		select {
		case <-blocked:
		default:
			close(blocked)
		}
		clock.sleep(d)
	}
	c := New(tl, synth, WithClock(clock.now, sleep))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	<-blocked // loop is running
	c.Stop()
	waitDone(t, c)

	if got := c.State(); got != Stopped {
		t.Fatalf("state = %v, want stopped", got)
	}
	if len(synth.snapshot()) != 0 {
		t.Fatal("stopped conductor still dispatched events")
	}
}

func TestDoneSignalsOnlyAfterDispatchCeases(t *testing.T) {
	// Stop() only signals the loop; the loop keeps running until it next
	// polls. Done() is the hand-off point: once it fires, the scheduler
	// goroutine has exited, so no further command can reach the synth. A
	// caller replacing one session with another relies on exactly this.
	for run := 0; run < 50; run++ {
		clock := newFakeClock()
		synth := &recordingSynth{clock: clock, origin: clock.now()}
		tl := evenlySpacedNotes(100, 500)

		c := New(tl, synth, WithClock(clock.now, clock.sleep))
		if err := c.Play(); err != nil {
			t.Fatalf("play: %v", err)
		}
		c.Stop()
		waitDone(t, c)

		before := len(synth.snapshot())
		time.Sleep(2 * time.Millisecond)
		if after := len(synth.snapshot()); after != before {
			t.Fatalf("run %d: %d events dispatched after Done fired", run, after-before)
		}
	}
}

func TestStopBeforePlayResolvesImmediately(t *testing.T) {
	c := New(nil, &recordingSynth{clock: newFakeClock()})
	c.Stop()
	waitDone(t, c)
	if got := c.State(); got != Stopped {
		t.Fatalf("state = %v, want stopped", got)
	}
	if err := c.Play(); err == nil {
		t.Fatal("Play after Stop should fail")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(nil, &recordingSynth{clock: newFakeClock()})
	c.Stop()
	c.Stop()
	waitDone(t, c)
}

func TestCommandFailureDoesNotHaltPlayback(t *testing.T) {
	clock := newFakeClock()
	synth := &recordingSynth{clock: clock, origin: clock.now(), failOn: timeline.KindProgramChange, failSet: true}
	tl := timeline.Timeline{
		{Timestamp: 1000, Message: timeline.NoteOn(0, 60, 100)},
		{Timestamp: 2000, Message: timeline.ProgramChange(0, 99)},
		{Timestamp: 3000, Message: timeline.NoteOff(0, 60, 0)},
	}

	var logMu sync.Mutex
	var logged []string
	logf := func(format string, args ...any) {
		logMu.Lock()
		logged = append(logged, fmt.Sprintf(format, args...))
		logMu.Unlock()
	}

	c := New(tl, synth, WithClock(clock.now, clock.sleep), WithTail(0), WithLogf(logf))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, c)

	if got := c.State(); got != Finished {
		t.Fatalf("state = %v, want finished", got)
	}
	if len(synth.snapshot()) != 3 {
		t.Fatalf("dispatched %d events, want all 3", len(synth.snapshot()))
	}
	logMu.Lock()
	defer logMu.Unlock()
	if len(logged) != 1 {
		t.Fatalf("logged %d failures, want 1: %v", len(logged), logged)
	}
}

func TestFinishedWaitsForTail(t *testing.T) {
	clock := newFakeClock()
	synth := &recordingSynth{clock: clock, origin: clock.now()}
	tl := timeline.Timeline{{Timestamp: 1000, Message: timeline.NoteOn(0, 60, 100)}}

	c := New(tl, synth, WithClock(clock.now, clock.sleep), WithTail(2*time.Second))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, c)

	if got := c.State(); got != Finished {
		t.Fatalf("state = %v, want finished", got)
	}
	elapsed := clock.now().Sub(time.Unix(0, 0))
	if elapsed < 2*time.Second {
		t.Fatalf("finished after %v of virtual time, want >= 2s tail", elapsed)
	}
}

func TestPauseHoldsEventsAndResumePreservesSchedule(t *testing.T) {
	// Real clock, generous margins: the event is due at 50ms, but the
	// conductor is paused across that deadline.
	synth := &recordingSynth{clock: newFakeClock()}
	synth.origin = synth.clock.now()
	tl := timeline.Timeline{{Timestamp: 50 * 1000, Message: timeline.NoteOn(0, 60, 100)}}

	c := New(tl, synth, WithTail(0))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	c.Pause()
	time.Sleep(120 * time.Millisecond)
	if n := len(synth.snapshot()); n != 0 {
		t.Fatalf("%d events dispatched while paused", n)
	}
	if got := c.State(); got != Paused {
		t.Fatalf("state = %v, want paused", got)
	}
	c.Resume()
	waitDone(t, c)
	if n := len(synth.snapshot()); n != 1 {
		t.Fatalf("dispatched %d events after resume, want 1", n)
	}
	if got := c.State(); got != Finished {
		t.Fatalf("state = %v, want finished", got)
	}
}

func TestEmptyTimelineFinishes(t *testing.T) {
	clock := newFakeClock()
	c := New(nil, &recordingSynth{clock: clock, origin: clock.now()},
		WithClock(clock.now, clock.sleep), WithTail(0))
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, c)
	if got := c.State(); got != Finished {
		t.Fatalf("state = %v, want finished", got)
	}
}

func TestStateStringIsHuman(t *testing.T) {
	states := map[State]string{
		NotStarted: "not started",
		Playing:    "playing",
		Paused:     "paused",
		Finished:   "finished",
		Stopped:    "stopped",
	}
	for s, want := range states {
		if s.String() != want {
			t.Fatalf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
