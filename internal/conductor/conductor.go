// Package conductor replays a built timeline against wall-clock time,
// dispatching each event to the shared synthesizer state at its scheduled
// instant. It runs on an ordinary goroutine and is free to sleep; the hard
// real-time work happens on the audio side.
package conductor

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ivanfourie/midi-play/internal/timeline"
)

// Synth receives dispatched messages. A returned error marks one rejected
// command; the conductor logs it and keeps going.
type Synth interface {
	Apply(m timeline.Message) error
}

// State is the playback lifecycle. Transitions: NotStarted -> Playing,
// Playing <-> Paused, Playing -> Finished (cursor past the last event and the
// tail elapsed), Playing|Paused -> Stopped (external cancellation).
type State int32

const (
	NotStarted State = iota
	Playing
	Paused
	Finished
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// defaultQuantum bounds how long a due event can wait for the next
	// wakeup. Sleeping longer risks audibly late events; shorter burns CPU.
	defaultQuantum = 2 * time.Millisecond
	// defaultTail is the silence window after the last event, long enough
	// for release envelopes and reverb to ring out.
	defaultTail = 2 * time.Second
)

type Option func(*Conductor)

// WithQuantum sets the scheduling quantum. Values above 2ms are clamped so
// dispatch accuracy stays within millisecond scale.
func WithQuantum(d time.Duration) Option {
	return func(c *Conductor) {
		if d > 0 && d <= defaultQuantum {
			c.quantum = d
		}
	}
}

// WithTail sets the trailing silence window before Finished.
func WithTail(d time.Duration) Option {
	return func(c *Conductor) {
		if d >= 0 {
			c.tail = d
		}
	}
}

// WithClock replaces the time source and sleeper. Tests drive playback with a
// simulated clock; production uses time.Now and time.Sleep.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Conductor) {
		c.now = now
		c.sleep = sleep
	}
}

// WithLogf replaces the logger used for recovered command failures.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Conductor) {
		c.logf = logf
	}
}

// Conductor owns the timeline after construction; the event slice is never
// mutated, only the cursor advances.
type Conductor struct {
	events  timeline.Timeline
	synth   Synth
	quantum time.Duration
	tail    time.Duration
	now     func() time.Time
	sleep   func(time.Duration)
	logf    func(format string, args ...any)

	mu      sync.Mutex
	state   State
	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

func New(events timeline.Timeline, synth Synth, opts ...Option) *Conductor {
	c := &Conductor{
		events:  events,
		synth:   synth,
		quantum: defaultQuantum,
		tail:    defaultTail,
		now:     time.Now,
		sleep:   time.Sleep,
		logf:    log.Printf,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Play starts the scheduler goroutine. It may be called once.
func (c *Conductor) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NotStarted {
		return errors.New("conductor: already started")
	}
	c.state = Playing
	go c.run()
	return nil
}

// Stop cancels playback. Remaining events are not dispatched; callers wanting
// a clean silence should follow up with an all-notes-off on the synth.
// Safe to call multiple times and after Finished.
func (c *Conductor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
	if c.state == NotStarted {
		// Never ran; resolve the lifecycle here.
		c.state = Stopped
		close(c.done)
	}
}

// Pause freezes dispatch. The clock origin shifts by the paused duration on
// Resume, so no events are skipped or bunched.
func (c *Conductor) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Playing {
		c.state = Paused
	}
}

// Resume continues a paused playback.
func (c *Conductor) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Paused {
		c.state = Playing
	}
}

func (c *Conductor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once playback reaches Finished or Stopped.
func (c *Conductor) Done() <-chan struct{} {
	return c.done
}

func (c *Conductor) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conductor) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// run is the scheduler loop: capture the clock origin, then repeatedly
// dispatch every due event and sleep until the next deadline, bounded by the
// quantum so stop and pause are polled at dispatch cadence.
func (c *Conductor) run() {
	defer close(c.done)

	origin := c.now()
	cursor := 0
	for {
		if c.stopRequested() {
			c.setState(Stopped)
			return
		}
		if c.State() == Paused {
			pausedAt := c.now()
			for c.State() == Paused && !c.stopRequested() {
				c.sleep(c.quantum)
			}
			if c.stopRequested() {
				c.setState(Stopped)
				return
			}
			origin = origin.Add(c.now().Sub(pausedAt))
			continue
		}

		nowUS := uint64(c.now().Sub(origin) / time.Microsecond)
		for cursor < len(c.events) && c.events[cursor].Timestamp <= nowUS {
			if err := c.synth.Apply(c.events[cursor].Message); err != nil {
				c.logf("conductor: event %d: %v", cursor, err)
			}
			cursor++
		}
		if cursor == len(c.events) {
			if c.waitTail() {
				c.setState(Stopped)
				return
			}
			c.setState(Finished)
			return
		}

		// Sleep until the next event or the quantum, whichever is sooner.
		next := time.Duration(c.events[cursor].Timestamp-nowUS) * time.Microsecond
		if next > c.quantum {
			next = c.quantum
		}
		c.sleep(next)
	}
}

// waitTail sleeps through the trailing silence window, still honoring stop.
// Reports whether a stop arrived.
func (c *Conductor) waitTail() bool {
	deadline := c.now().Add(c.tail)
	for c.now().Before(deadline) {
		if c.stopRequested() {
			return true
		}
		c.sleep(c.quantum)
	}
	return c.stopRequested()
}
