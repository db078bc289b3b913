// Package audio is the bridge between the device output and the synthesizer
// state. The ebiten audio player pulls bytes from a StreamReader on its own
// real-time goroutine; each Read renders the next block of frames, applies
// any post-processing, and interleaves the planar float32 channels into
// little-endian bytes. Reads must never block unboundedly: the source is
// expected to fall back to silence when the synth lock is contended.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Source produces the next len(left) frames of planar stereo audio. The
// return value reports whether real samples were rendered; false means the
// buffers hold silence (an underrun fallback), which the stream still plays.
type Source interface {
	RenderFrames(left, right []float32) bool
}

// FinishingSource additionally signals the end of playback, turning the next
// Read into io.EOF so the device player drains and stops on its own.
type FinishingSource interface {
	Source
	Finished() bool
}

// StreamReader adapts a Source to the io.Reader the device player consumes.
// Frames are stereo float32 little-endian, 8 bytes per frame.
type StreamReader struct {
	mu     sync.Mutex
	source Source
	post   func(left, right []float32)
	left   []float32
	right  []float32
}

// NewStreamReader wraps source. post, when non-nil, runs over each rendered
// block after the source call and outside any source-held lock; the master
// effects bus hangs off it.
func NewStreamReader(source Source, post func(left, right []float32)) *StreamReader {
	return &StreamReader{source: source, post: post}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	if cap(r.left) < frames {
		r.left = make([]float32, frames)
		r.right = make([]float32, frames)
	}
	left := r.left[:frames]
	right := r.right[:frames]

	r.source.RenderFrames(left, right)
	if r.post != nil {
		r.post(left, right)
	}
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(left[i]))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(right[i]))
	}
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

func (r *StreamReader) Close() error { return nil }

// Player wraps the device output for one playback session.
type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedAudioContext returns the process-wide device context. The device rate
// is fixed on first use; asking for a different rate later is a configuration
// error, reported at startup rather than discovered mid-stream.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio device already opened at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer opens a device player at sampleRate pulling from source.
func NewPlayer(sampleRate int, source Source, post func(left, right []float32)) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, post)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }

// SetVolume sets the device-side volume scalar, clamped to 0..1 (the device
// player rejects values outside that range).
func (p *Player) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.player.SetVolume(v)
}

// Position returns the playback position the listener actually hears.
func (p *Player) Position() time.Duration { return p.player.Position() }

func (p *Player) Stop() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return err
	}
	return p.reader.Close()
}
