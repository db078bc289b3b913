package midiplay

import (
	"encoding/binary"
	"io"
	"log"
	"math"
	"time"

	"github.com/ivanfourie/midi-play/internal/effects"
	"github.com/ivanfourie/midi-play/internal/smfio"
	"github.com/ivanfourie/midi-play/internal/synth"
	"github.com/ivanfourie/midi-play/internal/timeline"
)

// renderBlock is the fixed block size for offline rendering. Small enough
// that event dispatch stays within ~12ms of its timestamp at 44.1kHz.
const renderBlock = 512

// RenderSong renders the whole song faster than real time and returns
// interleaved stereo float32 samples, including the configured tail. The
// same options as NewPlayer apply; quantum is irrelevant offline.
func RenderSong(soundfont io.Reader, song *smfio.Song, sampleRate int, opts ...PlayerOption) ([]float32, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	tl, err := timeline.Build(song.Tracks, song.PPQ)
	if err != nil {
		return nil, err
	}
	state, err := synth.New(soundfont, sampleRate)
	if err != nil {
		return nil, err
	}
	fx, _ := buildEffectsBus(cfg, sampleRate)
	state.Reset()
	return renderTimeline(tl, state, fx, sampleRate, cfg.tail), nil
}

// renderTimeline walks the timeline in sample blocks: all events due before a
// block's end are applied, then the block is rendered and post-processed.
// Dispatch therefore lands within one block of its timestamp, the offline
// counterpart of the conductor's quantum.
func renderTimeline(tl timeline.Timeline, state *synth.State, fx *effects.Chain, sampleRate int, tail time.Duration) []float32 {
	totalUS := uint64(tl.Duration()/time.Microsecond) + uint64(tail/time.Microsecond)
	totalFrames := int(totalUS * uint64(sampleRate) / 1e6)

	out := make([]float32, 0, totalFrames*2)
	left := make([]float32, renderBlock)
	right := make([]float32, renderBlock)
	cursor := 0
	for pos := 0; pos < totalFrames; pos += renderBlock {
		n := renderBlock
		if pos+n > totalFrames {
			n = totalFrames - pos
		}
		// The final block is inclusive: with a zero tail the last event's
		// timestamp coincides with the end of the stream and must still land.
		blockEndUS := uint64(pos+n) * 1e6 / uint64(sampleRate)
		last := pos+n == totalFrames
		for cursor < len(tl) && (last || tl[cursor].Timestamp < blockEndUS) {
			if err := state.Apply(tl[cursor].Message); err != nil {
				log.Printf("offline render: event %d: %v", cursor, err)
			}
			cursor++
		}
		state.Render(left[:n], right[:n])
		if fx != nil {
			fx.ProcessBuffer(left[:n], right[:n])
		}
		for i := 0; i < n; i++ {
			out = append(out, left[i], right[i])
		}
	}
	return out
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV container
// (format 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
