package effects

import (
	"math"
	"sync/atomic"
)

// EQ5Band is a 5-band equalizer with runtime-adjustable gains. Gains are
// stored as uint32 (bit-cast float32) so the control surface can change them
// from any goroutine while the audio goroutine reads them lock-free.
// Bands split at 200Hz, 800Hz, 2.5kHz, and 8kHz.
type EQ5Band struct {
	gains  [5]atomic.Uint32 // float32 bit patterns; 1.0 = unity
	alphas [4]float32       // crossover one-pole coefficients
	lowL   [4]float32       // lowpass state per crossover, left
	lowR   [4]float32       // lowpass state per crossover, right
}

var crossoverHz = [4]float64{200, 800, 2500, 8000}

// NewEQ5Band creates an EQ with every band at unity.
func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1.0 / float64(sampleRate)
	for i, freq := range crossoverHz {
		rc := 1.0 / (2.0 * math.Pi * freq)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1.0))
	}
	return eq
}

// SetGain sets the gain for band 0-4. 1.0 = unity, 0 = silence, 2.0 = +6dB.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band >= 0 && band < len(eq.gains) {
		eq.gains[band].Store(math.Float32bits(gain))
	}
}

// Gain returns the current gain for band 0-4.
func (eq *EQ5Band) Gain(band int) float32 {
	if band >= 0 && band < len(eq.gains) {
		return math.Float32frombits(eq.gains[band].Load())
	}
	return 1.0
}

func (eq *EQ5Band) Process(l, r float32) (float32, float32) {
	// Four cascaded crossovers split the signal into five bands; the
	// residue above the last crossover is band 4.
	var bandL, bandR [5]float32
	remL, remR := l, r
	for i := 0; i < 4; i++ {
		eq.lowL[i] += eq.alphas[i] * (remL - eq.lowL[i])
		eq.lowR[i] += eq.alphas[i] * (remR - eq.lowR[i])
		bandL[i] = eq.lowL[i]
		bandR[i] = eq.lowR[i]
		remL -= bandL[i]
		remR -= bandR[i]
	}
	bandL[4] = remL
	bandR[4] = remR

	var outL, outR float32
	for i := 0; i < 5; i++ {
		g := math.Float32frombits(eq.gains[i].Load())
		outL += bandL[i] * g
		outR += bandR[i] * g
	}
	return outL, outR
}

func (eq *EQ5Band) Reset() {
	for i := range eq.lowL {
		eq.lowL[i] = 0
		eq.lowR[i] = 0
	}
}
