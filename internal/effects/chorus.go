package effects

import "math"

// Chorus thickens the output with a sine-modulated fractional delay line per
// channel, the classic ensemble treatment a GM module applies after the
// voices are mixed.
type Chorus struct {
	bufL, bufR []float32
	pos        int
	size       int
	depth      float32 // modulation swing in samples
	step       float64 // phase increment per frame, radians
	phase      float64
	wet        float32
}

// NewChorus creates a chorus.
// speedHz is the modulation rate (0.1-5 Hz is typical), depthMs the
// modulation swing, wet the wet/dry mix 0..1.
func NewChorus(sampleRate int, speedHz, depthMs, wet float32) *Chorus {
	const baseDelayMs = 20.0
	baseSamples := int(baseDelayMs * float64(sampleRate) / 1000.0)
	depthSamples := float64(depthMs) * float64(sampleRate) / 1000.0
	size := baseSamples + int(depthSamples) + 2
	if size < 4 {
		size = 4
	}
	return &Chorus{
		bufL:  make([]float32, size),
		bufR:  make([]float32, size),
		size:  size,
		depth: float32(depthSamples),
		step:  2 * math.Pi * float64(speedHz) / float64(sampleRate),
		wet:   clamp(wet, 0, 1),
	}
}

func (c *Chorus) Process(inL, inR float32) (float32, float32) {
	c.bufL[c.pos] = inL
	c.bufR[c.pos] = inR

	swing := float32(math.Sin(c.phase)) * c.depth * 0.5
	c.phase += c.step
	if c.phase > 2*math.Pi {
		c.phase -= 2 * math.Pi
	}

	delay := float32(c.size)/2 + swing
	readPos := float32(c.pos) - delay
	for readPos < 0 {
		readPos += float32(c.size)
	}
	idx := int(readPos)
	frac := readPos - float32(idx)
	next := idx + 1
	if next >= c.size {
		next = 0
	}
	wetL := c.bufL[idx]*(1-frac) + c.bufL[next]*frac
	wetR := c.bufR[idx]*(1-frac) + c.bufR[next]*frac

	c.pos++
	if c.pos >= c.size {
		c.pos = 0
	}
	dry := 1 - c.wet
	return inL*dry + wetL*c.wet, inR*dry + wetR*c.wet
}

func (c *Chorus) Reset() {
	clear(c.bufL)
	clear(c.bufR)
	c.pos = 0
	c.phase = 0
}
