package effects

// Reverb is a Schroeder-style reverb: four parallel damped comb filters into
// two serial allpass filters, mixed wet/dry. It stands in for the built-in
// room reverb a hardware synthesizer module would apply to its output.
type Reverb struct {
	combs   [4]dampedComb
	allpass [2]allpass
	wet     float32
}

// dampedComb is a feedback comb with a one-pole lowpass in the feedback path;
// damping rolls the tail's highs off faster, like absorbent room surfaces.
type dampedComb struct {
	buf     []float32
	pos     int
	fb      float32
	damp    float32
	lpState float32
}

type allpass struct {
	buf []float32
	pos int
	fb  float32
}

// NewReverb creates a reverb.
// roomSize 0..1 scales the delay lengths, damping 0..1 controls high
// frequency decay, wet 0..1 is the wet/dry mix.
func NewReverb(sampleRate int, roomSize, damping, wet float32) *Reverb {
	base := int(float32(sampleRate) * clamp(roomSize, 0, 1) * 0.05)
	if base < 16 {
		base = 16
	}
	fb := 0.84 * (0.5 + 0.5*clamp(roomSize, 0, 1))
	r := &Reverb{wet: clamp(wet, 0, 1)}
	// Mutually prime-ish lengths keep the combs from resonating together.
	lengths := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = dampedComb{
			buf:  make([]float32, lengths[i]),
			fb:   fb,
			damp: clamp(damping, 0, 1),
		}
	}
	apLengths := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.allpass {
		n := apLengths[i]
		if n < 1 {
			n = 1
		}
		r.allpass[i] = allpass{buf: make([]float32, n), fb: 0.5}
	}
	return r
}

func (r *Reverb) Process(inL, inR float32) (float32, float32) {
	mono := (inL + inR) * 0.5
	var tail float32
	for i := range r.combs {
		tail += r.combs[i].process(mono)
	}
	tail *= 0.25
	for i := range r.allpass {
		tail = r.allpass[i].process(tail)
	}
	dry := 1 - r.wet
	return inL*dry + tail*r.wet, inR*dry + tail*r.wet
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
		r.combs[i].lpState = 0
	}
	for i := range r.allpass {
		clear(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}

func (c *dampedComb) process(in float32) float32 {
	out := c.buf[c.pos]
	c.lpState = out*(1-c.damp) + c.lpState*c.damp
	c.buf[c.pos] = in + c.lpState*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpass) process(in float32) float32 {
	delayed := a.buf[a.pos]
	out := delayed - in
	a.buf[a.pos] = in + delayed*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}
