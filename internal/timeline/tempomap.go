package timeline

// DefaultUSPerQuarter is 120 BPM, the tempo the MIDI standard assumes when a
// file sets none.
const DefaultUSPerQuarter = 500000

// Breakpoint marks a tempo change taking effect at an absolute tick. It
// applies to all ticks at or after Tick until superseded.
type Breakpoint struct {
	Tick         uint64
	USPerQuarter uint32
	// us is the accumulated timestamp at Tick, so later conversions never
	// re-derive earlier segments.
	us float64
}

// TempoMap accumulates tempo breakpoints while scanning a single track and
// converts absolute ticks to absolute microseconds. Breakpoints are monotonic
// in tick; conversions must also be issued in non-decreasing tick order, which
// holds by construction during a forward scan.
type TempoMap struct {
	ppq  float64
	last Breakpoint
}

// NewTempoMap starts a map at tick 0 with the given seed tempo.
func NewTempoMap(ppq uint16, usPerQuarter uint32) *TempoMap {
	return &TempoMap{
		ppq:  float64(ppq),
		last: Breakpoint{Tick: 0, USPerQuarter: usPerQuarter},
	}
}

// TimestampUS converts an absolute tick to microseconds since the start of the
// track using the breakpoint active at that tick.
func (tm *TempoMap) TimestampUS(tick uint64) uint64 {
	return uint64(tm.us(tick))
}

func (tm *TempoMap) us(tick uint64) float64 {
	ticks := float64(tick - tm.last.Tick)
	return tm.last.us + ticks/tm.ppq*float64(tm.last.USPerQuarter)
}

// SetTempo records a breakpoint at tick. The change is prospective: the
// timestamp accumulated so far under the previous tempo is frozen, and only
// ticks beyond this point use the new rate.
func (tm *TempoMap) SetTempo(tick uint64, usPerQuarter uint32) {
	tm.last = Breakpoint{Tick: tick, USPerQuarter: usPerQuarter, us: tm.us(tick)}
}
