package exchange

import "time"

// Clock is the simulation clock: a tick index over a fixed time origin and
// frequency. It only moves forward, one tick at a time.
type Clock struct {
	start  time.Time
	freq   time.Duration
	index  uint64
	length uint64
}

func NewClock(start time.Time, freq time.Duration, length int) *Clock {
	if length < 0 {
		length = 0
	}
	return &Clock{start: start, freq: freq, length: uint64(length)}
}

// Index is the next tick to apply, which is also the number of ticks applied so far.
func (c *Clock) Index() uint64 { return c.index }

// HasNext reports whether the source still has a batch for Index.
func (c *Clock) HasNext() bool { return c.index < c.length }

// At returns the wall time of tick i.
func (c *Clock) At(i uint64) time.Time {
	return c.start.Add(time.Duration(i) * c.freq)
}

// Now is the time of the most recently applied tick, or start before the first.
func (c *Clock) Now() time.Time {
	if c.index == 0 {
		return c.start
	}
	return c.At(c.index - 1)
}

func (c *Clock) Start() time.Time         { return c.start }
func (c *Clock) Frequency() time.Duration { return c.freq }
func (c *Clock) Len() uint64              { return c.length }

// advance moves to the next tick. It is a no-op once the source is exhausted.
func (c *Clock) advance() bool {
	if !c.HasNext() {
		return false
	}
	c.index++
	return true
}

// ClockState is a snapshot of the clock for callers outside the exchange.
type ClockState struct {
	Tick      uint64    `json:"tick"`
	Length    uint64    `json:"length"`
	HasNext   bool      `json:"hasNext"`
	Start     time.Time `json:"start"`
	Frequency string    `json:"frequency"`
	Now       time.Time `json:"now"`
}

func (c *Clock) State() ClockState {
	return ClockState{
		Tick:      c.index,
		Length:    c.length,
		HasNext:   c.HasNext(),
		Start:     c.start,
		Frequency: c.freq.String(),
		Now:       c.Now(),
	}
}
