package simclock

import (
	"fmt"
	"sync"
	"time"

	"github.com/ninabarzh/power-and-light-sim/errors"
)

// Mode identifies how the clock advances simulated time.
type Mode int

const (
	// Realtime advances simulated time at wall-clock rate.
	Realtime Mode = iota
	// Accelerated advances simulated time at wall-clock rate times the speed multiplier.
	Accelerated
	// Stepped advances simulated time only through explicit Step calls.
	Stepped
	// Paused freezes simulated time entirely.
	Paused
)

// String returns a string representation of the clock mode
func (m Mode) String() string {
	switch m {
	case Realtime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	case Stepped:
		return "stepped"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Clock is the process-wide simulation time authority.
// All methods are safe for concurrent use.
type Clock struct {
	mu sync.RWMutex

	mode       Mode
	resumeMode Mode    // mode restored by Resume after a Pause
	speed      float64 // multiplier applied in Accelerated mode

	// accumulated simulated seconds as of the anchor point; time elapsed
	// since anchor is folded in on demand by now()
	simSeconds float64
	anchor     time.Time

	wallNow func() time.Time
}

// Option configures a Clock during construction.
type Option func(*Clock)

// WithMode sets the initial clock mode (default Realtime).
func WithMode(mode Mode) Option {
	return func(c *Clock) { c.mode = mode }
}

// WithSpeed sets the initial speed multiplier for Accelerated mode.
func WithSpeed(multiplier float64) Option {
	return func(c *Clock) {
		if multiplier > 0 {
			c.speed = multiplier
		}
	}
}

// WithWallClock overrides the wall-clock source. Used by tests to drive the
// clock deterministically.
func WithWallClock(fn func() time.Time) Option {
	return func(c *Clock) { c.wallNow = fn }
}

// New creates a clock starting at simulated time zero.
func New(opts ...Option) *Clock {
	c := &Clock{
		mode:       Realtime,
		resumeMode: Realtime,
		speed:      1.0,
		wallNow:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mode == Paused {
		c.resumeMode = Realtime
	} else {
		c.resumeMode = c.mode
	}
	c.anchor = c.wallNow()
	return c
}

// rate returns the simulated-seconds-per-wall-second factor for the current
// mode. Callers must hold at least a read lock.
func (c *Clock) rate() float64 {
	switch c.mode {
	case Realtime:
		return 1.0
	case Accelerated:
		return c.speed
	default:
		return 0.0
	}
}

// nowLocked computes current simulated time. Callers must hold at least a
// read lock.
func (c *Clock) nowLocked() float64 {
	r := c.rate()
	if r == 0 {
		return c.simSeconds
	}
	return c.simSeconds + c.wallNow().Sub(c.anchor).Seconds()*r
}

// settleLocked folds wall-clock time elapsed since the anchor into the
// accumulated simulated seconds and re-anchors. Callers must hold the write
// lock. Every mode transition settles first so the transition is atomic for
// concurrent readers.
func (c *Clock) settleLocked() {
	c.simSeconds = c.nowLocked()
	c.anchor = c.wallNow()
}

// Now returns the current simulated time in seconds.
func (c *Clock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowLocked()
}

// Delta returns simulated seconds elapsed since lastTime. It never returns a
// negative value, and returns 0 while the clock is paused so that scan cycles
// observe a frozen world immediately after Pause.
func (c *Clock) Delta(lastTime float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.mode == Paused {
		return 0
	}
	d := c.nowLocked() - lastTime
	if d < 0 {
		return 0
	}
	return d
}

// Mode returns the current clock mode.
func (c *Clock) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// IsPaused reports whether the clock is paused.
func (c *Clock) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode == Paused
}

// Speed returns the current speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// Pause freezes simulated time. Pausing an already paused clock is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == Paused {
		return
	}
	c.settleLocked()
	c.resumeMode = c.mode
	c.mode = Paused
}

// Resume restores the mode active before the last Pause. Resuming a clock
// that is not paused is a no-op.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != Paused {
		return
	}
	c.anchor = c.wallNow()
	c.mode = c.resumeMode
}

// SetSpeed sets the acceleration multiplier. A Realtime clock switches to
// Accelerated; a Stepped or Paused clock keeps its mode and applies the
// multiplier once it runs again. Multipliers must be positive.
func (c *Clock) SetSpeed(multiplier float64) error {
	if multiplier <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("speed multiplier %v must be positive", multiplier),
			"Clock", "SetSpeed", "multiplier validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settleLocked()
	c.speed = multiplier
	switch c.mode {
	case Realtime:
		c.mode = Accelerated
	case Paused:
		if c.resumeMode == Realtime {
			c.resumeMode = Accelerated
		}
	}
	return nil
}

// Step advances simulated time by deltaSeconds. Valid only in Stepped mode.
func (c *Clock) Step(deltaSeconds float64) error {
	if deltaSeconds < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: step of %v seconds", errors.ErrTimeReversed, deltaSeconds),
			"Clock", "Step", "delta validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != Stepped {
		return errors.WrapInvalid(
			fmt.Errorf("%w: clock is %s", errors.ErrInvalidMode, c.mode),
			"Clock", "Step", "mode check")
	}
	c.simSeconds += deltaSeconds
	return nil
}

// Reset returns simulated time to zero. Mode and speed are retained. This is
// the one sanctioned break in the monotonicity guarantee.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.simSeconds = 0
	c.anchor = c.wallNow()
}

// Status reports the clock state for monitoring.
type Status struct {
	SimSeconds float64 `json:"sim_seconds"`
	Mode       string  `json:"mode"`
	Speed      float64 `json:"speed"`
	Paused     bool    `json:"paused"`
}

// Status returns a snapshot of the clock for monitoring surfaces.
func (c *Clock) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		SimSeconds: c.nowLocked(),
		Mode:       c.mode.String(),
		Speed:      c.speed,
		Paused:     c.mode == Paused,
	}
}
