package motor

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MinAcceleration = 1
	MaxAcceleration = 10
)

var ErrNoDriveLines = errors.New("motor: no drive lines configured")

// Controller owns the drive state of a two-line brushed DC motor driver.
// Power changes by one step per ramp tick and each tick is held with a
// software PWM split. All drive-line writes happen on the calling goroutine;
// callers must serialize Turn/Stop/SetAcceleration.
type Controller struct {
	cfg    Config
	logger Logger
	lines  DriveLines
	clock  Clock

	maxSteps int

	// mu guards the fields below for State() snapshots. It is never held
	// across a PWM spin.
	mu           sync.Mutex
	direction    Direction
	lastPower    int
	acceleration int

	inMotion atomic.Bool
}

// NewController creates a controller and drives both lines low
func NewController(cfg Config) (*Controller, error) {
	if cfg.Lines == nil {
		return nil, ErrNoDriveLines
	}

	def := DefaultConfig()
	if cfg.MaxVolts <= 0 {
		cfg.MaxVolts = def.MaxVolts
	}
	if cfg.StepsPerVolt <= 0 {
		cfg.StepsPerVolt = def.StepsPerVolt
	}
	if cfg.PWMFrequency <= 0 {
		cfg.PWMFrequency = def.PWMFrequency
	}
	if cfg.TickUnit <= 0 {
		cfg.TickUnit = def.TickUnit
	}
	if cfg.Acceleration == 0 {
		cfg.Acceleration = def.Acceleration
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}

	c := &Controller{
		cfg:          cfg,
		logger:       cfg.Logger,
		lines:        cfg.Lines,
		clock:        cfg.Clock,
		maxSteps:     int(math.Round(cfg.MaxVolts * float64(cfg.StepsPerVolt))),
		direction:    DirectionCW,
		acceleration: clampAcceleration(cfg.Acceleration),
	}

	if err := c.allLow(); err != nil {
		return nil, fmt.Errorf("failed to reset drive lines: %w", err)
	}

	c.logger.Info("Motor controller ready: maxSteps=%d, pwm=%dHz, acceleration=%d, quickChange=%v",
		c.maxSteps, cfg.PWMFrequency, c.acceleration, cfg.QuickChange)

	return c, nil
}

// MaxSteps returns the step count that corresponds to MaxVolts
func (c *Controller) MaxSteps() int {
	return c.maxSteps
}

// SetAcceleration sets the ramp level; out of range values clamp to 1..10
func (c *Controller) SetAcceleration(level int) {
	level = clampAcceleration(level)

	c.mu.Lock()
	c.acceleration = level
	c.mu.Unlock()

	c.logger.Info("Acceleration set to %d (tick %v)", level, c.tickDuration())
}

// TurnCW ramps clockwise toward volts for durationMs
func (c *Controller) TurnCW(volts, durationMs float64) error {
	return c.Turn(DirectionCW, volts, durationMs, c.cfg.QuickChange)
}

// TurnCCW ramps counter clockwise toward volts for durationMs
func (c *Controller) TurnCCW(volts, durationMs float64) error {
	return c.Turn(DirectionCCW, volts, durationMs, c.cfg.QuickChange)
}

// Turn drives the motor in dir, ramping one step per tick toward the step
// target of volts until durationMs has elapsed. A reversal first stops to
// zero unless quickChange is set. The drive line is left low on return but
// the last power is kept so that a following command continues the ramp.
func (c *Controller) Turn(dir Direction, volts, durationMs float64, quickChange bool) error {
	start := c.clock.Now()
	duration := turnDuration(durationMs)
	target := c.TargetSteps(volts)

	c.mu.Lock()
	current := c.direction
	c.mu.Unlock()

	if dir != current {
		if quickChange {
			if err := c.lines.SetDriveLine(c.pinFor(current), Low); err != nil {
				return fmt.Errorf("failed to drop %s line: %w", current, err)
			}
		} else if err := c.Stop(c.cfg.StopTimeout); err != nil {
			return err
		}

		c.mu.Lock()
		c.direction = dir
		c.mu.Unlock()
	}

	c.logger.Debug("Turn %s: target=%d steps, duration=%v, quickChange=%v", dir, target, duration, quickChange)

	for c.since(start) < duration {
		power := c.step(target)
		if err := c.hold(dir, power); err != nil {
			c.forceLow(dir)
			return fmt.Errorf("failed to hold %s power %d: %w", dir, power, err)
		}
	}

	if err := c.lines.SetDriveLine(c.pinFor(dir), Low); err != nil {
		return fmt.Errorf("failed to release %s line: %w", dir, err)
	}

	if c.power() == 0 {
		c.inMotion.Store(false)
	}

	return nil
}

// turnDuration converts a millisecond count, saturating instead of wrapping.
// NaN and negative counts give zero.
func turnDuration(durationMs float64) time.Duration {
	ns := durationMs * float64(time.Millisecond)
	switch {
	case math.IsNaN(ns) || ns <= 0:
		return 0
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// Stop ramps the power down one step per tick until it reaches zero or
// maxDuration elapses. When the bound is hit first the output is forced low
// and the remaining steps are abandoned.
func (c *Controller) Stop(maxDuration time.Duration) error {
	c.mu.Lock()
	dir := c.direction
	power := c.lastPower
	c.mu.Unlock()

	if power == 0 {
		c.inMotion.Store(false)
		return nil
	}

	start := c.clock.Now()
	var holdErr error

	for c.power() > 0 && c.since(start) < maxDuration {
		p := c.step(0)
		if holdErr = c.hold(dir, p); holdErr != nil {
			break
		}
	}

	if remaining := c.power(); remaining > 0 {
		if holdErr == nil {
			c.logger.Warn("Stop bound %v reached at power %d, forcing output low", maxDuration, remaining)
		}
		c.mu.Lock()
		c.lastPower = 0
		c.mu.Unlock()
	}

	err := c.lines.SetDriveLine(c.pinFor(dir), Low)
	c.inMotion.Store(false)

	if holdErr != nil {
		return fmt.Errorf("failed to ramp down %s: %w", dir, holdErr)
	}
	if err != nil {
		return fmt.Errorf("failed to release %s line: %w", dir, err)
	}

	return nil
}

// InMotion reports whether nonzero drive activity is in progress or the
// motor has not been stopped since its last ramp
func (c *Controller) InMotion() bool {
	return c.inMotion.Load()
}

// State returns a snapshot of the drive state
func (c *Controller) State() MotorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return MotorState{
		Direction:    c.direction,
		LastPower:    c.lastPower,
		Acceleration: c.acceleration,
		InMotion:     c.inMotion.Load(),
	}
}

// TargetSteps converts a logical voltage into a clamped step target
func (c *Controller) TargetSteps(volts float64) int {
	if volts < 0 || math.IsNaN(volts) {
		volts = 0
	}
	if volts > c.cfg.MaxVolts {
		volts = c.cfg.MaxVolts
	}

	target := int(math.Round(volts * float64(c.cfg.StepsPerVolt)))
	if target > c.maxSteps {
		target = c.maxSteps
	}
	return target
}

// Close drives both lines low
func (c *Controller) Close() error {
	c.inMotion.Store(false)
	return c.allLow()
}

// step moves lastPower one step toward target and returns the new power
func (c *Controller) step(target int) int {
	c.mu.Lock()
	before := c.lastPower
	switch {
	case c.lastPower > target:
		c.lastPower--
	case c.lastPower < target:
		c.lastPower++
	}
	power := c.lastPower
	dir := c.direction
	c.mu.Unlock()

	if power != before && c.cfg.OnStep != nil {
		c.cfg.OnStep(dir, power)
	}

	return power
}

func (c *Controller) power() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPower
}

func (c *Controller) since(t time.Time) time.Duration {
	return c.clock.Now().Sub(t)
}

func (c *Controller) pinFor(dir Direction) Pin {
	if dir == DirectionCCW {
		return c.cfg.PinCCW
	}
	return c.cfg.PinCW
}

func (c *Controller) forceLow(dir Direction) {
	if err := c.lines.SetDriveLine(c.pinFor(dir), Low); err != nil {
		c.logger.Error("Failed to force %s line low: %v", dir, err)
	}
}

func (c *Controller) allLow() error {
	if err := c.lines.SetDriveLine(c.cfg.PinCW, Low); err != nil {
		return err
	}
	return c.lines.SetDriveLine(c.cfg.PinCCW, Low)
}

func clampAcceleration(level int) int {
	if level < MinAcceleration {
		return MinAcceleration
	}
	if level > MaxAcceleration {
		return MaxAcceleration
	}
	return level
}
