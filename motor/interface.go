package motor

import (
	"time"
)

// Direction is the rotation sense selected by which drive line is pulsed
type Direction int

const (
	DirectionCW Direction = iota
	DirectionCCW
)

func (d Direction) String() string {
	switch d {
	case DirectionCCW:
		return "ccw"
	default:
		return "cw"
	}
}

// Pin identifies a GPIO line by its BCM number
type Pin uint

// Level is the logic level written to a drive line
type Level int

const (
	Low Level = iota
	High
)

// DriveLines is the output side of the motor driver. The controller is the
// only writer.
type DriveLines interface {
	SetDriveLine(pin Pin, level Level) error
}

// Clock is a monotonic time source used for ramp ticks and PWM spins
type Clock interface {
	Now() time.Time
}

type monotonicClock struct{}

func (monotonicClock) Now() time.Time { return time.Now() }

// SystemClock returns the process monotonic clock
func SystemClock() Clock { return monotonicClock{} }

// MotorState is a snapshot of the controller's drive state
type MotorState struct {
	Direction    Direction
	LastPower    int
	Acceleration int
	InMotion     bool
}

// Config contains configuration for the controller
type Config struct {
	Logger Logger
	Lines  DriveLines
	Clock  Clock

	PinCW  Pin
	PinCCW Pin

	// MaxVolts is the logical supply voltage that maps to full power
	MaxVolts float64
	// StepsPerVolt sets the ramp resolution; maxSteps = MaxVolts * StepsPerVolt
	StepsPerVolt int
	// PWMFrequency is the hold frequency in Hz
	PWMFrequency int
	// TickUnit is multiplied by (11 - acceleration) to get the ramp tick
	TickUnit time.Duration
	// Acceleration is the initial ramp level, 1..10
	Acceleration int
	// StopTimeout bounds the stop ramp run before reversals
	StopTimeout time.Duration
	// QuickChange skips the stop-to-zero on direction reversal
	QuickChange bool
	// YieldPWM sleeps instead of spinning during PWM on/off phases
	YieldPWM bool

	// OnStep, if set, is called after every one-step power change
	OnStep func(dir Direction, power int)
}

// DefaultConfig returns the rig defaults: 12V in 0.1V steps, 1kHz PWM, 2ms tick unit
func DefaultConfig() Config {
	return Config{
		PinCW:        17,
		PinCCW:       18,
		MaxVolts:     12,
		StepsPerVolt: 10,
		PWMFrequency: 1000,
		TickUnit:     2 * time.Millisecond,
		Acceleration: 10,
		StopTimeout:  2 * time.Second,
	}
}
