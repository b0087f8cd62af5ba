package main

import (
	"fmt"
	"log"
	"time"

	"motor-server/motor"
)

type LogLevel int

const (
	LogLevelNone  LogLevel = 0
	LogLevelError LogLevel = 1
	LogLevelWarn  LogLevel = 2
	LogLevelInfo  LogLevel = 3
	LogLevelDebug LogLevel = 4
)

// Backend selects the hardware the drive lines and sensors live on
type Backend int

const (
	BackendGPIO Backend = iota
	BackendCAN
	BackendSim
)

func (b Backend) String() string {
	switch b {
	case BackendCAN:
		return "can"
	case BackendSim:
		return "sim"
	default:
		return "gpio"
	}
}

func ParseBackend(s string) (Backend, error) {
	switch s {
	case "gpio":
		return BackendGPIO, nil
	case "can":
		return BackendCAN, nil
	case "sim":
		return BackendSim, nil
	default:
		return BackendGPIO, fmt.Errorf("invalid backend: %s (must be 'gpio', 'can' or 'sim')", s)
	}
}

type Options struct {
	LogLevel LogLevel
	Logger   *log.Logger

	CommandAddr   string
	TelemetryAddr string

	// Empty RedisServerAddr disables the Redis mirror
	RedisServerAddr string
	RedisServerPort uint16

	Backend   Backend
	CANDevice string
	CANNode   uint8

	PinCW     motor.Pin
	PinCCW    motor.Pin
	PinMagnet motor.Pin

	QuickChange  bool
	YieldPWM     bool
	Acceleration int
	StopTimeout  time.Duration

	PublishInterval time.Duration

	PowerSensor       bool
	I2CDevice         string
	I2CAddress        int
	PowerInterval     time.Duration
	INA219Calibration uint16
	INA219CurrentLSB  float64
}
