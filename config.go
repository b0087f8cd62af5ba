package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"

	"motor-server/monitor"
	"motor-server/motor"
)

type PinConfig struct {
	CW     uint `yaml:"cw" env:"MOTOR_PIN_CW"`
	CCW    uint `yaml:"ccw" env:"MOTOR_PIN_CCW"`
	Magnet uint `yaml:"magnet" env:"MOTOR_PIN_MAGNET"`
}

type PowerSensorConfig struct {
	Enabled     bool    `yaml:"enabled" env:"MOTOR_POWER_SENSOR"`
	Device      string  `yaml:"device" env:"MOTOR_I2C_DEVICE"`
	Address     int     `yaml:"address" env:"MOTOR_I2C_ADDRESS"`
	Calibration int     `yaml:"calibration" env:"MOTOR_INA219_CALIBRATION"`
	CurrentLSB  float64 `yaml:"current_lsb" env:"MOTOR_INA219_CURRENT_LSB"`
	IntervalMs  int     `yaml:"interval_ms" env:"MOTOR_POWER_INTERVAL_MS"`
}

// Config is the file and environment schema. Precedence is defaults, then
// the YAML file, then MOTOR_* variables, then flags given on the command line.
type Config struct {
	LogLevel          int               `yaml:"log_level" env:"MOTOR_LOG_LEVEL"`
	Backend           string            `yaml:"backend" env:"MOTOR_BACKEND"`
	CommandAddr       string            `yaml:"command_addr" env:"MOTOR_COMMAND_ADDR"`
	TelemetryAddr     string            `yaml:"telemetry_addr" env:"MOTOR_TELEMETRY_ADDR"`
	RedisServer       string            `yaml:"redis_server" env:"MOTOR_REDIS_SERVER"`
	RedisPort         int               `yaml:"redis_port" env:"MOTOR_REDIS_PORT"`
	CANDevice         string            `yaml:"can_device" env:"MOTOR_CAN_DEVICE"`
	CANNode           int               `yaml:"can_node" env:"MOTOR_CAN_NODE"`
	Pins              PinConfig         `yaml:"pins"`
	QuickChange       bool              `yaml:"quick_change" env:"MOTOR_QUICK_CHANGE"`
	YieldPWM          bool              `yaml:"yield_pwm" env:"MOTOR_YIELD_PWM"`
	Acceleration      int               `yaml:"acceleration" env:"MOTOR_ACCELERATION"`
	StopTimeoutMs     int               `yaml:"stop_timeout_ms" env:"MOTOR_STOP_TIMEOUT_MS"`
	PublishIntervalMs int               `yaml:"publish_interval_ms" env:"MOTOR_PUBLISH_INTERVAL_MS"`
	PowerSensor       PowerSensorConfig `yaml:"power_sensor"`
}

func DefaultConfig() Config {
	m := motor.DefaultConfig()

	return Config{
		LogLevel:      int(LogLevelInfo),
		Backend:       "gpio",
		CommandAddr:   ":12345",
		TelemetryAddr: ":12346",
		RedisPort:     6379,
		CANDevice:     "can0",
		CANNode:       1,
		Pins: PinConfig{
			CW:     uint(m.PinCW),
			CCW:    uint(m.PinCCW),
			Magnet: 5,
		},
		Acceleration:      m.Acceleration,
		StopTimeoutMs:     int(m.StopTimeout / time.Millisecond),
		PublishIntervalMs: int(monitor.DefaultPublishInterval / time.Millisecond),
		PowerSensor: PowerSensorConfig{
			Device:      monitor.INA219DefaultDevice,
			Address:     monitor.INA219DefaultAddress,
			Calibration: monitor.INA219DefaultCalibration,
			CurrentLSB:  monitor.INA219DefaultCurrentLSB,
			IntervalMs:  int(monitor.DefaultPowerInterval / time.Millisecond),
		},
	}
}

// LoadConfig applies the YAML file at path (if any) and the environment
// over the defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("unable to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unable to unmarshal config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse environment: %w", err)
	}

	return cfg, nil
}

// defineFlags registers the command line overrides on fs. Their defaults are
// only shown in -help; ApplyFlags copies just the flags actually given.
func defineFlags(fs *flag.FlagSet) {
	def := DefaultConfig()

	fs.Int("log", def.LogLevel, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	fs.String("backend", def.Backend, "Hardware backend (gpio, can or sim)")
	fs.String("cmd_addr", def.CommandAddr, "Command channel listen address")
	fs.String("telemetry_addr", def.TelemetryAddr, "Telemetry channel listen address")
	fs.String("redis_server", def.RedisServer, "Redis server address (empty disables Redis)")
	fs.Int("redis_port", def.RedisPort, "Redis server port")
	fs.String("can_device", def.CANDevice, "CAN device name")
	fs.Int("can_node", def.CANNode, "CAN driver node number")
	fs.Uint("pin_cw", def.Pins.CW, "Clockwise drive line GPIO")
	fs.Uint("pin_ccw", def.Pins.CCW, "Counter-clockwise drive line GPIO")
	fs.Uint("pin_magnet", def.Pins.Magnet, "Magnet detector GPIO")
	fs.Bool("quick_change", def.QuickChange, "Reverse without stopping first")
	fs.Bool("yield_pwm", def.YieldPWM, "Sleep instead of spinning during PWM phases")
	fs.Int("acceleration", def.Acceleration, "Initial acceleration level (1-10)")
	fs.Bool("power_sensor", def.PowerSensor.Enabled, "Sample the INA219 power sensor")
	fs.String("i2c_device", def.PowerSensor.Device, "I2C device of the power sensor")
}

// ApplyFlags copies flags explicitly set on fs over cfg
func (cfg *Config) ApplyFlags(fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		v := getter.Get()

		switch f.Name {
		case "log":
			cfg.LogLevel = v.(int)
		case "backend":
			cfg.Backend = v.(string)
		case "cmd_addr":
			cfg.CommandAddr = v.(string)
		case "telemetry_addr":
			cfg.TelemetryAddr = v.(string)
		case "redis_server":
			cfg.RedisServer = v.(string)
		case "redis_port":
			cfg.RedisPort = v.(int)
		case "can_device":
			cfg.CANDevice = v.(string)
		case "can_node":
			cfg.CANNode = v.(int)
		case "pin_cw":
			cfg.Pins.CW = v.(uint)
		case "pin_ccw":
			cfg.Pins.CCW = v.(uint)
		case "pin_magnet":
			cfg.Pins.Magnet = v.(uint)
		case "quick_change":
			cfg.QuickChange = v.(bool)
		case "yield_pwm":
			cfg.YieldPWM = v.(bool)
		case "acceleration":
			cfg.Acceleration = v.(int)
		case "power_sensor":
			cfg.PowerSensor.Enabled = v.(bool)
		case "i2c_device":
			cfg.PowerSensor.Device = v.(string)
		}
	})
}

// Options validates cfg and converts it for the service
func (cfg Config) Options() (*Options, error) {
	if cfg.LogLevel < 0 || cfg.LogLevel > 4 {
		return nil, fmt.Errorf("invalid log level %d", cfg.LogLevel)
	}

	backend, err := ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	if cfg.RedisPort <= 0 || cfg.RedisPort > 65535 {
		return nil, fmt.Errorf("invalid redis port %d", cfg.RedisPort)
	}

	if cfg.CANNode < 0 || cfg.CANNode > 15 {
		return nil, fmt.Errorf("invalid CAN node %d (must be 0-15)", cfg.CANNode)
	}

	if cfg.Pins.CW == cfg.Pins.CCW {
		return nil, fmt.Errorf("drive lines must use distinct pins, both are %d", cfg.Pins.CW)
	}

	if cfg.Acceleration < 1 || cfg.Acceleration > 10 {
		return nil, fmt.Errorf("invalid acceleration %d (must be 1-10)", cfg.Acceleration)
	}

	if cfg.PowerSensor.Calibration < 0 || cfg.PowerSensor.Calibration > 0xFFFF {
		return nil, fmt.Errorf("invalid INA219 calibration %d", cfg.PowerSensor.Calibration)
	}

	return &Options{
		LogLevel:          LogLevel(cfg.LogLevel),
		CommandAddr:       cfg.CommandAddr,
		TelemetryAddr:     cfg.TelemetryAddr,
		RedisServerAddr:   cfg.RedisServer,
		RedisServerPort:   uint16(cfg.RedisPort),
		Backend:           backend,
		CANDevice:         cfg.CANDevice,
		CANNode:           uint8(cfg.CANNode),
		PinCW:             motor.Pin(cfg.Pins.CW),
		PinCCW:            motor.Pin(cfg.Pins.CCW),
		PinMagnet:         motor.Pin(cfg.Pins.Magnet),
		QuickChange:       cfg.QuickChange,
		YieldPWM:          cfg.YieldPWM,
		Acceleration:      cfg.Acceleration,
		StopTimeout:       time.Duration(cfg.StopTimeoutMs) * time.Millisecond,
		PublishInterval:   time.Duration(cfg.PublishIntervalMs) * time.Millisecond,
		PowerSensor:       cfg.PowerSensor.Enabled,
		I2CDevice:         cfg.PowerSensor.Device,
		I2CAddress:        cfg.PowerSensor.Address,
		PowerInterval:     time.Duration(cfg.PowerSensor.IntervalMs) * time.Millisecond,
		INA219Calibration: uint16(cfg.PowerSensor.Calibration),
		INA219CurrentLSB:  cfg.PowerSensor.CurrentLSB,
	}, nil
}
