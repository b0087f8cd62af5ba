package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const testYaml = `
backend: sim
command_addr: "127.0.0.1:2000"
redis_server: redis.local
pins:
  cw: 22
  ccw: 23
quick_change: true
publish_interval_ms: 50
power_sensor:
  enabled: true
  address: 65
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfig(t *testing.T) {
	Convey("Given the default configuration", t, func() {
		cfg := DefaultConfig()

		Convey("It matches the rig wiring", func() {
			So(cfg.CommandAddr, ShouldEqual, ":12345")
			So(cfg.TelemetryAddr, ShouldEqual, ":12346")
			So(cfg.Pins.CW, ShouldEqual, uint(17))
			So(cfg.Pins.CCW, ShouldEqual, uint(18))
			So(cfg.Pins.Magnet, ShouldEqual, uint(5))
			So(cfg.RedisServer, ShouldEqual, "")
		})

		Convey("It converts to valid options", func() {
			opts, err := cfg.Options()
			So(err, ShouldBeNil)
			So(opts.Backend, ShouldEqual, BackendGPIO)
			So(opts.StopTimeout, ShouldEqual, 2*time.Second)
			So(opts.PublishInterval, ShouldEqual, 100*time.Millisecond)
			So(opts.INA219Calibration, ShouldEqual, uint16(4096))
		})
	})

	Convey("Given a YAML file", t, func() {
		path := writeConfig(t, testYaml)

		Convey("File values override defaults and keep the rest", func() {
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Backend, ShouldEqual, "sim")
			So(cfg.CommandAddr, ShouldEqual, "127.0.0.1:2000")
			So(cfg.TelemetryAddr, ShouldEqual, ":12346")
			So(cfg.Pins.CW, ShouldEqual, uint(22))
			So(cfg.Pins.Magnet, ShouldEqual, uint(5))
			So(cfg.QuickChange, ShouldBeTrue)
			So(cfg.PowerSensor.Enabled, ShouldBeTrue)
			So(cfg.PowerSensor.Address, ShouldEqual, 65)
			So(cfg.PowerSensor.Device, ShouldEqual, "/dev/i2c-1")
		})

		Convey("The environment overrides the file", func() {
			t.Setenv("MOTOR_BACKEND", "can")
			t.Setenv("MOTOR_PIN_CCW", "24")

			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Backend, ShouldEqual, "can")
			So(cfg.Pins.CCW, ShouldEqual, uint(24))
			So(cfg.Pins.CW, ShouldEqual, uint(22))
		})

		Convey("Explicit flags override everything", func() {
			t.Setenv("MOTOR_BACKEND", "can")

			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			defineFlags(fs)
			So(fs.Parse([]string{"-backend", "gpio", "-pin_cw", "12"}), ShouldBeNil)

			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			cfg.ApplyFlags(fs)

			So(cfg.Backend, ShouldEqual, "gpio")
			So(cfg.Pins.CW, ShouldEqual, uint(12))
			So(cfg.CommandAddr, ShouldEqual, "127.0.0.1:2000")
			So(cfg.QuickChange, ShouldBeTrue)
		})
	})

	Convey("Invalid settings are rejected", t, func() {
		cfg := DefaultConfig()

		Convey("Unknown backend", func() {
			cfg.Backend = "serial"
			_, err := cfg.Options()
			So(err, ShouldNotBeNil)
		})

		Convey("Shared drive pins", func() {
			cfg.Pins.CCW = cfg.Pins.CW
			_, err := cfg.Options()
			So(err, ShouldNotBeNil)
		})

		Convey("Acceleration out of range", func() {
			cfg.Acceleration = 11
			_, err := cfg.Options()
			So(err, ShouldNotBeNil)
		})

		Convey("Log level out of range", func() {
			cfg.LogLevel = 7
			_, err := cfg.Options()
			So(err, ShouldNotBeNil)
		})
	})

	Convey("A missing file is an error", t, func() {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		So(err, ShouldNotBeNil)
	})
}
