package protocol

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("recognised commands map to their kinds", t, func() {
		tests := map[string]Kind{
			"RCW 12 2000":  KindRotateCW,
			"RCCW 6 500":   KindRotateCCW,
			"TSI":          KindSpeedOn,
			"TSO":          KindSpeedOff,
			"ACC 7 0":      KindSetAcceleration,
			"quit":         KindQuit,
			"  RCW\t3 10 ": KindRotateCW,
		}
		for line, kind := range tests {
			cmd, err := Parse(line)
			So(err, ShouldBeNil)
			So(cmd.Kind, ShouldEqual, kind)
			So(cmd.Raw, ShouldEqual, line)
		}
	})

	Convey("numeric arguments are parsed as floats", t, func() {
		cmd, err := Parse("RCW 12 2000")
		So(err, ShouldBeNil)
		So(cmd.Speed, ShouldEqual, 12.0)
		So(cmd.Duration, ShouldEqual, 2000.0)

		cmd, err = Parse("RCCW 3.75 1250.5")
		So(err, ShouldBeNil)
		So(cmd.Speed, ShouldEqual, 3.75)
		So(cmd.Duration, ShouldEqual, 1250.5)
	})

	Convey("bad numbers zero both arguments but keep the kind", t, func() {
		cmd, err := Parse("RCW abc def")
		So(err, ShouldHaveSameTypeAs, ProtocolError{})
		So(cmd.Kind, ShouldEqual, KindRotateCW)
		So(cmd.Speed, ShouldEqual, 0.0)
		So(cmd.Duration, ShouldEqual, 0.0)

		Convey("even when only the duration is bad", func() {
			cmd, err := Parse("RCCW 5 soon")
			So(err, ShouldNotBeNil)
			So(cmd.Kind, ShouldEqual, KindRotateCCW)
			So(cmd.Speed, ShouldEqual, 0.0)
			So(cmd.Duration, ShouldEqual, 0.0)
		})
	})

	Convey("a missing duration defaults to zero", t, func() {
		cmd, err := Parse("ACC 4")
		So(err, ShouldBeNil)
		So(cmd.Speed, ShouldEqual, 4.0)
		So(cmd.Duration, ShouldEqual, 0.0)
	})

	Convey("unknown tokens become None", t, func() {
		for _, line := range []string{"FLY 1 2", "rcw 1 2", "QUIT", "V"} {
			cmd, err := Parse(line)
			So(err, ShouldNotBeNil)
			So(cmd.Kind, ShouldEqual, KindNone)
		}
	})

	Convey("empty input is None without error", t, func() {
		for _, line := range []string{"", "   ", "\t"} {
			cmd, err := Parse(line)
			So(err, ShouldBeNil)
			So(cmd.Kind, ShouldEqual, KindNone)
		}
	})
}

func TestFormat(t *testing.T) {
	Convey("acknowledgments follow the wire format", t, func() {
		cmd, _ := Parse("RCW 12 2000")

		So(Received(cmd.Raw), ShouldEqual, "Command 'RCW 12 2000' received.")
		So(Executing(cmd), ShouldEqual, "Executing 'Rotate CW 12.00V 2000ms'...")
		So(Completed(cmd), ShouldEqual, "Completed 'Rotate CW 12.00V 2000ms'")
		So(SpeedState(true), ShouldEqual, "Speed measurement set to: 'True'.")
		So(SpeedState(false), ShouldEqual, "Speed measurement set to: 'False'.")
	})

	Convey("numbers are truncated rather than rounded", t, func() {
		So(Truncate(3.999, 2), ShouldEqual, "3.99")
		So(Truncate(1250.9, 0), ShouldEqual, "1250")
		So(Truncate(0, 2), ShouldEqual, "0.00")
		So(FormatRPM(1234.5678), ShouldEqual, "1234.56")
	})

	Convey("set acceleration is bracketed like a rotation", t, func() {
		cmd, _ := Parse("ACC 7 0")
		So(Executing(cmd), ShouldEqual, "Executing 'Set Acceleration 7.00V 0ms'...")
	})
}
