package protocol

import (
	"strconv"
	"strings"
)

// Acknowledgment texts sent on the command channel

func Received(raw string) string {
	return "Command '" + raw + "' received."
}

func Executing(cmd Command) string {
	return "Executing '" + describe(cmd) + "'..."
}

func Completed(cmd Command) string {
	return "Completed '" + describe(cmd) + "'"
}

func SpeedState(enabled bool) string {
	return "Speed measurement set to: '" + boolString(enabled) + "'."
}

// FormatRPM renders a telemetry sample
func FormatRPM(rpm float64) string {
	return Truncate(rpm, 2)
}

// Truncate formats v with at most precision decimals, dropping the rest
// instead of rounding. precision <= 0 keeps the integer part only.
func Truncate(v float64, precision int) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}
	if precision <= 0 {
		return s[:dot]
	}
	if end := dot + precision + 1; end < len(s) {
		return s[:end]
	}
	return s
}

func describe(cmd Command) string {
	return cmd.Kind.String() + " " + Truncate(cmd.Speed, 2) + "V " + Truncate(cmd.Duration, 0) + "ms"
}

func boolString(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
