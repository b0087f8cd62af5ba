package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

var lexicon = map[string]Kind{
	"RCW":  KindRotateCW,
	"RCCW": KindRotateCCW,
	"TSI":  KindSpeedOn,
	"TSO":  KindSpeedOff,
	"ACC":  KindSetAcceleration,
	"quit": KindQuit,
}

// ProtocolError describes a recoverable problem with an inbound line
type ProtocolError struct {
	Line   string
	Reason string
}

func (err ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s in %q", err.Reason, err.Line)
}

// Parse turns a raw line into a Command. It never rejects a recognised
// command for bad numbers: if either numeric argument fails to parse both
// are zeroed and a ProtocolError is returned alongside the command.
// Unknown tokens and empty lines yield KindNone.
func Parse(line string) (Command, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Command{Kind: KindNone, Raw: line}, nil
	}

	cmd := Command{Raw: line}

	kind, ok := lexicon[tokens[0]]
	if !ok {
		return cmd, ProtocolError{Line: line, Reason: fmt.Sprintf("unknown command %q", tokens[0])}
	}
	cmd.Kind = kind

	if len(tokens) < 2 {
		return cmd, nil
	}

	speed, err := strconv.ParseFloat(tokens[1], 64)
	if err != nil {
		return cmd, ProtocolError{Line: line, Reason: fmt.Sprintf("invalid speed %q", tokens[1])}
	}

	var duration float64
	if len(tokens) > 2 {
		duration, err = strconv.ParseFloat(tokens[2], 64)
		if err != nil {
			return cmd, ProtocolError{Line: line, Reason: fmt.Sprintf("invalid duration %q", tokens[2])}
		}
	}

	cmd.Speed = speed
	cmd.Duration = duration
	return cmd, nil
}
