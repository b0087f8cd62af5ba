package protocol

// Kind identifies a command variant
type Kind int

const (
	KindNone Kind = iota
	KindRotateCW
	KindRotateCCW
	KindSpeedOn
	KindSpeedOff
	KindSetAcceleration
	KindQuit
)

var kindNames = map[Kind]string{
	KindNone:            "None",
	KindRotateCW:        "Rotate CW",
	KindRotateCCW:       "Rotate CCW",
	KindSpeedOn:         "Turn On Speed Measurement",
	KindSpeedOff:        "Turn Off Speed Measurement",
	KindSetAcceleration: "Set Acceleration",
	KindQuit:            "Quit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Command is one parsed request. Speed carries volts for rotations and the
// level for SetAcceleration. Duration is in milliseconds.
type Command struct {
	Kind     Kind
	Speed    float64
	Duration float64
	// Raw is the line the command was parsed from
	Raw string
}
