package main

import (
	"context"
	"strings"
	"time"

	"motor-server/motor"
	"motor-server/protocol"
)

// outbound is one message for an endpoint. A hangup marker drops the client
// once everything queued before it has been written.
type outbound struct {
	text   string
	hangup bool
}

// Ingress turns raw command lines into commands and acknowledges each
// recognized one
type Ingress struct {
	log      *LeveledLogger
	messages *Queue[string]
	commands *Queue[protocol.Command]
	acks     *Queue[outbound]
}

func NewIngress(logger *LeveledLogger, messages *Queue[string], commands *Queue[protocol.Command], acks *Queue[outbound]) *Ingress {
	return &Ingress{
		log:      logger,
		messages: messages,
		commands: commands,
		acks:     acks,
	}
}

func (in *Ingress) Run(ctx context.Context) {
	for {
		line, err := in.messages.Pop(ctx)
		if err != nil {
			return
		}
		in.Handle(line)
	}
}

// Handle parses one line. Malformed numbers are acknowledged and queued with
// zeroes. Unknown commands parse to None and are dropped without an ack.
func (in *Ingress) Handle(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	cmd, err := protocol.Parse(line)
	if err != nil {
		in.log.Warn("%v", err)
	}

	if cmd.Kind == protocol.KindNone {
		in.log.Debug("Dropping unrecognized command %q", cmd.Raw)
		return
	}

	in.acks.Push(outbound{text: protocol.Received(cmd.Raw)})
	in.commands.Push(cmd)
}

// Motor is the part of the controller the execution loop drives
type Motor interface {
	SetAcceleration(level int)
	TurnCW(volts, durationMs float64) error
	TurnCCW(volts, durationMs float64) error
	Stop(maxDuration time.Duration) error
	State() motor.MotorState
}

// SpeedSwitch toggles the speed reporting pair
type SpeedSwitch interface {
	Enable()
	Disable()
}

// ExecutionLoop runs commands one at a time in arrival order. It is the
// only caller of the motor.
type ExecutionLoop struct {
	log         *LeveledLogger
	motor       Motor
	speed       SpeedSwitch
	commands    *Queue[protocol.Command]
	acks        *Queue[outbound]
	telemetry   *Queue[outbound]
	stopTimeout time.Duration

	// OnState, if set, receives the motor state after every command
	OnState func(motor.MotorState)
	// OnHardwareError, if set, receives every failed motor call
	OnHardwareError func(err error)
	// OnHardwareRecover, if set, runs on the first successful motor call
	// after a failure
	OnHardwareRecover func()

	faulted bool
}

func NewExecutionLoop(logger *LeveledLogger, m Motor, speed SpeedSwitch, commands *Queue[protocol.Command], acks, telemetry *Queue[outbound], stopTimeout time.Duration) *ExecutionLoop {
	return &ExecutionLoop{
		log:         logger,
		motor:       m,
		speed:       speed,
		commands:    commands,
		acks:        acks,
		telemetry:   telemetry,
		stopTimeout: stopTimeout,
	}
}

func (x *ExecutionLoop) Run(ctx context.Context) {
	for {
		cmd, ok := x.commands.TryPop()
		if !ok {
			// Queue drained: never leave the motor coasting while idle.
			x.idleStop()

			var err error
			cmd, err = x.commands.Pop(ctx)
			if err != nil {
				x.idleStop()
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		x.Execute(cmd)
	}
}

func (x *ExecutionLoop) idleStop() {
	x.checkMotor("idle stop", x.motor.Stop(x.stopTimeout))
}

// Execute dispatches one command and queues its acknowledgments
func (x *ExecutionLoop) Execute(cmd protocol.Command) {
	x.log.Debug("Executing %s (%.2f, %.0f)", cmd.Kind, cmd.Speed, cmd.Duration)

	switch cmd.Kind {
	case protocol.KindRotateCW:
		x.acks.Push(outbound{text: protocol.Executing(cmd)})
		x.checkMotor("turn cw", x.motor.TurnCW(cmd.Speed, cmd.Duration))
		x.acks.Push(outbound{text: protocol.Completed(cmd)})

	case protocol.KindRotateCCW:
		x.acks.Push(outbound{text: protocol.Executing(cmd)})
		x.checkMotor("turn ccw", x.motor.TurnCCW(cmd.Speed, cmd.Duration))
		x.acks.Push(outbound{text: protocol.Completed(cmd)})

	case protocol.KindSetAcceleration:
		x.acks.Push(outbound{text: protocol.Executing(cmd)})
		x.motor.SetAcceleration(int(cmd.Speed))
		x.acks.Push(outbound{text: protocol.Completed(cmd)})

	case protocol.KindSpeedOn:
		x.speed.Enable()
		x.acks.Push(outbound{text: protocol.SpeedState(true)})

	case protocol.KindSpeedOff:
		x.speed.Disable()
		x.acks.Push(outbound{text: protocol.SpeedState(false)})

	case protocol.KindQuit:
		x.acks.Push(outbound{text: protocol.Executing(cmd)})
		x.speed.Disable()
		x.acks.Push(outbound{text: protocol.Completed(cmd)})
		x.acks.Push(outbound{hangup: true})
		x.telemetry.Push(outbound{hangup: true})

	default:
		return
	}

	if x.OnState != nil {
		x.OnState(x.motor.State())
	}
}

func (x *ExecutionLoop) checkMotor(op string, err error) {
	if err == nil {
		if x.faulted {
			x.faulted = false
			x.log.Info("Motor %s succeeded, drive lines recovered", op)
			if x.OnHardwareRecover != nil {
				x.OnHardwareRecover()
			}
		}
		return
	}

	x.faulted = true
	herr := &HardwareError{Component: "motor " + op, Err: err}
	x.log.Error("%v", herr)
	if x.OnHardwareError != nil {
		x.OnHardwareError(herr)
	}
}
