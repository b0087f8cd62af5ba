package main

import (
	"context"
	"errors"
)

// Sender is the write side of an endpoint
type Sender interface {
	Send(msg string) error
	Hangup()
}

// AckMirror receives every acknowledgment sent on the command channel
type AckMirror interface {
	SendAck(text string) error
}

// ResponseDispatcher is the single writer of both endpoints. Each queue is
// delivered in order; messages for a channel without a client are dropped.
type ResponseDispatcher struct {
	log       *LeveledLogger
	acks      *Queue[outbound]
	telemetry *Queue[outbound]
	command   Sender
	stream    Sender
	mirror    AckMirror
}

func NewResponseDispatcher(logger *LeveledLogger, acks, telemetry *Queue[outbound], command, stream Sender, mirror AckMirror) *ResponseDispatcher {
	return &ResponseDispatcher{
		log:       logger,
		acks:      acks,
		telemetry: telemetry,
		command:   command,
		stream:    stream,
		mirror:    mirror,
	}
}

func (d *ResponseDispatcher) Run(ctx context.Context) {
	for {
		d.drain()

		select {
		case <-ctx.Done():
			return
		case <-d.acks.Ready():
		case <-d.telemetry.Ready():
		}
	}
}

func (d *ResponseDispatcher) drain() {
	for {
		ack, okAck := d.acks.TryPop()
		if okAck {
			d.deliver("command", d.command, ack)
			if !ack.hangup && d.mirror != nil {
				if err := d.mirror.SendAck(ack.text); err != nil {
					d.log.Debug("Failed to mirror ack: %v", err)
				}
			}
		}

		sample, okSample := d.telemetry.TryPop()
		if okSample {
			d.deliver("telemetry", d.stream, sample)
		}

		if !okAck && !okSample {
			return
		}
	}
}

func (d *ResponseDispatcher) deliver(channel string, to Sender, msg outbound) {
	if msg.hangup {
		to.Hangup()
		return
	}

	err := to.Send(msg.text)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected):
		d.log.Debug("Dropped %s message, no client: %q", channel, msg.text)
	default:
		d.log.Warn("%v", err)
	}
}
