package main

import (
	"context"
	"sync"

	"motor-server/protocol"
)

// Loop is a start/stop pair with idempotent semantics on both sides
type Loop interface {
	Start(ctx context.Context) bool
	Stop()
}

// SpeedReporting switches the edge sampler and the telemetry publisher as
// one pair. Repeated Enable or Disable calls are no-ops.
type SpeedReporting struct {
	log       *LeveledLogger
	ctx       context.Context
	sampler   Loop
	publisher Loop

	// OnChange, if set, runs after every effective toggle
	OnChange func(enabled bool)

	mu      sync.Mutex
	enabled bool
}

func NewSpeedReporting(ctx context.Context, logger *LeveledLogger, sampler, publisher Loop) *SpeedReporting {
	return &SpeedReporting{
		log:       logger,
		ctx:       ctx,
		sampler:   sampler,
		publisher: publisher,
	}
}

func (s *SpeedReporting) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		s.log.Debug("Speed reporting already enabled")
		return
	}

	s.sampler.Start(s.ctx)
	s.publisher.Start(s.ctx)
	s.enabled = true
	s.log.Info("Speed reporting enabled")

	if s.OnChange != nil {
		s.OnChange(true)
	}
}

func (s *SpeedReporting) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}

	s.publisher.Stop()
	s.sampler.Stop()
	s.enabled = false
	s.log.Info("Speed reporting disabled")

	if s.OnChange != nil {
		s.OnChange(false)
	}
}

func (s *SpeedReporting) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// RPMMirror receives every telemetry sample besides the TCP client
type RPMMirror interface {
	SendRPM(rpm float64) error
}

// telemetrySink queues formatted samples for the telemetry channel
type telemetrySink struct {
	log    *LeveledLogger
	out    *Queue[outbound]
	mirror RPMMirror
}

func (t *telemetrySink) PublishRPM(rpm float64) {
	t.out.Push(outbound{text: protocol.FormatRPM(rpm)})

	if t.mirror != nil {
		if err := t.mirror.SendRPM(rpm); err != nil {
			t.log.Debug("Failed to mirror rpm: %v", err)
		}
	}
}
