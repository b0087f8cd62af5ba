package monitor

import (
	"context"
	"time"

	"motor-server/motor"
)

const DefaultPublishInterval = 100 * time.Millisecond

// RPMSource provides the current speed estimate
type RPMSource interface {
	RPM() float64
}

// SampleSink receives telemetry samples
type SampleSink interface {
	PublishRPM(rpm float64)
}

// Publisher samples an RPMSource at a fixed cadence while running
type Publisher struct {
	logger   motor.Logger
	source   RPMSource
	sink     SampleSink
	interval time.Duration

	loop runner
}

func NewPublisher(logger motor.Logger, source RPMSource, sink SampleSink, interval time.Duration) *Publisher {
	if logger == nil {
		logger = motor.NopLogger()
	}
	if interval <= 0 {
		interval = DefaultPublishInterval
	}

	return &Publisher{
		logger:   logger,
		source:   source,
		sink:     sink,
		interval: interval,
	}
}

func (p *Publisher) Start(ctx context.Context) bool {
	return p.loop.start(ctx, p.run)
}

func (p *Publisher) Stop() {
	p.loop.stop()
}

func (p *Publisher) Running() bool {
	return p.loop.running()
}

func (p *Publisher) run(ctx context.Context) {
	p.logger.Debug("Telemetry publisher running every %v", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Telemetry publisher stopped")
			return
		case <-ticker.C:
			p.sink.PublishRPM(p.source.RPM())
		}
	}
}
