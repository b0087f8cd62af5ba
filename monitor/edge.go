package monitor

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"motor-server/motor"
)

const DefaultPollInterval = time.Millisecond

// MotionState reports whether the motor is being driven
type MotionState interface {
	InMotion() bool
}

// EdgeSource registers a callback for rising edges on an input line
type EdgeSource interface {
	RegisterRisingEdgeCallback(pin motor.Pin, callback func()) error
}

// EdgeSampler turns magnet-detector rising edges into an RPM estimate.
// The interrupt side only sets a flag; the measurement loop owns the
// last-hit timestamp.
type EdgeSampler struct {
	logger       motor.Logger
	motion       MotionState
	clock        motor.Clock
	pollInterval time.Duration

	edge atomic.Bool
	wake chan struct{}
	rpm  atomic.Uint64

	loop runner
}

func NewEdgeSampler(logger motor.Logger, motion MotionState, clock motor.Clock, pollInterval time.Duration) *EdgeSampler {
	if logger == nil {
		logger = motor.NopLogger()
	}
	if clock == nil {
		clock = motor.SystemClock()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &EdgeSampler{
		logger:       logger,
		motion:       motion,
		clock:        clock,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Register installs the sampler's callback on pin. Call once during setup.
func (s *EdgeSampler) Register(source EdgeSource, pin motor.Pin) error {
	return source.RegisterRisingEdgeCallback(pin, s.OnRisingEdge)
}

// OnRisingEdge is the interrupt callback. It never blocks.
func (s *EdgeSampler) OnRisingEdge() {
	s.edge.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the measurement loop; it returns false if one is running
func (s *EdgeSampler) Start(ctx context.Context) bool {
	started := s.loop.start(ctx, s.measure)
	if started {
		s.logger.Info("Speed measurement started")
	}
	return started
}

// Stop ends the measurement loop; no-op when not running
func (s *EdgeSampler) Stop() {
	if !s.loop.running() {
		return
	}
	s.loop.stop()
	s.logger.Info("Speed measurement stopped")
}

func (s *EdgeSampler) Running() bool {
	return s.loop.running()
}

// RPM returns the last computed value; between edges it is held
func (s *EdgeSampler) RPM() float64 {
	return math.Float64frombits(s.rpm.Load())
}

func (s *EdgeSampler) setRPM(v float64) {
	s.rpm.Store(math.Float64bits(v))
}

func (s *EdgeSampler) measure(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.setRPM(0)
	s.edge.Store(false)
	lastHit := s.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}

		now := s.clock.Now()

		// Edges seen while the motor is not driven are stale.
		if !s.motion.InMotion() {
			s.setRPM(0)
			s.edge.Store(false)
			lastHit = now
			continue
		}

		if !s.edge.Swap(false) {
			continue
		}

		elapsedMs := float64(now.Sub(lastHit)) / float64(time.Millisecond)
		if elapsedMs <= 0 {
			continue
		}

		rpm := 60000 / elapsedMs
		s.setRPM(rpm)
		lastHit = now
		s.logger.Debug("Edge after %.2fms -> %.2f rpm", elapsedMs, rpm)
	}
}
