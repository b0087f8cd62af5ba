package hw

import (
	"context"
	"math"
	"sync"
	"time"

	"motor-server/motor"
)

// SimConfig shapes the simulated motor
type SimConfig struct {
	// MaxRPM is the shaft speed at 100% duty
	MaxRPM float64
	// TimeConstant is the first-order lag of the shaft speed
	TimeConstant time.Duration
	// Tick is the integration step
	Tick time.Duration
	// SupplyVolts is the nominal supply seen by the power sensor
	SupplyVolts float64
	// StallCurrent is the current at full duty and zero speed, in A
	StallCurrent float64
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		MaxRPM:       240,
		TimeConstant: 300 * time.Millisecond,
		Tick:         5 * time.Millisecond,
		SupplyVolts:  12,
		StallCurrent: 1.5,
	}
}

// Sim is an in-process motor rig. It integrates the duty cycle written to
// the drive lines into a shaft speed, fires one magnet edge per revolution
// and synthesizes supply readings.
type Sim struct {
	logger motor.Logger
	cfg    SimConfig

	mu          sync.Mutex
	levels      map[motor.Pin]motor.Level
	highSince   map[motor.Pin]time.Time
	highAccum   map[motor.Pin]time.Duration
	windowStart time.Time
	duty        float64
	rpm         float64
	revs        float64
	edges       map[motor.Pin]func()

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSim(logger motor.Logger, cfg SimConfig) *Sim {
	def := DefaultSimConfig()
	if cfg.MaxRPM <= 0 {
		cfg.MaxRPM = def.MaxRPM
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = def.TimeConstant
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.SupplyVolts <= 0 {
		cfg.SupplyVolts = def.SupplyVolts
	}
	if cfg.StallCurrent <= 0 {
		cfg.StallCurrent = def.StallCurrent
	}

	return &Sim{
		logger:    logger,
		cfg:       cfg,
		levels:    make(map[motor.Pin]motor.Level),
		highSince: make(map[motor.Pin]time.Time),
		highAccum: make(map[motor.Pin]time.Duration),
		edges:     make(map[motor.Pin]func()),
	}
}

// Start runs the integration loop until ctx is cancelled or Close is called
func (s *Sim) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.windowStart = time.Now()
	done := s.done
	s.mu.Unlock()

	s.logger.Info("Simulated rig running (max %.0f rpm)", s.cfg.MaxRPM)

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.advance(now)
			}
		}
	}()
}

func (s *Sim) SetDriveLine(pin motor.Pin, level motor.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	prev := s.levels[pin]

	switch {
	case prev == motor.High && level == motor.Low:
		s.highAccum[pin] += now.Sub(s.highSince[pin])
	case prev == motor.Low && level == motor.High:
		s.highSince[pin] = now
	}
	s.levels[pin] = level

	return nil
}

func (s *Sim) RegisterRisingEdgeCallback(pin motor.Pin, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.edges[pin] = callback
	return nil
}

func (s *Sim) advance(now time.Time) {
	s.mu.Lock()

	window := now.Sub(s.windowStart)
	if window <= 0 {
		s.mu.Unlock()
		return
	}
	s.windowStart = now

	duty := 0.0
	for pin, level := range s.levels {
		high := s.highAccum[pin]
		if level == motor.High {
			high += now.Sub(s.highSince[pin])
			s.highSince[pin] = now
		}
		s.highAccum[pin] = 0
		duty = math.Max(duty, math.Min(1, float64(high)/float64(window)))
	}
	s.duty = duty

	target := duty * s.cfg.MaxRPM
	alpha := math.Min(1, float64(window)/float64(s.cfg.TimeConstant))
	s.rpm += (target - s.rpm) * alpha
	if s.rpm < 0.5 && target == 0 {
		s.rpm = 0
	}

	s.revs += s.rpm / 60 * window.Seconds()

	var fire []func()
	if s.revs >= 1 {
		s.revs -= math.Floor(s.revs)
		for _, cb := range s.edges {
			fire = append(fire, cb)
		}
	}
	s.mu.Unlock()

	for _, cb := range fire {
		cb()
	}
}

// RPM returns the simulated shaft speed
func (s *Sim) RPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpm
}

// ReadBusVoltage models a small supply sag proportional to duty
func (s *Sim) ReadBusVoltage() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.SupplyVolts - 0.4*s.duty, nil
}

// ReadCurrent models back-EMF reducing the current as the shaft spins up
func (s *Sim) ReadCurrent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.duty == 0 {
		return 0, nil
	}
	return s.cfg.StallCurrent * s.duty * (1 - 0.8*s.rpm/s.cfg.MaxRPM), nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
