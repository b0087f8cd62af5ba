package monitor

import (
	"context"
	"sync"
	"time"

	"motor-server/motor"
)

const (
	DefaultPowerInterval = 250 * time.Millisecond

	// Window size for supply averaging
	PowerWindowSize = 8
)

// PowerReading is one supply sample with running averages
type PowerReading struct {
	BusVoltage float64
	Current    float64
	Power      float64
	AvgVoltage float64
	AvgCurrent float64
	Time       time.Time
}

// AverageBuffer implements a moving average over the last PowerWindowSize samples
type AverageBuffer struct {
	data  [PowerWindowSize]float64
	head  int
	count int
	sum   float64
}

func (buf *AverageBuffer) Reset() {
	*buf = AverageBuffer{}
}

func (buf *AverageBuffer) MovingAverage(v float64) float64 {
	var dropped float64
	if buf.count >= PowerWindowSize {
		dropped = buf.data[buf.head]
	} else {
		buf.count++
	}

	buf.data[buf.head] = v
	buf.sum = buf.sum - dropped + v
	buf.head = (buf.head + 1) % PowerWindowSize

	return buf.sum / float64(buf.count)
}

// PowerMonitor samples a PowerSensor periodically. Read failures are
// reported once per failure streak through OnError.
type PowerMonitor struct {
	logger   motor.Logger
	sensor   PowerSensor
	interval time.Duration

	OnReading func(PowerReading)
	OnError   func(err error)
	OnRecover func()

	mu      sync.RWMutex
	voltage AverageBuffer
	current AverageBuffer
	last    PowerReading
	failing bool

	loop runner
}

func NewPowerMonitor(logger motor.Logger, sensor PowerSensor, interval time.Duration) *PowerMonitor {
	if logger == nil {
		logger = motor.NopLogger()
	}
	if interval <= 0 {
		interval = DefaultPowerInterval
	}
	return &PowerMonitor{
		logger:   logger,
		sensor:   sensor,
		interval: interval,
	}
}

func (m *PowerMonitor) Start(ctx context.Context) bool {
	return m.loop.start(ctx, m.run)
}

func (m *PowerMonitor) Stop() {
	m.loop.stop()
}

// Last returns the most recent reading
func (m *PowerMonitor) Last() PowerReading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *PowerMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one reading from the sensor. Power comes from the sensor
// when it is a PowerMeter and is V*I otherwise.
func (m *PowerMonitor) Sample() {
	v, i, p, err := m.read()
	if err == nil {
		m.record(v, i, p)
		return
	}

	m.mu.Lock()
	first := !m.failing
	m.failing = true
	m.mu.Unlock()

	if first {
		m.logger.Error("Power sensor read failed: %v", err)
		if m.OnError != nil {
			m.OnError(err)
		}
	}
}

func (m *PowerMonitor) read() (v, i, p float64, err error) {
	if v, err = m.sensor.ReadBusVoltage(); err != nil {
		return
	}
	if i, err = m.sensor.ReadCurrent(); err != nil {
		return
	}

	meter, ok := m.sensor.(PowerMeter)
	if !ok {
		return v, i, v * i, nil
	}
	p, err = meter.ReadPower()
	return
}

func (m *PowerMonitor) record(v, i, p float64) {
	m.mu.Lock()
	recovered := m.failing
	m.failing = false
	m.last = PowerReading{
		BusVoltage: v,
		Current:    i,
		Power:      p,
		AvgVoltage: m.voltage.MovingAverage(v),
		AvgCurrent: m.current.MovingAverage(i),
		Time:       time.Now(),
	}
	reading := m.last
	m.mu.Unlock()

	if recovered {
		m.logger.Info("Power sensor recovered")
		if m.OnRecover != nil {
			m.OnRecover()
		}
	}
	if m.OnReading != nil {
		m.OnReading(reading)
	}
}
