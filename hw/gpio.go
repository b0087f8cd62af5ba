package hw

import (
	"fmt"
	"sync"

	"github.com/brian-armstrong/gpio"

	"motor-server/motor"
)

// GPIO drives the motor lines and watches the magnet detector through the
// sysfs GPIO interface
type GPIO struct {
	logger motor.Logger

	mu      sync.Mutex
	outputs map[motor.Pin]gpio.Pin
	watcher *gpio.Watcher
	edges   map[uint]func()
	stop    chan struct{}
}

// NewGPIO exports the given pins as outputs driven low
func NewGPIO(logger motor.Logger, outputs ...motor.Pin) (*GPIO, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no output pins configured")
	}

	g := &GPIO{
		logger:  logger,
		outputs: make(map[motor.Pin]gpio.Pin, len(outputs)),
		edges:   make(map[uint]func()),
	}

	for _, p := range outputs {
		g.outputs[p] = gpio.NewOutput(uint(p), false)
		g.logger.Info("GPIO%d exported as output", p)
	}

	return g, nil
}

func (g *GPIO) SetDriveLine(pin motor.Pin, level motor.Level) error {
	g.mu.Lock()
	out, ok := g.outputs[pin]
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("GPIO%d is not an output", pin)
	}

	if level == motor.High {
		return out.High()
	}
	return out.Low()
}

// RegisterRisingEdgeCallback watches pin for rising edges. The callback runs
// on the watcher goroutine and must not block.
func (g *GPIO) RegisterRisingEdgeCallback(pin motor.Pin, callback func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.watcher == nil {
		g.watcher = gpio.NewWatcher()
		g.stop = make(chan struct{})
		go g.dispatchEdges(g.watcher, g.stop)
	}

	g.edges[uint(pin)] = callback
	g.watcher.AddPinWithEdgeAndLogic(uint(pin), gpio.EdgeRising, gpio.ActiveHigh)
	g.logger.Info("GPIO%d watched for rising edges", pin)

	return nil
}

func (g *GPIO) dispatchEdges(w *gpio.Watcher, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case n, ok := <-w.Notification:
			if !ok {
				return
			}
			if n.Value == 0 {
				continue
			}

			g.mu.Lock()
			cb := g.edges[n.Pin]
			g.mu.Unlock()

			if cb != nil {
				cb()
			}
		}
	}
}

// Close drives every output low and releases the pins
func (g *GPIO) Close() error {
	g.mu.Lock()
	watcher := g.watcher
	stop := g.stop
	g.watcher = nil
	outputs := g.outputs
	g.outputs = map[motor.Pin]gpio.Pin{}
	g.mu.Unlock()

	if watcher != nil {
		close(stop)
		watcher.Close()
	}

	for p, out := range outputs {
		if err := out.Low(); err != nil {
			g.logger.Warn("Failed to drive GPIO%d low on close: %v", p, err)
		}
		out.Close()
	}

	return nil
}
