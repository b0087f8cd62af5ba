package hw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brutella/can"

	"motor-server/motor"
)

const (
	// Driver node CAN IDs, OR'ed with the node number
	CANDriveLineFrameBase = 0x310 // TX: [pin, level]
	CANEdgeWatchFrameBase = 0x320 // TX: [pin, enable]
	CANEdgeFrameBase      = 0x390 // RX: [pin]
	CANSupplyFrameBase    = 0x3A0 // RX: [voltage 10mV BE16, current 10mA BE16 signed]

	// Supply readings older than this are considered stale
	CANSupplyTimeout = 2 * time.Second
)

var ErrSupplyStale = errors.New("no recent supply frame from driver node")

// FrameBus is the publishing side of a CAN bus
type FrameBus interface {
	Publish(frame can.Frame) error
}

// CANBridge talks to a remote motor driver node. Drive-line writes become
// frames to the node, and the node reports magnet edges and supply readings
// back as frames.
type CANBridge struct {
	logger motor.Logger
	bus    FrameBus
	node   uint8
	now    func() time.Time

	mu         sync.Mutex
	edges      map[motor.Pin]func()
	voltage    float64
	current    float64
	lastSupply time.Time

	closer func() error
}

// NewCANBridge creates a bridge publishing to bus. Incoming frames must be
// fed to Handle.
func NewCANBridge(logger motor.Logger, bus FrameBus, node uint8) *CANBridge {
	return &CANBridge{
		logger: logger,
		bus:    bus,
		node:   node & 0x0F,
		now:    time.Now,
		edges:  make(map[motor.Pin]func()),
	}
}

// OpenCANBridge opens the named SocketCAN interface and starts receiving
func OpenCANBridge(logger motor.Logger, device string, node uint8) (*CANBridge, error) {
	bus, err := can.NewBusForInterfaceWithName(device)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize CAN bus %s: %w", device, err)
	}

	b := NewCANBridge(logger, bus, node)
	b.closer = bus.Disconnect
	bus.Subscribe(b)

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			logger.Error("CAN bus publish error: %v", err)
		}
	}()

	logger.Info("CAN bridge on %s talking to driver node %d", device, b.node)
	return b, nil
}

func (b *CANBridge) frameID(base uint32) uint32 {
	return base | uint32(b.node)
}

func (b *CANBridge) SetDriveLine(pin motor.Pin, level motor.Level) error {
	frame := packFrame(b.frameID(CANDriveLineFrameBase), []byte{byte(pin), byte(level)})
	debugFrame(b.logger, "TX", frame)
	return b.bus.Publish(frame)
}

// RegisterRisingEdgeCallback asks the node to report edges on pin. The
// callback runs on the CAN receive goroutine and must not block.
func (b *CANBridge) RegisterRisingEdgeCallback(pin motor.Pin, callback func()) error {
	b.mu.Lock()
	b.edges[pin] = callback
	b.mu.Unlock()

	frame := packFrame(b.frameID(CANEdgeWatchFrameBase), []byte{byte(pin), 1})
	debugFrame(b.logger, "TX", frame)
	if err := b.bus.Publish(frame); err != nil {
		b.mu.Lock()
		delete(b.edges, pin)
		b.mu.Unlock()
		return fmt.Errorf("failed to request edge reports for pin %d: %w", pin, err)
	}

	return nil
}

// Handle implements can.Handler
func (b *CANBridge) Handle(frame can.Frame) {
	switch frame.ID {
	case b.frameID(CANEdgeFrameBase):
		debugFrame(b.logger, "RX", frame)
		b.handleEdge(frame)
	case b.frameID(CANSupplyFrameBase):
		debugFrame(b.logger, "RX", frame)
		b.handleSupply(frame)
	}
}

func (b *CANBridge) handleEdge(frame can.Frame) {
	if frame.Length < 1 {
		return
	}

	b.mu.Lock()
	cb := b.edges[motor.Pin(frame.Data[0])]
	b.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (b *CANBridge) handleSupply(frame can.Frame) {
	if frame.Length < 4 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.voltage = float64(binary.BigEndian.Uint16(frame.Data[0:2])) * 0.01
	b.current = float64(int16(binary.BigEndian.Uint16(frame.Data[2:4]))) * 0.01
	b.lastSupply = b.now()
}

// ReadBusVoltage returns the last supply voltage reported by the node
func (b *CANBridge) ReadBusVoltage() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale() {
		return 0, ErrSupplyStale
	}
	return b.voltage, nil
}

// ReadCurrent returns the last supply current reported by the node
func (b *CANBridge) ReadCurrent() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale() {
		return 0, ErrSupplyStale
	}
	return b.current, nil
}

func (b *CANBridge) stale() bool {
	return b.lastSupply.IsZero() || b.now().Sub(b.lastSupply) > CANSupplyTimeout
}

func (b *CANBridge) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

func packFrame(id uint32, data []byte) can.Frame {
	var frameData [8]byte
	copy(frameData[:], data)
	return can.Frame{
		ID:     id,
		Length: uint8(len(data)),
		Flags:  0,
		Data:   frameData,
	}
}

// debugFrame logs the frame if the logger supports CAN tracing
func debugFrame(logger motor.Logger, direction string, frame can.Frame) {
	if l, ok := logger.(interface {
		DebugCAN(direction string, id uint32, data []byte, length uint8)
	}); ok {
		l.DebugCAN(direction, frame.ID, frame.Data[:], frame.Length)
	}
}
