package monitor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
)

const (
	INA219DefaultAddress = 0x40
	INA219DefaultDevice  = "/dev/i2c-1"

	ina219RegConfig      = 0x00
	ina219RegShunt       = 0x01
	ina219RegBusVoltage  = 0x02
	ina219RegPower       = 0x03
	ina219RegCurrent     = 0x04
	ina219RegCalibration = 0x05

	// 32V range, /8 gain, 12-bit bus and shunt ADC, continuous shunt and bus
	ina219ConfigContinuous = 0x2000 | 0x1800 | 0x0180 | 0x0018 | 0x0007

	// Bus voltage register bits 15:3, 4mV per LSB
	ina219BusVoltageLSB = 0.004
	// Power LSB is a fixed multiple of the current LSB
	ina219PowerLSBFactor = 20

	INA219DefaultCalibration = 4096
	INA219DefaultCurrentLSB  = 0.0001 // A
)

// PowerSensor reads the motor supply
type PowerSensor interface {
	ReadBusVoltage() (float64, error)
	ReadCurrent() (float64, error)
}

// PowerMeter is a PowerSensor that measures power itself
type PowerMeter interface {
	ReadPower() (float64, error)
}

// INA219 is a high-side current/voltage monitor on an I2C bus
type INA219 struct {
	mu         sync.Mutex
	dev        *i2c.Device
	currentLSB float64
}

// OpenINA219 opens the device, writes the configuration and calibration
func OpenINA219(devPath string, addr int, calibration uint16, currentLSB float64) (*INA219, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: devPath}, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open INA219 at %s/0x%02X: %w", devPath, addr, err)
	}

	if currentLSB <= 0 {
		currentLSB = INA219DefaultCurrentLSB
	}

	s := &INA219{dev: dev, currentLSB: currentLSB}

	if err := s.writeRegister(ina219RegConfig, ina219ConfigContinuous); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to configure INA219: %w", err)
	}
	if err := s.writeRegister(ina219RegCalibration, calibration); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to calibrate INA219: %w", err)
	}

	return s, nil
}

// ReadBusVoltage returns the bus voltage in volts
func (s *INA219) ReadBusVoltage() (float64, error) {
	raw, err := s.readRegister(ina219RegBusVoltage)
	if err != nil {
		return 0, fmt.Errorf("failed to read bus voltage: %w", err)
	}
	return decodeBusVoltage(raw), nil
}

// ReadCurrent returns the shunt current in amps
func (s *INA219) ReadCurrent() (float64, error) {
	raw, err := s.readRegister(ina219RegCurrent)
	if err != nil {
		return 0, fmt.Errorf("failed to read current: %w", err)
	}
	return decodeCurrent(raw, s.currentLSB), nil
}

// ReadPower returns the computed power in watts
func (s *INA219) ReadPower() (float64, error) {
	raw, err := s.readRegister(ina219RegPower)
	if err != nil {
		return 0, fmt.Errorf("failed to read power: %w", err)
	}
	return float64(raw) * ina219PowerLSBFactor * s.currentLSB, nil
}

func (s *INA219) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Close()
}

func (s *INA219) readRegister(reg byte) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 2)
	if err := s.dev.ReadReg(reg, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (s *INA219) writeRegister(reg byte, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, value)
	return s.dev.WriteReg(reg, buf)
}

func decodeBusVoltage(raw uint16) float64 {
	return float64(raw>>3) * ina219BusVoltageLSB
}

func decodeCurrent(raw uint16, lsb float64) float64 {
	return float64(int16(raw)) * lsb
}
