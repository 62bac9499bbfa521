package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/chaz8081/bloompod/internal/sensor"
)

// DefaultSensorAddress is the pressure bridge's I2C address.
const DefaultSensorAddress = 0x28

// I2CSensor reads raw pressure samples from an I2C device.
type I2CSensor struct {
	busName string
	addr    uint16

	mu  sync.Mutex
	bus i2c.BusCloser
	dev *i2c.Dev
}

// NewI2CSensor creates a sensor on busName ("" selects the first bus). The
// bus is opened by Ready.
func NewI2CSensor(busName string, addr uint16) *I2CSensor {
	return &I2CSensor{busName: busName, addr: addr}
}

// Ready opens the bus. Failures wrap sensor.ErrBusNotReady.
func (s *I2CSensor) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return nil
	}
	if err := initHost(); err != nil {
		return fmt.Errorf("%w: %w", sensor.ErrBusNotReady, err)
	}
	bus, err := i2creg.Open(s.busName)
	if err != nil {
		return fmt.Errorf("%w: open i2c bus %q: %w", sensor.ErrBusNotReady, s.busName, err)
	}
	s.bus = bus
	s.dev = &i2c.Dev{Addr: s.addr, Bus: bus}
	return nil
}

// Read fills p with one sample.
func (s *I2CSensor) Read(p []byte) error {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()
	if dev == nil {
		return sensor.ErrBusNotReady
	}
	if err := dev.Tx(nil, p); err != nil {
		return fmt.Errorf("hw: i2c read 0x%02x: %w", s.addr, err)
	}
	return nil
}

// Close releases the bus.
func (s *I2CSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus, s.dev = nil, nil
	return err
}
