package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"

	"github.com/chaz8081/bloompod/internal/command"
)

// DefaultPWMFrequency is the servo-style 50Hz motor drive.
const DefaultPWMFrequency = 50

// PWMMotor drives the motor with a hardware PWM pin.
type PWMMotor struct {
	pinName string
	freqHz  uint32

	mu  sync.Mutex
	pin gpio.PinIO
}

// NewPWMMotor creates a motor on the named pin. The pin is resolved by Ready.
func NewPWMMotor(pinName string, freqHz uint32) *PWMMotor {
	if freqHz == 0 {
		freqHz = DefaultPWMFrequency
	}
	return &PWMMotor{pinName: pinName, freqHz: freqHz}
}

// Ready resolves the pin. Failures wrap command.ErrActuatorNotReady.
func (m *PWMMotor) Ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pin != nil {
		return nil
	}
	if err := initHost(); err != nil {
		return fmt.Errorf("%w: %w", command.ErrActuatorNotReady, err)
	}
	pin := gpioreg.ByName(m.pinName)
	if pin == nil {
		return fmt.Errorf("%w: no pin %q", command.ErrActuatorNotReady, m.pinName)
	}
	m.pin = pin
	return nil
}

// SetPulseWidth drives a pulse of ns nanoseconds every PWM period.
func (m *PWMMotor) SetPulseWidth(ns uint32) error {
	m.mu.Lock()
	pin := m.pin
	m.mu.Unlock()
	if pin == nil {
		return command.ErrActuatorNotReady
	}
	duty, err := DutyFor(ns, m.freqHz)
	if err != nil {
		return err
	}
	if err := pin.PWM(duty, physic.Frequency(m.freqHz)*physic.Hertz); err != nil {
		return fmt.Errorf("hw: pwm %s: %w", m.pinName, err)
	}
	return nil
}

// Halt stops the PWM output.
func (m *PWMMotor) Halt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pin == nil {
		return nil
	}
	return m.pin.Halt()
}

// DutyFor converts a pulse width to a duty cycle at freqHz.
func DutyFor(ns, freqHz uint32) (gpio.Duty, error) {
	if freqHz == 0 {
		return 0, fmt.Errorf("hw: zero pwm frequency")
	}
	period := uint64(1_000_000_000) / uint64(freqHz)
	if uint64(ns) > period {
		return 0, fmt.Errorf("hw: pulse %dns exceeds %dns period", ns, period)
	}
	return gpio.Duty(uint64(gpio.DutyMax) * uint64(ns) / period), nil
}
