package hw

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/bloompod/internal/sensor"
)

// Ramp bounds of the simulated sensor, in decoded pressure units.
const (
	SimPeak = 8000
	SimStep = 100
)

// SimSensor produces a triangle wave between roughly -SimPeak and SimPeak,
// encoded as raw samples so readings go through sensor.Decode.
type SimSensor struct {
	mu       sync.Mutex
	pressure int32
	up       bool
}

// NewSimSensor creates a simulated sensor starting at zero pressure.
func NewSimSensor() *SimSensor {
	return &SimSensor{up: true}
}

// Ready always succeeds.
func (s *SimSensor) Ready() error { return nil }

// Read advances the ramp one step and encodes it into p.
func (s *SimSensor) Read(p []byte) error {
	s.mu.Lock()
	if s.pressure > SimPeak {
		s.up = false
	} else if s.pressure < -SimPeak {
		s.up = true
	}
	if s.up {
		s.pressure += SimStep
	} else {
		s.pressure -= SimStep
	}
	v := s.pressure
	s.mu.Unlock()

	Encode(v, p)
	return nil
}

// Encode writes the raw sample that decodes to v, rounded toward zero to a
// multiple of sensor.Scale.
func Encode(v int32, p []byte) {
	raw := uint16(v/sensor.Scale + sensor.Offset)
	if len(p) > 0 {
		p[0] = byte(raw >> 8)
	}
	if len(p) > 1 {
		p[1] = byte(raw)
	}
	for i := 2; i < len(p); i++ {
		p[i] = 0
	}
}

// LogActuator logs pulse widths instead of driving hardware.
type LogActuator struct {
	mu   sync.Mutex
	last uint32
}

// Ready always succeeds.
func (a *LogActuator) Ready() error { return nil }

// SetPulseWidth records and logs ns.
func (a *LogActuator) SetPulseWidth(ns uint32) error {
	a.mu.Lock()
	a.last = ns
	a.mu.Unlock()
	slog.Info("[CMD] motor pulse width", "pulse_ns", ns)
	return nil
}

// Last returns the most recent pulse width.
func (a *LogActuator) Last() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
