// Package command validates motor commands written over BLE and applies
// them to the actuator target.
package command

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/bloompod/internal/diag"
	"github.com/chaz8081/bloompod/internal/pod"
)

// Accepted command range, inclusive.
const (
	MinCommand = 10
	MaxCommand = 40
)

// ErrInvalidCommand is returned for payloads outside [MinCommand, MaxCommand].
var ErrInvalidCommand = errors.New("command: invalid command")

// Dispatcher turns motor characteristic writes into pulse-width targets.
//
// Only byte 0 of a payload is interpreted. A rejected command is reported as
// a diagnostic event and never as a GATT error: the peer always sees its
// write succeed.
type Dispatcher struct {
	state   *pod.State
	step    uint32
	events  diag.Emitter
	updates chan struct{}
}

// NewDispatcher creates a Dispatcher mapping command v to
// step*v + state.Limits().Min nanoseconds. It fails if MaxCommand would land
// above the pulse limit.
func NewDispatcher(state *pod.State, step uint32, events diag.Emitter) (*Dispatcher, error) {
	limits := state.Limits()
	if top := uint64(step)*MaxCommand + uint64(limits.Min); top > uint64(limits.Max) {
		return nil, fmt.Errorf("command: step %d puts command %d at %dns, above max pulse %d", step, MaxCommand, top, limits.Max)
	}
	if events == nil {
		events = diag.Discard
	}
	return &Dispatcher{
		state:   state,
		step:    step,
		events:  events,
		updates: make(chan struct{}, 1),
	}, nil
}

// Updates delivers a signal after each accepted command. Signals coalesce:
// the receiver should read the current target from pod.State.
func (d *Dispatcher) Updates() <-chan struct{} {
	return d.updates
}

// PulseFor returns the pulse width for command value v.
func (d *Dispatcher) PulseFor(v uint8) (uint32, error) {
	if v < MinCommand || v > MaxCommand {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCommand, v, MinCommand, MaxCommand)
	}
	return d.step*uint32(v) + d.state.Limits().Min, nil
}

// HandleCommand parses and applies one write payload. It never blocks.
func (d *Dispatcher) HandleCommand(session string, data []byte) {
	if len(data) == 0 {
		d.reject(session, nil, errors.New("empty payload"))
		return
	}
	v := data[0]

	pulse, err := d.PulseFor(v)
	if err != nil {
		d.reject(session, &v, err)
		return
	}
	if err := d.state.SetPulseWidth(pulse); err != nil {
		d.reject(session, &v, err)
		return
	}

	slog.Info("[CMD] motor command accepted", "value", v, "pulse_ns", pulse)
	ev := diag.New(diag.KindCommandAccepted, map[string]any{"value": v, "pulse_ns": pulse})
	ev.Session = session
	d.events.Emit(ev)

	select {
	case d.updates <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) reject(session string, v *uint8, err error) {
	fields := map[string]any{"error": err.Error()}
	if v != nil {
		fields["value"] = *v
		slog.Warn("[CMD] invalid command", "value", *v, "error", err)
	} else {
		slog.Warn("[CMD] invalid command", "error", err)
	}
	ev := diag.New(diag.KindCommandRejected, fields)
	ev.Session = session
	d.events.Emit(ev)
}
