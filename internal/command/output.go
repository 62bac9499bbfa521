package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/bloompod/internal/diag"
	"github.com/chaz8081/bloompod/internal/pod"
)

// ErrActuatorNotReady reports that the PWM device is absent.
var ErrActuatorNotReady = errors.New("command: actuator not ready")

// Actuator drives the motor.
type Actuator interface {
	// Ready reports whether the output device can be driven.
	Ready() error
	// SetPulseWidth applies a pulse width in nanoseconds.
	SetPulseWidth(ns uint32) error
}

// Output applies the actuator target to the motor whenever the dispatcher
// accepts a command. It keeps pulse-width writes off the BLE callback path.
type Output struct {
	state   *pod.State
	updates <-chan struct{}
	act     Actuator
	events  diag.Emitter
}

// NewOutput creates an Output fed by updates, usually Dispatcher.Updates().
func NewOutput(state *pod.State, updates <-chan struct{}, act Actuator, events diag.Emitter) *Output {
	if events == nil {
		events = diag.Discard
	}
	return &Output{state: state, updates: updates, act: act, events: events}
}

// Run drives the actuator until ctx is cancelled. It returns an error
// wrapping ErrActuatorNotReady if the device is missing at start or goes
// away later; other output errors are logged and the next update retried.
func (o *Output) Run(ctx context.Context) error {
	if err := o.act.Ready(); err != nil {
		return o.stop(fmt.Errorf("%w: %w", ErrActuatorNotReady, err))
	}

	if err := o.apply(); err != nil {
		return o.stop(err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("[CMD] actuator output stopped")
			return nil
		case <-o.updates:
			if err := o.apply(); err != nil {
				return o.stop(err)
			}
		}
	}
}

func (o *Output) apply() error {
	w := o.state.PulseWidth()
	err := o.act.SetPulseWidth(w)
	if err == nil {
		slog.Debug("[CMD] pulse width applied", "pulse_ns", w)
		return nil
	}
	if errors.Is(err, ErrActuatorNotReady) {
		return err
	}
	slog.Warn("[CMD] set pulse width failed", "pulse_ns", w, "error", err)
	return nil
}

func (o *Output) stop(err error) error {
	slog.Error("[CMD] actuator output exiting", "error", err)
	o.events.Emit(diag.New(diag.KindTaskStopped, map[string]any{"task": "actuator", "error": err.Error()}))
	return err
}
