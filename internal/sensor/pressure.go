// Package sensor polls the pod's pressure sensor and publishes decoded
// readings as force notifications.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/bloompod/internal/diag"
	"github.com/chaz8081/bloompod/internal/task"
)

// ErrBusNotReady reports that the sensor bus or device is absent. It ends
// the polling task instead of being retried.
var ErrBusNotReady = errors.New("sensor: bus not ready")

// Sample layout and transfer function of the pressure bridge.
const (
	SampleSize = 3
	Offset     = 8192
	Scale      = -3
)

// Bus is a blocking sensor transport, typically an I2C device.
type Bus interface {
	// Ready reports whether the device can be read.
	Ready() error
	// Read fills p with one sample.
	Read(p []byte) error
}

// Notifier publishes a decoded reading. It returns nil when nobody listens.
type Notifier interface {
	SendPressure(v int32) error
}

// Decode converts a raw sample to signed pressure units. Bytes 0 and 1 form
// a big-endian magnitude; the remaining bytes are ignored.
func Decode(sample []byte) (int32, error) {
	if len(sample) < 2 {
		return 0, fmt.Errorf("sensor: sample is %d bytes, need at least 2", len(sample))
	}
	raw := int32(sample[0])<<8 | int32(sample[1])
	return (raw - Offset) * Scale, nil
}

// PollerOptions configures the polling cadence.
type PollerOptions struct {
	Interval     time.Duration // sleep before each read
	RetryBackoff time.Duration // delay before the single retry of a failed read
}

// DefaultPollerOptions returns the 10ms cadence with a 2ms retry backoff.
func DefaultPollerOptions() PollerOptions {
	return PollerOptions{
		Interval:     10 * time.Millisecond,
		RetryBackoff: 2 * time.Millisecond,
	}
}

// Poller reads the sensor on a fixed interval and forwards each reading.
type Poller struct {
	bus      Bus
	notifier Notifier
	events   diag.Emitter
	opts     PollerOptions
	buf      [SampleSize]byte
}

// NewPoller creates a Poller. A nil events emitter discards events.
func NewPoller(bus Bus, notifier Notifier, events diag.Emitter, opts PollerOptions) *Poller {
	if events == nil {
		events = diag.Discard
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollerOptions().Interval
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	return &Poller{bus: bus, notifier: notifier, events: events, opts: opts}
}

// Run polls until ctx is cancelled. If the bus is not ready, at start or
// later, Run logs and returns an error wrapping ErrBusNotReady.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.bus.Ready(); err != nil {
		return p.stop(fmt.Errorf("%w: %w", ErrBusNotReady, err))
	}
	slog.Info("[SENSOR] polling", "interval", p.opts.Interval)

	if err := task.Every(ctx, p.opts.Interval, p.Poll); err != nil {
		return p.stop(err)
	}
	slog.Info("[SENSOR] stopped")
	return nil
}

func (p *Poller) stop(err error) error {
	slog.Error("[SENSOR] polling task exiting", "error", err)
	p.events.Emit(diag.New(diag.KindTaskStopped, map[string]any{"task": "sensor", "error": err.Error()}))
	return err
}

// Poll performs one cycle: read, decode, notify. A transient read failure
// is retried once and then the cycle is skipped; only ErrBusNotReady is
// returned.
func (p *Poller) Poll(ctx context.Context) error {
	if err := p.read(ctx); err != nil {
		if errors.Is(err, ErrBusNotReady) {
			return err
		}
		slog.Warn("[SENSOR] read failed, skipping cycle", "error", err)
		return nil
	}

	v, err := Decode(p.buf[:])
	if err != nil {
		slog.Warn("[SENSOR] decode failed", "error", err)
		return nil
	}
	p.events.Emit(diag.New(diag.KindPressure, map[string]any{"value": v}))

	if err := p.notifier.SendPressure(v); err != nil {
		slog.Warn("[SENSOR] notify failed", "value", v, "error", err)
	}
	return nil
}

func (p *Poller) read(ctx context.Context) error {
	err := p.bus.Read(p.buf[:])
	if err == nil || errors.Is(err, ErrBusNotReady) {
		return err
	}
	slog.Debug("[SENSOR] read failed, retrying", "error", err, "backoff", p.opts.RetryBackoff)

	select {
	case <-ctx.Done():
		return err
	case <-time.After(p.opts.RetryBackoff):
	}
	return p.bus.Read(p.buf[:])
}
