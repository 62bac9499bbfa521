// Package battery simulates battery drain for the Battery Service.
package battery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/bloompod/internal/diag"
	"github.com/chaz8081/bloompod/internal/task"
)

// Full is the level a drained battery wraps back to.
const Full = 100

// DefaultInterval is the drain cadence.
const DefaultInterval = time.Second

// Level is the reported battery percentage.
type Level interface {
	Level() uint8
	SetLevel(level uint8) error
}

// Step returns the level after one drain cycle. Reaching 0 wraps to Full, so
// the reported level stays within [1, 100].
func Step(level uint8) uint8 {
	if level <= 1 || level > Full {
		return Full
	}
	return level - 1
}

// Simulator decrements the battery level on a fixed interval.
type Simulator struct {
	level    Level
	events   diag.Emitter
	interval time.Duration
}

// NewSimulator creates a Simulator. A non-positive interval uses
// DefaultInterval.
func NewSimulator(level Level, events diag.Emitter, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if events == nil {
		events = diag.Discard
	}
	return &Simulator{level: level, events: events, interval: interval}
}

// Run drains the battery until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	slog.Info("[BATTERY] simulator started", "interval", s.interval, "level", s.level.Level())
	err := task.Every(ctx, s.interval, s.Tick)
	slog.Info("[BATTERY] simulator stopped")
	return err
}

// Tick performs one drain cycle. A failed write is logged and the cycle
// skipped; it never stops the simulator.
func (s *Simulator) Tick(context.Context) error {
	next := Step(s.level.Level())
	if err := s.level.SetLevel(next); err != nil {
		slog.Warn("[BATTERY] set level failed", "level", next, "error", fmt.Errorf("battery: %w", err))
		return nil
	}
	slog.Debug("[BATTERY] level", "level", next)
	s.events.Emit(diag.New(diag.KindBattery, map[string]any{"level": next}))
	return nil
}
