// Package diag carries diagnostic events out of the pod core. Events are
// the only way validation failures and subscription changes become visible
// outside the device, so every component reports through an Emitter.
package diag

import (
	"context"
	"log/slog"
	"time"
)

// Kind names a diagnostic event.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindConnectFailed   Kind = "connect_failed"
	KindDisconnected    Kind = "disconnected"
	KindAdvertising     Kind = "advertising"
	KindSubscribed      Kind = "subscribed"
	KindUnsubscribed    Kind = "unsubscribed"
	KindCommandAccepted Kind = "command_accepted"
	KindCommandRejected Kind = "command_rejected"
	KindPressure        Kind = "pressure"
	KindBattery         Kind = "battery"
	KindTaskStopped     Kind = "task_stopped"
)

// Event is one diagnostic record.
type Event struct {
	Kind    Kind           `json:"kind"`
	Time    time.Time      `json:"time"`
	Session string         `json:"session,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// New returns an event of kind k stamped with the current time.
func New(k Kind, fields map[string]any) Event {
	return Event{Kind: k, Time: time.Now(), Fields: fields}
}

// Emitter receives diagnostic events. Emit is called from BLE callbacks and
// must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Multi fans an event out to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// LogEmitter writes events to a slog logger. Pressure samples are logged at
// debug level since they arrive every sensor cycle.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter returns a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ev Event) {
	level := slog.LevelInfo
	switch ev.Kind {
	case KindPressure, KindBattery:
		level = slog.LevelDebug
	case KindCommandRejected, KindConnectFailed, KindTaskStopped:
		level = slog.LevelWarn
	}

	attrs := make([]any, 0, 2*len(ev.Fields)+2)
	if ev.Session != "" {
		attrs = append(attrs, "session", ev.Session)
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	l.logger.Log(context.Background(), level, "[DIAG] "+string(ev.Kind), attrs...)
}
