package ble

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/chaz8081/bloompod/internal/diag"
	"github.com/chaz8081/bloompod/internal/pod"
)

// CommandHandler applies motor command payloads. HandleCommand runs inside
// the write callback and must not block.
type CommandHandler interface {
	HandleCommand(session string, data []byte)
}

// Server is the pod's GATT server. It implements EventSink and owns the
// connection lifecycle: it creates and destroys the per-link state in
// pod.State, tracks the force subscription, and restarts advertising after
// every disconnect.
type Server struct {
	periph   Peripheral
	state    *pod.State
	commands CommandHandler
	events   diag.Emitter
	adv      Advertisement

	advertising atomic.Bool
}

// Compile-time check that Server implements EventSink.
var _ EventSink = (*Server)(nil)

// NewServer creates a Server. A nil events emitter discards events.
func NewServer(periph Peripheral, state *pod.State, commands CommandHandler, events diag.Emitter, adv Advertisement) *Server {
	if events == nil {
		events = diag.Discard
	}
	return &Server{
		periph:   periph,
		state:    state,
		commands: commands,
		events:   events,
		adv:      adv,
	}
}

// Start enables the adapter, registers services and starts advertising.
// Only an adapter or registration failure is returned; an advertising
// failure is logged and retried on the next disconnect.
func (s *Server) Start(services ...ServiceDef) error {
	for _, svc := range services {
		if err := svc.Validate(); err != nil {
			return err
		}
	}
	if err := s.periph.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	slog.Info("[BLE] adapter enabled")

	if err := s.periph.Register(s, services...); err != nil {
		return fmt.Errorf("ble: register services: %w", err)
	}

	if err := s.StartAdvertising(); err != nil {
		slog.Error("[BLE] advertising failed to start", "error", err)
	}
	return nil
}

// StartAdvertising starts advertising unless it is already running, in
// which case it is a no-op.
func (s *Server) StartAdvertising() error {
	if !s.advertising.CompareAndSwap(false, true) {
		slog.Debug("[BLE] already advertising")
		return nil
	}
	if err := s.periph.StartAdvertising(s.adv); err != nil {
		s.advertising.Store(false)
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	slog.Info("[BLE] advertising", "name", s.adv.LocalName)
	s.events.Emit(diag.New(diag.KindAdvertising, map[string]any{"name": s.adv.LocalName}))
	return nil
}

// Advertising reports whether the server believes advertising is active.
func (s *Server) Advertising() bool {
	return s.advertising.Load()
}

// OnConnected creates the connection state on success. A failed connection
// leaves advertising as it was.
func (s *Server) OnConnected(h pod.ConnHandle, status uint8) {
	if status != 0 {
		slog.Warn("[BLE] connection failed", "peer", h, "status", fmt.Sprintf("0x%02x", status))
		s.events.Emit(diag.New(diag.KindConnectFailed, map[string]any{"peer": string(h), "status": status}))
		return
	}

	// A connectable advertiser stops advertising once a central connects.
	s.advertising.Store(false)

	cs := s.state.Connect(h)
	slog.Info("[BLE] connected", "peer", h, "session", cs.Session)
	ev := diag.New(diag.KindConnected, map[string]any{"peer": string(h)})
	ev.Session = cs.Session.String()
	s.events.Emit(ev)
}

// OnDisconnected destroys the connection state, which clears the
// subscription, and restarts advertising.
func (s *Server) OnDisconnected(h pod.ConnHandle, reason uint8) {
	ev := diag.New(diag.KindDisconnected, map[string]any{"peer": string(h), "reason": reason})
	if cs, ok := s.state.Disconnect(h); ok {
		ev.Session = cs.Session.String()
	}
	slog.Info("[BLE] disconnected", "peer", h, "reason", fmt.Sprintf("0x%02x", reason))
	s.events.Emit(ev)

	if err := s.StartAdvertising(); err != nil {
		slog.Error("[BLE] advertising failed to restart", "error", err)
	}
}

// OnCCCChanged tracks the force characteristic subscription. Any value is
// accepted; only CCCNotify enables notifications.
func (s *Server) OnCCCChanged(charUUID string, value uint16) {
	if charUUID != ForceCharUUID {
		slog.Debug("[BLE] CCC changed", "char", charUUID, "value", value)
		return
	}

	on := value == CCCNotify
	cs, ok := s.state.SetSubscribed(on)
	if !ok {
		slog.Warn("[BLE] CCC write without a connection", "value", value)
		return
	}

	kind := diag.KindUnsubscribed
	if on {
		kind = diag.KindSubscribed
		slog.Info("[BLE] pressure notifications enabled", "session", cs.Session)
	} else {
		slog.Info("[BLE] pressure notifications disabled", "session", cs.Session)
	}
	ev := diag.New(kind, map[string]any{"char": charUUID, "value": value})
	ev.Session = cs.Session.String()
	s.events.Emit(ev)
}

// OnCommandWrite forwards motor characteristic writes to the command
// handler. The write itself always succeeds at the GATT level.
func (s *Server) OnCommandWrite(req WriteRequest) {
	if req.CharUUID != MotorCharUUID {
		slog.Debug("[BLE] ignoring write", "char", req.CharUUID, "len", len(req.Data))
		return
	}

	var session string
	if cs, ok := s.state.Connection(); ok {
		session = cs.Session.String()
	}
	s.commands.HandleCommand(session, req.Data)
}

// SendPressure notifies the subscribed client of a pressure value. It is a
// no-op returning nil when nobody is subscribed. Transport errors are
// returned unchanged.
func (s *Server) SendPressure(v int32) error {
	h, ok := s.state.NotifyTarget()
	if !ok {
		return nil
	}
	return s.periph.Notify(h, ForceCharUUID, EncodePressure(v))
}
