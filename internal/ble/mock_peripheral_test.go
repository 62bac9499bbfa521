package ble

import (
	"sync"
	"testing"

	"github.com/chaz8081/bloompod/internal/pod"
)

type notifyCall struct {
	conn     pod.ConnHandle
	charUUID string
	payload  []byte
}

// mockPeripheral records link-layer calls and lets tests inject errors.
type mockPeripheral struct {
	mu        sync.Mutex
	enableErr error
	advErr    error
	notifyErr error
	sink      EventSink
	services  []ServiceDef
	advStarts int
	notifies  []notifyCall
	values    map[string][]byte
	closed    bool
}

func newMockPeripheral() *mockPeripheral {
	return &mockPeripheral{values: make(map[string][]byte)}
}

func (p *mockPeripheral) Enable() error { return p.enableErr }

func (p *mockPeripheral) Register(sink EventSink, services ...ServiceDef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
	p.services = append(p.services, services...)
	return nil
}

func (p *mockPeripheral) StartAdvertising(Advertisement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advErr != nil {
		return p.advErr
	}
	p.advStarts++
	return nil
}

func (p *mockPeripheral) Notify(h pod.ConnHandle, charUUID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.notifies = append(p.notifies, notifyCall{conn: h, charUUID: charUUID, payload: cp})
	return p.notifyErr
}

func (p *mockPeripheral) SetValue(charUUID string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[charUUID] = append([]byte(nil), value...)
	return nil
}

func (p *mockPeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *mockPeripheral) notifyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.notifies)
}

func (p *mockPeripheral) advStartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advStarts
}

// recordingHandler records command payloads.
type recordingHandler struct {
	mu       sync.Mutex
	sessions []string
	payloads [][]byte
}

func (h *recordingHandler) HandleCommand(session string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, session)
	h.payloads = append(h.payloads, data)
}

func TestMockPeripheralImplementsInterface(t *testing.T) {
	var _ Peripheral = (*mockPeripheral)(nil)
}
