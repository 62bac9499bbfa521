//go:build linux

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/chaz8081/bloompod/internal/pod"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/evt"
)

// HCIPeripheral drives a raw HCI adapter through go-ble. It sees the CCC
// writes itself: go-ble calls a notify handler when a client subscribes and
// cancels the handler's context when it unsubscribes or drops.
type HCIPeripheral struct {
	adapterID int
	dev       *linux.Device

	mu        sync.Mutex
	sink      EventSink
	handles   map[uint16]pod.ConnHandle
	notifiers map[string]hciNotifier
	values    map[string][]byte
	advCtx    context.Context
	advCancel context.CancelFunc
}

type hciNotifier struct {
	conn pod.ConnHandle
	ntf  ble.Notifier
}

// NewHCIPeripheral creates a peripheral on adapter hci<adapterID>.
func NewHCIPeripheral(adapterID int) *HCIPeripheral {
	return &HCIPeripheral{
		adapterID: adapterID,
		handles:   make(map[uint16]pod.ConnHandle),
		notifiers: make(map[string]hciNotifier),
		values:    make(map[string][]byte),
	}
}

// Compile-time check that HCIPeripheral implements Peripheral.
var _ Peripheral = (*HCIPeripheral)(nil)

func (p *HCIPeripheral) Enable() error {
	d, err := linux.NewDevice(
		ble.OptDeviceID(p.adapterID),
		ble.OptConnectHandler(p.onConnect),
		ble.OptDisconnectHandler(p.onDisconnect),
	)
	if err != nil {
		return fmt.Errorf("ble: open hci%d: %w", p.adapterID, err)
	}
	p.dev = d
	return nil
}

// peerHandle formats a peer address the way go-ble's Conn.RemoteAddr does,
// so handles from HCI events and from ATT requests compare equal.
func peerHandle(addr [6]byte) pod.ConnHandle {
	mac := make(net.HardwareAddr, len(addr))
	for i := range addr {
		mac[i] = addr[len(addr)-1-i]
	}
	return pod.ConnHandle(mac.String())
}

func connHandle(c ble.Conn) pod.ConnHandle {
	return pod.ConnHandle(c.RemoteAddr().String())
}

func (p *HCIPeripheral) onConnect(e evt.LEConnectionComplete) {
	h := peerHandle(e.PeerAddress())

	p.mu.Lock()
	if e.Status() == 0 {
		p.handles[e.ConnectionHandle()] = h
		// The controller stops advertising on connect; release our loop.
		if p.advCancel != nil {
			p.advCancel()
			p.advCancel = nil
			p.advCtx = nil
		}
	}
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		sink.OnConnected(h, e.Status())
	}
}

func (p *HCIPeripheral) onDisconnect(e evt.DisconnectionComplete) {
	p.mu.Lock()
	h, ok := p.handles[e.ConnectionHandle()]
	delete(p.handles, e.ConnectionHandle())
	for uuid, n := range p.notifiers {
		if n.conn == h {
			delete(p.notifiers, uuid)
		}
	}
	sink := p.sink
	p.mu.Unlock()

	if !ok {
		h = pod.ConnHandle(fmt.Sprintf("hci-handle-%#04x", e.ConnectionHandle()))
	}
	if sink != nil {
		sink.OnDisconnected(h, e.Reason())
	}
}

func (p *HCIPeripheral) Register(sink EventSink, services ...ServiceDef) error {
	if p.dev == nil {
		return errors.New("ble: adapter not enabled")
	}
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	for _, def := range services {
		svcUUID, err := ble.Parse(def.UUID)
		if err != nil {
			return fmt.Errorf("ble: service %q: %w", def.Name, err)
		}
		svc := ble.NewService(svcUUID)
		for _, cd := range def.Characteristics {
			if err := p.addCharacteristic(svc, cd, sink); err != nil {
				return err
			}
		}
		if err := p.dev.AddService(svc); err != nil {
			return fmt.Errorf("ble: add service %q: %w", def.Name, err)
		}
	}
	return nil
}

func (p *HCIPeripheral) addCharacteristic(svc *ble.Service, cd CharacteristicDef, sink EventSink) error {
	charUUID, err := ble.Parse(cd.UUID)
	if err != nil {
		return fmt.Errorf("ble: characteristic %q: %w", cd.Name, err)
	}
	c := svc.NewCharacteristic(charUUID)
	id := cd.UUID

	if cd.Value != nil {
		p.mu.Lock()
		p.values[id] = append([]byte(nil), cd.Value...)
		p.mu.Unlock()
	}

	if cd.Props&PropRead != 0 {
		c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			p.mu.Lock()
			v := p.values[id]
			p.mu.Unlock()
			if _, err := rsp.Write(v); err != nil {
				slog.Warn("[BLE] read response failed", "char", id, "error", err)
			}
		}))
	}

	if cd.Props&(PropWrite|PropWriteNoResponse) != 0 {
		c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			sink.OnCommandWrite(WriteRequest{
				Conn:     connHandle(req.Conn()),
				CharUUID: id,
				Data:     append([]byte(nil), req.Data()...),
				Offset:   req.Offset(),
			})
		}))
	}

	if cd.Props&PropNotify != 0 {
		c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, ntf ble.Notifier) {
			h := connHandle(req.Conn())
			p.mu.Lock()
			p.notifiers[id] = hciNotifier{conn: h, ntf: ntf}
			p.mu.Unlock()
			sink.OnCCCChanged(id, CCCNotify)

			<-ntf.Context().Done()

			p.mu.Lock()
			if n, ok := p.notifiers[id]; ok && n.ntf == ntf {
				delete(p.notifiers, id)
			}
			p.mu.Unlock()
			sink.OnCCCChanged(id, CCCDisabled)
		}))
	}
	return nil
}

func (p *HCIPeripheral) StartAdvertising(adv Advertisement) error {
	if p.dev == nil {
		return errors.New("ble: adapter not enabled")
	}
	uuids := make([]ble.UUID, 0, len(adv.ServiceUUIDs))
	for _, s := range adv.ServiceUUIDs {
		u, err := ble.Parse(s)
		if err != nil {
			return fmt.Errorf("ble: advertised UUID %q: %w", s, err)
		}
		uuids = append(uuids, u)
	}

	p.mu.Lock()
	if p.advCancel != nil {
		p.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.advCtx, p.advCancel = ctx, cancel
	p.mu.Unlock()

	go func() {
		err := p.dev.AdvertiseNameAndServices(ctx, adv.LocalName, uuids...)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("[BLE] advertising stopped", "error", err)
		}
		p.mu.Lock()
		if p.advCtx == ctx {
			p.advCancel()
			p.advCtx, p.advCancel = nil, nil
		}
		p.mu.Unlock()
	}()
	return nil
}

func (p *HCIPeripheral) Notify(h pod.ConnHandle, charUUID string, payload []byte) error {
	p.mu.Lock()
	n, ok := p.notifiers[charUUID]
	p.mu.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	if n.conn != h {
		return ErrNotConnected
	}
	_, err := n.ntf.Write(payload)
	return err
}

func (p *HCIPeripheral) SetValue(charUUID string, value []byte) error {
	p.mu.Lock()
	if _, ok := p.values[charUUID]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charUUID)
	}
	p.values[charUUID] = append([]byte(nil), value...)
	n, subscribed := p.notifiers[charUUID]
	p.mu.Unlock()

	if !subscribed {
		return nil
	}
	_, err := n.ntf.Write(value)
	return err
}

func (p *HCIPeripheral) Close() error {
	p.mu.Lock()
	if p.advCancel != nil {
		p.advCancel()
		p.advCtx, p.advCancel = nil, nil
	}
	p.mu.Unlock()
	if p.dev == nil {
		return nil
	}
	return p.dev.Stop()
}
