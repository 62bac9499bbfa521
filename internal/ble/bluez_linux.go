//go:build linux

package ble

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/chaz8081/bloompod/internal/pod"
	"tinygo.org/x/bluetooth"
)

// BlueZPeripheral wraps tinygo-org/bluetooth on top of BlueZ.
//
// BlueZ keeps the CCC state itself and silently drops notifications for
// centrals that have not subscribed, without telling the application. This
// backend therefore reports notify characteristics as enabled for the
// lifetime of each connection.
type BlueZPeripheral struct {
	adapter *bluetooth.Adapter

	mu         sync.Mutex
	sink       EventSink
	chars      map[string]*bluetooth.Characteristic
	notifying  []string
	conn       pod.ConnHandle
	connected  bool
	adv        *bluetooth.Advertisement
	advertised bool
}

// NewBlueZPeripheral creates a peripheral on the default BlueZ adapter.
func NewBlueZPeripheral() *BlueZPeripheral {
	return &BlueZPeripheral{
		adapter: bluetooth.DefaultAdapter,
		chars:   make(map[string]*bluetooth.Characteristic),
	}
}

// Compile-time check that BlueZPeripheral implements Peripheral.
var _ Peripheral = (*BlueZPeripheral)(nil)

func (p *BlueZPeripheral) Enable() error {
	if err := p.adapter.Enable(); err != nil {
		return err
	}
	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		h := pod.ConnHandle(strings.ToLower(device.Address.String()))

		p.mu.Lock()
		sink := p.sink
		if connected {
			p.conn, p.connected = h, true
		} else if p.conn == h {
			p.connected = false
		}
		notifying := append([]string(nil), p.notifying...)
		p.mu.Unlock()

		if sink == nil {
			return
		}
		if !connected {
			sink.OnDisconnected(h, 0)
			return
		}
		sink.OnConnected(h, 0)
		for _, id := range notifying {
			sink.OnCCCChanged(id, CCCNotify)
		}
	})
	return nil
}

// parseUUID accepts the four-hex-digit short form as well as full UUIDs.
func parseUUID(s string) (bluetooth.UUID, error) {
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(s)
}

func permissions(cd CharacteristicDef) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if cd.Props&PropRead != 0 {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if cd.Props&PropWrite != 0 {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if cd.Props&PropWriteNoResponse != 0 {
		flags |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if cd.Props&PropNotify != 0 {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	return flags
}

func (p *BlueZPeripheral) Register(sink EventSink, services ...ServiceDef) error {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	for _, def := range services {
		svcUUID, err := parseUUID(def.UUID)
		if err != nil {
			return fmt.Errorf("ble: service %q: %w", def.Name, err)
		}

		configs := make([]bluetooth.CharacteristicConfig, 0, len(def.Characteristics))
		for _, cd := range def.Characteristics {
			charUUID, err := parseUUID(cd.UUID)
			if err != nil {
				return fmt.Errorf("ble: characteristic %q: %w", cd.Name, err)
			}
			handle := &bluetooth.Characteristic{}
			id := cd.UUID

			cfg := bluetooth.CharacteristicConfig{
				Handle: handle,
				UUID:   charUUID,
				Value:  cd.Value,
				Flags:  permissions(cd),
			}
			if cd.Props&(PropWrite|PropWriteNoResponse) != 0 {
				cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
					p.mu.Lock()
					h := p.conn
					p.mu.Unlock()
					sink.OnCommandWrite(WriteRequest{
						Conn:     h,
						CharUUID: id,
						Data:     append([]byte(nil), value...),
						Offset:   offset,
					})
				}
			}
			configs = append(configs, cfg)

			p.mu.Lock()
			p.chars[id] = handle
			if cd.Props&PropNotify != 0 {
				p.notifying = append(p.notifying, id)
			}
			p.mu.Unlock()
		}

		if err := p.adapter.AddService(&bluetooth.Service{
			UUID:            svcUUID,
			Characteristics: configs,
		}); err != nil {
			return fmt.Errorf("ble: add service %q: %w", def.Name, err)
		}
	}
	return nil
}

func (p *BlueZPeripheral) StartAdvertising(adv Advertisement) error {
	uuids := make([]bluetooth.UUID, 0, len(adv.ServiceUUIDs))
	for _, s := range adv.ServiceUUIDs {
		u, err := parseUUID(s)
		if err != nil {
			return err
		}
		uuids = append(uuids, u)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.adv == nil {
		p.adv = p.adapter.DefaultAdvertisement()
		if err := p.adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    adv.LocalName,
			ServiceUUIDs: uuids,
		}); err != nil {
			p.adv = nil
			return fmt.Errorf("ble: configure advertisement: %w", err)
		}
	}
	// BlueZ may still hold the previous registration after a disconnect.
	if p.advertised {
		if err := p.adv.Stop(); err != nil {
			slog.Debug("[BLE] stop stale advertisement", "error", err)
		}
	}
	if err := p.adv.Start(); err != nil {
		p.advertised = false
		return err
	}
	p.advertised = true
	return nil
}

func (p *BlueZPeripheral) Notify(h pod.ConnHandle, charUUID string, payload []byte) error {
	p.mu.Lock()
	c, ok := p.chars[charUUID]
	live := p.connected && p.conn == h
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charUUID)
	}
	if !live {
		return ErrNotConnected
	}
	_, err := c.Write(payload)
	return err
}

func (p *BlueZPeripheral) SetValue(charUUID string, value []byte) error {
	p.mu.Lock()
	c, ok := p.chars[charUUID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charUUID)
	}
	_, err := c.Write(value)
	return err
}

func (p *BlueZPeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adv != nil && p.advertised {
		p.advertised = false
		return p.adv.Stop()
	}
	return nil
}
