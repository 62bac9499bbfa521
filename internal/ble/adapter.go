// Package ble implements the pod's BLE GATT peripheral: the service
// definition, the connection lifecycle, notification subscription tracking,
// and the link-layer backends that carry it over HCI or BlueZ.
package ble

import (
	"errors"

	"github.com/chaz8081/bloompod/internal/pod"
)

// Client Characteristic Configuration values.
const (
	CCCDisabled uint16 = 0x0000
	CCCNotify   uint16 = 0x0001
	CCCIndicate uint16 = 0x0002
)

var (
	// ErrNotConnected is returned by Notify when the handle has no live link.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrNotSubscribed is returned by Notify when the peer has not enabled
	// notifications on the characteristic.
	ErrNotSubscribed = errors.New("ble: characteristic not subscribed")
	// ErrUnknownCharacteristic is returned for a UUID that was never registered.
	ErrUnknownCharacteristic = errors.New("ble: unknown characteristic")
)

// WriteRequest is a characteristic write delivered by the link layer.
type WriteRequest struct {
	Conn     pod.ConnHandle
	CharUUID string
	Data     []byte
	Offset   int
	Flags    uint8
}

// EventSink receives link-layer events. Methods are called from the link
// layer's own goroutines and must return without blocking.
type EventSink interface {
	// OnConnected reports a connection attempt; status 0 means success.
	OnConnected(h pod.ConnHandle, status uint8)
	// OnDisconnected reports that the link identified by h is gone.
	OnDisconnected(h pod.ConnHandle, reason uint8)
	// OnCCCChanged reports a CCC descriptor write for a notify characteristic.
	OnCCCChanged(charUUID string, value uint16)
	// OnCommandWrite reports a write to a writable characteristic.
	OnCommandWrite(req WriteRequest)
}

// Peripheral abstracts the BLE link layer for testing.
type Peripheral interface {
	// Enable powers on the adapter. Failure aborts startup.
	Enable() error
	// Register publishes the services and routes their events to sink.
	Register(sink EventSink, services ...ServiceDef) error
	// StartAdvertising starts connectable advertising.
	StartAdvertising(adv Advertisement) error
	// Notify pushes payload to the peer behind h on the given characteristic.
	Notify(h pod.ConnHandle, charUUID string, payload []byte) error
	// SetValue replaces a characteristic's readable value and notifies any
	// subscriber the backend tracks on its own.
	SetValue(charUUID string, value []byte) error
	// Close releases the adapter.
	Close() error
}
