//go:build !linux

package ble

import "fmt"

// NewPeripheral is only implemented on Linux; both backends need a Linux
// Bluetooth stack.
func NewPeripheral(backend string, adapterID int) (Peripheral, error) {
	return nil, fmt.Errorf("ble: backend %q is not supported on this platform", backend)
}
