//go:build linux

package ble

import "fmt"

// NewPeripheral returns the backend named by backend: "hci" for a raw HCI
// socket through go-ble, "bluez" for BlueZ over D-Bus through tinygo.
func NewPeripheral(backend string, adapterID int) (Peripheral, error) {
	switch backend {
	case "hci":
		return NewHCIPeripheral(adapterID), nil
	case "bluez":
		return NewBlueZPeripheral(), nil
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}
