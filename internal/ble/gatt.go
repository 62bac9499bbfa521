package ble

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Pod GATT UUIDs.
const (
	ServiceUUID   = "f93f1b19-b069-437d-adb8-11e58aa15a6b"
	ForceCharUUID = "f93f1b1a-b069-437d-adb8-11e58aa15a6b"
	MotorCharUUID = "f93f1b1c-b069-437d-adb8-11e58aa15a6b"
)

// Standard 16-bit UUIDs.
const (
	HeartRateServiceUUID  = "180d"
	BatteryServiceUUID    = "180f"
	DeviceInfoServiceUUID = "180a"
	BatteryLevelCharUUID  = "2a19"
)

// PressurePayloadSize is the size of a force notification on the wire.
const PressurePayloadSize = 4

// Property is a characteristic property bit set.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
)

// Permission is an attribute permission bit set.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
)

// PermNone grants no access to the attribute value.
const PermNone Permission = 0

// CharacteristicDef declares one characteristic. Notify characteristics get
// a CCC descriptor with CCCPerms.
type CharacteristicDef struct {
	Name     string
	UUID     string
	Props    Property
	Perms    Permission
	CCCPerms Permission
	Value    []byte
}

// ServiceDef declares one primary service.
type ServiceDef struct {
	Name            string
	UUID            string
	Characteristics []CharacteristicDef
}

// Advertisement is the advertising payload. Both backends emit the
// general-discoverable, no-BR/EDR flags.
type Advertisement struct {
	LocalName    string
	ServiceUUIDs []string
}

// PodService returns the pod sensors service: a notify-only force
// characteristic and a write-only motor command characteristic.
func PodService() ServiceDef {
	return ServiceDef{
		Name: "pod sensors",
		UUID: ServiceUUID,
		Characteristics: []CharacteristicDef{
			{
				Name:     "force",
				UUID:     ForceCharUUID,
				Props:    PropNotify,
				Perms:    PermNone,
				CCCPerms: PermRead | PermWrite,
			},
			{
				Name:  "motor",
				UUID:  MotorCharUUID,
				Props: PropWrite,
				Perms: PermWrite,
			},
		},
	}
}

// BatteryService returns the standard Battery Service with its level
// characteristic initialised to level.
func BatteryService(level uint8) ServiceDef {
	return ServiceDef{
		Name: "battery",
		UUID: BatteryServiceUUID,
		Characteristics: []CharacteristicDef{
			{
				Name:     "battery level",
				UUID:     BatteryLevelCharUUID,
				Props:    PropRead | PropNotify,
				Perms:    PermRead,
				CCCPerms: PermRead | PermWrite,
				Value:    []byte{level},
			},
		},
	}
}

// DefaultAdvertisement advertises the heart-rate, battery and device
// information UUIDs under name.
func DefaultAdvertisement(name string) Advertisement {
	return Advertisement{
		LocalName:    name,
		ServiceUUIDs: []string{HeartRateServiceUUID, BatteryServiceUUID, DeviceInfoServiceUUID},
	}
}

// Validate checks that d is well formed.
func (d ServiceDef) Validate() error {
	if err := validateUUID(d.UUID); err != nil {
		return fmt.Errorf("ble: service %q: %w", d.Name, err)
	}
	if len(d.Characteristics) == 0 {
		return fmt.Errorf("ble: service %q has no characteristics", d.Name)
	}
	seen := make(map[string]bool)
	for _, c := range d.Characteristics {
		if err := validateUUID(c.UUID); err != nil {
			return fmt.Errorf("ble: characteristic %q: %w", c.Name, err)
		}
		if seen[c.UUID] {
			return fmt.Errorf("ble: characteristic %q: duplicate UUID %s", c.Name, c.UUID)
		}
		seen[c.UUID] = true

		if c.Props == 0 {
			return fmt.Errorf("ble: characteristic %q has no properties", c.Name)
		}
		if c.Props&PropRead != 0 && c.Perms&PermRead == 0 {
			return fmt.Errorf("ble: characteristic %q is readable without read permission", c.Name)
		}
		if c.Props&(PropWrite|PropWriteNoResponse) != 0 && c.Perms&PermWrite == 0 {
			return fmt.Errorf("ble: characteristic %q is writable without write permission", c.Name)
		}
		if c.Props&PropNotify != 0 && c.CCCPerms != PermRead|PermWrite {
			return fmt.Errorf("ble: characteristic %q notifies without a read/write CCC", c.Name)
		}
	}
	return nil
}

// validateUUID accepts a 16-bit UUID as four hex digits or a full 128-bit UUID.
func validateUUID(s string) error {
	if len(s) == 4 {
		if _, err := strconv.ParseUint(s, 16, 16); err != nil {
			return fmt.Errorf("invalid 16-bit UUID %q", s)
		}
		return nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return nil
}

// EncodePressure encodes a decoded pressure value as the 4-byte
// little-endian force payload. Negative values are sent in two's complement.
func EncodePressure(v int32) []byte {
	buf := make([]byte, PressurePayloadSize)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf
}

// DecodePressure is the inverse of EncodePressure.
func DecodePressure(payload []byte) (int32, error) {
	if len(payload) != PressurePayloadSize {
		return 0, fmt.Errorf("ble: pressure payload is %d bytes, want %d", len(payload), PressurePayloadSize)
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}
