package ble

import (
	"fmt"
	"sync/atomic"
)

// BatteryLevel is the Battery Service collaborator: it keeps the reported
// percentage and publishes every change to the battery level characteristic.
type BatteryLevel struct {
	periph Peripheral
	level  atomic.Uint32
}

// NewBatteryLevel creates a BatteryLevel reporting initial.
func NewBatteryLevel(periph Peripheral, initial uint8) *BatteryLevel {
	b := &BatteryLevel{periph: periph}
	b.level.Store(uint32(initial))
	return b
}

// Level returns the reported percentage.
func (b *BatteryLevel) Level() uint8 {
	return uint8(b.level.Load())
}

// SetLevel stores level and pushes it to the link layer.
func (b *BatteryLevel) SetLevel(level uint8) error {
	if level > 100 {
		return fmt.Errorf("ble: battery level %d exceeds 100", level)
	}
	b.level.Store(uint32(level))
	if err := b.periph.SetValue(BatteryLevelCharUUID, []byte{level}); err != nil {
		return fmt.Errorf("ble: set battery level: %w", err)
	}
	return nil
}
