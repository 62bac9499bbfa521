// Package hw binds the sensor and actuator interfaces to real or simulated
// devices.
package hw

import (
	"fmt"
	"sync"

	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads the periph host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
		if hostErr != nil {
			hostErr = fmt.Errorf("hw: periph host init: %w", hostErr)
		}
	})
	return hostErr
}
