// Command test-sensor is a manual test for the pressure sensor.
// Run it, then press on the pod to see decoded readings.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-sensor [--driver i2c|sim] [--bus 1] [--addr 0x28]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/bloompod/internal/hw"
	"github.com/chaz8081/bloompod/internal/sensor"
)

// printer prints every reading instead of notifying a central.
type printer struct{}

func (printer) SendPressure(v int32) error {
	fmt.Printf("pressure: %6d\n", v)
	return nil
}

func main() {
	driver := flag.String("driver", "i2c", "sensor driver: i2c or sim")
	bus := flag.String("bus", "", "I2C bus name (default: first bus)")
	addr := flag.Uint("addr", hw.DefaultSensorAddress, "I2C device address")
	interval := flag.Duration("interval", 100*time.Millisecond, "poll interval")
	flag.Parse()

	var dev sensor.Bus = hw.NewSimSensor()
	if *driver == "i2c" {
		s := hw.NewI2CSensor(*bus, uint16(*addr))
		defer s.Close()
		dev = s
	}

	fmt.Printf("Polling %q sensor every %s...\n", *driver, *interval)
	fmt.Println("Press Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := sensor.DefaultPollerOptions()
	opts.Interval = *interval
	if err := sensor.NewPoller(dev, printer{}, nil, opts).Run(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nDone.")
}
