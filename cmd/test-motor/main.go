// Command test-motor is a manual test for the motor output.
// It sweeps every accepted command through the dispatcher and actuator,
// pausing between steps, then parks the motor at the minimum pulse.
//
// Usage:
//
//	go run ./cmd/test-motor [--driver pwm|log] [--pin GPIO18] [--delay 500ms]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/bloompod/internal/command"
	"github.com/chaz8081/bloompod/internal/config"
	"github.com/chaz8081/bloompod/internal/hw"
	"github.com/chaz8081/bloompod/internal/pod"
)

func main() {
	defaults := config.Default().Actuator
	driver := flag.String("driver", "log", "actuator driver: pwm or log")
	pin := flag.String("pin", defaults.Pin, "PWM pin name")
	delay := flag.Duration("delay", 500*time.Millisecond, "pause between commands")
	flag.Parse()

	state, err := pod.NewState(pod.PulseLimits{Min: defaults.MinPulseNs, Max: defaults.MaxPulseNs})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	dispatcher, err := command.NewDispatcher(state, defaults.StepNs, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	var act command.Actuator = &hw.LogActuator{}
	if *driver == "pwm" {
		act = hw.NewPWMMotor(*pin, defaults.FrequencyHz)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := command.NewOutput(state, dispatcher.Updates(), act, nil)
	done := make(chan error, 1)
	go func() { done <- out.Run(ctx) }()

	fmt.Printf("Sweeping commands %d..%d on %q every %s. Ctrl+C to stop.\n",
		command.MinCommand, command.MaxCommand, *driver, *delay)

sweep:
	for v := command.MinCommand; v <= command.MaxCommand; v++ {
		dispatcher.HandleCommand("test-motor", []byte{uint8(v)})
		fmt.Printf("command %2d -> %dns\n", v, state.PulseWidth())
		select {
		case <-ctx.Done():
			break sweep
		case err := <-done:
			fmt.Printf("Error: %v\n", err)
			return
		case <-time.After(*delay):
		}
	}

	dispatcher.HandleCommand("test-motor", []byte{command.MinCommand})
	time.Sleep(*delay)
	stop()
	<-done
	if m, ok := act.(*hw.PWMMotor); ok {
		m.Halt()
	}
	fmt.Println("\nDone!")
}
