package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/bloompod/internal/battery"
	"github.com/chaz8081/bloompod/internal/ble"
	"github.com/chaz8081/bloompod/internal/command"
	"github.com/chaz8081/bloompod/internal/config"
	"github.com/chaz8081/bloompod/internal/diag"
	"github.com/chaz8081/bloompod/internal/hw"
	"github.com/chaz8081/bloompod/internal/pod"
	"github.com/chaz8081/bloompod/internal/sensor"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/bloompod/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	if err := run(cfg); err != nil {
		slog.Error("bloompod exiting", "error", err)
		os.Exit(1)
	}
	slog.Info("Goodbye!")
}

func run(cfg *config.Config) error {
	state, err := pod.NewState(pod.PulseLimits{Min: cfg.Actuator.MinPulseNs, Max: cfg.Actuator.MaxPulseNs})
	if err != nil {
		return err
	}

	// Diagnostics always go to the log; the websocket feed is optional.
	emitters := diag.Multi{diag.NewLogEmitter(nil)}
	var hub *diag.Hub
	if cfg.Diag.Listen != "" {
		hub = diag.NewHub(256)
		emitters = append(emitters, hub)
	}
	events := diag.Emitter(emitters)

	periph, err := ble.NewPeripheral(cfg.BLE.Backend, cfg.BLE.AdapterID)
	if err != nil {
		return err
	}
	defer periph.Close()

	dispatcher, err := command.NewDispatcher(state, cfg.Actuator.StepNs, events)
	if err != nil {
		return err
	}

	server := ble.NewServer(periph, state, dispatcher, events, ble.DefaultAdvertisement(cfg.DeviceName))
	if err := server.Start(ble.PodService(), ble.BatteryService(cfg.Battery.Initial)); err != nil {
		return fmt.Errorf("bluetooth init failed: %w", err)
	}
	batteryLevel := ble.NewBatteryLevel(periph, cfg.Battery.Initial)

	bus, actuator := openHardware(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Each job logs its own failure and returns nil so the others keep
	// running; only a signal ends the group.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sensor.NewPoller(bus, server, events, sensor.PollerOptions{
			Interval:     cfg.Sensor.Interval,
			RetryBackoff: cfg.Sensor.RetryBackoff,
		}).Run(ctx)
		return nil
	})
	g.Go(func() error {
		command.NewOutput(state, dispatcher.Updates(), actuator, events).Run(ctx)
		return nil
	})
	g.Go(func() error {
		return battery.NewSimulator(batteryLevel, events, cfg.Battery.Interval).Run(ctx)
	})
	if hub != nil {
		g.Go(func() error {
			if err := hub.ListenAndServe(ctx, cfg.Diag.Listen); err != nil {
				slog.Error("[DIAG] event feed stopped", "error", err)
			}
			return nil
		})
	}

	slog.Info("Ready! Waiting for a central to connect. Ctrl+C to quit.")
	err = g.Wait()
	slog.Info("Shutting down...")
	if m, ok := actuator.(*hw.PWMMotor); ok {
		if herr := m.Halt(); herr != nil {
			slog.Warn("[CMD] halt pwm", "error", herr)
		}
	}
	if c, ok := bus.(io.Closer); ok {
		c.Close()
	}
	return err
}

// openHardware returns the configured sensor bus and actuator.
func openHardware(cfg *config.Config) (sensor.Bus, command.Actuator) {
	var bus sensor.Bus
	switch cfg.Sensor.Driver {
	case "sim":
		bus = hw.NewSimSensor()
	default:
		bus = hw.NewI2CSensor(cfg.Sensor.Bus, cfg.Sensor.Address)
	}

	var actuator command.Actuator
	switch cfg.Actuator.Driver {
	case "log":
		actuator = &hw.LogActuator{}
	default:
		actuator = hw.NewPWMMotor(cfg.Actuator.Pin, cfg.Actuator.FrequencyHz)
	}
	return bus, actuator
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== bloompod ===")
	fmt.Printf("  Name:     %s\n", cfg.DeviceName)
	fmt.Printf("  BLE:      %s (adapter %d)\n", cfg.BLE.Backend, cfg.BLE.AdapterID)
	fmt.Printf("  Sensor:   %s every %s\n", cfg.Sensor.Driver, cfg.Sensor.Interval)
	fmt.Printf("  Actuator: %s %d-%dns, step %dns\n", cfg.Actuator.Driver, cfg.Actuator.MinPulseNs, cfg.Actuator.MaxPulseNs, cfg.Actuator.StepNs)
	fmt.Printf("  Battery:  %d%%, -1 every %s\n", cfg.Battery.Initial, cfg.Battery.Interval)
	if cfg.Diag.Listen != "" {
		fmt.Printf("  Diag:     ws://%s/events\n", cfg.Diag.Listen)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}
