// Command controller runs the badge-gated access interlock: it loads
// configuration, opens the device and authorization-service connections,
// wires them into internal/core.Controller, and drives the dispatch loop
// until terminated. Grounded on original_source's Client.run and the
// teacher's cmd/local/buttonless.go main().
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	slogenv "github.com/cbrewster/slog-env"

	"tinkeraccess/internal/authclient"
	"tinkeraccess/internal/config"
	"tinkeraccess/internal/core"
	"tinkeraccess/internal/device"
	"tinkeraccess/internal/statusapi"
	"tinkeraccess/internal/telemetry"
	"tinkeraccess/pkg/version"
)

func main() {
	log := slog.New(slogenv.NewHandler(slog.NewTextHandler(os.Stderr, nil)))
	slog.SetDefault(log)
	log.Info("controller: starting", slog.String("version", version.String()))

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <auth-service-base-url>\n", os.Args[0])
		os.Exit(1)
	}
	authBaseURL := os.Args[1]

	hostname, err := os.Hostname()
	if err != nil {
		log.Error("controller: could not retrieve hostname", slog.Any("error", err))
		os.Exit(1)
	}

	opts, err := config.Load(context.Background(), authBaseURL, hostname)
	if err != nil {
		log.Error("controller: could not load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(log, opts, hostname); err != nil {
		log.Error("controller: exiting on fatal error", slog.Any("error", err))
		if opts.RebootOnError {
			rebootAfter(log, opts.RebootDelay)
		}
		os.Exit(1)
	}
}

func run(log *slog.Logger, opts config.Options, hostname string) error {
	dev, err := device.NewGPIODevice(log, device.LEDPins{
		Red:   opts.PinLedRed,
		Green: opts.PinLedGreen,
		Blue:  opts.PinLedBlue,
	}, []device.Pin{
		device.Pin(opts.PinPowerRelay),
		device.Pin(opts.PinAlarm),
	}, opts.BadgeReaderVendor, opts.BadgeReaderProduct)
	if err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	defer dev.Close()

	auth := authclient.NewHTTPClient(opts.AuthBaseURL)

	ctrl := core.New(opts, dev, auth, log)

	var publisher *telemetry.Publisher
	if opts.MqttBroker != nil {
		publisher, err = telemetry.NewPublisher(*opts.MqttBroker, hostname, log)
		if err != nil {
			log.Warn("controller: mqtt telemetry unavailable", slog.Any("error", err))
		} else {
			defer publisher.Close()
		}
	}

	status := statusapi.New(ctrl, log)
	ctrl.OnTransition(func(mode core.Mode) {
		status.Broadcast(mode)
		if publisher != nil {
			publisher.PublishMode(mode)
		}
	})
	if publisher != nil {
		ctrl.OnBadgeScan(publisher.PublishBadgeScan)
	}

	go func() {
		if err := (&http.Server{Addr: ":8088", Handler: status.Handler()}).ListenAndServe(); err != nil {
			log.Warn("controller: status api stopped", slog.Any("error", err))
		}
	}()

	if err := ctrl.Wire(); err != nil {
		return fmt.Errorf("wiring device callbacks: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	autoUpdateStop := make(chan struct{})
	defer close(autoUpdateStop)
	go runAutoUpdate(log, opts, autoUpdateStop)

	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	ctrl.Boot()
	for {
		select {
		case err := <-runDone:
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		default:
		}
		if err := ctrl.Wait(ctx); err != nil {
			<-runDone
			return nil
		}
	}
}

// rebootAfter mirrors original_source Client.run's reboot-on-error branch:
// a grace period for logs to flush and anyone on-site to notice, then a
// hard reboot. Only meaningful on the Raspberry Pi deployments this binary
// targets; `reboot` failing (e.g. in a container, in tests) is logged and
// swallowed, matching the Python original's best-effort posture.
func rebootAfter(log *slog.Logger, delay time.Duration) {
	log.Error("controller: rebooting", slog.Duration("delay", delay))
	time.Sleep(delay)
	if err := exec.Command("reboot", "now").Run(); err != nil {
		log.Error("controller: reboot command failed", slog.Any("error", err))
	}
}
