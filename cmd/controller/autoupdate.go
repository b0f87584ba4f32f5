package main

import (
	"log/slog"
	"os/exec"
	"time"

	"tinkeraccess/internal/config"
)

// runAutoUpdate ticks every opts.AutoUpdateInterval and shell-executes
// opts.AutoUpdateCommand, logging failures but never touching the access
// state machine. Mirrors original_source's AutoUpdateTimer, which
// spec.md §1 names explicitly out of internal/core's scope. Returns when
// stop is closed.
func runAutoUpdate(log *slog.Logger, opts config.Options, stop <-chan struct{}) {
	if opts.AutoUpdateCommand == "" {
		return
	}
	ticker := time.NewTicker(opts.AutoUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			out, err := exec.Command("sh", "-c", opts.AutoUpdateCommand).CombinedOutput()
			if err != nil {
				log.Warn("controller: auto-update command failed",
					slog.Any("error", err), slog.String("output", string(out)))
				continue
			}
			log.Info("controller: auto-update command ran", slog.String("output", string(out)))
		}
	}
}
