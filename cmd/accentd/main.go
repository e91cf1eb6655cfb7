// Command accentd is the daemon: it grabs physical keyboards, detects
// held accent-eligible keys, relays or replaces key events through a
// virtual device, and serves the popup IPC protocol.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"

	"accentd/internal/config"
	"accentd/internal/grabber"
	"accentd/internal/supervisor"
	"accentd/internal/vkbd"
)

func main() {
	logger := charmlog.New(os.Stderr)
	logger.SetLevel(charmlog.InfoLevel)
	logger.Info("accentd starting", "version", supervisor.Version)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}

	localeMap, err := cfg.LoadLocaleMap()
	if err != nil {
		logger.Fatal("loading locale", "err", err)
	}
	logger.Info("locale loaded", "locale", cfg.Locale.Active, "keys", len(localeMap))

	if !vkbd.IsAvailable() {
		logger.Fatal("/dev/uinput is not writable — ensure the user is in the 'input' group")
	}

	keyboards, err := grabber.FindKeyboards()
	if err != nil {
		logger.Fatal("finding keyboards", "err", err)
	}
	if len(keyboards) == 0 {
		logger.Fatal("no keyboards found — check permissions (group 'input' or udev rules)")
	}

	device, err := vkbd.Open()
	if err != nil {
		logger.Fatal("creating virtual device", "err", err)
	}
	defer device.Close()

	sup := supervisor.New(cfg, localeMap, len(keyboards), device, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventCh := make(chan supervisor.DeviceEvent)
	for idx, path := range keyboards {
		idx, path := idx, path
		go func() {
			if err := grabber.Grab(ctx, path, idx, eventCh); err != nil && ctx.Err() == nil {
				logger.Error("grabber task failed", "path", path, "err", err)
			}
		}()
	}

	go func() {
		if err := sup.ServeIPC(ctx, config.SocketPath()); err != nil && ctx.Err() == nil {
			logger.Error("IPC server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("accentd shutting down")
		cancel()
	}()

	if err := sup.Run(ctx, eventCh); err != nil && ctx.Err() == nil {
		logger.Error("event loop stopped", "err", err)
	}

	os.Remove(config.SocketPath())
	logger.Info("accentd stopped")
}
