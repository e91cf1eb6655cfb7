// Package grabber discovers physical keyboard devices under /dev/input
// and exclusively grabs them, forwarding every event they produce.
package grabber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	evdev "github.com/holoplot/go-evdev"

	"accentd/internal/kbevent"
)

// keyZ is evdev's KEY_Z code; accentd's own keycode table stops at KEY_F
// since that's all the hex chord needs, so it isn't in kbevent.
const keyZ = 44

// DeviceEvent tags an event with the index of the keyboard it came from,
// so the caller can route it to the right per-device state machine.
type DeviceEvent struct {
	DeviceIdx int
	Event     kbevent.Event
}

// capabilityScanner is the subset of *evdev.InputDevice that
// isKeyboard needs, extracted so tests can exercise the heuristic
// against a fake device.
type capabilityScanner interface {
	Name() (string, error)
	CapableTypes() []evdev.EvType
	CapableEvents(t evdev.EvType) []evdev.EvCode
}

// FindKeyboards scans /dev/input for eventN device nodes that look like
// physical keyboards, in numeric order, skipping accentd's own virtual
// device to avoid a feedback loop.
func FindKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, fmt.Errorf("reading /dev/input: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		candidates = append(candidates, filepath.Join("/dev/input", e.Name()))
	}
	sort.Slice(candidates, func(i, j int) bool {
		ni, _ := strconv.Atoi(strings.TrimPrefix(filepath.Base(candidates[i]), "event"))
		nj, _ := strconv.Atoi(strings.TrimPrefix(filepath.Base(candidates[j]), "event"))
		return ni < nj
	})

	var keyboards []string
	for _, path := range candidates {
		dev, err := evdev.Open(path)
		if err != nil {
			continue
		}
		if name, err := dev.Name(); err == nil && strings.Contains(name, "accentd") {
			dev.Close()
			continue
		}
		if isKeyboard(dev) {
			keyboards = append(keyboards, path)
		}
		dev.Close()
	}
	return keyboards, nil
}

// isKeyboard is true for devices with KEY_A, KEY_Z and KEY_ENTER but no
// EV_REL capability — letter keys and Enter rule out power buttons and
// other single-purpose input nodes, and rejecting EV_REL rules out mice
// and trackpads that also expose a handful of key codes.
func isKeyboard(dev capabilityScanner) bool {
	for _, t := range dev.CapableTypes() {
		if t == evdev.EV_REL {
			return false
		}
	}

	hasA, hasZ, hasEnter := false, false, false
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		switch uint16(code) {
		case kbevent.KeyA:
			hasA = true
		case keyZ:
			hasZ = true
		case kbevent.KeyEnter:
			hasEnter = true
		}
	}
	return hasA && hasZ && hasEnter
}

// Grab opens and exclusively grabs the device at path, then blocks
// forwarding every event it reads to out, tagged with idx, until ctx is
// cancelled or the device errors. The device is released and closed
// before Grab returns.
func Grab(ctx context.Context, path string, idx int, out chan<- DeviceEvent) error {
	dev, err := evdev.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer dev.Close()

	if err := dev.Grab(); err != nil {
		return fmt.Errorf("grabbing %s: %w", path, err)
	}

	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			dev.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading %s: %w", path, err)
		}

		select {
		case out <- DeviceEvent{
			DeviceIdx: idx,
			Event:     kbevent.Event{Type: uint16(ev.Type), Code: uint16(ev.Code), Value: ev.Value},
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
