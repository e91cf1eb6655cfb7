// Package supervisor wires accentd's pieces together: one state machine
// per grabbed keyboard, the shared virtual device and accent composer,
// the IPC listener, and the single event loop that drives them all.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"

	"accentd/internal/charmap"
	"accentd/internal/config"
	"accentd/internal/emit"
	"accentd/internal/grabber"
	"accentd/internal/ipc"
	"accentd/internal/kbevent"
	"accentd/internal/statemachine"
)

// Version is accentd's reported version, returned in the IPC status
// message.
const Version = "0.1.0"

// panicSequence is the Backspace→Escape→Enter combo that exits the
// daemon immediately — a safety hatch in case EVIOCGRAB is held on a
// keyboard that has otherwise stopped responding.
var panicSequence = [3]uint16{kbevent.KeyBackspace, kbevent.KeyEsc, kbevent.KeyEnter}

const panicWindow = time.Second

// DeviceEvent tags an event with the index of the keyboard it came from.
// It is an alias for grabber.DeviceEvent so callers can name either one
// interchangeably.
type DeviceEvent = grabber.DeviceEvent

// Emitter is the subset of vkbd.Device the supervisor drives directly
// (relaying raw events); emit.Composer drives the rest through its own
// Emitter interface.
type Emitter interface {
	EmitEvents(events []kbevent.Event) error
}

// popupClient fans daemon messages out to one connected IPC client.
// send drops a message rather than block the event loop if the client's
// write side is backed up.
type popupClient struct {
	lines  chan string
	stop   chan struct{}
	closed atomic.Bool
}

func newPopupClient() *popupClient {
	return &popupClient{lines: make(chan string, 16), stop: make(chan struct{})}
}

func (p *popupClient) send(line string) {
	if p.closed.Load() {
		return
	}
	select {
	case p.lines <- line:
	default:
	}
}

func (p *popupClient) close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.stop)
	}
}

// Supervisor owns the per-device state machines and the shared virtual
// device, and serializes access to both across the event loop and
// concurrent IPC connections.
type Supervisor struct {
	mu           sync.Mutex
	cfg          *config.Config
	machines     []*statemachine.StateMachine
	device       Emitter
	composer     *emit.Composer
	popupClients []*popupClient
	logger       *charmlog.Logger
}

// New builds a Supervisor with one state machine per numDevices, sharing
// localeMap and cfg's general/popup settings.
func New(cfg *config.Config, localeMap charmap.LocaleMap, numDevices int, device Emitter, logger *charmlog.Logger) *Supervisor {
	smCfg := statemachine.Config{
		ThresholdMs:    cfg.General.ThresholdMs,
		PopupTimeoutMs: cfg.Popup.TimeoutMs,
		Enabled:        cfg.General.Enabled,
	}
	machines := make([]*statemachine.StateMachine, numDevices)
	for i := range machines {
		machines[i] = statemachine.New(smCfg, localeMap)
	}
	return &Supervisor{
		cfg:      cfg,
		machines: machines,
		device:   device,
		composer: emit.New(device),
		logger:   logger,
	}
}

// Run drives the main event loop: it dispatches events arriving on
// eventCh to the right per-device state machine, and wakes on its own
// whenever a state machine's popup-timeout or hold-threshold deadline
// arrives, with no idle polling in between. It returns when ctx is
// cancelled or eventCh is closed.
func (s *Supervisor) Run(ctx context.Context, eventCh <-chan DeviceEvent) error {
	var panicRing [3]panicEntry
	panicIdx := 0

	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if deadline, ok := s.nextDeadline(); ok {
			timer = time.NewTimer(time.Until(deadline))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()

		case de, ok := <-eventCh:
			stopTimer(timer)
			if !ok {
				return nil
			}
			if de.Event.IsKey() && de.Event.Value == kbevent.KeyPress {
				panicIdx = s.checkPanicCombo(&panicRing, panicIdx, de.Event.Code)
			}

			s.mu.Lock()
			var actions []statemachine.Action
			if de.DeviceIdx >= 0 && de.DeviceIdx < len(s.machines) {
				actions = s.machines[de.DeviceIdx].ProcessEvent(de.Event)
			}
			s.mu.Unlock()
			s.processActions(actions)

		case <-timerC:
			s.mu.Lock()
			var all []statemachine.Action
			for _, sm := range s.machines {
				all = append(all, sm.CheckTimer()...)
			}
			s.mu.Unlock()
			if len(all) > 0 {
				s.processActions(all)
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

type panicEntry struct {
	code uint16
	at   time.Time
}

// checkPanicCombo records code into the 3-slot ring at panicIdx and, if
// the last three recorded codes match panicSequence in order within
// panicWindow, exits the process immediately. It returns the next
// index to write at.
func (s *Supervisor) checkPanicCombo(ring *[3]panicEntry, panicIdx int, code uint16) int {
	ring[panicIdx] = panicEntry{code: code, at: time.Now()}
	next := (panicIdx + 1) % 3
	oldest := next
	codes := [3]uint16{ring[oldest].code, ring[(oldest+1)%3].code, ring[(oldest+2)%3].code}
	if codes == panicSequence {
		elapsed := ring[(oldest+2)%3].at.Sub(ring[oldest].at)
		if elapsed < panicWindow {
			s.logger.Info("panic key combo detected (Backspace, Escape, Enter), exiting")
			os.Remove(config.SocketPath())
			os.Exit(0)
		}
	}
	return next
}

func (s *Supervisor) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	found := false
	for _, sm := range s.machines {
		if dl, ok := sm.NextDeadline(); ok && (!found || dl.Before(best)) {
			best, found = dl, true
		}
	}
	return best, found
}

// processActions executes a batch of state-machine actions against the
// virtual device, popup clients, and accent composer.
func (s *Supervisor) processActions(actions []statemachine.Action) {
	for _, a := range actions {
		switch a.Kind {
		case statemachine.ActionRelay:
			if err := s.device.EmitEvents([]kbevent.Event{a.Event}); err != nil {
				s.logger.Warn("relay error", "err", err)
			}
		case statemachine.ActionSendPopup:
			s.broadcastPopup(ipc.Encode(a.Popup))
		case statemachine.ActionEmitAccent:
			if err := s.composer.EmitAccent(a.Accent); err != nil {
				s.logger.Warn("emit accent error", "err", err)
			}
		case statemachine.ActionSuppress:
		}
	}
}

func (s *Supervisor) broadcastPopup(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunePopupClientsLocked()
	for _, c := range s.popupClients {
		c.send(line)
	}
}

// prunePopupClientsLocked drops closed clients from s.popupClients.
// Callers must hold s.mu.
func (s *Supervisor) prunePopupClientsLocked() {
	live := s.popupClients[:0]
	for _, c := range s.popupClients {
		if !c.closed.Load() {
			live = append(live, c)
		}
	}
	s.popupClients = live
}

// ServeIPC binds socketPath and accepts client connections until ctx is
// cancelled, handling each connection in its own goroutine. The stale
// socket, if any, is removed first.
func (s *Supervisor) ServeIPC(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)
	if dir := filepath.Dir(socketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating socket dir %s: %w", dir, err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("binding socket %s: %w", socketPath, err)
	}
	_ = os.Chmod(socketPath, 0o666)
	s.logger.Info("IPC socket listening", "path", socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("IPC accept error", "err", err)
			continue
		}
		go s.handleIPCConn(conn)
	}
}

func (s *Supervisor) handleIPCConn(conn net.Conn) {
	defer conn.Close()

	client := newPopupClient()
	isPopup := false

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case line := <-client.lines:
				if _, err := conn.Write([]byte(line)); err != nil {
					return
				}
			case <-client.stop:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		msg, ok := ipc.DecodeClientMsg(scanner.Text())
		if !ok {
			continue
		}
		isPopup = isPopup || s.handleClientMsg(msg, client)
	}

	client.close()
	<-writerDone

	if isPopup {
		s.mu.Lock()
		s.prunePopupClientsLocked()
		s.mu.Unlock()
	}
}

// handleClientMsg applies one decoded ClientMsg and replies on client
// where the protocol calls for an ack or status. It returns true if msg
// registered client as a popup listener.
func (s *Supervisor) handleClientMsg(msg ipc.ClientMsg, client *popupClient) bool {
	switch msg.Type {
	case ipc.TypeRegisterPopup:
		s.mu.Lock()
		s.popupClients = append(s.popupClients, client)
		s.mu.Unlock()
		client.send(ipc.Encode(ipc.Ack(true, "popup registered")))
		return true

	case ipc.TypeSelect:
		s.mu.Lock()
		var actions []statemachine.Action
		for _, sm := range s.machines {
			if a := sm.IPCSelect(msg.Index); len(a) > 0 {
				actions = a
				break
			}
		}
		s.mu.Unlock()
		s.processActions(actions)
		client.send(ipc.Encode(ipc.Ack(true, fmt.Sprintf("selected %d", msg.Index))))

	case ipc.TypeDismiss:
		s.mu.Lock()
		var all []statemachine.Action
		for _, sm := range s.machines {
			all = append(all, sm.IPCDismiss()...)
		}
		s.mu.Unlock()
		s.processActions(all)

	case ipc.TypeToggle:
		s.mu.Lock()
		newState := true
		if len(s.machines) > 0 {
			newState = !s.machines[0].IsEnabled()
		}
		for _, sm := range s.machines {
			sm.SetEnabled(newState)
		}
		s.mu.Unlock()
		s.logger.Info("toggled", "enabled", newState)
		client.send(ipc.Encode(ipc.Ack(true, fmt.Sprintf("enabled: %v", newState))))

	case ipc.TypeEnable:
		s.setEnabledAll(true)
		client.send(ipc.Encode(ipc.Ack(true, "enabled")))

	case ipc.TypeDisable:
		s.setEnabledAll(false)
		client.send(ipc.Encode(ipc.Ack(true, "disabled")))

	case ipc.TypeSetLocale:
		s.mu.Lock()
		s.cfg.Locale.Active = msg.Locale
		m, err := s.cfg.LoadLocaleMap()
		if err != nil {
			s.mu.Unlock()
			client.send(ipc.Encode(ipc.Ack(false, fmt.Sprintf("failed to load locale %q: %v", msg.Locale, err))))
			return false
		}
		for _, sm := range s.machines {
			sm.SetLocaleMap(m)
		}
		s.mu.Unlock()
		client.send(ipc.Encode(ipc.Ack(true, fmt.Sprintf("locale set to %s", msg.Locale))))

	case ipc.TypeGetStatus:
		s.mu.Lock()
		enabled := false
		if len(s.machines) > 0 {
			enabled = s.machines[0].IsEnabled()
		}
		locale := s.cfg.Locale.Active
		s.mu.Unlock()
		client.send(ipc.Encode(ipc.Status(enabled, locale, Version)))
	}
	return false
}

func (s *Supervisor) setEnabledAll(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range s.machines {
		sm.SetEnabled(enabled)
	}
}
