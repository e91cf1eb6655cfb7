// Package statemachine implements accentd's per-device 3-state machine:
// Idle, Holding, and Popup. It consumes raw evdev key events and produces
// the Actions the supervisor dispatches to the virtual device and the
// IPC broadcast list.
package statemachine

import (
	"time"

	"accentd/internal/charmap"
	"accentd/internal/ipc"
	"accentd/internal/kbevent"
)

// Modifier and fixed-function keycodes, from the non-negotiable evdev
// keycode table.
const (
	keyEsc        = 1
	keyLeftCtrl   = 29
	keyRightCtrl  = 97
	keyLeftShift  = 42
	keyRightShift = 54
	keyLeftAlt    = 56
	keyRightAlt   = 100
	keyLeftMeta   = 125
	keyRightMeta  = 126
)

// ActionKind discriminates the payload carried by an Action.
type ActionKind int

const (
	ActionRelay ActionKind = iota
	ActionSuppress
	ActionEmitAccent
	ActionSendPopup
)

// Action is one unit of work the supervisor must dispatch, in the order
// the machine produced it.
type Action struct {
	Kind   ActionKind
	Event  kbevent.Event // valid when Kind == ActionRelay
	Accent string        // valid when Kind == ActionEmitAccent
	Popup  ipc.DaemonMsg // valid when Kind == ActionSendPopup
}

func relay(e kbevent.Event) Action      { return Action{Kind: ActionRelay, Event: e} }
func suppress() Action                  { return Action{Kind: ActionSuppress} }
func emitAccent(s string) Action        { return Action{Kind: ActionEmitAccent, Accent: s} }
func sendPopup(m ipc.DaemonMsg) Action  { return Action{Kind: ActionSendPopup, Popup: m} }

type stateKind int

const (
	stateIdle stateKind = iota
	stateHolding
	statePopup
)

type state struct {
	kind      stateKind
	base      string
	accents   []string
	keyCode   uint16
	shift     bool
	startedAt time.Time
}

// Config holds the runtime-tunable parameters of a StateMachine, sourced
// from the [general] and [popup] config sections.
type Config struct {
	ThresholdMs    int64
	PopupTimeoutMs int64
	Enabled        bool
}

// StateMachine is the per-physical-device accent state machine. It is not
// safe for concurrent use; the supervisor serializes all access to its
// machines, from the event loop and from IPC handlers, with its mutex.
type StateMachine struct {
	state state

	localeMap      charmap.LocaleMap
	thresholdMs    int64
	popupTimeoutMs int64
	enabled        bool

	ctrlHeld  bool
	altHeld   bool
	superHeld bool
	shiftHeld bool

	now func() time.Time
}

// New creates a StateMachine using the wall clock.
func New(cfg Config, localeMap charmap.LocaleMap) *StateMachine {
	return NewWithClock(cfg, localeMap, time.Now)
}

// NewWithClock creates a StateMachine using clock for deadline
// computation, letting tests drive Holding→Popup and Popup→Idle
// transitions without real sleeps.
func NewWithClock(cfg Config, localeMap charmap.LocaleMap, clock func() time.Time) *StateMachine {
	return &StateMachine{
		state:          state{kind: stateIdle},
		localeMap:      localeMap,
		thresholdMs:    cfg.ThresholdMs,
		popupTimeoutMs: cfg.PopupTimeoutMs,
		enabled:        cfg.Enabled,
		now:            clock,
	}
}

// IsEnabled reports whether the machine currently relays through accent
// logic at all.
func (sm *StateMachine) IsEnabled() bool { return sm.enabled }

// SetEnabled toggles accent handling. Disabling forces the machine back
// to Idle so no popup is left stuck open.
func (sm *StateMachine) SetEnabled(enabled bool) {
	sm.enabled = enabled
	if !enabled {
		sm.state = state{kind: stateIdle}
	}
}

// SetLocaleMap replaces the active locale table and forces Idle, since
// any in-flight Holding/Popup accent list was resolved against the old
// map.
func (sm *StateMachine) SetLocaleMap(m charmap.LocaleMap) {
	sm.localeMap = m
	sm.state = state{kind: stateIdle}
}

// ProcessEvent runs one raw input event through the machine.
//
// Non-key events (EV_SYN and friends) are always relayed unchanged.
// Modifier key presses/releases (ctrl/alt/super/shift, left or right)
// update the held flags and are always relayed. When the machine is
// disabled, every event is relayed. Otherwise the event is dispatched to
// the handler for the current state:
//
// Idle: a press of an accent-eligible keycode, with ctrl/alt/super all
// released, resolves accents in the active locale map; on a non-empty
// result the machine enters Holding (threshold deadline armed) and
// relays the press with zero added latency. Anything else is relayed
// and the machine stays Idle.
//
// Holding: a repeat of the held key is suppressed (swallowing kernel
// autorepeat of the already-relayed base character); its release returns
// to Idle and relays the release; a press of any other key cancels the
// hold, returns to Idle, and relays that press. Everything else is
// relayed. The threshold deadline, handled by CheckTimer, synthesizes a
// release of the held key and sends ShowPopup before entering Popup.
//
// Popup: a repeat of the held key is suppressed; its release dismisses
// the popup (HidePopup, Suppress) without emitting an accent; ESC
// dismisses the same way; a digit within range dismisses and emits the
// selected accent (HidePopup strictly before EmitAccent); a digit out of
// range dismisses with no emit; any other press dismisses and relays the
// pressed key; any other release or repeat is suppressed. The popup
// timeout deadline, handled by CheckTimer, dismisses with HidePopup and
// no emit.
func (sm *StateMachine) ProcessEvent(e kbevent.Event) []Action {
	if !e.IsKey() {
		return []Action{relay(e)}
	}
	if isModifier(e.Code) {
		sm.updateModifiers(e)
		return []Action{relay(e)}
	}
	if !sm.enabled {
		return []Action{relay(e)}
	}
	switch sm.state.kind {
	case stateHolding:
		return sm.handleHolding(e)
	case statePopup:
		return sm.handlePopup(e)
	default:
		return sm.handleIdle(e)
	}
}

func (sm *StateMachine) handleIdle(e kbevent.Event) []Action {
	if e.Value != kbevent.KeyPress {
		return []Action{relay(e)}
	}
	base, ok := charmap.KeycodeToBase(e.Code)
	if !ok {
		return []Action{relay(e)}
	}
	if sm.ctrlHeld || sm.altHeld || sm.superHeld {
		return []Action{relay(e)}
	}
	accents, ok := charmap.ResolveAccents(sm.localeMap, base, sm.shiftHeld)
	if !ok || len(accents) == 0 {
		return []Action{relay(e)}
	}
	sm.state = state{
		kind:      stateHolding,
		base:      base,
		accents:   accents,
		keyCode:   e.Code,
		shift:     sm.shiftHeld,
		startedAt: sm.now(),
	}
	return []Action{relay(e)}
}

func (sm *StateMachine) handleHolding(e kbevent.Event) []Action {
	held := sm.state.keyCode
	switch {
	case e.Code == held && e.Value == kbevent.KeyRepeat:
		return []Action{suppress()}
	case e.Code == held && e.Value == kbevent.KeyRelease:
		sm.state = state{kind: stateIdle}
		return []Action{relay(e)}
	case e.Value == kbevent.KeyPress:
		sm.state = state{kind: stateIdle}
		return []Action{relay(e)}
	default:
		return []Action{relay(e)}
	}
}

func (sm *StateMachine) handlePopup(e kbevent.Event) []Action {
	held := sm.state.keyCode
	switch {
	case e.Code == held && e.Value == kbevent.KeyRepeat:
		return []Action{suppress()}
	case e.Code == held && e.Value == kbevent.KeyRelease:
		sm.state = state{kind: stateIdle}
		return []Action{sendPopup(ipc.HidePopup()), suppress()}
	case e.Value == kbevent.KeyPress && e.Code == keyEsc:
		sm.state = state{kind: stateIdle}
		return []Action{sendPopup(ipc.HidePopup()), suppress()}
	case e.Value == kbevent.KeyPress:
		if digit, ok := charmap.KeycodeToDigit(e.Code); ok {
			return sm.resolveSelection(digit)
		}
		sm.state = state{kind: stateIdle}
		return []Action{sendPopup(ipc.HidePopup()), relay(e)}
	default:
		return []Action{suppress()}
	}
}

func (sm *StateMachine) resolveSelection(n int) []Action {
	accents := sm.state.accents
	sm.state = state{kind: stateIdle}
	if n >= 1 && n <= len(accents) {
		return []Action{sendPopup(ipc.HidePopup()), emitAccent(accents[n-1])}
	}
	return []Action{sendPopup(ipc.HidePopup())}
}

// CheckTimer inspects the active deadline against the machine's clock and
// performs the Holding→Popup or Popup→Idle transition if it has passed.
// Returns nil if there is nothing to do.
func (sm *StateMachine) CheckTimer() []Action {
	now := sm.now()
	switch sm.state.kind {
	case stateHolding:
		deadline := sm.state.startedAt.Add(time.Duration(sm.thresholdMs) * time.Millisecond)
		if now.Before(deadline) {
			return nil
		}
		release := kbevent.KeyEvent(sm.state.keyCode, kbevent.KeyRelease)
		popup := ipc.ShowPopup(sm.state.base, sm.state.accents)
		sm.state = state{
			kind:      statePopup,
			base:      sm.state.base,
			accents:   sm.state.accents,
			keyCode:   sm.state.keyCode,
			startedAt: now,
		}
		return []Action{relay(release), sendPopup(popup)}
	case statePopup:
		deadline := sm.state.startedAt.Add(time.Duration(sm.popupTimeoutMs) * time.Millisecond)
		if now.Before(deadline) {
			return nil
		}
		sm.state = state{kind: stateIdle}
		return []Action{sendPopup(ipc.HidePopup())}
	default:
		return nil
	}
}

// NextDeadline returns the instant CheckTimer should next be invoked, or
// false when the machine is Idle and has nothing pending.
func (sm *StateMachine) NextDeadline() (time.Time, bool) {
	switch sm.state.kind {
	case stateHolding:
		return sm.state.startedAt.Add(time.Duration(sm.thresholdMs) * time.Millisecond), true
	case statePopup:
		return sm.state.startedAt.Add(time.Duration(sm.popupTimeoutMs) * time.Millisecond), true
	default:
		return time.Time{}, false
	}
}

// IPCSelect applies an out-of-band digit selection (from a popup client
// that does its own input routing) with the same effect as an in-popup
// digit press. Returns nil when the machine is not in Popup state.
func (sm *StateMachine) IPCSelect(n int) []Action {
	if sm.state.kind != statePopup {
		return nil
	}
	return sm.resolveSelection(n)
}

// IPCDismiss applies an out-of-band dismissal with the same effect as an
// in-popup ESC press. Returns nil when the machine is not in Popup state.
func (sm *StateMachine) IPCDismiss() []Action {
	if sm.state.kind != statePopup {
		return nil
	}
	sm.state = state{kind: stateIdle}
	return []Action{sendPopup(ipc.HidePopup())}
}

func isModifier(code uint16) bool {
	switch code {
	case keyLeftCtrl, keyRightCtrl, keyLeftShift, keyRightShift, keyLeftAlt, keyRightAlt, keyLeftMeta, keyRightMeta:
		return true
	default:
		return false
	}
}

func (sm *StateMachine) updateModifiers(e kbevent.Event) {
	if e.Value == kbevent.KeyRepeat {
		return
	}
	held := e.Value == kbevent.KeyPress
	switch e.Code {
	case keyLeftCtrl, keyRightCtrl:
		sm.ctrlHeld = held
	case keyLeftShift, keyRightShift:
		sm.shiftHeld = held
	case keyLeftAlt, keyRightAlt:
		sm.altHeld = held
	case keyLeftMeta, keyRightMeta:
		sm.superHeld = held
	}
}
