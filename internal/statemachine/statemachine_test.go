package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accentd/internal/charmap"
	"accentd/internal/ipc"
	"accentd/internal/kbevent"
)

// fakeClock lets tests advance the machine's notion of "now" without
// real sleeps.
type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(0, 0)} }
func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

const (
	codeE   = 18
	codeF   = 33
	code1   = 2
	code2   = 3
	codeEsc = 1
	codeLCtrl = 29
)

func newItalianMachine(t *testing.T, clock *fakeClock) *StateMachine {
	t.Helper()
	cfg := Config{ThresholdMs: 300, PopupTimeoutMs: 5000, Enabled: true}
	return NewWithClock(cfg, charmap.BuiltinLocale("it"), clock.now)
}

// Scenario 1: tap 'e', released well before the threshold.
func TestScenarioTapE(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	assert.Equal(t, kbevent.KeyEvent(codeE, kbevent.KeyPress), actions[0].Event)

	clock.advance(50 * time.Millisecond)
	actions = sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyRelease))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	assert.Equal(t, kbevent.KeyEvent(codeE, kbevent.KeyRelease), actions[0].Event)

	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

// Scenario 2: hold 'e' past the threshold, then select digit 2.
func TestScenarioHoldThenSelect(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)

	clock.advance(310 * time.Millisecond)
	actions = sm.CheckTimer()
	require.Len(t, actions, 2)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	assert.Equal(t, kbevent.KeyEvent(codeE, kbevent.KeyRelease), actions[0].Event)
	assert.Equal(t, ActionSendPopup, actions[1].Kind)
	assert.Equal(t, ipc.TypeShowPopup, actions[1].Popup.Type)
	assert.Equal(t, "e", actions[1].Popup.Base)
	assert.Equal(t, []string{"è", "é", "ê", "ë"}, actions[1].Popup.Accents)
	assert.Equal(t, []int{1, 2, 3, 4}, actions[1].Popup.Labels)

	actions = sm.ProcessEvent(kbevent.KeyEvent(code2, kbevent.KeyPress))
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ipc.TypeHidePopup, actions[0].Popup.Type)
	assert.Equal(t, ActionEmitAccent, actions[1].Kind)
	assert.Equal(t, "é", actions[1].Accent)
}

// Scenario 3: hold to popup, then ESC dismisses with no emit.
func TestScenarioHoldThenEscape(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)

	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeEsc, kbevent.KeyPress))
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ipc.TypeHidePopup, actions[0].Popup.Type)
	assert.Equal(t, ActionSuppress, actions[1].Kind)
}

// Scenario 4: fast typist — a second key press cancels the hold before
// the threshold, with no popup ever shown.
func TestScenarioFastTypistCancelsHold(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)

	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(20 * time.Millisecond)

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeF, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	assert.Equal(t, kbevent.KeyEvent(codeF, kbevent.KeyPress), actions[0].Event)

	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

// Scenario 5: Ctrl+E never enters Holding.
func TestScenarioCtrlEVetoesHold(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeLCtrl, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)

	actions = sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)

	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

func TestAutorepeatSuppressedInHolding(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyRepeat))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSuppress, actions[0].Kind)
}

func TestAutorepeatSuppressedInPopup(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyRepeat))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSuppress, actions[0].Kind)
}

func TestReleaseHeldKeyInPopupDismissesWithoutEmit(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyRelease))
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ipc.TypeHidePopup, actions[0].Popup.Type)
	assert.Equal(t, ActionSuppress, actions[1].Kind)
}

func TestOutOfRangeDigitDismissesWithoutEmit(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress)) // 4 accents for 'e'
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	actions := sm.ProcessEvent(kbevent.KeyEvent(9, kbevent.KeyPress)) // digit 8, out of range
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ipc.TypeHidePopup, actions[0].Popup.Type)
}

func TestUnrelatedPressInPopupDismissesAndRelays(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeF, kbevent.KeyPress))
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ActionRelay, actions[1].Kind)
	assert.Equal(t, kbevent.KeyEvent(codeF, kbevent.KeyPress), actions[1].Event)
}

func TestPopupTimesOutWithoutEmit(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	clock.advance(5001 * time.Millisecond)
	actions := sm.CheckTimer()
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ipc.TypeHidePopup, actions[0].Popup.Type)

	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

func TestShiftSelectsUppercaseAccents(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)

	sm.ProcessEvent(kbevent.KeyEvent(42, kbevent.KeyPress)) // LEFTSHIFT down
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	actions := sm.CheckTimer()
	require.Len(t, actions, 2)
	assert.Equal(t, []string{"È", "É", "Ê", "Ë"}, actions[1].Popup.Accents)
}

func TestDisabledRelaysEverything(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.SetEnabled(false)

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

func TestSetEnabledFalseForcesIdle(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	require.True(t, func() bool { _, ok := sm.NextDeadline(); return ok }())

	sm.SetEnabled(false)
	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

func TestNonKeyEventsAlwaysRelayed(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	syn := kbevent.Syn()
	actions := sm.ProcessEvent(syn)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	assert.Equal(t, syn, actions[0].Event)
}

func TestIPCSelectEmptyWhenIdle(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	assert.Nil(t, sm.IPCSelect(1))
}

func TestIPCDismissEmptyWhenIdle(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	assert.Nil(t, sm.IPCDismiss())
}

func TestIPCSelectMatchesInPopupDigitPress(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	clock.advance(310 * time.Millisecond)
	sm.CheckTimer()

	actions := sm.IPCSelect(1)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendPopup, actions[0].Kind)
	assert.Equal(t, ActionEmitAccent, actions[1].Kind)
	assert.Equal(t, "è", actions[1].Accent)
}

func TestModifierReleaseAllowsHoldAgain(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeLCtrl, kbevent.KeyPress))
	sm.ProcessEvent(kbevent.KeyEvent(codeLCtrl, kbevent.KeyRelease))

	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	_, hasDeadline := sm.NextDeadline()
	assert.True(t, hasDeadline)
}

func TestNextDeadlineNoneWhenIdleSomeWhenHolding(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	_, ok := sm.NextDeadline()
	assert.False(t, ok)

	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	deadline, ok := sm.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clock.now().Add(300*time.Millisecond), deadline)
}

func TestEligibleKeyWithEmptyResolutionJustRelays(t *testing.T) {
	clock := newFakeClock()
	cfg := Config{ThresholdMs: 300, PopupTimeoutMs: 5000, Enabled: true}
	sm := NewWithClock(cfg, charmap.LocaleMap{}, clock.now)

	actions := sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRelay, actions[0].Kind)
	_, hasDeadline := sm.NextDeadline()
	assert.False(t, hasDeadline)
}

func TestSetLocaleMapForcesIdle(t *testing.T) {
	clock := newFakeClock()
	sm := newItalianMachine(t, clock)
	sm.ProcessEvent(kbevent.KeyEvent(codeE, kbevent.KeyPress))
	_, ok := sm.NextDeadline()
	require.True(t, ok)

	sm.SetLocaleMap(charmap.BuiltinLocale("fr"))
	_, ok = sm.NextDeadline()
	assert.False(t, ok)
}

// The Rust original pins this exact 5-variant sequence for Italian 'a'.
func TestItalianAHasFiveVariants(t *testing.T) {
	m := charmap.BuiltinLocale("it")
	assert.Equal(t, []string{"à", "á", "â", "ã", "ä"}, m["a"])
}

func TestZeroLatencyRelayOnEveryEligiblePress(t *testing.T) {
	clock := newFakeClock()
	for _, code := range []uint16{30, 18, 46, 23, 49, 24, 31, 22, 21} {
		sm := newItalianMachine(t, clock)
		e := kbevent.KeyEvent(code, kbevent.KeyPress)
		actions := sm.ProcessEvent(e)
		require.NotEmpty(t, actions)
		assert.Equal(t, ActionRelay, actions[0].Kind)
		assert.Equal(t, e, actions[0].Event)
	}
}
