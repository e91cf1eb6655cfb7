// Package emit drives the GTK/Qt Ctrl+Shift+U Unicode input-method chord
// that accentd uses to commit an accented character into the focused
// application. It knows nothing about evdev devices: it only writes
// batches of kbevent.Event through an Emitter, which the virtual
// keyboard device implements.
package emit

import (
	"fmt"
	"time"

	"accentd/internal/kbevent"
)

// Emitter writes a batch of input events as a single atomic unit — for a
// real uinput device, one write(2) call. Events within a batch reach
// user space with no gap; events across separate EmitEvents calls do not.
type Emitter interface {
	EmitEvents(events []kbevent.Event) error
}

// Pacing constants for the Ctrl+Shift+U chord, named and timed after the
// GTK/IBus input method's own debounce windows.
const (
	// DelayPopupHide lets the accent-picker popup finish hiding before any
	// key events reach the focused window, so it doesn't intercept them.
	DelayPopupHide = 50 * time.Millisecond
	// DelayAfterBackspace gives the focused app time to process the
	// character deletion before the hex chord starts.
	DelayAfterBackspace = 5 * time.Millisecond
	// DelayBetweenEmits separates consecutive key events within the
	// chord; GTK's hex-entry popup drops events delivered too close
	// together.
	DelayBetweenEmits = 3 * time.Millisecond
	// DelayAfterChord lets the hex-entry popup open before the digits
	// and the committing Enter are typed.
	DelayAfterChord = 5 * time.Millisecond
)

// Composer sequences the accent-emission chord over an Emitter.
type Composer struct {
	emitter Emitter
	sleep   func(time.Duration)
}

// New returns a Composer that paces itself with real time.Sleep calls.
func New(emitter Emitter) *Composer {
	return &Composer{emitter: emitter, sleep: time.Sleep}
}

// NewWithSleep returns a Composer that calls sleep instead of time.Sleep,
// so tests can run the full chord without waiting on the wall clock.
func NewWithSleep(emitter Emitter, sleep func(time.Duration)) *Composer {
	return &Composer{emitter: emitter, sleep: sleep}
}

// EmitAccent types accent into the focused application via the Ctrl+Shift+U
// chord: erase the still-visible base letter, open the hex-entry popup,
// type the character's codepoint in hex, and commit with Enter.
//
// accent must be a single grapheme; only its first rune is encoded. Every
// phase after the initial popup-hide sleep is its own EmitEvents call,
// except the hex digits and the final Enter, which land in one batch with
// no inter-event delay — GTK's hex popup only accepts the whole sequence
// when it arrives without gaps.
func (c *Composer) EmitAccent(accent string) error {
	runes := []rune(accent)
	if len(runes) == 0 {
		return fmt.Errorf("emit: empty accent")
	}
	r := runes[0]

	c.sleep(DelayPopupHide)

	if err := c.tapKey(kbevent.KeyBackspace); err != nil {
		return fmt.Errorf("emit: backspace: %w", err)
	}
	c.sleep(DelayAfterBackspace)

	if err := c.holdKey(kbevent.KeyLeftCtrl, true); err != nil {
		return fmt.Errorf("emit: ctrl down: %w", err)
	}
	if err := c.holdKey(kbevent.KeyLeftShift, true); err != nil {
		return fmt.Errorf("emit: shift down: %w", err)
	}
	if err := c.tapKey(kbevent.KeyU); err != nil {
		return fmt.Errorf("emit: u: %w", err)
	}
	if err := c.holdKey(kbevent.KeyLeftShift, false); err != nil {
		return fmt.Errorf("emit: shift up: %w", err)
	}
	if err := c.holdKey(kbevent.KeyLeftCtrl, false); err != nil {
		return fmt.Errorf("emit: ctrl up: %w", err)
	}
	c.sleep(DelayAfterChord)

	return c.emitHexChord(r)
}

// tapKey presses and releases code as two separate batches, each followed
// by DelayBetweenEmits.
func (c *Composer) tapKey(code uint16) error {
	if err := c.emitter.EmitEvents([]kbevent.Event{
		kbevent.KeyEvent(code, kbevent.KeyPress),
		kbevent.Syn(),
	}); err != nil {
		return err
	}
	c.sleep(DelayBetweenEmits)

	if err := c.emitter.EmitEvents([]kbevent.Event{
		kbevent.KeyEvent(code, kbevent.KeyRelease),
		kbevent.Syn(),
	}); err != nil {
		return err
	}
	c.sleep(DelayBetweenEmits)
	return nil
}

// holdKey emits a single press or release of code as its own batch,
// followed by DelayBetweenEmits. Used for the chord's modifier keys,
// which stay down across the tapped U.
func (c *Composer) holdKey(code uint16, press bool) error {
	value := int32(kbevent.KeyRelease)
	if press {
		value = kbevent.KeyPress
	}
	if err := c.emitter.EmitEvents([]kbevent.Event{
		kbevent.KeyEvent(code, value),
		kbevent.Syn(),
	}); err != nil {
		return err
	}
	c.sleep(DelayBetweenEmits)
	return nil
}

// emitHexChord types r's codepoint as lowercase hex digits, zero-padded to
// at least four, followed by Enter, all in a single batch so the hex popup sees them as one
// uninterrupted entry.
func (c *Composer) emitHexChord(r rune) error {
	hex := fmt.Sprintf("%04x", r)

	events := make([]kbevent.Event, 0, len(hex)*4+4)
	for i := 0; i < len(hex); i++ {
		code, ok := kbevent.HexDigitToKey(hex[i])
		if !ok {
			return fmt.Errorf("emit: no keycode for hex digit %q", hex[i])
		}
		events = append(events,
			kbevent.KeyEvent(code, kbevent.KeyPress), kbevent.Syn(),
			kbevent.KeyEvent(code, kbevent.KeyRelease), kbevent.Syn(),
		)
	}
	events = append(events,
		kbevent.KeyEvent(kbevent.KeyEnter, kbevent.KeyPress), kbevent.Syn(),
		kbevent.KeyEvent(kbevent.KeyEnter, kbevent.KeyRelease), kbevent.Syn(),
	)

	return c.emitter.EmitEvents(events)
}
