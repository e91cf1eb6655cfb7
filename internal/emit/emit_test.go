package emit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accentd/internal/kbevent"
)

type recordingEmitter struct {
	batches [][]kbevent.Event
}

func (r *recordingEmitter) EmitEvents(events []kbevent.Event) error {
	batch := make([]kbevent.Event, len(events))
	copy(batch, events)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingEmitter) keyEvents() []kbevent.Event {
	var out []kbevent.Event
	for _, batch := range r.batches {
		for _, e := range batch {
			if e.IsKey() {
				out = append(out, e)
			}
		}
	}
	return out
}

func noSleep(time.Duration) {}

func newTestComposer() (*Composer, *recordingEmitter) {
	rec := &recordingEmitter{}
	return NewWithSleep(rec, noSleep), rec
}

func TestKeyTapIsTwoEmits(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("è"))

	// batch 0/1: backspace press, backspace release
	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyBackspace, kbevent.KeyPress), kbevent.Syn()}, rec.batches[0])
	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyBackspace, kbevent.KeyRelease), kbevent.Syn()}, rec.batches[1])

	// batch 4/5: U press, U release
	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyU, kbevent.KeyPress), kbevent.Syn()}, rec.batches[4])
	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyU, kbevent.KeyRelease), kbevent.Syn()}, rec.batches[5])
}

func TestModifierPressesAreSeparateEmits(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("è"))

	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyLeftCtrl, kbevent.KeyPress), kbevent.Syn()}, rec.batches[2])
	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyLeftShift, kbevent.KeyPress), kbevent.Syn()}, rec.batches[3])
}

func TestModifierReleasesAreSeparateEmits(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("è"))

	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyLeftShift, kbevent.KeyRelease), kbevent.Syn()}, rec.batches[6])
	assert.Equal(t, []kbevent.Event{kbevent.KeyEvent(kbevent.KeyLeftCtrl, kbevent.KeyRelease), kbevent.Syn()}, rec.batches[7])
}

func TestHexDigitsAreOneEmit(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("è"))

	require.Len(t, rec.batches, 9)
	last := rec.batches[8]
	keyCount := 0
	for _, e := range last {
		if e.IsKey() {
			keyCount++
		}
	}
	assert.Equal(t, 10, keyCount) // 4 hex digits + enter, press+release each
}

func TestFullEventSequenceForEGrave(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("è"))

	want := []kbevent.Event{
		kbevent.KeyEvent(kbevent.KeyBackspace, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.KeyBackspace, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.KeyLeftCtrl, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.KeyLeftShift, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.KeyU, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.KeyU, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.KeyLeftShift, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.KeyLeftCtrl, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.Key0, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.Key0, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.Key0, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.Key0, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.KeyE, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.KeyE, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.Key8, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.Key8, kbevent.KeyRelease),
		kbevent.KeyEvent(kbevent.KeyEnter, kbevent.KeyPress),
		kbevent.KeyEvent(kbevent.KeyEnter, kbevent.KeyRelease),
	}
	assert.Equal(t, want, rec.keyEvents())
}

func TestEmitAccentForEGraveHexDigitsAreZeroZeroEEight(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("è"))

	last := rec.batches[len(rec.batches)-1]
	var presses []uint16
	for _, e := range last {
		if e.IsKey() && e.Value == kbevent.KeyPress {
			presses = append(presses, e.Code)
		}
	}
	assert.Equal(t, []uint16{kbevent.Key0, kbevent.Key0, kbevent.KeyE, kbevent.Key8, kbevent.KeyEnter}, presses)
}

func TestHexDigitToKeyMapsAllHexDigits(t *testing.T) {
	for _, h := range []byte("0123456789abcdefABCDEF") {
		_, ok := kbevent.HexDigitToKey(h)
		assert.True(t, ok, "digit %q should map to a keycode", h)
	}
	_, ok := kbevent.HexDigitToKey('g')
	assert.False(t, ok)
}

func TestEmitAccentRejectsEmptyString(t *testing.T) {
	c, _ := newTestComposer()
	assert.Error(t, c.EmitAccent(""))
}

func TestEmitAccentUppercaseAccent(t *testing.T) {
	c, rec := newTestComposer()
	require.NoError(t, c.EmitAccent("È"))

	last := rec.batches[len(rec.batches)-1]
	var presses []uint16
	for _, e := range last {
		if e.IsKey() && e.Value == kbevent.KeyPress && e.Code != kbevent.KeyEnter {
			presses = append(presses, e.Code)
		}
	}
	// U+00C8 -> hex "00c8"
	assert.Equal(t, []uint16{kbevent.Key0, kbevent.Key0, kbevent.KeyC, kbevent.Key8}, presses)
}
