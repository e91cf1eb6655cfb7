package kbevent

// Linux keycodes accentd emits or watches for. Values match the kernel's
// input-event-codes.h.
const (
	KeyEsc       = 1
	KeyBackspace = 14
	KeyEnter     = 28
	KeyU         = 22

	KeyLeftCtrl   = 29
	KeyRightCtrl  = 97
	KeyLeftShift  = 42
	KeyRightShift = 54
	KeyLeftAlt    = 56
	KeyRightAlt   = 100
	KeyLeftMeta   = 125
	KeyRightMeta  = 126

	Key0 = 11
	Key1 = 2
	Key2 = 3
	Key3 = 4
	Key4 = 5
	Key5 = 6
	Key6 = 7
	Key7 = 8
	Key8 = 9
	Key9 = 10

	KeyA = 30
	KeyB = 48
	KeyC = 46
	KeyD = 32
	KeyE = 18
	KeyF = 33
)

// HexDigitToKey maps a lowercase or uppercase hex digit to the keycode
// that types it on a US layout. ok is false for anything else.
func HexDigitToKey(h byte) (code uint16, ok bool) {
	switch h {
	case '0':
		return Key0, true
	case '1':
		return Key1, true
	case '2':
		return Key2, true
	case '3':
		return Key3, true
	case '4':
		return Key4, true
	case '5':
		return Key5, true
	case '6':
		return Key6, true
	case '7':
		return Key7, true
	case '8':
		return Key8, true
	case '9':
		return Key9, true
	case 'a', 'A':
		return KeyA, true
	case 'b', 'B':
		return KeyB, true
	case 'c', 'C':
		return KeyC, true
	case 'd', 'D':
		return KeyD, true
	case 'e', 'E':
		return KeyE, true
	case 'f', 'F':
		return KeyF, true
	}
	return 0, false
}
