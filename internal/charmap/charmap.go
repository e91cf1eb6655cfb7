// Package charmap holds the static per-locale accent tables and the two
// pure evdev-keycode lookups the rest of accentd builds on.
package charmap

import "strings"

// LocaleMap maps a lowercase single-character base letter to an ordered
// sequence of accented variants. Order is user-visible: it determines the
// digit labels the popup shows.
type LocaleMap map[string][]string

// EligibleBases lists the only base letters a LocaleMap may key on.
var EligibleBases = []string{"a", "c", "e", "i", "n", "o", "s", "u", "y"}

var builtinLocales = map[string]LocaleMap{
	"it": {
		"a": {"à", "á", "â", "ã", "ä"},
		"e": {"è", "é", "ê", "ë"},
		"i": {"ì", "í", "î", "ï"},
		"o": {"ò", "ó", "ô", "õ", "ö"},
		"u": {"ù", "ú", "û", "ü"},
		"n": {"ñ"},
		"c": {"ç"},
	},
	"es": {
		"a": {"á", "à", "â", "ä"},
		"e": {"é", "è", "ê", "ë"},
		"i": {"í", "ì", "î", "ï"},
		"o": {"ó", "ò", "ô", "ö"},
		"u": {"ú", "ù", "û", "ü"},
		"n": {"ñ"},
		"y": {"ý", "ÿ"},
	},
	"fr": {
		"a": {"à", "â", "æ", "á", "ä"},
		"e": {"è", "é", "ê", "ë", "æ"},
		"i": {"î", "ï", "í", "ì"},
		"o": {"ô", "œ", "ö", "ò", "ó"},
		"u": {"ù", "û", "ü", "ú"},
		"c": {"ç"},
		"y": {"ÿ"},
	},
	"de": {
		"a": {"ä", "à", "á", "â"},
		"e": {"ë", "è", "é", "ê"},
		"i": {"ï", "ì", "í", "î"},
		"o": {"ö", "ò", "ó", "ô"},
		"u": {"ü", "ù", "ú", "û"},
		"s": {"ß"},
	},
	"pt": {
		"a": {"ã", "á", "à", "â", "ä"},
		"e": {"é", "è", "ê", "ë"},
		"i": {"í", "ì", "î", "ï"},
		"o": {"õ", "ó", "ò", "ô", "ö"},
		"u": {"ú", "ù", "û", "ü"},
		"c": {"ç"},
	},
}

// BuiltinLocale returns the built-in table for name, or an empty LocaleMap
// if name is not one of the five built-ins.
func BuiltinLocale(name string) LocaleMap {
	if m, ok := builtinLocales[name]; ok {
		return m
	}
	return LocaleMap{}
}

// ResolveAccents looks up base (case-insensitive) in m and, when shift is
// true, uppercases every grapheme in the result. Returns false if base has
// no entry or the entry is empty.
func ResolveAccents(m LocaleMap, base string, shift bool) ([]string, bool) {
	seq, ok := m[strings.ToLower(base)]
	if !ok || len(seq) == 0 {
		return nil, false
	}
	if !shift {
		out := make([]string, len(seq))
		copy(out, seq)
		return out, true
	}
	out := make([]string, len(seq))
	for i, s := range seq {
		out[i] = strings.ToUpper(s)
	}
	return out, true
}

// keycodeToBase is the non-negotiable evdev keycode → base-letter table
// from the external interface spec. Keys not present map to ("", false).
var keycodeToBase = map[uint16]string{
	30: "a",
	46: "c",
	18: "e",
	23: "i",
	49: "n",
	24: "o",
	31: "s",
	22: "u",
	21: "y",
}

// KeycodeToBase returns the eligible base letter for an evdev keycode, or
// ("", false) if the keycode is not accent-eligible.
func KeycodeToBase(code uint16) (string, bool) {
	base, ok := keycodeToBase[code]
	return base, ok
}

// KeycodeToDigit maps evdev keycodes 2..10 to digits 1..9; any other code
// returns (0, false).
func KeycodeToDigit(code uint16) (int, bool) {
	if code >= 2 && code <= 10 {
		return int(code) - 1, true
	}
	return 0, false
}
