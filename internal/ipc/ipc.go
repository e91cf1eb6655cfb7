// Package ipc implements accentd's line-delimited JSON wire protocol:
// one "type"-tagged message per newline-terminated line over a Unix
// stream socket.
package ipc

import (
	"encoding/json"
	"strings"
)

// DaemonMsg is a message sent from the daemon to a connected client.
type DaemonMsg struct {
	Type string `json:"type"`

	// show_popup
	Base    string   `json:"base,omitempty"`
	Accents []string `json:"accents,omitempty"`
	Labels  []int    `json:"labels,omitempty"`

	// status
	Enabled bool   `json:"enabled,omitempty"`
	Locale  string `json:"locale,omitempty"`
	Version string `json:"version,omitempty"`

	// ack
	OK      bool   `json:"ok,omitempty"`
	Message string `json:"message,omitempty"`
}

// Daemon message type tags.
const (
	TypeShowPopup = "show_popup"
	TypeHidePopup = "hide_popup"
	TypeStatus    = "status"
	TypeAck       = "ack"
)

// ShowPopup builds a show_popup DaemonMsg with 1-indexed labels.
func ShowPopup(base string, accents []string) DaemonMsg {
	labels := make([]int, len(accents))
	for i := range accents {
		labels[i] = i + 1
	}
	return DaemonMsg{Type: TypeShowPopup, Base: base, Accents: accents, Labels: labels}
}

// HidePopup builds a hide_popup DaemonMsg.
func HidePopup() DaemonMsg {
	return DaemonMsg{Type: TypeHidePopup}
}

// Status builds a status DaemonMsg.
func Status(enabled bool, locale, version string) DaemonMsg {
	return DaemonMsg{Type: TypeStatus, Enabled: enabled, Locale: locale, Version: version}
}

// Ack builds an ack DaemonMsg.
func Ack(ok bool, message string) DaemonMsg {
	return DaemonMsg{Type: TypeAck, OK: ok, Message: message}
}

// MarshalJSON writes a status's enabled and an ack's ok even when false.
func (m DaemonMsg) MarshalJSON() ([]byte, error) {
	type plain DaemonMsg
	switch m.Type {
	case TypeStatus:
		return json.Marshal(struct {
			plain
			Enabled bool `json:"enabled"`
		}{plain(m), m.Enabled})
	case TypeAck:
		return json.Marshal(struct {
			plain
			OK bool `json:"ok"`
		}{plain(m), m.OK})
	}
	return json.Marshal(plain(m))
}

// ClientMsg is a message sent from a client to the daemon.
type ClientMsg struct {
	Type string `json:"type"`

	// select
	Index int `json:"index,omitempty"`

	// set_locale
	Locale string `json:"locale,omitempty"`
}

// Client message type tags.
const (
	TypeSelect        = "select"
	TypeDismiss       = "dismiss"
	TypeToggle        = "toggle"
	TypeEnable        = "enable"
	TypeDisable       = "disable"
	TypeSetLocale     = "set_locale"
	TypeGetStatus     = "get_status"
	TypeRegisterPopup = "register_popup"
)

// wireMsg is the set of message types Encode accepts.
type wireMsg interface {
	DaemonMsg | ClientMsg
}

// Encode serializes m to a single line of JSON terminated by exactly one
// newline. The generic type parameter lets callers pass either DaemonMsg
// or ClientMsg without two near-identical functions.
func Encode[T wireMsg](m T) string {
	b, err := json.Marshal(m)
	if err != nil {
		// Both message types are plain structs of marshalable fields;
		// a marshal failure here would be a programming error, not a
		// runtime condition callers need to handle.
		panic(err)
	}
	return string(b) + "\n"
}

// DecodeDaemonMsg parses one line as a DaemonMsg. Empty/whitespace input,
// malformed JSON, and JSON missing a recognizable "type" all decode to
// (DaemonMsg{}, false) rather than an error — the reader simply skips the
// line, per the wire protocol's error-handling design.
func DecodeDaemonMsg(line string) (DaemonMsg, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return DaemonMsg{}, false
	}
	var m DaemonMsg
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return DaemonMsg{}, false
	}
	switch m.Type {
	case TypeShowPopup, TypeHidePopup, TypeStatus, TypeAck:
		return m, true
	}
	return DaemonMsg{}, false
}

// DecodeClientMsg parses one line as a ClientMsg, with the same
// no-error, decode-to-false-on-garbage semantics as DecodeDaemonMsg.
func DecodeClientMsg(line string) (ClientMsg, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ClientMsg{}, false
	}
	var m ClientMsg
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return ClientMsg{}, false
	}
	switch m.Type {
	case TypeSelect, TypeDismiss, TypeToggle, TypeEnable, TypeDisable,
		TypeSetLocale, TypeGetStatus, TypeRegisterPopup:
		return m, true
	}
	return ClientMsg{}, false
}
