// Package platform contains the context detection and resilient interaction
// core: the signal-based classifier, the interaction guard, the retry policy
// and the transition controller that together decide which supplier portal the
// shared browser session is rendering and move it safely between portals.
package platform

import "fmt"

// Context identifies which of the known portals the session is rendering.
// Values are compared by identity and never synthesized from partial data.
type Context uint8

const (
	// Unknown is the initial state and the fail-safe result of every
	// classification that cannot name exactly one portal.
	Unknown Context = iota
	// BCI is the BCI Seguros supplier portal.
	BCI
	// Zenit is the Zenit Seguros supplier portal.
	Zenit
)

// String returns the canonical name used in logs and transition records.
func (c Context) String() string {
	switch c {
	case BCI:
		return "BCI"
	case Zenit:
		return "ZENIT"
	case Unknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Context(%d)", uint8(c))
	}
}

// Known reports whether c names a real portal rather than the Unknown state.
func (c Context) Known() bool {
	return c == BCI || c == Zenit
}

// ParseContext maps a canonical name back to its Context. Unrecognized names
// yield Unknown and an error so configuration mistakes surface early.
func ParseContext(s string) (Context, error) {
	switch s {
	case "BCI", "bci":
		return BCI, nil
	case "ZENIT", "zenit", "Zenit":
		return Zenit, nil
	case "UNKNOWN", "unknown":
		return Unknown, nil
	default:
		return Unknown, fmt.Errorf("unknown platform context %q", s)
	}
}
