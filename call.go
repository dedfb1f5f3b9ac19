package hotline

import "strings"

// CallStatus is the lifecycle status of a call.
type CallStatus string

const (
	StatusRinging      CallStatus = "ringing"
	StatusInProgress   CallStatus = "in_progress"
	StatusCompleted    CallStatus = "completed"
	StatusDisconnected CallStatus = "disconnected"
	StatusFailed       CallStatus = "failed"
)

// Terminal reports whether no further segments are expected.
func (s CallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDisconnected || s == StatusFailed
}

func (s CallStatus) stage() int {
	switch {
	case s == StatusRinging:
		return 0
	case s == StatusInProgress:
		return 1
	case s.Terminal():
		return 2
	}
	return -1
}

// Advances reports whether moving from s to next goes forward in the call
// lifecycle: ringing, then in progress, then a terminal status.
func (s CallStatus) Advances(next CallStatus) bool {
	return next.stage() > s.stage()
}

// Geo is the caller location reported by the telephony provider.
type Geo struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// String formats the location as "City, State, Country".
func (g Geo) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{g.City, g.State, g.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "Location unknown"
	}
	return strings.Join(parts, ", ")
}
