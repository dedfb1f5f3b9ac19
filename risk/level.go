package risk

import (
	"fmt"
	"strings"
)

// Level is the ordered severity assigned to accumulated transcript content.
// The zero value is None.
type Level int

const (
	None Level = iota
	Low
	Moderate
	High
	Critical
)

var levelNames = [...]string{"none", "low", "moderate", "high", "critical"}

// String returns the lower-case level name.
func (l Level) String() string {
	if l < None || l > Critical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Priority returns the level's position in the total order.
func (l Level) Priority() int { return int(l) }

// Valid reports whether l is one of the declared levels.
func (l Level) Valid() bool { return l >= None && l <= Critical }

// Exceeds reports whether l is strictly more severe than other.
func (l Level) Exceeds(other Level) bool { return l > other }

// Escalates reports whether l requires emergency escalation.
func (l Level) Escalates() bool { return l >= High }

// Max returns the more severe of a and b.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// ParseLevel parses a level name. Legacy spellings used by older call records
// ("no risk", "no_risk", "unknown", "medium", "ALERT!") are accepted.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "no risk", "no_risk", "unknown", "":
		return None, nil
	case "low", "low risk":
		return Low, nil
	case "moderate", "medium", "medium risk":
		return Moderate, nil
	case "high", "high risk":
		return High, nil
	case "critical", "alert!":
		return Critical, nil
	}
	return None, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
