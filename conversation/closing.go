package conversation

import (
	"strings"
	"unicode"
)

// EndMarker is the token the model appends when the conversation can close.
const EndMarker = "<end conversation>"

var closingPhrases = []string{"take care", "we are here for you", "reach out anytime", "goodbye"}

var closureWords = map[string]bool{
	"thank": true, "thanks": true, "grateful": true, "gratitude": true,
	"bye": true, "goodbye": true, "farewell": true, "care": true,
	"welcome": true, "glad": true, "safe": true,
}

const (
	// closingTail is the share of the reply, counted from the end, in which a
	// closing phrase signals a close.
	closingTail = 0.3
	shortReply  = 12
)

// StripMarker removes every end marker from reply, collapses whitespace and
// reports whether a marker was present.
func StripMarker(reply string) (string, bool) {
	found := strings.Contains(reply, EndMarker)
	cleaned := strings.ReplaceAll(reply, EndMarker, " ")
	return strings.Join(strings.Fields(cleaned), " "), found
}

// IsNaturalClose reports whether a reply, with the marker already stripped,
// winds the conversation down: a closing phrase in its final part, or a short
// reply made up mostly of gratitude and farewell words.
func IsNaturalClose(reply string) bool {
	lower := strings.ToLower(strings.TrimSpace(reply))
	if lower == "" {
		return false
	}

	tailStart := int(float64(len(lower)) * (1 - closingTail))
	for _, phrase := range closingPhrases {
		if i := strings.LastIndex(lower, phrase); i >= 0 && i+len(phrase) > tailStart {
			return true
		}
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 || len(words) > shortReply {
		return false
	}
	hits := 0
	for _, w := range words {
		if closureWords[w] {
			hits++
		}
	}
	return hits*2 >= len(words)
}
