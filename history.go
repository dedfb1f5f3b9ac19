package hotline

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AddMessageToHistory appends a message stamped with the current time.
func AddMessageToHistory(history []Message, role, content string) []Message {
	return append(history, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// CountMessageTokens sums the token counts of every message content.
func CountMessageTokens(counter TokenCounter, messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += counter.CountTokens(msg.Content)
	}
	return total
}

// FitContext builds the context sent to the dialogue model: the system message
// followed by history. While the total exceeds budget it evicts the oldest pair
// of messages that precedes the newest one. The system message and the newest
// message are never evicted, so the result can still exceed budget when those
// two alone do. The returned history excludes the system message and does not
// share a backing array with the input.
func FitContext(counter TokenCounter, system Message, history []Message, budget int) (window []Message, trimmed []Message) {
	trimmed = make([]Message, len(history))
	copy(trimmed, history)

	systemTokens := counter.CountTokens(system.Content)
	total := systemTokens + CountMessageTokens(counter, trimmed)

	for total > budget && len(trimmed) > 1 {
		n := 2
		if len(trimmed)-1 < n {
			n = len(trimmed) - 1
		}
		for _, msg := range trimmed[:n] {
			total -= counter.CountTokens(msg.Content)
		}
		trimmed = trimmed[n:]
	}

	window = make([]Message, 0, len(trimmed)+1)
	window = append(window, system)
	window = append(window, trimmed...)
	return window, trimmed
}
