package session

import (
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
)

// CallState represents the live, mutable state of one call.
// It is persisted to the store after every segment and can be restored by any
// replica handling the next webhook.
//
// PERSISTED:
// - ID, ProviderCallID, CallerNumber, CallerKey, Geo: identity
// - Version: for optimistic locking across replicas
// - Transcript: cumulative transcription text fed to the classifier
// - Conversation: user/assistant messages bounded by the token budget
// - Exchanges: completed caller/assistant exchanges, drives memory writes
// - HighestRisk: monotonically non-decreasing
type CallState struct {
	ID             string             `json:"id"`
	ProviderCallID string             `json:"provider_call_id"`
	CallerNumber   string             `json:"caller_number"`
	CallerKey      string             `json:"caller_key"`
	Geo            hotline.Geo        `json:"geo"`
	Status         hotline.CallStatus `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Version        int64              `json:"version"`
	Transcript     string             `json:"transcript"`
	LanguageCode   string             `json:"language_code"`
	Conversation   []hotline.Message  `json:"conversation"`
	Exchanges      int                `json:"exchanges"`
	HighestRisk    risk.Level         `json:"highest_risk"`
}

// Clone returns a deep copy of the state.
func (c *CallState) Clone() *CallState {
	if c == nil {
		return nil
	}
	out := *c
	if c.Conversation != nil {
		out.Conversation = make([]hotline.Message, len(c.Conversation))
		copy(out.Conversation, c.Conversation)
	}
	return &out
}

// AppendTranscript adds segment text to the cumulative transcript.
func (c *CallState) AppendTranscript(text string) {
	if c.Transcript == "" {
		c.Transcript = text
		return
	}
	c.Transcript += " " + text
}
