package records

import (
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
)

// TriggerRiskAssessment is the escalation trigger raised by the classifier.
const TriggerRiskAssessment = "Crisis Team - Risk Assessment"

// Call is the durable record of one phone call.
type Call struct {
	ID                string             `json:"id"`
	ProviderCallID    string             `json:"provider_call_id"`
	CallerNumber      string             `json:"caller_number"`
	Geo               hotline.Geo        `json:"geo"`
	Status            hotline.CallStatus `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	EndedAt           *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds   int                `json:"duration_seconds"`
	HighestRisk       risk.Level         `json:"highest_risk"`
	Transcript        string             `json:"transcript"`
	SegmentsProcessed int                `json:"segments_processed"`
	ResponsesPlayed   int                `json:"responses_played"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Chunk is one recorded audio segment of a call.
type Chunk struct {
	ID                      string     `json:"id"`
	CallID                  string     `json:"call_id"`
	Number                  int        `json:"chunk_number"`
	RecordingURL            string     `json:"recording_url"`
	LocalPath               string     `json:"local_path"`
	SHA256                  string     `json:"sha256"`
	SizeBytes               int64      `json:"size_bytes"`
	DurationSeconds         int        `json:"duration_seconds"`
	Transcription           *string    `json:"transcription,omitempty"`
	LanguageCode            string     `json:"language_code"`
	Processed               bool       `json:"processed"`
	RiskAssessmentCompleted bool       `json:"risk_assessment_completed"`
	ResponseAudio           string     `json:"response_audio"`
	ResponsePlayed          bool       `json:"response_played"`
	RecordedAt              time.Time  `json:"recorded_at"`
	ProcessedAt             *time.Time `json:"processed_at,omitempty"`
}

// Assessment is a risk assessment of the transcript up to a chunk.
type Assessment struct {
	ID          string        `json:"id"`
	CallID      string        `json:"call_id"`
	ChunkNumber int           `json:"chunk_number"`
	Category    risk.Category `json:"category"`
	Level       risk.Level    `json:"risk_level"`
	Description string        `json:"description"`
	Confidence  float64       `json:"confidence"`
	Source      risk.Source   `json:"source"`
	// RiskFactors lists every category seen so far in the call, deduplicated.
	RiskFactors    []risk.Category `json:"risk_factors"`
	FollowUpNeeded bool            `json:"follow_up_needed"`
	FollowUpNotes  string          `json:"follow_up_notes"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Escalation is the idempotency record of an automatic escalation.
type Escalation struct {
	CallID     string        `json:"call_id"`
	Trigger    string        `json:"trigger"`
	Level      risk.Level    `json:"risk_level"`
	Category   risk.Category `json:"category"`
	Confidence float64       `json:"confidence"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ContactAttempt records one outreach to an emergency contact.
type ContactAttempt struct {
	ID           string    `json:"id"`
	CallID       string    `json:"call_id"`
	Trigger      string    `json:"trigger"`
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	ContactType  string    `json:"contact_type"`
	Reached      bool      `json:"reached"`
	ProviderRef  string    `json:"provider_ref"`
	Notes        string    `json:"notes"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

// ChunkStats aggregates chunk flags for a call.
type ChunkStats struct {
	Total           int
	Processed       int
	ResponsesPlayed int
}
