package supabase

import (
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/records"
	"github.com/creastat/hotline/risk"
)

// callRow mirrors the calls table.
type callRow struct {
	ID                string     `json:"id"`
	ProviderCallID    string     `json:"provider_call_id"`
	CallerNumber      string     `json:"caller_number"`
	CallerCity        string     `json:"caller_city"`
	CallerState       string     `json:"caller_state"`
	CallerCountry     string     `json:"caller_country"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at"`
	DurationSeconds   int        `json:"duration_seconds"`
	HighestRisk       string     `json:"highest_risk"`
	Transcript        string     `json:"transcript"`
	SegmentsProcessed int        `json:"segments_processed"`
	ResponsesPlayed   int        `json:"responses_played"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toCallRow(c *records.Call) callRow {
	return callRow{
		ID:                c.ID,
		ProviderCallID:    c.ProviderCallID,
		CallerNumber:      c.CallerNumber,
		CallerCity:        c.Geo.City,
		CallerState:       c.Geo.State,
		CallerCountry:     c.Geo.Country,
		Status:            string(c.Status),
		StartedAt:         c.StartedAt,
		EndedAt:           c.EndedAt,
		DurationSeconds:   c.DurationSeconds,
		HighestRisk:       c.HighestRisk.String(),
		Transcript:        c.Transcript,
		SegmentsProcessed: c.SegmentsProcessed,
		ResponsesPlayed:   c.ResponsesPlayed,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (r callRow) toCall() *records.Call {
	level, _ := risk.ParseLevel(r.HighestRisk)
	return &records.Call{
		ID:                r.ID,
		ProviderCallID:    r.ProviderCallID,
		CallerNumber:      r.CallerNumber,
		Geo:               hotline.Geo{City: r.CallerCity, State: r.CallerState, Country: r.CallerCountry},
		Status:            hotline.CallStatus(r.Status),
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
		DurationSeconds:   r.DurationSeconds,
		HighestRisk:       level,
		Transcript:        r.Transcript,
		SegmentsProcessed: r.SegmentsProcessed,
		ResponsesPlayed:   r.ResponsesPlayed,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// callUpdate holds the mutable columns of a call.
type callUpdate struct {
	Status            string     `json:"status"`
	EndedAt           *time.Time `json:"ended_at"`
	DurationSeconds   int        `json:"duration_seconds"`
	HighestRisk       string     `json:"highest_risk"`
	Transcript        string     `json:"transcript"`
	SegmentsProcessed int        `json:"segments_processed"`
	ResponsesPlayed   int        `json:"responses_played"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// chunkRow mirrors the recording_chunks table. records.Chunk already carries
// matching json tags.
type chunkRow = records.Chunk

// chunkUpdate holds the mutable columns of a chunk.
type chunkUpdate struct {
	LocalPath               string     `json:"local_path"`
	SHA256                  string     `json:"sha256"`
	SizeBytes               int64      `json:"size_bytes"`
	DurationSeconds         int        `json:"duration_seconds"`
	Transcription           *string    `json:"transcription"`
	LanguageCode            string     `json:"language_code"`
	Processed               bool       `json:"processed"`
	RiskAssessmentCompleted bool       `json:"risk_assessment_completed"`
	ResponseAudio           string     `json:"response_audio"`
	ResponsePlayed          bool       `json:"response_played"`
	ProcessedAt             *time.Time `json:"processed_at"`
}

// assessmentRow mirrors the risk_assessments table.
type assessmentRow = records.Assessment

// escalationRow mirrors the escalations table.
type escalationRow struct {
	CallID     string    `json:"call_id"`
	Trigger    string    `json:"trigger_type"`
	RiskLevel  string    `json:"risk_level"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// attemptRow mirrors the emergency_contact_attempts table.
type attemptRow struct {
	ID           string    `json:"id"`
	CallID       string    `json:"call_id"`
	Trigger      string    `json:"trigger_type"`
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	ContactType  string    `json:"contact_type"`
	Reached      bool      `json:"reached"`
	ProviderRef  string    `json:"provider_ref"`
	Notes        string    `json:"notes"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

func toAttemptRow(a records.ContactAttempt) attemptRow {
	return attemptRow{
		ID:           a.ID,
		CallID:       a.CallID,
		Trigger:      a.Trigger,
		ContactName:  a.ContactName,
		ContactPhone: a.ContactPhone,
		ContactType:  a.ContactType,
		Reached:      a.Reached,
		ProviderRef:  a.ProviderRef,
		Notes:        a.Notes,
		AttemptedAt:  a.AttemptedAt,
	}
}

func (r attemptRow) toAttempt() records.ContactAttempt {
	return records.ContactAttempt{
		ID:           r.ID,
		CallID:       r.CallID,
		Trigger:      r.Trigger,
		ContactName:  r.ContactName,
		ContactPhone: r.ContactPhone,
		ContactType:  r.ContactType,
		Reached:      r.Reached,
		ProviderRef:  r.ProviderRef,
		Notes:        r.Notes,
		AttemptedAt:  r.AttemptedAt,
	}
}
