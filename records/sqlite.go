package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore implements Store on an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// sqlite has a single writer; one connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateCall implements Store.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now
	if call.StartedAt.IsZero() {
		call.StartedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, provider_call_id, caller_number, caller_city, caller_state, caller_country,
			status, started_at, ended_at, duration_seconds, highest_risk, transcript,
			segments_processed, responses_played, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.ProviderCallID, call.CallerNumber, call.Geo.City, call.Geo.State, call.Geo.Country,
		string(call.Status), formatTime(call.StartedAt), formatTimePtr(call.EndedAt), call.DurationSeconds,
		call.HighestRisk.String(), call.Transcript, call.SegmentsProcessed, call.ResponsesPlayed,
		formatTime(call.CreatedAt), formatTime(call.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return hotline.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

const callColumns = `id, provider_call_id, caller_number, caller_city, caller_state, caller_country,
	status, started_at, ended_at, duration_seconds, highest_risk, transcript,
	segments_processed, responses_played, created_at, updated_at`

// GetCall implements Store.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	return scanCall(row)
}

// FindCallByProviderID implements Store.
func (s *SQLiteStore) FindCallByProviderID(ctx context.Context, providerCallID string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE provider_call_id = ?`, providerCallID)
	return scanCall(row)
}

// UpdateCall implements Store.
func (s *SQLiteStore) UpdateCall(ctx context.Context, call *Call) error {
	call.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, ended_at = ?, duration_seconds = ?, highest_risk = ?, transcript = ?,
			segments_processed = ?, responses_played = ?, updated_at = ?
		 WHERE id = ?`,
		string(call.Status), formatTimePtr(call.EndedAt), call.DurationSeconds, call.HighestRisk.String(),
		call.Transcript, call.SegmentsProcessed, call.ResponsesPlayed, formatTime(call.UpdatedAt), call.ID,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return hotline.ErrNotFound
	}
	return nil
}

// NextChunk implements Store.
func (s *SQLiteStore) NextChunk(ctx context.Context, chunk *Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recording_chunks WHERE call_id = ?`, chunk.CallID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}

	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if chunk.RecordedAt.IsZero() {
		chunk.RecordedAt = time.Now().UTC()
	}
	chunk.Number = count + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recording_chunks (id, call_id, chunk_number, recording_url, local_path, sha256, size_bytes,
			duration_seconds, transcription, language_code, processed, risk_assessment_completed,
			response_audio, response_played, recorded_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.CallID, chunk.Number, chunk.RecordingURL, chunk.LocalPath, chunk.SHA256, chunk.SizeBytes,
		chunk.DurationSeconds, nullString(chunk.Transcription), chunk.LanguageCode, chunk.Processed,
		chunk.RiskAssessmentCompleted, chunk.ResponseAudio, chunk.ResponsePlayed,
		formatTime(chunk.RecordedAt), formatTimePtr(chunk.ProcessedAt),
	)
	if isUniqueViolation(err) {
		return hotline.ErrDuplicate
	}
	if isForeignKeyViolation(err) {
		return hotline.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}
	return nil
}

// UpdateChunk implements Store.
func (s *SQLiteStore) UpdateChunk(ctx context.Context, chunk *Chunk) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recording_chunks SET local_path = ?, sha256 = ?, size_bytes = ?, duration_seconds = ?,
			transcription = ?, language_code = ?, processed = ?, risk_assessment_completed = ?,
			response_audio = ?, response_played = ?, processed_at = ?
		 WHERE id = ?`,
		chunk.LocalPath, chunk.SHA256, chunk.SizeBytes, chunk.DurationSeconds, nullString(chunk.Transcription),
		chunk.LanguageCode, chunk.Processed, chunk.RiskAssessmentCompleted, chunk.ResponseAudio,
		chunk.ResponsePlayed, formatTimePtr(chunk.ProcessedAt), chunk.ID,
	)
	if err != nil {
		return fmt.Errorf("update chunk: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return hotline.ErrNotFound
	}
	return nil
}

// ListChunks implements Store.
func (s *SQLiteStore) ListChunks(ctx context.Context, callID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, chunk_number, recording_url, local_path, sha256, size_bytes, duration_seconds,
			transcription, language_code, processed, risk_assessment_completed, response_audio,
			response_played, recorded_at, processed_at
		 FROM recording_chunks WHERE call_id = ? ORDER BY chunk_number`, callID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c             Chunk
			transcription sql.NullString
			recordedAt    string
			processedAt   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.CallID, &c.Number, &c.RecordingURL, &c.LocalPath, &c.SHA256,
			&c.SizeBytes, &c.DurationSeconds, &transcription, &c.LanguageCode, &c.Processed,
			&c.RiskAssessmentCompleted, &c.ResponseAudio, &c.ResponsePlayed, &recordedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if transcription.Valid {
			text := transcription.String
			c.Transcription = &text
		}
		c.RecordedAt = parseTime(recordedAt)
		c.ProcessedAt = parseTimePtr(processedAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkStats implements Store.
func (s *SQLiteStore) ChunkStats(ctx context.Context, callID string) (ChunkStats, error) {
	var stats ChunkStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(processed), 0), COALESCE(SUM(response_played), 0)
		 FROM recording_chunks WHERE call_id = ?`, callID,
	).Scan(&stats.Total, &stats.Processed, &stats.ResponsesPlayed)
	if err != nil {
		return ChunkStats{}, fmt.Errorf("chunk stats: %w", err)
	}
	return stats, nil
}

// AddAssessment implements Store.
func (s *SQLiteStore) AddAssessment(ctx context.Context, a *Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	factors, err := json.Marshal(nonNilCategories(a.RiskFactors))
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_assessments (id, call_id, chunk_number, category, risk_level, description, confidence,
			source, risk_factors, follow_up_needed, follow_up_notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CallID, a.ChunkNumber, string(a.Category), a.Level.String(), a.Description, a.Confidence,
		string(a.Source), string(factors), a.FollowUpNeeded, a.FollowUpNotes, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// ListAssessments implements Store.
func (s *SQLiteStore) ListAssessments(ctx context.Context, callID string) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, chunk_number, category, risk_level, description, confidence, source,
			risk_factors, follow_up_needed, follow_up_notes, created_at
		 FROM risk_assessments WHERE call_id = ? ORDER BY created_at, rowid`, callID)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var out []Assessment
	for rows.Next() {
		var (
			a                       Assessment
			category, level, source string
			factors, createdAt      string
		)
		if err := rows.Scan(&a.ID, &a.CallID, &a.ChunkNumber, &category, &level, &a.Description,
			&a.Confidence, &source, &factors, &a.FollowUpNeeded, &a.FollowUpNotes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		a.Category = risk.Category(category)
		a.Level, _ = risk.ParseLevel(level)
		a.Source = risk.Source(source)
		if err := json.Unmarshal([]byte(factors), &a.RiskFactors); err != nil {
			return nil, fmt.Errorf("decode risk factors: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClaimEscalation implements Store.
func (s *SQLiteStore) ClaimEscalation(ctx context.Context, e *Escalation) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO escalations (call_id, trigger_type, risk_level, category, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (call_id, trigger_type) DO NOTHING`,
		e.CallID, e.Trigger, e.Level.String(), string(e.Category), e.Confidence, formatTime(e.CreatedAt),
	)
	if isForeignKeyViolation(err) {
		return false, hotline.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("claim escalation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim escalation: %w", err)
	}
	return n == 1, nil
}

// ReleaseEscalation implements Store.
func (s *SQLiteStore) ReleaseEscalation(ctx context.Context, callID, trigger string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM escalations WHERE call_id = ? AND trigger_type = ?`, callID, trigger)
	if err != nil {
		return fmt.Errorf("release escalation: %w", err)
	}
	return nil
}

// AddContactAttempts implements Store.
func (s *SQLiteStore) AddContactAttempts(ctx context.Context, attempts []ContactAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range attempts {
		a := &attempts[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.AttemptedAt.IsZero() {
			a.AttemptedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO emergency_contact_attempts (id, call_id, trigger_type, contact_name, contact_phone,
				contact_type, reached, provider_ref, notes, attempted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.CallID, a.Trigger, a.ContactName, a.ContactPhone, a.ContactType, a.Reached,
			a.ProviderRef, a.Notes, formatTime(a.AttemptedAt),
		); err != nil {
			return fmt.Errorf("insert contact attempt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact attempts: %w", err)
	}
	return nil
}

// ListContactAttempts implements Store.
func (s *SQLiteStore) ListContactAttempts(ctx context.Context, callID string) ([]ContactAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, trigger_type, contact_name, contact_phone, contact_type, reached, provider_ref,
			notes, attempted_at
		 FROM emergency_contact_attempts WHERE call_id = ? ORDER BY rowid`, callID)
	if err != nil {
		return nil, fmt.Errorf("list contact attempts: %w", err)
	}
	defer rows.Close()

	var out []ContactAttempt
	for rows.Next() {
		var (
			a           ContactAttempt
			attemptedAt string
		)
		if err := rows.Scan(&a.ID, &a.CallID, &a.Trigger, &a.ContactName, &a.ContactPhone, &a.ContactType,
			&a.Reached, &a.ProviderRef, &a.Notes, &attemptedAt); err != nil {
			return nil, fmt.Errorf("scan contact attempt: %w", err)
		}
		a.AttemptedAt = parseTime(attemptedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanCall(row *sql.Row) (*Call, error) {
	var (
		c                    Call
		status, level        string
		startedAt            string
		endedAt              sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.ProviderCallID, &c.CallerNumber, &c.Geo.City, &c.Geo.State, &c.Geo.Country,
		&status, &startedAt, &endedAt, &c.DurationSeconds, &level, &c.Transcript,
		&c.SegmentsProcessed, &c.ResponsesPlayed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hotline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan call: %w", err)
	}
	c.Status = hotline.CallStatus(status)
	c.HighestRisk, _ = risk.ParseLevel(level)
	c.StartedAt = parseTime(startedAt)
	c.EndedAt = parseTimePtr(endedAt)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nonNilCategories(c []risk.Category) []risk.Category {
	if c == nil {
		return []risk.Category{}
	}
	return c
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
