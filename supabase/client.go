package supabase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/records"
	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
}

// maxChunkAttempts bounds retries when another replica takes a chunk number.
const maxChunkAttempts = 5

// Client implements records.Store using Supabase tables with the same layout
// as records.Schema.
type Client struct {
	client   *supabase.Client
	cache    *cache
	cacheTTL time.Duration
}

// cache maps provider call ids to call ids; the mapping never changes once
// written.
type cache struct {
	mu         sync.RWMutex
	byProvider map[string]*cacheEntry[string]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		cache: &cache{
			byProvider: make(map[string]*cacheEntry[string]),
		},
	}, nil
}

// CreateCall implements records.Store.
func (c *Client) CreateCall(ctx context.Context, call *records.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now
	if call.StartedAt.IsZero() {
		call.StartedAt = now
	}

	_, _, err := c.client.From("calls").
		Insert(toCallRow(call), false, "", "minimal", "").
		Execute()
	if isConflict(err) {
		return hotline.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}

	c.addToCache(call.ProviderCallID, call.ID)
	return nil
}

// GetCall implements records.Store.
func (c *Client) GetCall(ctx context.Context, id string) (*records.Call, error) {
	return c.findCall("id", id)
}

// FindCallByProviderID implements records.Store.
func (c *Client) FindCallByProviderID(ctx context.Context, providerCallID string) (*records.Call, error) {
	if id, ok := c.getFromCache(providerCallID); ok {
		return c.findCall("id", id)
	}
	call, err := c.findCall("provider_call_id", providerCallID)
	if err != nil {
		return nil, err
	}
	c.addToCache(providerCallID, call.ID)
	return call, nil
}

func (c *Client) findCall(column, value string) (*records.Call, error) {
	var rows []callRow
	_, err := c.client.From("calls").
		Select("*", "", false).
		Eq(column, value).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get call by %s: %w", column, err)
	}
	if len(rows) == 0 {
		return nil, hotline.ErrNotFound
	}
	return rows[0].toCall(), nil
}

// UpdateCall implements records.Store.
func (c *Client) UpdateCall(ctx context.Context, call *records.Call) error {
	call.UpdatedAt = time.Now().UTC()
	var rows []callRow
	_, err := c.client.From("calls").
		Update(callUpdate{
			Status:            string(call.Status),
			EndedAt:           call.EndedAt,
			DurationSeconds:   call.DurationSeconds,
			HighestRisk:       call.HighestRisk.String(),
			Transcript:        call.Transcript,
			SegmentsProcessed: call.SegmentsProcessed,
			ResponsesPlayed:   call.ResponsesPlayed,
			UpdatedAt:         call.UpdatedAt,
		}, "representation", "").
		Eq("id", call.ID).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	if len(rows) == 0 {
		return hotline.ErrNotFound
	}
	return nil
}

// NextChunk implements records.Store. The unique (call_id, chunk_number)
// constraint rejects a number taken concurrently; the count is then re-read.
func (c *Client) NextChunk(ctx context.Context, chunk *records.Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if chunk.RecordedAt.IsZero() {
		chunk.RecordedAt = time.Now().UTC()
	}

	for attempt := 0; attempt < maxChunkAttempts; attempt++ {
		_, count, err := c.client.From("recording_chunks").
			Select("id", "exact", true).
			Eq("call_id", chunk.CallID).
			Execute()
		if err != nil {
			return fmt.Errorf("failed to count chunks: %w", err)
		}
		chunk.Number = int(count) + 1

		_, _, err = c.client.From("recording_chunks").
			Insert(chunkRow(*chunk), false, "", "minimal", "").
			Execute()
		if isConflict(err) {
			continue
		}
		if isForeignKey(err) {
			return hotline.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		return nil
	}
	return hotline.ErrDuplicate
}

// UpdateChunk implements records.Store.
func (c *Client) UpdateChunk(ctx context.Context, chunk *records.Chunk) error {
	var rows []chunkRow
	_, err := c.client.From("recording_chunks").
		Update(chunkUpdate{
			LocalPath:               chunk.LocalPath,
			SHA256:                  chunk.SHA256,
			SizeBytes:               chunk.SizeBytes,
			DurationSeconds:         chunk.DurationSeconds,
			Transcription:           chunk.Transcription,
			LanguageCode:            chunk.LanguageCode,
			Processed:               chunk.Processed,
			RiskAssessmentCompleted: chunk.RiskAssessmentCompleted,
			ResponseAudio:           chunk.ResponseAudio,
			ResponsePlayed:          chunk.ResponsePlayed,
			ProcessedAt:             chunk.ProcessedAt,
		}, "representation", "").
		Eq("id", chunk.ID).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}
	if len(rows) == 0 {
		return hotline.ErrNotFound
	}
	return nil
}

// ListChunks implements records.Store.
func (c *Client) ListChunks(ctx context.Context, callID string) ([]records.Chunk, error) {
	var rows []chunkRow
	_, err := c.client.From("recording_chunks").
		Select("*", "", false).
		Eq("call_id", callID).
		Order("chunk_number", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return rows, nil
}

// ChunkStats implements records.Store.
func (c *Client) ChunkStats(ctx context.Context, callID string) (records.ChunkStats, error) {
	chunks, err := c.ListChunks(ctx, callID)
	if err != nil {
		return records.ChunkStats{}, err
	}
	stats := records.ChunkStats{Total: len(chunks)}
	for _, chunk := range chunks {
		if chunk.Processed {
			stats.Processed++
		}
		if chunk.ResponsePlayed {
			stats.ResponsesPlayed++
		}
	}
	return stats, nil
}

// AddAssessment implements records.Store.
func (c *Client) AddAssessment(ctx context.Context, a *records.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, _, err := c.client.From("risk_assessments").
		Insert(assessmentRow(*a), false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

// ListAssessments implements records.Store.
func (c *Client) ListAssessments(ctx context.Context, callID string) ([]records.Assessment, error) {
	var rows []assessmentRow
	_, err := c.client.From("risk_assessments").
		Select("*", "", false).
		Eq("call_id", callID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return rows, nil
}

// ClaimEscalation implements records.Store.
func (c *Client) ClaimEscalation(ctx context.Context, e *records.Escalation) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, _, err := c.client.From("escalations").
		Insert(escalationRow{
			CallID:     e.CallID,
			Trigger:    e.Trigger,
			RiskLevel:  e.Level.String(),
			Category:   string(e.Category),
			Confidence: e.Confidence,
			CreatedAt:  e.CreatedAt,
		}, false, "", "minimal", "").
		Execute()
	if isConflict(err) {
		return false, nil
	}
	if isForeignKey(err) {
		return false, hotline.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim escalation: %w", err)
	}
	return true, nil
}

// ReleaseEscalation implements records.Store.
func (c *Client) ReleaseEscalation(ctx context.Context, callID, trigger string) error {
	_, _, err := c.client.From("escalations").
		Delete("minimal", "").
		Eq("call_id", callID).
		Eq("trigger_type", trigger).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to release escalation: %w", err)
	}
	return nil
}

// AddContactAttempts implements records.Store.
func (c *Client) AddContactAttempts(ctx context.Context, attempts []records.ContactAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	rows := make([]attemptRow, 0, len(attempts))
	for i := range attempts {
		if attempts[i].ID == "" {
			attempts[i].ID = uuid.New().String()
		}
		if attempts[i].AttemptedAt.IsZero() {
			attempts[i].AttemptedAt = time.Now().UTC()
		}
		rows = append(rows, toAttemptRow(attempts[i]))
	}
	_, _, err := c.client.From("emergency_contact_attempts").
		Insert(rows, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert contact attempts: %w", err)
	}
	return nil
}

// ListContactAttempts implements records.Store.
func (c *Client) ListContactAttempts(ctx context.Context, callID string) ([]records.ContactAttempt, error) {
	var rows []attemptRow
	_, err := c.client.From("emergency_contact_attempts").
		Select("*", "", false).
		Eq("call_id", callID).
		Order("attempted_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact attempts: %w", err)
	}
	out := make([]records.ContactAttempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAttempt())
	}
	return out, nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

// getFromCache returns the call id cached for a provider call id.
func (c *Client) getFromCache(providerCallID string) (string, bool) {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.byProvider[providerCallID]; ok {
		if time.Now().Before(e.expiresAt) {
			return e.value, true
		}
	}
	return "", false
}

// addToCache caches a provider call id mapping.
func (c *Client) addToCache(providerCallID, callID string) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.byProvider[providerCallID] = &cacheEntry[string]{
		value:     callID,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}

// isConflict reports a postgres unique violation (SQLSTATE 23505).
func isConflict(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key"))
}

// isForeignKey reports a postgres foreign key violation (SQLSTATE 23503).
func isForeignKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23503")
}

// Compile-time check that Client implements records.Store
var _ records.Store = (*Client)(nil)
