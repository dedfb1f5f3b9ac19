package records

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestCall(t *testing.T, store Store) *Call {
	t.Helper()
	call := &Call{
		ProviderCallID: "CA123",
		CallerNumber:   "+15550001111",
		Geo:            hotline.Geo{City: "Pune", Country: "IN"},
		Status:         hotline.StatusInProgress,
	}
	require.NoError(t, store.CreateCall(context.Background(), call))
	return call
}

func TestCallRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	call := createTestCall(t, store)
	require.NotEmpty(t, call.ID)

	err := store.CreateCall(ctx, &Call{ProviderCallID: "CA123", Status: hotline.StatusInProgress})
	assert.ErrorIs(t, err, hotline.ErrDuplicate)

	got, err := store.FindCallByProviderID(ctx, "CA123")
	require.NoError(t, err)
	assert.Equal(t, call.ID, got.ID)
	assert.Equal(t, "Pune, IN", got.Geo.String())
	assert.Equal(t, risk.None, got.HighestRisk)
	assert.Nil(t, got.EndedAt)

	ended := time.Now().UTC()
	got.Status = hotline.StatusCompleted
	got.EndedAt = &ended
	got.DurationSeconds = 42
	got.HighestRisk = risk.High
	require.NoError(t, store.UpdateCall(ctx, got))

	again, err := store.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, hotline.StatusCompleted, again.Status)
	assert.Equal(t, 42, again.DurationSeconds)
	assert.Equal(t, risk.High, again.HighestRisk)
	require.NotNil(t, again.EndedAt)
	assert.WithinDuration(t, ended, *again.EndedAt, time.Millisecond)

	_, err = store.GetCall(ctx, "missing")
	assert.ErrorIs(t, err, hotline.ErrNotFound)
}

func TestNextChunkIsGapFreeUnderConcurrency(t *testing.T) {
	store := openTestStore(t)
	call := createTestCall(t, store)

	const n = 20
	numbers := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk := &Chunk{CallID: call.ID, RecordingURL: "https://example.invalid/rec"}
			assert.NoError(t, store.NextChunk(context.Background(), chunk))
			numbers[i] = chunk.Number
		}(i)
	}
	wg.Wait()

	sort.Ints(numbers)
	for i, got := range numbers {
		assert.Equal(t, i+1, got)
	}

	chunks, err := store.ListChunks(context.Background(), call.ID)
	require.NoError(t, err)
	require.Len(t, chunks, n)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Number)
	}
}

func TestNextChunkUnknownCall(t *testing.T) {
	store := openTestStore(t)
	err := store.NextChunk(context.Background(), &Chunk{CallID: "ghost"})
	assert.ErrorIs(t, err, hotline.ErrNotFound)
}

func TestUpdateChunkAndStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	call := createTestCall(t, store)

	first := &Chunk{CallID: call.ID}
	second := &Chunk{CallID: call.ID}
	require.NoError(t, store.NextChunk(ctx, first))
	require.NoError(t, store.NextChunk(ctx, second))

	text := "I feel alone"
	now := time.Now().UTC()
	first.Transcription = &text
	first.Processed = true
	first.RiskAssessmentCompleted = true
	first.ResponsePlayed = true
	first.ResponseAudio = "responses/2026-10-16/a.wav"
	first.ProcessedAt = &now
	require.NoError(t, store.UpdateChunk(ctx, first))

	second.Processed = true
	require.NoError(t, store.UpdateChunk(ctx, second))

	stats, err := store.ChunkStats(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, ChunkStats{Total: 2, Processed: 2, ResponsesPlayed: 1}, stats)

	chunks, err := store.ListChunks(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, chunks[0].Transcription)
	assert.Equal(t, text, *chunks[0].Transcription)
	assert.Nil(t, chunks[1].Transcription)
	assert.False(t, chunks[1].RiskAssessmentCompleted)
}

func TestAssessments(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	call := createTestCall(t, store)

	require.NoError(t, store.AddAssessment(ctx, &Assessment{
		CallID: call.ID, ChunkNumber: 1, Category: risk.CategoryHope, Level: risk.Low,
		Confidence: 0.6, Source: risk.SourceKeyword, RiskFactors: []risk.Category{risk.CategoryHope},
	}))
	require.NoError(t, store.AddAssessment(ctx, &Assessment{
		CallID: call.ID, ChunkNumber: 2, Category: risk.CategoryPlanning, Level: risk.Critical,
		Confidence: 1, Source: risk.SourceModel,
		RiskFactors:    []risk.Category{risk.CategoryHope, risk.CategoryPlanning},
		FollowUpNeeded: true, FollowUpNotes: "High risk case identified: Suicidal planning",
	}))

	got, err := store.ListAssessments(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, risk.Low, got[0].Level)
	assert.Equal(t, risk.Critical, got[1].Level)
	assert.Equal(t, []risk.Category{risk.CategoryHope, risk.CategoryPlanning}, got[1].RiskFactors)
	assert.True(t, got[1].FollowUpNeeded)
}

func TestClaimEscalationOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	call := createTestCall(t, store)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.ClaimEscalation(ctx, &Escalation{
				CallID: call.ID, Trigger: TriggerRiskAssessment, Level: risk.Critical, Category: risk.CategoryPlanning,
			})
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	won, err := store.ClaimEscalation(ctx, &Escalation{CallID: call.ID, Trigger: "Supervisor - Manual"})
	require.NoError(t, err)
	assert.True(t, won, "a different trigger type is claimed independently")
}

func TestReleaseEscalation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	call := createTestCall(t, store)
	claim := func() bool {
		won, err := store.ClaimEscalation(ctx, &Escalation{
			CallID: call.ID, Trigger: TriggerRiskAssessment, Level: risk.High, Category: risk.CategoryPrevAttempt,
		})
		require.NoError(t, err)
		return won
	}

	require.True(t, claim())
	require.False(t, claim())
	require.NoError(t, store.ReleaseEscalation(ctx, call.ID, TriggerRiskAssessment))
	assert.True(t, claim())

	require.NoError(t, store.ReleaseEscalation(ctx, "missing", TriggerRiskAssessment))
}

func TestContactAttempts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	call := createTestCall(t, store)

	require.NoError(t, store.AddContactAttempts(ctx, []ContactAttempt{
		{CallID: call.ID, Trigger: TriggerRiskAssessment, ContactName: "Supervisor", ContactPhone: "+1", Reached: true},
		{CallID: call.ID, Trigger: TriggerRiskAssessment, ContactName: "Crisis Team", ContactPhone: "+2", Notes: "busy"},
	}))

	got, err := store.ListContactAttempts(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Supervisor", got[0].ContactName)
	assert.True(t, got[0].Reached)
	assert.False(t, got[1].Reached)
	assert.NotEmpty(t, got[1].ID)
}
