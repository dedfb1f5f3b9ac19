package session

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rds, err := NewStore(StoreTypeRedis, WithRedisClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rds.Close() })

	return map[string]Store{"memory": mem, "redis": rds}
}

func newCall(id string) *CallState {
	return &CallState{ID: id, ProviderCallID: "CA" + id, Status: hotline.StatusInProgress}
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, hotline.ErrInvalidConfig)

	_, err = NewStore("etcd")
	assert.ErrorIs(t, err, hotline.ErrInvalidStoreType)
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missing, err := store.Get(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			call := newCall("c1")
			require.NoError(t, store.Create(ctx, call))
			assert.Equal(t, int64(1), call.Version)
			assert.ErrorIs(t, store.Create(ctx, newCall("c1")), hotline.ErrDuplicate)

			got, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			got.AppendTranscript("hello")
			require.NoError(t, store.Update(ctx, got))
			assert.Equal(t, int64(2), got.Version)

			stale := *call
			stale.Transcript = "stale write"
			assert.ErrorIs(t, store.Update(ctx, &stale), hotline.ErrVersionConflict)

			got, err = store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "hello", got.Transcript)

			assert.ErrorIs(t, store.Update(ctx, newCall("ghost")), hotline.ErrNotFound)

			require.NoError(t, store.Delete(ctx, "c1"))
			got, err = store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestMemoryStoreDoesNotShareState(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	ctx := context.Background()

	call := newCall("c1")
	call.Conversation = hotline.AddMessageToHistory(nil, hotline.RoleUser, "hi")
	require.NoError(t, store.Create(ctx, call))

	call.Conversation[0].Content = "mutated after create"
	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Conversation[0].Content)
}

func TestMutateAppendsUnderContention(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newCall("c1")))

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := Mutate(ctx, store, "c1", func(s *CallState) error {
						s.Exchanges++
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, 10, got.Exchanges)
		})
	}
}

func TestMutateMissingCall(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	_, err = Mutate(context.Background(), store, "ghost", func(*CallState) error { return nil })
	assert.ErrorIs(t, err, hotline.ErrNotFound)
}

func TestRaiseRiskIsMonotonic(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newCall("c1")))

			sequence := []risk.Level{risk.Low, risk.High, risk.Moderate, risk.None, risk.High, risk.Critical, risk.Low}
			highest := risk.None
			for _, level := range sequence {
				change, err := RaiseRisk(ctx, store, "c1", level)
				require.NoError(t, err)
				assert.Equal(t, highest, change.Previous)
				assert.Equal(t, level.Exceeds(highest), change.Raised)
				highest = risk.Max(highest, level)
				assert.Equal(t, highest, change.Current)
			}

			got, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, risk.Critical, got.HighestRisk)
		})
	}
}

func TestRaiseRiskConcurrentKeepsMaximum(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, newCall("c1")))

			levels := []risk.Level{risk.Low, risk.Critical, risk.Moderate, risk.High, risk.None, risk.Low, risk.High, risk.Moderate}
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				raises int
			)
			for _, level := range levels {
				wg.Add(1)
				go func(level risk.Level) {
					defer wg.Done()
					change, err := RaiseRisk(ctx, store, "c1", level)
					assert.NoError(t, err)
					assert.GreaterOrEqual(t, change.Current, change.Previous)
					if change.Raised && change.Current == risk.Critical {
						mu.Lock()
						raises++
						mu.Unlock()
					}
				}(level)
			}
			wg.Wait()

			got, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, risk.Critical, got.HighestRisk)
			assert.Equal(t, 1, raises)
		})
	}
}
