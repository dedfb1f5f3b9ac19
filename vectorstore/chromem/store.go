package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/vectorstore"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// Store wraps chromem-go with per-caller collections and optional disk
// persistence.
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
	logger  *slog.Logger
}

// New opens the persistent store under dir, or an in-memory store when dir is
// empty.
func New(dir string, embed vectorstore.EmbedFunc, logger *slog.Logger) (*Store, error) {
	if embed == nil {
		return nil, fmt.Errorf("chromem: embedding function is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	}
	return &Store{db: db, embedFn: chromem.EmbeddingFunc(embed), logger: logger}, nil
}

func collectionName(callerKey string) string {
	return "caller_" + callerKey
}

// Add implements vectorstore.MemoryStore.
func (s *Store) Add(ctx context.Context, callerKey string, messages []hotline.Message) error {
	content := vectorstore.Render(messages)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := collectionName(callerKey)
	col := s.db.GetCollection(name, s.embedFn)
	if col == nil {
		var err error
		col, err = s.db.CreateCollection(name, map[string]string{"caller_key": callerKey}, s.embedFn)
		if err != nil {
			return fmt.Errorf("create memory collection: %w", err)
		}
	}

	doc := chromem.Document{
		ID:      uuid.NewString(),
		Content: content,
		Metadata: map[string]string{
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// Search implements vectorstore.MemoryStore.
func (s *Store) Search(ctx context.Context, callerKey, query string, limit int) ([]vectorstore.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(callerKey), s.embedFn)
	if col == nil || limit <= 0 {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	k := min(limit, count)

	var results []chromem.Result
	var err error
	// Query can still reject k when documents are being persisted; step down.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, query, attemptK, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	out := make([]vectorstore.Memory, 0, len(results))
	for _, r := range results {
		m := vectorstore.Memory{ID: r.ID, Content: r.Content, Score: r.Similarity}
		if ts, ok := r.Metadata["created_at"]; ok {
			if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
				m.CreatedAt = parsed
			} else {
				s.logger.Warn("memory has malformed timestamp", "id", r.ID, "err", perr)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Close implements vectorstore.MemoryStore. Persistent writes are flushed per
// document, so there is nothing to release.
func (s *Store) Close() error {
	return nil
}

var _ vectorstore.MemoryStore = (*Store)(nil)
