package vectorstore

import (
	"context"
	"strings"
	"time"

	"github.com/creastat/hotline"
)

// MemoryStore is a technology-agnostic store of long-term facts about a
// caller. Implementations can use Qdrant, chromem or nothing at all.
type MemoryStore interface {
	// Search returns up to limit memories of the caller ranked by similarity
	// to query.
	Search(ctx context.Context, callerKey, query string, limit int) ([]Memory, error)

	// Add stores a rendered exchange as a memory of the caller.
	Add(ctx context.Context, callerKey string, messages []hotline.Message) error

	// Close releases any resources held by the store.
	Close() error
}

// EmbedFunc turns text into a vector. chromem.EmbeddingFunc has the same
// shape and converts directly.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Memory is a single recalled memory.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID string

	// Content is the remembered text.
	Content string

	// Score is the similarity score (higher is more similar).
	Score float32

	// CreatedAt is when the memory was stored, zero when unknown.
	CreatedAt time.Time
}

// Render formats the non-system messages of an exchange as one document,
// one "role: content" line per message.
func Render(messages []hotline.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == hotline.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}

// Contents returns the text of each memory, in order.
func Contents(memories []Memory) []string {
	out := make([]string, 0, len(memories))
	for _, m := range memories {
		out = append(out, m.Content)
	}
	return out
}
