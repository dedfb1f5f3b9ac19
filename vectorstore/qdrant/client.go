package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/vectorstore"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written with every memory point.
const (
	keyCallerKey = "caller_key"
	keyContent   = "content"
	keyCreatedAt = "created_at"
)

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the Qdrant server address (e.g., "https://example.qdrant.io:6334").
	URL string

	// CollectionName is the name of the memory collection.
	CollectionName string

	// APIKey is optional API key for authentication.
	APIKey string

	// Embed turns memory text and queries into vectors.
	Embed vectorstore.EmbedFunc

	// MinScore drops results below this similarity (0.0-1.0).
	MinScore float32
}

// Client implements vectorstore.MemoryStore for Qdrant. Memories of every
// caller share one collection and are separated by a caller_key payload
// filter.
type Client struct {
	client         *qdrant.Client
	collectionName string
	embed          vectorstore.EmbedFunc
	minScore       float32
}

// New creates a new Qdrant client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	if cfg.Embed == nil {
		return nil, fmt.Errorf("qdrant embedding function is required")
	}

	host, port, useTLS, err := parseAddress(cfg.URL)
	if err != nil {
		return nil, err
	}

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Client{
		client:         qdrantClient,
		collectionName: cfg.CollectionName,
		embed:          cfg.Embed,
		minScore:       cfg.MinScore,
	}, nil
}

// parseAddress extracts host, gRPC port and TLS from a server URL. A URL
// without a scheme is treated as https.
func parseAddress(raw string) (string, int, bool, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334 // default gRPC port
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// Add implements vectorstore.MemoryStore. The collection is created on first
// write, sized to the embedding.
func (c *Client) Add(ctx context.Context, callerKey string, messages []hotline.Message) error {
	content := vectorstore.Render(messages)
	if content == "" {
		return nil
	}

	vector, err := c.embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	wait := true
	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(memoryPayload(callerKey, content, time.Now().UTC())),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, size int) error {
	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("qdrant collection check failed: %w", err)
	}
	if exists {
		return nil
	}
	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection failed: %w", err)
	}
	return nil
}

// Search implements vectorstore.MemoryStore.
func (c *Client) Search(ctx context.Context, callerKey, query string, limit int) ([]vectorstore.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}

	vector, err := c.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limitUint64 := uint64(limit)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		Filter:         callerFilter(callerKey),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := make([]vectorstore.Memory, 0, len(points))
	for _, point := range points {
		if c.minScore > 0 && point.Score < c.minScore {
			continue
		}
		results = append(results, toMemory(point.Id, point.Score, point.Payload))
	}
	return results, nil
}

// Close implements vectorstore.MemoryStore.
func (c *Client) Close() error {
	return c.client.Close()
}

func memoryPayload(callerKey, content string, at time.Time) map[string]any {
	return map[string]any{
		keyCallerKey: callerKey,
		keyContent:   content,
		keyCreatedAt: at.Format(time.RFC3339),
	}
}

// callerFilter restricts a query to one caller's memories.
func callerFilter(callerKey string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   keyCallerKey,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: callerKey}},
				},
			},
		}},
	}
}

// toMemory converts a scored point into a Memory.
func toMemory(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) vectorstore.Memory {
	m := vectorstore.Memory{Score: score}

	if id != nil {
		if u := id.GetUuid(); u != "" {
			m.ID = u
		} else if num := id.GetNum(); num != 0 {
			m.ID = fmt.Sprintf("%d", num)
		}
	}

	m.Content = payload[keyContent].GetStringValue()
	if ts := payload[keyCreatedAt].GetStringValue(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			m.CreatedAt = parsed
		}
	}
	return m
}

// Compile-time check that Client implements MemoryStore.
var _ vectorstore.MemoryStore = (*Client)(nil)
