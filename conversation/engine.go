// Package conversation produces the assistant's next utterance from the
// running conversation, recalled memories and a fixed behavioral policy.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/vectorstore"
)

// Defaults for Config.
const (
	DefaultMemoryLimit = 2
	// DefaultTokenBudget leaves room for the reply in a 132k context window.
	DefaultTokenBudget = 125000
	// memoryWindow is how many trailing messages a memory write covers: the
	// two exchanges completed since the previous write.
	memoryWindow = 4
)

// ErrEmptyReply is returned when the completer produces no text.
var ErrEmptyReply = errors.New("empty reply")

// Completer is the dialogue-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, messages []hotline.Message) (string, error)
}

// Submitter runs background work. background.Runner satisfies it.
type Submitter interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// Config configures an Engine.
type Config struct {
	Completer   Completer
	Memory      vectorstore.MemoryStore // Default: vectorstore.Noop
	Background  Submitter
	Counter     hotline.TokenCounter // Default: hotline.EstimateCounter
	MemoryLimit int
	TokenBudget int
	Logger      *slog.Logger
}

// Turn is one caller utterance in context.
type Turn struct {
	CallerKey string
	// History holds the prior user and assistant messages, oldest first.
	History      []hotline.Message
	UserText     string
	LanguageCode string
	// Exchange is the number of exchanges completed before this turn.
	Exchange int
}

// Reply is the outcome of a turn.
type Reply struct {
	// Text is the reply to speak, without the end marker.
	Text string
	// History is the trimmed history with this turn's user and assistant
	// messages appended.
	History   []hotline.Message
	ShouldEnd bool
	Memories  []string
	// Evicted counts history messages dropped to fit the token budget.
	Evicted int
}

// Engine is the Conversation Engine.
type Engine struct {
	completer   Completer
	memory      vectorstore.MemoryStore
	background  Submitter
	counter     hotline.TokenCounter
	memoryLimit int
	budget      int
	logger      *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("conversation completer is required: %w", hotline.ErrInvalidConfig)
	}
	if cfg.Background == nil {
		return nil, fmt.Errorf("conversation background submitter is required: %w", hotline.ErrInvalidConfig)
	}
	if cfg.Memory == nil {
		cfg.Memory = vectorstore.Noop{}
	}
	if cfg.Counter == nil {
		cfg.Counter = hotline.EstimateCounter{}
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		completer:   cfg.Completer,
		memory:      cfg.Memory,
		background:  cfg.Background,
		counter:     cfg.Counter,
		memoryLimit: cfg.MemoryLimit,
		budget:      cfg.TokenBudget,
		logger:      cfg.Logger,
	}, nil
}

// Reply runs one turn. Memory recall and memory writes never fail the turn;
// a completion failure does, and leaves turn.History untouched.
func (e *Engine) Reply(ctx context.Context, turn Turn) (Reply, error) {
	memories := e.recall(ctx, turn)

	prompt, err := SystemPrompt(memories, turn.LanguageCode)
	if err != nil {
		return Reply{}, err
	}
	system := hotline.Message{Role: hotline.RoleSystem, Content: prompt}

	history := make([]hotline.Message, 0, len(turn.History)+2)
	history = append(history, turn.History...)
	history = hotline.AddMessageToHistory(history, hotline.RoleUser, turn.UserText)

	window, kept := hotline.FitContext(e.counter, system, history, e.budget)
	evicted := len(history) - len(kept)
	if evicted > 0 {
		e.logger.Info("trimmed conversation to fit token budget",
			"evicted", evicted, "kept", len(kept), "tokens", hotline.CountMessageTokens(e.counter, window))
	}

	raw, err := e.completer.Complete(ctx, window)
	if err != nil {
		return Reply{}, fmt.Errorf("complete reply: %w", err)
	}
	text, marked := StripMarker(raw)
	if text == "" && !marked {
		return Reply{}, hotline.Wrap(ErrEmptyReply, hotline.KindEmpty)
	}

	kept = hotline.AddMessageToHistory(kept, hotline.RoleAssistant, text)
	if (turn.Exchange+1)%2 == 0 {
		e.remember(turn.CallerKey, kept)
	}

	return Reply{
		Text:      text,
		History:   kept,
		ShouldEnd: marked || IsNaturalClose(text),
		Memories:  memories,
		Evicted:   evicted,
	}, nil
}

func (e *Engine) recall(ctx context.Context, turn Turn) []string {
	if strings.TrimSpace(turn.UserText) == "" {
		return nil
	}
	found, err := e.memory.Search(ctx, turn.CallerKey, turn.UserText, e.memoryLimit)
	if err != nil {
		e.logger.Warn("memory recall failed, continuing without memories", "err", err)
		return nil
	}
	return vectorstore.Contents(found)
}

// remember writes the trailing exchanges to long-term memory in the
// background.
func (e *Engine) remember(callerKey string, history []hotline.Message) {
	start := max(0, len(history)-memoryWindow)
	recent := make([]hotline.Message, len(history)-start)
	copy(recent, history[start:])

	queued := e.background.Go("memory.add", func(ctx context.Context) error {
		if err := e.memory.Add(ctx, callerKey, recent); err != nil {
			return fmt.Errorf("add memory: %w", err)
		}
		return nil
	})
	if !queued {
		e.logger.Warn("memory write dropped")
	}
}
