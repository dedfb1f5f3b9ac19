package vectorstore

import (
	"context"

	"github.com/creastat/hotline"
)

// Noop is the MemoryStore used when no memory backend is configured. It
// remembers nothing.
type Noop struct{}

func (Noop) Search(context.Context, string, string, int) ([]Memory, error) { return nil, nil }

func (Noop) Add(context.Context, string, []hotline.Message) error { return nil }

func (Noop) Close() error { return nil }

var _ MemoryStore = Noop{}
