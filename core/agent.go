package core

import "context"

// Agent is a persona-bound unit of work that turns a transcript into the
// next turn. Implementations must respect context cancellation.
type Agent interface {
	Name() string
	Description() string
	Process(ctx context.Context, transcript Transcript) (Turn, error)
}

// Closer is implemented by agents that own resources (capability
// connections) torn down at shutdown.
type Closer interface {
	Close() error
}
