package core

import "context"

// MessageHandler receives inbound user turns from a Client.
type MessageHandler func(ctx context.Context, turn Turn) error

// Client adapts a transport (terminal, HTTP, chat platform) to the engine.
//
// OnMessage registers the inbound callback; SendMessage delivers a reply.
// Replies carry the inbound turn's session metadata so multi-session clients
// can route them back. Start blocks until ctx is done or the transport fails.
type Client interface {
	Name() string
	OnMessage(h MessageHandler)
	SendMessage(ctx context.Context, turn Turn) error
	Start(ctx context.Context) error
}

// EventHandler receives external events from an EventSource.
type EventHandler func(ctx context.Context, ev Event) error

// EventSource polls or consumes external events. Start blocks until ctx is
// done; transient failures are retried internally.
type EventSource interface {
	Name() string
	OnEvent(h EventHandler)
	Start(ctx context.Context) error
}
