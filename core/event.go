package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names one shape of the closed external event set.
type EventKind string

const (
	// EventKindChain identifies on-chain events.
	EventKindChain EventKind = "chain"
	// EventKindWeb identifies web/news events.
	EventKindWeb EventKind = "web"
)

// Event is an external occurrence that can seed a workflow run. The set of
// implementations is closed: ChainEvent and WebEvent.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
	// Fields flattens the event for templates and classification rules.
	Fields() map[string]any
	isEvent()
}

// ChainEvent is an on-chain occurrence such as a contract log.
type ChainEvent struct {
	Network         string         `json:"network"`
	EventType       string         `json:"event_type"`
	ContractAddress string         `json:"contract_address,omitempty"`
	TxHash          string         `json:"tx_hash,omitempty"`
	BlockNumber     *uint64        `json:"block_number,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

func (ChainEvent) isEvent() {}

// Kind implements Event.
func (ChainEvent) Kind() EventKind { return EventKindChain }

// OccurredAt implements Event.
func (e ChainEvent) OccurredAt() time.Time { return e.Timestamp }

// Fields implements Event.
func (e ChainEvent) Fields() map[string]any {
	f := map[string]any{
		"kind":             string(EventKindChain),
		"network":          e.Network,
		"event_type":       e.EventType,
		"contract_address": e.ContractAddress,
		"tx_hash":          e.TxHash,
		"data":             e.Data,
		"timestamp":        e.Timestamp,
	}
	if e.BlockNumber != nil {
		f["block_number"] = *e.BlockNumber
	}
	return f
}

// WebEvent is a web or news item.
type WebEvent struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (WebEvent) isEvent() {}

// Kind implements Event.
func (WebEvent) Kind() EventKind { return EventKindWeb }

// OccurredAt implements Event.
func (e WebEvent) OccurredAt() time.Time { return e.Timestamp }

// Fields implements Event.
func (e WebEvent) Fields() map[string]any {
	return map[string]any{
		"kind":      string(EventKindWeb),
		"source":    e.Source,
		"title":     e.Title,
		"content":   e.Content,
		"url":       e.URL,
		"timestamp": e.Timestamp,
	}
}

// EventEnvelope is the JSON wire shape for events arriving over queues or
// persisted alongside runs.
type EventEnvelope struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent wraps an event in an EventEnvelope.
func EncodeEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(EventEnvelope{Kind: ev.Kind(), Payload: payload})
}

// DecodeEvent parses an EventEnvelope into a concrete Event.
func DecodeEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch env.Kind {
	case EventKindChain:
		var ev ChainEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		return ev, nil
	case EventKindWeb:
		var ev WebEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, env.Kind)
	}
}
