package core

import (
	"context"
	"encoding/json"
	"time"
)

// TriggerType describes how a run was seeded.
type TriggerType string

const (
	// TriggerMessage marks runs seeded by an inbound user turn.
	TriggerMessage TriggerType = "message"
	// TriggerEvent marks runs seeded by an external event.
	TriggerEvent TriggerType = "event"
)

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the persisted summary of a single workflow run.
type RunRecord struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id,omitempty"`
	Trigger      TriggerType     `json:"trigger"`
	Event        json.RawMessage `json:"event,omitempty"` // EventEnvelope for event runs
	Transcript   Transcript      `json:"transcript"`
	Reply        *Turn           `json:"reply,omitempty"`
	Hops         int             `json:"hops"`
	LoopDetected bool            `json:"loop_detected"`
	Status       RunStatus       `json:"status"`
	Error        string          `json:"error,omitempty"`
	Started      time.Time       `json:"started"`
	Finished     time.Time       `json:"finished"`
}

// Duration returns the wall time of the run.
func (r RunRecord) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// RunStore persists run records.
//
// Contract:
//   - Save overwrites any record with the same ID
//   - Get returns ErrRunNotFound for unknown IDs
//   - ListBySession returns newest first, at most limit records (limit <= 0 means all)
type RunStore interface {
	Save(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]RunRecord, error)
}
