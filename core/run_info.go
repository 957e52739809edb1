package core

import "context"

// RunInfo identifies the run a piece of work belongs to. The engine attaches
// it to the run's context so agents and capabilities can read it without
// threading extra parameters.
type RunInfo struct {
	RunID     string
	SessionID string
	Trigger   TriggerType
	Metadata  map[string]string
}

type runInfoKey struct{}

// WithRunInfo returns a child context carrying info.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext extracts the RunInfo attached by WithRunInfo.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}
