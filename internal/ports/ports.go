// Package ports declares the gateway's boundary interfaces: the seams
// between protocol handling and whatever actually checks health, delivers a
// message, or runs an agent. Production wiring of these ports (talking to a
// real host process, a real agent runtime) lives outside this module; the
// fakes subpackage supplies in-memory implementations sufficient to run the
// gateway standalone.
package ports

import "context"

// HealthReport is the result of a Health check.
type HealthReport struct {
	Healthy bool
	Details map[string]string
}

// StatusReport is the result of a Status snapshot.
type StatusReport struct {
	Version string
	Extra   map[string]any
}

// Health reports whether the host system backing the gateway is healthy.
type Health interface {
	Check(ctx context.Context) (HealthReport, error)
}

// Status reports a point-in-time snapshot of the host system.
type Status interface {
	Snapshot(ctx context.Context) (StatusReport, error)
}

// Delivery sends a message to a recipient, optionally carrying media and a
// preferred provider, and reports the provider-assigned message and
// recipient identifiers.
type Delivery interface {
	Send(ctx context.Context, to, message, mediaURL, provider string) (messageID, toJID string, err error)
}

// ProgressFunc reports an intermediate status update while an Agent.Run call
// is in flight. Handlers forward these onto the event bus as non-final
// agent events.
type ProgressFunc func(status string, payload any)

// AgentRequest is the full input to an agent run.
type AgentRequest struct {
	RunID          string
	Message        string
	To             string
	SessionID      string
	Thinking       bool
	Deliver        bool
	IdempotencyKey string
}

// Agent runs a request to completion, reporting progress via progress before
// returning a terminal summary.
type Agent interface {
	Run(ctx context.Context, req AgentRequest, progress ProgressFunc) (summary string, err error)
}

// EventQueue accepts system events published via the system-event method for
// whatever out-of-process consumer cares about them (logging pipeline,
// audit trail, downstream bus). The in-memory fake simply retains them.
type EventQueue interface {
	Enqueue(ctx context.Context, text string) error
}
