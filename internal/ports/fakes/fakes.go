// Package fakes provides in-memory implementations of the gateway's ports,
// sufficient to run the gateway standalone without any real host
// integration wired in.
package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yuvalhk/openclaw/internal/ports"
)

// StaticHealth always reports the same HealthReport.
type StaticHealth struct {
	Report ports.HealthReport
}

// Check implements ports.Health.
func (h StaticHealth) Check(ctx context.Context) (ports.HealthReport, error) {
	return h.Report, nil
}

// StaticStatus reports a StatusReport computed relative to a fixed start
// time, so repeated calls show a growing Extra["uptimeMs"].
type StaticStatus struct {
	Version string
	Start   time.Time
}

// Snapshot implements ports.Status.
func (s StaticStatus) Snapshot(ctx context.Context) (ports.StatusReport, error) {
	return ports.StatusReport{
		Version: s.Version,
		Extra: map[string]any{
			"uptimeMs": time.Since(s.Start).Milliseconds(),
		},
	}, nil
}

// EchoDelivery records every message it is asked to deliver instead of
// sending it anywhere, and assigns each one a deterministic fake message ID
// and JID derived from its position in the log. Safe for concurrent use.
type EchoDelivery struct {
	mu  sync.Mutex
	log []DeliveredMessage
}

// DeliveredMessage is one message recorded by EchoDelivery.
type DeliveredMessage struct {
	To       string
	Message  string
	MediaURL string
	Provider string
	ToJID    string
}

// Send implements ports.Delivery.
func (d *EchoDelivery) Send(ctx context.Context, to, message, mediaURL, provider string) (string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.log) + 1
	toJID := fmt.Sprintf("jid-%d", n)
	d.log = append(d.log, DeliveredMessage{To: to, Message: message, MediaURL: mediaURL, Provider: provider, ToJID: toJID})
	return fmt.Sprintf("msg-%d", n), toJID, nil
}

// Log returns every message delivered so far, in order.
func (d *EchoDelivery) Log() []DeliveredMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeliveredMessage, len(d.log))
	copy(out, d.log)
	return out
}

// EchoAgent "runs" a request by reporting one progress update and then
// completing immediately with a fixed summary. Useful for exercising the
// ack-then-final response pattern without a real agent runtime.
type EchoAgent struct{}

// Run implements ports.Agent.
func (EchoAgent) Run(ctx context.Context, req ports.AgentRequest, progress ports.ProgressFunc) (string, error) {
	progress("running", map[string]string{"note": "echo agent received message"})
	return "completed: " + req.Message, nil
}

// MemoryQueue retains every enqueued event in memory. Safe for concurrent
// use.
type MemoryQueue struct {
	mu     sync.Mutex
	events []string
}

// Enqueue implements ports.EventQueue.
func (q *MemoryQueue) Enqueue(ctx context.Context, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, text)
	return nil
}

// Events returns every event text enqueued so far, in order.
func (q *MemoryQueue) Events() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.events))
	copy(out, q.events)
	return out
}
