package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yuvalhk/openclaw/internal/frame"
)

func decodePayload(res *frame.Response, v any) error {
	if !res.OK {
		if res.Error != nil {
			return fmt.Errorf("gateway: %s: %s", res.Error.Code, res.Error.Message)
		}
		return fmt.Errorf("gateway: request failed")
	}
	if v == nil || len(res.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(res.Payload, v)
}

// Health calls the "health" method and decodes its payload into report.
func (c *Client) Health(ctx context.Context, report any) error {
	res, err := c.Call(ctx, frame.MethodHealth, nil)
	if err != nil {
		return err
	}
	return decodePayload(res, report)
}

// Status calls the "status" method and decodes its payload into report.
func (c *Client) Status(ctx context.Context, report any) error {
	res, err := c.Call(ctx, frame.MethodStatus, nil)
	if err != nil {
		return err
	}
	return decodePayload(res, report)
}

// Send delivers a message to a recipient, deduplicated by the required
// idempotencyKey across retries.
func (c *Client) Send(ctx context.Context, to, message, mediaURL, provider, idempotencyKey string) error {
	res, err := c.Call(ctx, frame.MethodSend, frame.SendParams{
		To:             to,
		Message:        message,
		MediaURL:       mediaURL,
		Provider:       provider,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return err
	}
	return decodePayload(res, nil)
}

// AgentRequest is the caller-facing input to Client.Agent.
type AgentRequest struct {
	Message        string
	To             string
	SessionID      string
	Thinking       bool
	Deliver        bool
	TimeoutSeconds int64
	IdempotencyKey string
}

// Agent starts an agent run and returns once its terminal response arrives.
// Progress events surface separately on Events().
func (c *Client) Agent(ctx context.Context, req AgentRequest, result any) error {
	res, err := c.Call(ctx, frame.MethodAgent, frame.AgentParams{
		Message:        req.Message,
		To:             req.To,
		SessionID:      req.SessionID,
		Thinking:       req.Thinking,
		Deliver:        req.Deliver,
		TimeoutSeconds: req.TimeoutSeconds,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return decodePayload(res, result)
}

// SystemPresence fetches the current presence snapshot, decoding it into
// entries (typically a *[]presence.Entry).
func (c *Client) SystemPresence(ctx context.Context, entries any) error {
	res, err := c.Call(ctx, frame.MethodSystemPresence, nil)
	if err != nil {
		return err
	}
	return decodePayload(res, entries)
}

// SystemEvent publishes a free-form system event.
func (c *Client) SystemEvent(ctx context.Context, text string) error {
	res, err := c.Call(ctx, frame.MethodSystemEvent, frame.SystemEventParams{Text: text})
	if err != nil {
		return err
	}
	return decodePayload(res, nil)
}

// SetHeartbeats sends the "set-heartbeats" method. The gateway acknowledges
// it but keeps sending ticks to this connection either way.
func (c *Client) SetHeartbeats(ctx context.Context, enabled bool) error {
	res, err := c.Call(ctx, frame.MethodSetHeartbeats, frame.SetHeartbeatsParams{Enabled: enabled})
	if err != nil {
		return err
	}
	return decodePayload(res, nil)
}
