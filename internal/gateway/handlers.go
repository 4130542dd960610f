package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"os"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"github.com/yuvalhk/openclaw/internal/bus"
	"github.com/yuvalhk/openclaw/internal/dedupe"
	"github.com/yuvalhk/openclaw/internal/frame"
	"github.com/yuvalhk/openclaw/internal/ports"
	"github.com/yuvalhk/openclaw/internal/presence"
)

const (
	requestTimeout      = 5 * time.Second
	defaultAgentTimeout = 30 * time.Second
)

// handleHello processes the one client->server hello frame a connection may
// send. It returns false when the handshake failed and the caller should
// tear the connection down; in that case handleHello has already sent both
// the hello-error frame and the WebSocket close frame.
func (h *Hub) handleHello(c *Connection, raw []byte) bool {
	hello, err := frame.DecodeHello(raw)
	if err != nil {
		h.sendHelloError(c, "malformed hello frame")
		c.closeWithCode(ClosePolicyViolation, "invalid hello")
		return false
	}

	if frame.ProtocolVersion < hello.MinProtocol || frame.ProtocolVersion > hello.MaxProtocol {
		expected := frame.ProtocolVersion
		raw, _ := frame.NewHelloError("protocol mismatch", &expected)
		h.writeDirect(c, raw)
		c.closeWithCode(CloseProtocolError, ErrProtocolMismatch.Error())
		return false
	}

	if h.cfg.RequiresAuth() {
		token := ""
		if hello.Auth != nil {
			token = hello.Auth.Token
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.GatewayToken)) != 1 {
			h.sendHelloError(c, "unauthorized")
			c.closeWithCode(ClosePolicyViolation, ErrUnauthorized.Error())
			return false
		}
	}

	c.mu.Lock()
	c.clientName = hello.Client.Name
	c.clientVersion = hello.Client.Version
	presenceKey := hello.Client.InstanceID
	if presenceKey == "" {
		presenceKey = c.id
	}
	c.presenceKey = presenceKey
	c.mu.Unlock()

	c.setState(stateReady)

	now := time.Now()
	_, presenceVersion := h.presence.Connect(presenceKey, presence.Entry{
		Host:       hostname(),
		IP:         remoteIP(c),
		Version:    hello.Client.Version,
		Mode:       hello.Client.Mode,
		InstanceID: hello.Client.InstanceID,
	}, now)

	entries, _ := h.presence.Snapshot(now)
	anyEntries := make([]any, 0, len(entries))
	for _, e := range entries {
		anyEntries = append(anyEntries, e)
	}

	okRaw, err := frame.NewHelloOK(c.id, frame.ServerInfo{
		Version: h.cfg.Version,
		Commit:  h.cfg.Commit,
	}, frame.Snapshot{
		Presence:     anyEntries,
		Health:       map[string]any{"healthy": true},
		StateVersion: frame.StateVersion{Presence: presenceVersion, Health: h.healthVersion.Load()},
		UptimeMs:     time.Since(h.startedAt).Milliseconds(),
	}, frame.PolicyInfo{
		MaxPayload:       maxFrameBytes,
		MaxBufferedBytes: maxBufferedBytes,
		TickIntervalMs:   int(h.cfg.TickInterval.Milliseconds()),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build hello-ok")
		return false
	}
	c.enqueue(okRaw)
	// The new connection already has this state in its hello-ok snapshot,
	// so it joins the registry only after the connect broadcast goes out.
	h.broadcastPresence(presenceVersion)
	h.register(c)
	return true
}

// hostname returns the local machine's hostname, or "" if it cannot be
// determined. The gateway only ever accepts loopback connections, so this
// names the one machine every client and the gateway itself run on.
func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

// remoteIP extracts the bare IP (no port) from a connection's remote
// address, falling back to the raw address string if it cannot be split.
func remoteIP(c *Connection) string {
	addr := c.conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (h *Hub) sendHelloError(c *Connection, reason string) {
	raw, err := frame.NewHelloError(reason, nil)
	if err != nil {
		return
	}
	h.writeDirect(c, raw)
}

// writeDirect writes a frame straight to the socket, bypassing the send
// channel. Used only for hello-error, where the connection is being torn
// down immediately and there is no writePump race to avoid.
func (h *Hub) writeDirect(c *Connection, raw []byte) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.TextMessage, raw)
}

// handleRequest processes every frame received after the handshake
// completes. Only "req" frames are valid; anything else is answered with an
// INVALID_REQUEST error rather than tearing down the connection.
func (h *Hub) handleRequest(c *Connection, raw []byte) {
	typ, err := frame.Sniff(raw)
	if err != nil {
		h.replyError(c, extractID(raw), frame.NewErrorShape(frame.ErrInvalidRequest, ErrInvalidFrame.Error()))
		return
	}
	if typ != frame.TypeReq {
		h.replyError(c, extractID(raw), frame.NewErrorShape(frame.ErrInvalidRequest, "expected a req frame after handshake"))
		return
	}

	req, err := frame.DecodeRequest(raw)
	if err != nil {
		h.replyError(c, extractID(raw), frame.NewErrorShape(frame.ErrInvalidRequest, err.Error()))
		return
	}

	h.dispatch(c, req)
}

// extractID best-effort extracts an "id" member from a frame that otherwise
// failed to decode, so a malformed req can still be correlated with its
// caller. Returns the literal "invalid" when no id can be recovered.
func extractID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == "" {
		return "invalid"
	}
	return probe.ID
}

func (h *Hub) dispatch(c *Connection, req *frame.Request) {
	switch req.Method {
	case frame.MethodHealth:
		h.handleHealth(c, req)
	case frame.MethodStatus:
		h.handleStatus(c, req)
	case frame.MethodSystemPresence:
		h.handleSystemPresence(c, req)
	case frame.MethodSystemEvent:
		h.handleSystemEvent(c, req)
	case frame.MethodSetHeartbeats:
		h.handleSetHeartbeats(c, req)
	case frame.MethodSend:
		h.handleSend(c, req)
	case frame.MethodAgent:
		h.handleAgent(c, req)
	default:
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrInvalidRequest, "unknown method: "+req.Method))
	}
}

func (h *Hub) replyOK(c *Connection, id string, payload any) {
	raw, err := frame.NewResponse(id, payload)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("failed to marshal response")
		return
	}
	c.enqueue(raw)
}

func (h *Hub) replyOutcome(c *Connection, id string, o frame.Outcome) {
	raw, err := frame.NewResponseFromOutcome(id, o)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("failed to marshal response")
		return
	}
	c.enqueue(raw)
}

func (h *Hub) replyError(c *Connection, id string, shape frame.ErrorShape) {
	raw, err := frame.NewErrorResponse(id, shape)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("failed to marshal error response")
		return
	}
	c.enqueue(raw)
}

func (h *Hub) handleHealth(c *Connection, req *frame.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	report, err := h.health.Check(ctx)
	if err != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrUnavailable, err.Error()))
		return
	}
	h.replyOK(c, req.ID, report)
}

func (h *Hub) handleStatus(c *Connection, req *frame.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	report, err := h.status.Snapshot(ctx)
	if err != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrUnavailable, err.Error()))
		return
	}
	h.replyOK(c, req.ID, report)
}

// handleSystemPresence takes no params; it replies with the current
// presence snapshot, self-entry always included.
func (h *Hub) handleSystemPresence(c *Connection, req *frame.Request) {
	entries, _ := h.presence.Snapshot(time.Now())
	h.replyOK(c, req.ID, entries)
}

func (h *Hub) handleSystemEvent(c *Connection, req *frame.Request) {
	var params frame.SystemEventParams
	if issues := frame.ValidateParams(req.Params, &params); issues != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrInvalidRequest, frame.FormatIssues(issues)).WithDetails(issues))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := h.queue.Enqueue(ctx, params.Text); err != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrUnavailable, err.Error()))
		return
	}

	c.mu.RLock()
	key := c.presenceKey
	c.mu.RUnlock()
	_, version := h.presence.ApplySystemEvent(key, params.Text, time.Now())

	h.healthVersion.Add(1)
	h.replyOK(c, req.ID, map[string]bool{"ok": true})
	h.broadcastPresence(version)
}

func (h *Hub) handleSetHeartbeats(c *Connection, req *frame.Request) {
	var params frame.SetHeartbeatsParams
	if issues := frame.ValidateParams(req.Params, &params); issues != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrInvalidRequest, frame.FormatIssues(issues)).WithDetails(issues))
		return
	}

	if !params.Enabled {
		c.mu.Lock()
		c.tickInterval = 0
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.tickInterval = h.cfg.TickInterval
		c.mu.Unlock()
	}

	h.replyOK(c, req.ID, map[string]bool{"ok": true})
}

func (h *Hub) handleSend(c *Connection, req *frame.Request) {
	var params frame.SendParams
	if issues := frame.ValidateParams(req.Params, &params); issues != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrInvalidRequest, frame.FormatIssues(issues)).WithDetails(issues))
		return
	}

	key := dedupe.Key(frame.MethodSend, params.IdempotencyKey)
	if cached, ok := h.dedupe.Lookup(key, time.Now()); ok {
		outcome, err := frame.UnmarshalOutcome(cached)
		if err == nil {
			h.replyOutcome(c, req.ID, outcome)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	messageID, toJID, err := h.delivery.Send(ctx, params.To, params.Message, params.MediaURL, params.Provider)
	var outcome frame.Outcome
	if err != nil {
		outcome = frame.Outcome{OK: false, Error: ptrErrorShape(frame.NewErrorShape(frame.ErrUnavailable, err.Error()))}
	} else {
		payload, _ := json.Marshal(map[string]string{
			"runId":     params.IdempotencyKey,
			"messageId": messageID,
			"toJid":     toJID,
		})
		outcome = frame.Outcome{OK: true, Payload: payload}
	}

	if stored, marshalErr := frame.MarshalOutcome(outcome); marshalErr == nil {
		h.dedupe.Store(key, stored, time.Now())
	}
	h.replyOutcome(c, req.ID, outcome)
}

func ptrErrorShape(shape frame.ErrorShape) *frame.ErrorShape {
	return &shape
}

// handleAgent implements the ack-then-final pattern: an immediate
// accepted event is sent to the caller, the agent runs asynchronously with
// progress fanned out over the bus to every ready connection, and the
// terminal response is sent to the caller alone once the run completes.
func (h *Hub) handleAgent(c *Connection, req *frame.Request) {
	var params frame.AgentParams
	if issues := frame.ValidateParams(req.Params, &params); issues != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrInvalidRequest, frame.FormatIssues(issues)).WithDetails(issues))
		return
	}

	key := dedupe.Key(frame.MethodAgent, params.IdempotencyKey)
	if cached, ok := h.dedupe.Lookup(key, time.Now()); ok {
		outcome, err := frame.UnmarshalOutcome(cached)
		if err == nil {
			h.replyOutcome(c, req.ID, outcome)
			return
		}
	}

	runID := params.SessionID
	if runID == "" {
		runID = uuid.NewString()
	}

	seq := h.nextSeq()
	ack, err := frame.NewEvent(frame.EventAgent, map[string]any{
		"runId":  runID,
		"status": "accepted",
	}, seq, nil)
	if err != nil {
		h.replyError(c, req.ID, frame.NewErrorShape(frame.ErrUnavailable, "failed to build acknowledgement"))
		return
	}
	c.enqueue(ack)

	timeout := defaultAgentTimeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}

	go h.runAgent(c, req.ID, runID, params, timeout, key)
}

func (h *Hub) runAgent(c *Connection, requestID, runID string, params frame.AgentParams, timeout time.Duration, dedupeKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	agentReq := ports.AgentRequest{
		RunID:          runID,
		Message:        params.Message,
		To:             params.To,
		SessionID:      params.SessionID,
		Thinking:       params.Thinking,
		Deliver:        params.Deliver,
		IdempotencyKey: params.IdempotencyKey,
	}
	summary, err := h.agent.Run(ctx, agentReq, func(status string, payload any) {
		h.bus.Publish(bus.AgentEvent{RunID: runID, Status: status, Payload: payload})
	})

	var outcome frame.Outcome
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		summary := "agent run did not complete before its deadline"
		outcome = frame.Outcome{OK: false, Error: ptrErrorShape(frame.NewErrorShape(frame.ErrAgentTimeout, summary).
			WithDetails(map[string]string{"runId": runID, "status": "error", "summary": summary}))}
	case err != nil:
		outcome = frame.Outcome{OK: false, Error: ptrErrorShape(frame.NewErrorShape(frame.ErrUnavailable, err.Error()).
			WithDetails(map[string]string{"runId": runID, "status": "error", "summary": err.Error()}))}
	default:
		payload, marshalErr := json.Marshal(map[string]string{"runId": runID, "status": "ok", "summary": summary})
		if marshalErr != nil {
			outcome = frame.Outcome{OK: false, Error: ptrErrorShape(frame.NewErrorShape(frame.ErrUnavailable, "failed to marshal agent result"))}
			break
		}
		outcome = frame.Outcome{OK: true, Payload: payload}
	}

	if stored, marshalErr := frame.MarshalOutcome(outcome); marshalErr == nil {
		h.dedupe.Store(dedupeKey, stored, time.Now())
	}
	h.replyOutcome(c, requestID, outcome)
}
