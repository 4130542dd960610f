// Package gateway implements the WebSocket connection lifecycle, the
// request/response/event protocol dispatcher, and the process-wide
// broadcast of presence and agent events.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/yuvalhk/openclaw/internal/bus"
	"github.com/yuvalhk/openclaw/internal/config"
	"github.com/yuvalhk/openclaw/internal/dedupe"
	"github.com/yuvalhk/openclaw/internal/frame"
	"github.com/yuvalhk/openclaw/internal/ports"
	"github.com/yuvalhk/openclaw/internal/presence"
)

// Hub is the central WebSocket connection registry, protocol dispatcher,
// and event broadcaster.
type Hub struct {
	cfg *config.Config
	log zerolog.Logger

	presence *presence.Registry
	dedupe   *dedupe.Cache
	bus      *bus.Bus

	health   ports.Health
	status   ports.Status
	delivery ports.Delivery
	agent    ports.Agent
	queue    ports.EventQueue

	mu    sync.RWMutex
	conns map[string]*Connection

	seq           atomic.Int64
	healthVersion atomic.Int64

	startedAt time.Time
	closing   atomic.Bool
	stop      chan struct{}
}

// Dependencies bundles everything NewHub needs beyond config and a logger.
// Grouping these as ports keeps the hub's constructor stable as new
// integrations are wired in.
type Dependencies struct {
	Presence *presence.Registry
	Dedupe   *dedupe.Cache
	Bus      *bus.Bus
	Health   ports.Health
	Status   ports.Status
	Delivery ports.Delivery
	Agent    ports.Agent
	Queue    ports.EventQueue
}

// NewHub builds a Hub ready to serve connections.
func NewHub(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		log:       logger.With().Str("component", "gateway").Logger(),
		presence:  deps.Presence,
		dedupe:    deps.Dedupe,
		bus:       deps.Bus,
		health:    deps.Health,
		status:    deps.Status,
		delivery:  deps.Delivery,
		agent:     deps.Agent,
		queue:     deps.Queue,
		conns:     make(map[string]*Connection),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}
}

// Run starts the hub's background loops (tick emission, agent event
// fan-out, presence sweep, dedupe sweep) and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	agentEvents, unsubscribe := h.bus.Subscribe(64)
	defer unsubscribe()

	tickTicker := time.NewTicker(h.cfg.TickInterval)
	defer tickTicker.Stop()
	presenceSweep := time.NewTicker(presence.TTL / 2)
	defer presenceSweep.Stop()
	dedupeSweep := time.NewTicker(dedupe.SweepInterval)
	defer dedupeSweep.Stop()

	h.log.Info().Msg("gateway hub running")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case ev := <-agentEvents:
			h.fanOutAgentEvent(ev)
		case <-tickTicker.C:
			h.broadcastTick()
		case now := <-presenceSweep.C:
			if removed, version := h.presence.Sweep(now); removed > 0 {
				h.broadcastPresence(version)
			}
		case now := <-dedupeSweep.C:
			h.dedupe.Sweep(now)
		}
	}
}

// ServeWebSocket adopts an upgraded WebSocket connection and runs its pumps
// until the connection closes.
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	c := newConnection(h, conn, h.log)
	go c.writePump()
	c.readPump()
}

func (h *Hub) nextSeq() int64 {
	return h.seq.Add(1)
}

func (h *Hub) stateVersion() frame.StateVersion {
	_, presenceVersion := h.presence.Snapshot(time.Now())
	return frame.StateVersion{Presence: presenceVersion, Health: h.healthVersion.Load()}
}

// register adds a fully-handshaken connection to the registry.
func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

// unregister removes a connection from the registry, if present, and marks
// its presence entry disconnected.
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	current, present := h.conns[c.id]
	present = present && current == c
	if present {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()

	c.mu.RLock()
	key := c.presenceKey
	c.mu.RUnlock()
	if present && key != "" {
		version := h.presence.Disconnect(key, time.Now())
		h.broadcastPresence(version)
	}
}

// readyConnections returns a snapshot of every currently-ready connection.
func (h *Hub) readyConnections() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// broadcastTick pushes a droppable tick event to every ready connection.
func (h *Hub) broadcastTick() {
	seq := h.nextSeq()
	payload, err := frame.NewEvent(frame.EventTick, map[string]any{}, seq, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build tick event")
		return
	}
	for _, c := range h.readyConnections() {
		c.enqueueDroppable(payload)
	}
}

// broadcastPresence pushes the current presence snapshot to every ready
// connection as a non-droppable event.
func (h *Hub) broadcastPresence(version int64) {
	entries, _ := h.presence.Snapshot(time.Now())
	seq := h.nextSeq()
	sv := h.stateVersion()
	payload, err := frame.NewEvent(frame.EventPresence, map[string]any{"presence": entries}, seq, &sv)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build presence event")
		return
	}
	for _, c := range h.readyConnections() {
		c.enqueue(payload)
	}
}

// fanOutAgentEvent pushes one agent progress event to every ready
// connection. Only the progress updates travel this path; the
// terminal "res" for the call that started the run is sent directly to its
// originating connection by the agent handler.
func (h *Hub) fanOutAgentEvent(ev bus.AgentEvent) {
	seq := h.nextSeq()
	payload, err := frame.NewEvent(frame.EventAgent, map[string]any{
		"runId":   ev.RunID,
		"status":  ev.Status,
		"payload": ev.Payload,
	}, seq, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build agent event")
		return
	}
	for _, c := range h.readyConnections() {
		c.enqueue(payload)
	}
}

// Shutdown broadcasts a shutdown event to every connection and stops the
// hub's background loops. restartExpectedMs is always sent as an explicit
// 0: this gateway process does not auto-restart itself, so there is never a
// meaningful non-zero estimate to report.
func (h *Hub) Shutdown() {
	if !h.closing.CompareAndSwap(false, true) {
		return
	}

	seq := h.nextSeq()
	payload, err := frame.NewEvent(frame.EventShutdown, map[string]any{
		"reason":            "service restart",
		"restartExpectedMs": int64(0),
	}, seq, nil)
	if err == nil {
		for _, c := range h.readyConnections() {
			c.enqueue(payload)
		}
	}

	close(h.stop)

	for _, c := range h.readyConnections() {
		c.closeWithCode(CloseServiceRestart, "service restart")
	}
}
