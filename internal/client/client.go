// Package client implements the gateway's companion WebSocket client: dial,
// handshake, request/response correlation, event delivery, and automatic
// reconnection with backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yuvalhk/openclaw/internal/frame"
)

// Options configures a Client.
type Options struct {
	URL      string
	Token    string
	Name     string
	Version  string
	Platform string
	Mode     string
	Logger   zerolog.Logger
}

// pendingCall is a request awaiting its correlated response.
type pendingCall struct {
	resp chan *frame.Response
}

// Client is a reconnecting gateway client.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]pendingCall
	closed  bool

	lastSeq   atomic.Int64
	gapCount  atomic.Int64
	idCounter atomic.Int64

	events chan *frame.Event
	ready  chan struct{}
	stop   chan struct{}
}

// New builds a Client. Call Run to connect and maintain the connection.
func New(opts Options) *Client {
	return &Client{
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[string]pendingCall),
		events:  make(chan *frame.Event, 256),
		ready:   make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Events returns the channel on which tick, presence, agent, and shutdown
// events are delivered.
func (c *Client) Events() <-chan *frame.Event {
	return c.events
}

// GapCount reports how many times a sequence gap was detected in the event
// stream, e.g. after a reconnect that missed events sent while disconnected.
func (c *Client) GapCount() int64 {
	return c.gapCount.Load()
}

// Run dials the gateway and keeps the connection alive, reconnecting with
// exponential backoff until ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0 // retry forever; the caller controls lifetime via ctx

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		default:
		}

		err := c.connectAndServe(ctx)
		if err == nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("gateway connection lost, reconnecting")

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("gateway client: backoff exhausted: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-time.After(wait):
		}
	}
}

// connectAndServe dials once, performs the handshake, and runs the read
// loop until the connection drops; ctx bounds only the dial. It always
// returns a non-nil error, including after Close tears the connection down;
// Run then checks ctx and Close before scheduling a reconnect.
func (c *Client) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	hello := frame.Hello{
		Type:        frame.TypeHello,
		MinProtocol: frame.ProtocolVersion,
		MaxProtocol: frame.ProtocolVersion,
		Client: frame.ClientDescriptor{
			Name:     c.opts.Name,
			Version:  c.opts.Version,
			Platform: c.opts.Platform,
			Mode:     c.opts.Mode,
		},
	}
	if c.opts.Token != "" {
		hello.Auth = &frame.AuthInfo{Token: c.opts.Token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send hello: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read handshake response: %w", err)
	}
	typ, err := frame.Sniff(raw)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("sniff handshake response: %w", err)
	}
	if typ == frame.TypeHelloError {
		var helloErr frame.HelloError
		_ = json.Unmarshal(raw, &helloErr)
		_ = conn.Close()
		return fmt.Errorf("handshake rejected: %s", helloErr.Reason)
	}
	if typ != frame.TypeHelloOK {
		_ = conn.Close()
		return fmt.Errorf("unexpected handshake response type %q", typ)
	}
	var helloOK frame.HelloOK
	if err := json.Unmarshal(raw, &helloOK); err != nil {
		_ = conn.Close()
		return fmt.Errorf("decode hello-ok: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	select {
	case <-c.ready:
	default:
		close(c.ready)
	}

	return c.readLoop(conn)
}

// readLoop reads frames until the connection errors or closes, dispatching
// responses to their waiting caller and events to the Events channel.
func (c *Client) readLoop(conn *websocket.Conn) error {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.failPendingLocked()
		c.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		typ, err := frame.Sniff(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("received malformed frame")
			continue
		}

		switch typ {
		case frame.TypeRes:
			var res frame.Response
			if err := json.Unmarshal(raw, &res); err != nil {
				c.log.Warn().Err(err).Msg("failed to decode response frame")
				continue
			}
			c.deliverResponse(&res)
		case frame.TypeEvent:
			var ev frame.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.log.Warn().Err(err).Msg("failed to decode event frame")
				continue
			}
			c.checkSeqGap(&ev)
			select {
			case c.events <- &ev:
			default:
				c.log.Warn().Str("event", ev.Event).Msg("events channel full, dropping event")
			}
		default:
			c.log.Warn().Str("type", typ).Msg("unexpected frame type after handshake")
		}
	}
}

// checkSeqGap compares an event's sequence number against the last one
// observed, incrementing GapCount when a gap is detected (typically because
// events were sent while the client was disconnected).
func (c *Client) checkSeqGap(ev *frame.Event) {
	if ev.Seq == nil {
		return
	}
	prev := c.lastSeq.Swap(*ev.Seq)
	if prev != 0 && *ev.Seq != prev+1 {
		c.gapCount.Add(1)
		c.log.Warn().Int64("previous", prev).Int64("received", *ev.Seq).Msg("sequence gap detected")
	}
}

func (c *Client) deliverResponse(res *frame.Response) {
	c.mu.Lock()
	call, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn().Str("id", res.ID).Msg("response for unknown request id")
		return
	}
	call.resp <- res
}

func (c *Client) failPendingLocked() {
	for id, call := range c.pending {
		delete(c.pending, id)
		close(call.resp)
	}
}

// nextID generates a unique request ID for this client's lifetime.
func (c *Client) nextID() string {
	return fmt.Sprintf("%d", c.idCounter.Add(1))
}

// Call sends a req frame for method with params and blocks until the
// matching response arrives or ctx is cancelled.
func (c *Client) Call(ctx context.Context, method string, params any) (*frame.Response, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("gateway client: not connected")
	}

	id := c.nextID()
	respCh := make(chan *frame.Response, 1)
	c.pending[id] = pendingCall{resp: respCh}
	c.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}

	req := frame.Request{Type: frame.TypeReq, ID: id, Method: method, Params: raw}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("gateway client: connection closed while awaiting response")
		}
		return res, nil
	}
}

// Close stops Run and closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.stop)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
