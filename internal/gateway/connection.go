package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxFrameBytes is the maximum size of a single inbound WebSocket
	// message.
	maxFrameBytes = 512 * 1024

	// maxBufferedBytes is the outbound high-water mark. A connection that
	// accumulates more than this many bytes of unsent, non-droppable
	// frames is treated as a slow consumer and evicted.
	maxBufferedBytes = 1536 * 1024

	// handshakeTimeout is how long a connection has to send "hello"
	// before it is closed.
	handshakeTimeout = 3 * time.Second

	// writeWait is the time allowed to write a single message to the peer.
	writeWait = 10 * time.Second

	// sendBufferDepth is the channel buffer depth backing enqueue; the
	// byte-based high-water mark is the real backpressure signal, this
	// just bounds goroutine scheduling overhead.
	sendBufferDepth = 256
)

// state is a connection's position in the handshake state machine.
type state int32

const (
	stateNew state = iota
	stateAwaitingHello
	stateReady
	stateClosed
)

// Connection represents a single WebSocket connection. Each connection runs
// two goroutines (readPump and writePump) and exchanges outbound frames with
// the Hub via its buffered send channel.
type Connection struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	state         atomic.Int32
	outboundBytes atomic.Int64

	mu            sync.RWMutex
	clientName    string
	clientVersion string
	tickInterval  time.Duration
	presenceKey   string
}

func newConnection(hub *Hub, conn *websocket.Conn, log zerolog.Logger) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:           id,
		hub:          hub,
		conn:         conn,
		log:          log.With().Str("connId", id).Logger(),
		send:         make(chan []byte, sendBufferDepth),
		done:         make(chan struct{}),
		tickInterval: hub.cfg.TickInterval,
	}
	c.state.Store(int32(stateNew))
	return c
}

// ID returns the connection's unique identifier, also reported as
// hello-ok.server.connId.
func (c *Connection) ID() string { return c.id }

func (c *Connection) currentState() state {
	return state(c.state.Load())
}

func (c *Connection) setState(s state) {
	c.state.Store(int32(s))
}

func (c *Connection) isReady() bool {
	return c.currentState() == stateReady
}

// close signals both pumps to stop. Safe to call multiple times and from
// multiple goroutines.
func (c *Connection) close() {
	c.once.Do(func() { close(c.done) })
}

// closeWithCode sends a close frame with the given code and reason, then
// tears down the underlying connection.
func (c *Connection) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
	_ = c.conn.Close()
}

// enqueue queues a non-droppable frame for delivery. If the outbound
// high-water mark would be exceeded, the connection is treated as a slow
// consumer and evicted rather than allowed to apply backpressure to the hub.
func (c *Connection) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	if c.outboundBytes.Load()+int64(len(msg)) > maxBufferedBytes {
		c.log.Warn().Int("pending", int(c.outboundBytes.Load())).Msg("slow consumer, evicting connection")
		go c.closeWithCode(ClosePolicyViolation, ErrSlowConsumer.Error())
		return
	}

	select {
	case c.send <- msg:
		c.outboundBytes.Add(int64(len(msg)))
	case <-c.done:
	default:
		c.log.Warn().Msg("send buffer full, evicting connection")
		go c.closeWithCode(ClosePolicyViolation, ErrSlowConsumer.Error())
	}
}

// enqueueDroppable queues a droppable frame (currently: tick), silently
// discarding it instead of evicting the connection when the high-water mark
// is exceeded.
func (c *Connection) enqueueDroppable(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	if c.outboundBytes.Load()+int64(len(msg)) > maxBufferedBytes {
		return
	}

	select {
	case c.send <- msg:
		c.outboundBytes.Add(int64(len(msg)))
	default:
	}
}

// readPump reads frames from the WebSocket connection and routes them to the
// hub. It owns the lifetime of the connection: returning from readPump
// always unregisters and closes the socket.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.setState(stateAwaitingHello)

	handshakeTimer := time.AfterFunc(handshakeTimeout, func() {
		if c.currentState() == stateAwaitingHello {
			c.closeWithCode(CloseHandshakeTimeout, ErrHandshakeTimeout.Error())
		}
	})
	defer handshakeTimer.Stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		switch c.currentState() {
		case stateAwaitingHello:
			handshakeTimer.Stop()
			if !c.hub.handleHello(c, message) {
				return
			}
		case stateReady:
			c.hub.handleRequest(c, message)
		default:
			return
		}
	}
}

// writePump writes frames queued on send to the WebSocket connection. It
// exits when done is closed, draining any frames already buffered so the
// peer receives them before the connection tears down.
func (c *Connection) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			c.outboundBytes.Add(-int64(len(msg)))
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					c.outboundBytes.Add(-int64(len(msg)))
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
