package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
	sendBuffer        = 128

	// CloseSessionReplaced is sent to a connection superseded by a newer one for the same user.
	CloseSessionReplaced = 4001
)

var (
	ErrConnectionClosed = errors.New("realtime: connection closed")
	ErrBufferExceeded   = errors.New("realtime: connection buffer exceeded")
)

// Handle is the transport side of a live connection as seen by the registry
// and the session layer.
type Handle interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// Connection wraps a websocket and coordinates outbound writes via a buffered channel.
// All writes happen on the write loop; Send and Close are safe for concurrent use.
type Connection struct {
	ID     string
	UserID string

	ws         *websocket.Conn
	send       chan []byte
	pingPeriod time.Duration

	once        sync.Once
	doneOnce    sync.Once
	started     atomic.Bool
	quit        chan struct{}
	done        chan struct{}
	closeCode   int
	closeReason string
}

var _ Handle = (*Connection)(nil)

// NewConnection constructs a Connection for the given user. A pingPeriod <= 0
// uses the default of 30s.
func NewConnection(userID string, ws *websocket.Conn, pingPeriod time.Duration) *Connection {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &Connection{
		ID:         uuid.NewString(),
		UserID:     userID,
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		pingPeriod: pingPeriod,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	if c.started.CompareAndSwap(false, true) {
		go c.writeLoop()
	}
}

// Done is closed once the socket has been shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send enqueues payload for delivery. If the client is slow and the buffer is full,
// the connection is closed to keep backpressure bounded.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.quit:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.quit:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrBufferExceeded
	}
}

// Close asks the write loop to flush queued frames, send a close frame and
// shut the socket. Only the first call has effect. The send channel is never
// closed so concurrent Send calls cannot panic.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.quit)
		if !c.started.Load() {
			c.shutdown()
		}
	})
}

func (c *Connection) shutdown() {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(writeWait))
	_ = c.ws.Close()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			c.flush()
			c.shutdown()
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				c.fail()
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.fail()
				return
			}
		}
	}
}

// fail closes the connection from inside the write loop after a write error.
func (c *Connection) fail() {
	c.once.Do(func() {
		c.closeCode, c.closeReason = websocket.CloseAbnormalClosure, "write failed"
		close(c.quit)
	})
	_ = c.ws.Close()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
