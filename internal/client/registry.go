// ABOUTME: Maps session ids to the visitor's live connection and pushes events to it.
// ABOUTME: Each connection has a bounded queue drained by one writer goroutine.

package client

import (
	"log/slog"
	"sync"
)

// DefaultSendBuffer is the per-connection queue length.
const DefaultSendBuffer = 32

// Delivery is the outcome of a Push.
type Delivery int

const (
	// Delivered means the event was queued on a live connection.
	Delivered Delivery = iota
	// NoConnection means the visitor is not connected. Not an error: the
	// visitor sees the history on reconnect.
	NoConnection
)

func (d Delivery) String() string {
	if d == Delivered {
		return "delivered"
	}
	return "no_connection"
}

// Conn is a visitor connection the registry can write to.
type Conn interface {
	WriteEvent(ev Event) error
	Close() error
}

type connection struct {
	conn  Conn
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

func (c *connection) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Registry tracks at most one live connection per session.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*connection
	bufferSize int
	logger     *slog.Logger
}

// NewRegistry creates a registry. bufferSize <= 0 uses DefaultSendBuffer.
func NewRegistry(bufferSize int, logger *slog.Logger) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:      make(map[string]*connection),
		bufferSize: bufferSize,
		logger:     logger.With("component", "client.registry"),
	}
}

// Register attaches conn to the session, replacing and closing any previous
// connection. The returned func detaches this connection only.
func (r *Registry) Register(sessionID string, conn Conn) (unregister func()) {
	c := &connection{
		conn:  conn,
		queue: make(chan Event, r.bufferSize),
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	old := r.conns[sessionID]
	r.conns[sessionID] = c
	total := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		old.stop()
		r.logger.Debug("replaced visitor connection", "session_id", sessionID)
	}
	r.logger.Info("visitor connected", "session_id", sessionID, "total_connections", total)

	go r.writeLoop(sessionID, c)

	return func() { r.remove(sessionID, c) }
}

// Unregister detaches whatever connection the session has.
func (r *Registry) Unregister(sessionID string) {
	r.mu.RLock()
	c := r.conns[sessionID]
	r.mu.RUnlock()
	if c != nil {
		r.remove(sessionID, c)
	}
}

func (r *Registry) remove(sessionID string, c *connection) {
	r.mu.Lock()
	current := r.conns[sessionID] == c
	if current {
		delete(r.conns, sessionID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	c.stop()
	if current {
		r.logger.Info("visitor disconnected", "session_id", sessionID, "total_connections", total)
	}
}

// Push queues ev for the session's connection without blocking. A connection
// whose queue is full is closed, since it can no longer keep order.
func (r *Registry) Push(sessionID string, ev Event) Delivery {
	r.mu.RLock()
	c := r.conns[sessionID]
	r.mu.RUnlock()
	if c == nil {
		return NoConnection
	}

	select {
	case <-c.done:
		return NoConnection
	default:
	}

	select {
	case c.queue <- ev:
		return Delivered
	default:
		r.logger.Warn("visitor connection too slow, closing", "session_id", sessionID, "event", ev.Type)
		r.remove(sessionID, c)
		return NoConnection
	}
}

// Connected reports whether the session has a live connection.
func (r *Registry) Connected(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[sessionID]
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close drops every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.stop()
	}
}

func (r *Registry) writeLoop(sessionID string, c *connection) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.queue:
			if err := c.conn.WriteEvent(ev); err != nil {
				r.logger.Debug("write to visitor failed", "session_id", sessionID, "error", err)
				r.remove(sessionID, c)
				return
			}
		}
	}
}
