package socket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSendFailed is returned by Broadcast when the write to a registered
// connection fails. The connection has been evicted when it is returned.
var ErrSendFailed = errors.New("socket: send failed")

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// Conn is the part of *websocket.Conn the registry writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// entry serialises writes to one connection; gorilla allows a single
// concurrent writer.
type entry struct {
	conn Conn
	mu   sync.Mutex
}

func (e *entry) write(messageType int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	e.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return e.conn.WriteMessage(messageType, data)
}

// Registry maps socket ids to live connections.
//
// Thread Safety:
//   - All methods are safe for concurrent use without external locking.
type Registry struct {
	conns sync.Map // socket id → *entry
	count atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers conn under socketID, replacing and closing any previous
// connection with the same id.
func (r *Registry) Add(socketID string, conn Conn) {
	prev, loaded := r.conns.Swap(socketID, &entry{conn: conn})
	if loaded {
		prev.(*entry).conn.Close() //nolint:errcheck // Replaced connection
		return
	}
	r.count.Add(1)
}

// Broadcast sends message as a text frame to socketID.
//
// An empty or unknown id is a no-op returning nil. A failed write evicts
// and closes the connection and returns ErrSendFailed.
func (r *Registry) Broadcast(socketID, message string) error {
	return r.send(socketID, websocket.TextMessage, []byte(message))
}

// Ping sends a ping control frame to socketID.
func (r *Registry) Ping(socketID string) error {
	return r.send(socketID, websocket.PingMessage, nil)
}

func (r *Registry) send(socketID string, messageType int, data []byte) error {
	if socketID == "" {
		return nil
	}
	v, ok := r.conns.Load(socketID)
	if !ok {
		return nil
	}
	e := v.(*entry)
	if err := e.write(messageType, data); err != nil {
		r.evict(socketID, e)
		return fmt.Errorf("%w: socket %s: %w", ErrSendFailed, socketID, err)
	}
	return nil
}

// Remove deregisters and closes the connection for socketID. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(socketID string) {
	if socketID == "" {
		return
	}
	if v, ok := r.conns.LoadAndDelete(socketID); ok {
		r.count.Add(-1)
		v.(*entry).conn.Close() //nolint:errcheck // Connection is being discarded
	}
}

// evict removes socketID only if it still maps to e.
func (r *Registry) evict(socketID string, e *entry) {
	if r.conns.CompareAndDelete(socketID, e) {
		r.count.Add(-1)
		e.conn.Close() //nolint:errcheck // Connection is being discarded
	}
}

// Has reports whether socketID is registered.
func (r *Registry) Has(socketID string) bool {
	_, ok := r.conns.Load(socketID)
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// CloseAll sends a close frame to every connection and empties the registry.
func (r *Registry) CloseAll() {
	closeFrame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	r.conns.Range(func(key, _ any) bool {
		id := key.(string)
		r.send(id, websocket.CloseMessage, closeFrame) //nolint:errcheck // Best-effort close frame
		r.Remove(id)
		return true
	})
}
