package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

var errConnClosed = errors.New("connection closed")

// Conn wraps a websocket connection with a stable id for log attribution and
// a write lock, so the owning read loop, dashboard broadcasts, and unicast
// relays can all write without interleaving frames.
type Conn struct {
	id  string
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:  id,
		ws:  ws,
		log: logger.With("conn_id", id),
	}
}

func (c *Conn) ID() string { return c.id }

// SendJSON marshals v and writes it as a single text frame. Errors mark the
// connection closed so later broadcasts skip it; the read loop notices the
// dead transport on its own.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *Conn) send(data []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// Close sends a close frame with the given code and tears down the
// transport. Safe to call more than once and from any goroutine.
func (c *Conn) Close(code int, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.ws.Close()
}
