package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/platinummonkey/keystone/pkg/identity"
)

const writeWait = 10 * time.Second

// Conn is one admitted socket. Writes are serialized; the read loop is the
// only reader.
type Conn struct {
	ws        *websocket.Conn
	Principal *identity.Principal
	SessionID string

	writeMu sync.Mutex

	// guarded by the pool mutex
	connectedAt   time.Time
	lastMessageAt time.Time
	messageCount  int64

	// per-connection token bucket, only touched by the read loop
	tokens     float64
	lastRefill time.Time
}

func newConn(ws *websocket.Conn, p *identity.Principal, sessionID string) *Conn {
	return &Conn{ws: ws, Principal: p, SessionID: sessionID}
}

// UserID returns the id of the connected user
func (c *Conn) UserID() string {
	return c.Principal.ID
}

// Send writes one JSON message
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason and closes the socket
func (c *Conn) Close(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// reject sends an advisory frame followed by a close
func (c *Conn) reject(frame Frame, code int, reason string) {
	_ = c.Send(frame)
	_ = c.Close(code, reason)
}
