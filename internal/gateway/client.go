package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// Client is one connected socket. Writes go through the send channel
// so the write pump is the only goroutine touching the connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan *protocol.Message
	srv  *Server

	closeMu sync.Mutex
	closed  bool
}

func newClient(id string, conn *websocket.Conn, srv *Server) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan *protocol.Message, sendBuffer),
		srv:  srv,
	}
}

// Send queues a message; a client that cannot keep up is dropped
// rather than allowed to block the broadcaster.
func (c *Client) Send(msg *protocol.Message) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		slog.Warn("client send buffer full, disconnecting", "client", c.ID)
		go c.srv.remove(c)
	}
}

// shutdown closes the send channel exactly once; the write pump then
// closes the socket.
func (c *Client) shutdown() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.srv.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("client read error", "client", c.ID, "error", err)
			}
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			slog.Warn("malformed frame dropped", "client", c.ID, "error", err)
			continue
		}
		c.srv.dispatch(c, msg)
	}
}
