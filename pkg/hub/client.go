package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// Connection timing. Pings go out before the peer's read deadline expires.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

const (
	// Clients only send control frames
	maxMessageSize = 4 * 1024

	// Messages queued per client before it counts as slow
	sendBuffer = 64
)

// Client is one websocket subscriber of a Hub
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers conn with hub
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{hub: hub, conn: conn, send: make(chan Message, sendBuffer)}
	hub.join(c)
	return c
}

// Run serves the connection until either side closes it. It blocks, so
// call it from the websocket handler.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop drops whatever the peer sends. Reading keeps pongs and close
// frames flowing.
func (c *Client) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop owns every write on the connection
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel: stopped or dropped us
				c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(msg.Type.frame(), msg.Data)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) write(frame int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(frame, data)
}
