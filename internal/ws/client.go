package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated websocket connection.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	info      ConnInfo
	limiter   *rateLimiter
}

func newClient(conn *websocket.Conn, info ConnInfo, buffer int, limiter *rateLimiter) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		info:    info,
		limiter: limiter,
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	return c.info.UserID
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// enqueue queues payload without blocking. False means the client is closed
// or its buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close signals the write pump to finish. The pump closes the socket.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump feeds inbound frames to handle until the socket fails. Frames are
// handled one at a time so a connection's events keep their order. Frames over
// the connection's event budget go to throttled instead.
func (c *Client) readPump(maxMessageSize int64, handle, throttled func(*Client, []byte)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.limiter != nil && !c.limiter.allow() {
			throttled(c, data)
			continue
		}
		handle(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
