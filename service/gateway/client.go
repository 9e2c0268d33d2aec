package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/sync/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one authenticated websocket connection. Only writePump
// touches the socket for writes; everything else goes through send.
type Client struct {
	ConnID string
	User   *model.User
	Ident  string

	conn *websocket.Conn
	send chan []byte

	sub *nats.Subscription // per-user notification subscription

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, connID string, user *model.User, ident string, queueSize int) *Client {
	return &Client{
		ConnID: connID,
		User:   user,
		Ident:  ident,
		conn:   conn,
		send:   make(chan []byte, queueSize),
		closed: make(chan struct{}),
	}
}

// Closed is closed exactly once when the connection goes away; in-flight
// calls select on it to abort.
func (c *Client) Closed() <-chan struct{} { return c.closed }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.sub != nil {
			if err := c.sub.Unsubscribe(); err != nil {
				logger.Warnf("[gateway] unsubscribe %s: %v", c.User.UID, err)
			}
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Send enqueues a frame; a full queue or closed connection drops it.
// Slow consumers lose notifications rather than stalling the node.
func (c *Client) Send(frame *ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Errorf("[gateway] marshal frame for %s: %v", c.User.UID, err)
		return
	}
	c.SendRaw(data)
}

func (c *Client) SendRaw(data []byte) {
	select {
	case <-c.closed:
	case c.send <- data:
	default:
		logger.Warnf("[gateway] send queue full, dropping frame for %s", c.User.UID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[gateway] write %s: %v", c.User.UID, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
