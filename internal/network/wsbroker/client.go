// Package wsbroker implements the message bus client over a websocket
// connection to the relay process.
package wsbroker

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"townforge/internal/network"
	"townforge/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	redialDelay  = 2 * time.Second
)

// Client dials the relay and keeps the connection alive, redialing on
// failure. Outbound sends during an outage fail fast; the caller's
// local state is already committed, so the miss is logged as a sync
// risk rather than retried here.
type Client struct {
	serverName string
	relayURL   string
	handler    network.Handler
	log        *log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

var _ network.Broker = (*Client)(nil)

// Dial connects to the relay, registering under serverName. The
// handler receives every message routed to this server.
func Dial(relayURL, serverName string, handler network.Handler, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("server", serverName)
	u.RawQuery = q.Encode()

	c := &Client{
		serverName: serverName,
		relayURL:   u.String(),
		handler:    handler,
		log:        logger,
		done:       make(chan struct{}),
	}
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.readLoop(conn)
	return c, nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

// Send publishes one message. Safe for concurrent use.
func (c *Client) Send(msg protocol.Message) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("broker closed")
	}
	if c.conn == nil {
		return fmt.Errorf("relay connection down")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			if closed {
				return
			}
			c.log.Printf("relay connection lost: %v", err)
			c.redial()
			return
		}
		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			c.log.Printf("bad relay message: %v", err)
			continue
		}
		if msg.ProtocolVersion != protocol.Version {
			continue
		}
		// Own broadcasts echo back from the relay on ALL fan-out.
		if msg.Origin == c.serverName {
			continue
		}
		c.handler(msg)
	}
}

func (c *Client) redial() {
	for {
		select {
		case <-c.done:
			return
		case <-time.After(redialDelay):
		}
		conn, err := c.dial()
		if err != nil {
			c.log.Printf("relay redial failed: %v", err)
			continue
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.log.Printf("relay connection restored")
		go c.readLoop(conn)
		return
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
