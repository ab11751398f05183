package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Client represents a single WebSocket peer.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	remote string

	// Symbol filter; empty means every symbol.
	filterMu sync.RWMutex
	symbols  map[string]bool
}

// NewClient wraps conn. symbols is the initial filter (nil for all).
func NewClient(hub *Hub, conn *websocket.Conn, symbols []string) *Client {
	c := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		remote: conn.RemoteAddr().String(),
	}
	c.setFilter(symbols)
	return c
}

// clientMsg covers every frame a client may send.
type clientMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Seq     int64    `json:"seq"`
	Ping    int64    `json:"ping"`
}

func (c *Client) wants(symbol string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[strings.ToUpper(symbol)]
}

func (c *Client) setFilter(symbols []string) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			set[s] = true
		}
	}
	c.filterMu.Lock()
	c.symbols = set
	c.filterMu.Unlock()
}

func (c *Client) removeFromFilter(symbols []string) {
	c.filterMu.Lock()
	for _, s := range symbols {
		delete(c.symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	c.filterMu.Unlock()
}

// Serve runs the pumps; it returns when the peer disconnects.
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
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

			// Coalesce queued frames into one write, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
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
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Infow("ws client disconnected", "remote", c.remote)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.reply(map[string]any{"type": "error", "error": "invalid message"})
			continue
		}

		switch strings.ToLower(msg.Type) {
		case "subscribe":
			c.setFilter(msg.Symbols)
			c.hub.Resend(c)
		case "unsubscribe":
			c.removeFromFilter(msg.Symbols)
		case "resume":
			frames, complete := c.hub.Missed(msg.Seq)
			for _, f := range frames {
				c.queue(f)
			}
			if !complete {
				c.reply(map[string]any{"type": "resync", "seq": c.hub.Seq()})
				c.hub.Resend(c)
			}
		case "ping", "":
			if msg.Ping == 0 && msg.Type == "" {
				continue
			}
			c.reply(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		default:
			c.reply(map[string]any{"type": "error", "error": "unknown type " + msg.Type})
		}
	}
}

func (c *Client) reply(v any) {
	b, _ := json.Marshal(v)
	c.queue(b)
}

// queue is only called from readPump, before RemoveClient closes send.
func (c *Client) queue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}
