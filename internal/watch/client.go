package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ai-hq/server/internal/event"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Client manages the websocket connection to the relay.
type Client struct {
	url string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings with the close frame
	conn    *websocket.Conn
	delay   time.Duration
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

func NewClient(url string) *Client {
	return &Client{url: url, delay: reconnectBaseDelay}
}

// ConnectedMsg is sent when the websocket connects.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// EventMsg delivers one relayed event, including the connected ack.
type EventMsg struct {
	Event event.Event
	At    time.Time
}

// Listen returns a command that dials until it connects or ctx is done.
func (c *Client) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		for {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				c.mu.Lock()
				delay := c.delay
				c.delay = min(c.delay*2, reconnectMaxDelay)
				c.mu.Unlock()

				slog.Debug("ws dial error", "url", c.url, "error", err, "retry", delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.delay = reconnectBaseDelay
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)
			return ConnectedMsg{}
		}
	}
}

// ReadLoop returns a command that reads the next event from the connection.
// Frames that are not events are skipped.
func (c *Client) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return DisconnectedMsg{Err: err}
			}

			var e event.Event
			if err := json.Unmarshal(data, &e); err != nil || e.Type == "" {
				continue
			}
			return EventMsg{Event: e, At: time.Now()}
		}
	}
}

// pingLoop sends periodic pings on conn. It exits when ctx is cancelled or
// the connection changes.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and drops the connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
}
