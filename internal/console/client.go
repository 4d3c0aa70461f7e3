// Package console is a terminal viewer for the live fleet feed.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
)

const writeWait = 10 * time.Second

// Client reads broadcast events from a fleetops /ws endpoint.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to url, e.g. ws://localhost:8080/ws?organization=...
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Run hands every received event to handle until ctx is done or the server
// closes the connection. A normal close returns nil.
func (c *Client) Run(ctx context.Context, handle func(broadcast.Event)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	for {
		var e broadcast.Event
		if err := c.conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("server closed feed: %s", closeErr.Text)
			}
			return err
		}
		handle(e)
	}
}

// SendLocation asks the server to move a drone.
func (c *Client) SendLocation(droneID string, loc fleet.Location) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(map[string]any{
		"type":     string(broadcast.KindDroneLocation),
		"droneId":  droneID,
		"location": loc,
	})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
