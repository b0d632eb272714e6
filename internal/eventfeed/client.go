package eventfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// Client reads events from a running Hub.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the feed served at addr (host:port). Connecting replaces
// any other client of the same daemon.
func Dial(ctx context.Context, addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: Path}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial event feed %s: %w", u.String(), err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks until the next event arrives or the connection ends.
func (c *Client) Next() (Event, error) {
	var ev Event
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
