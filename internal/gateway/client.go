package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantgate/sentinel/internal/observ"
)

const (
	minTimeout     = 2 * time.Second
	maxTimeout     = 5 * time.Second
	defaultTimeout = 3 * time.Second
)

// Client is the synchronous request/response transport to the execution
// node. The socket is created once and reused; after a timeout or protocol
// error it is torn down and redialed on the next call, because a
// request/response socket cannot be trusted after an ambiguous failure.
type Client struct {
	url     string
	timeout time.Duration

	mu   sync.Mutex // one request in flight per connection
	conn *websocket.Conn
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	return &Client{url: url, timeout: timeout}
}

// Call sends one command and waits for its response up to the client
// timeout. On any failure the transport is reset and a nil response is
// returned with the error; the caller decides whether to retry.
func (c *Client) Call(ctx context.Context, action Action, payload map[string]any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		observ.Error("gateway_dial_failed", map[string]any{"url": c.url, "error": err.Error()})
		return nil, err
	}

	cmd := Command{
		Action:    action,
		ReqID:     uuid.NewString(),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Payload:   payload,
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.teardown()
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(cmd); err != nil {
		c.teardown()
		observ.Error("gateway_write_failed", map[string]any{"action": string(action), "req_id": cmd.ReqID, "error": err.Error()})
		return nil, fmt.Errorf("write %s: %w", action, err)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.teardown()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	var resp Response
	if err := c.conn.ReadJSON(&resp); err != nil {
		c.teardown()
		observ.Error("gateway_call_timeout", map[string]any{"action": string(action), "req_id": cmd.ReqID, "error": err.Error()})
		observ.IncCounter("gateway_call_failures_total", map[string]string{"action": string(action)})
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}
	if !resp.valid() {
		c.teardown()
		observ.Error("gateway_malformed_response", map[string]any{"action": string(action), "status": string(resp.Status)})
		return nil, fmt.Errorf("malformed response status %q for %s", resp.Status, action)
	}

	observ.IncCounter("gateway_calls_total", map[string]string{"action": string(action), "status": string(resp.Status)})
	return &resp, nil
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.conn = conn
	return nil
}

// teardown closes the socket so the next call redials. Must hold c.mu.
func (c *Client) teardown() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		observ.IncCounter("gateway_transport_resets_total", nil)
	}
}

// Ping issues a HEARTBEAT and returns the round-trip latency.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := c.Call(ctx, ActionHeartbeat, nil)
	if err != nil {
		return 0, err
	}
	if resp.Status != StatusSuccess {
		return 0, fmt.Errorf("heartbeat returned %s: %s", resp.Status, resp.Error)
	}
	return time.Since(start), nil
}

func (c *Client) AccountInfo(ctx context.Context) (*Response, error) {
	return c.Call(ctx, ActionAccountInfo, nil)
}

func (c *Client) Positions(ctx context.Context) (*Response, error) {
	return c.Call(ctx, ActionPositions, nil)
}

func (c *Client) OpenOrder(ctx context.Context, req OrderRequest) (*Response, error) {
	return c.Call(ctx, ActionOpenOrder, req.payload())
}

func (c *Client) ClosePosition(ctx context.Context, ticket string) (*Response, error) {
	return c.Call(ctx, ActionClosePosition, map[string]any{"ticket": ticket})
}

// KillSwitch asks the execution node to flatten and stop on its side.
func (c *Client) KillSwitch(ctx context.Context, reason string) (*Response, error) {
	return c.Call(ctx, ActionKillSwitch, map[string]any{"reason": reason})
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
