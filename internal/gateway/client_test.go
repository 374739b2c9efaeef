package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// gatewayStub runs a scripted execution-node endpoint over websocket.
func gatewayStub(t *testing.T, handle func(conn *websocket.Conn, cmd Command) *Response) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if resp := handle(conn, cmd); resp != nil {
				if err := conn.WriteJSON(resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return NewClient(url, 2*time.Second), srv
}

func TestCallRoundTrip(t *testing.T) {
	var mu sync.Mutex
	seenReqIDs := map[string]bool{}
	client, _ := gatewayStub(t, func(_ *websocket.Conn, cmd Command) *Response {
		require.Equal(t, ActionHeartbeat, cmd.Action)
		require.NotEmpty(t, cmd.ReqID)
		require.Greater(t, cmd.Timestamp, 0.0)
		mu.Lock()
		require.False(t, seenReqIDs[cmd.ReqID], "req_id must never repeat")
		seenReqIDs[cmd.ReqID] = true
		mu.Unlock()
		return &Response{Status: StatusSuccess, Data: map[string]any{"pong": true}}
	})
	defer client.Close()

	for i := 0; i < 3; i++ {
		resp, err := client.Call(context.Background(), ActionHeartbeat, nil)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, resp.Status)
	}
	mu.Lock()
	require.Len(t, seenReqIDs, 3)
	mu.Unlock()
}

func TestTimeoutReturnsNoResponseAndResetsTransport(t *testing.T) {
	var calls atomic.Int32
	client, _ := gatewayStub(t, func(_ *websocket.Conn, cmd Command) *Response {
		if calls.Add(1) == 1 {
			return nil // stay silent; the client must time out
		}
		return &Response{Status: StatusSuccess}
	})
	defer client.Close()

	start := time.Now()
	resp, err := client.Call(context.Background(), ActionAccountInfo, nil)
	require.Error(t, err)
	require.Nil(t, resp, "a timed-out call degrades to no response, never a hang")
	require.Less(t, time.Since(start), 4*time.Second)

	// The torn-down socket is recreated on the next call.
	resp, err = client.Call(context.Background(), ActionAccountInfo, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.Status)
}

func TestMalformedStatusTearsDownTransport(t *testing.T) {
	var calls atomic.Int32
	client, _ := gatewayStub(t, func(_ *websocket.Conn, cmd Command) *Response {
		if calls.Add(1) == 1 {
			return &Response{Status: "WAT"}
		}
		return &Response{Status: StatusSuccess}
	})
	defer client.Close()

	resp, err := client.Call(context.Background(), ActionPositions, nil)
	require.Error(t, err)
	require.Nil(t, resp)

	resp, err = client.Call(context.Background(), ActionPositions, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.Status)
}

func TestDialFailureReturnsError(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/exec", 2*time.Second)
	resp, err := client.Call(context.Background(), ActionHeartbeat, nil)
	require.Error(t, err)
	require.Nil(t, resp)
}

func TestPingReportsLatency(t *testing.T) {
	client, _ := gatewayStub(t, func(_ *websocket.Conn, cmd Command) *Response {
		return &Response{Status: StatusSuccess}
	})
	defer client.Close()

	latency, err := client.Ping(context.Background())
	require.NoError(t, err)
	require.Greater(t, latency, time.Duration(0))
}

func TestOpenOrderPayload(t *testing.T) {
	var mu sync.Mutex
	var got Command
	client, _ := gatewayStub(t, func(_ *websocket.Conn, cmd Command) *Response {
		mu.Lock()
		got = cmd
		mu.Unlock()
		return &Response{Status: StatusSuccess, Data: map[string]any{"ticket": "T-7"}}
	})
	defer client.Close()

	resp, err := client.OpenOrder(context.Background(), OrderRequest{
		Symbol: "EURUSD", Volume: 0.1, Side: "BUY", Type: "MARKET", Comment: "canary",
	})
	require.NoError(t, err)
	require.Equal(t, "T-7", resp.Data["ticket"])

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, ActionOpenOrder, got.Action)
	require.Equal(t, "EURUSD", got.Payload["symbol"])
	require.Equal(t, 0.1, got.Payload["volume"])
	require.Equal(t, "BUY", got.Payload["side"])
	require.NotContains(t, got.Payload, "price", "optional fields are omitted when unset")
}

func TestTimeoutClampedToSaneRange(t *testing.T) {
	require.Equal(t, defaultTimeout, NewClient("ws://x", 0).timeout)
	require.Equal(t, minTimeout, NewClient("ws://x", time.Millisecond).timeout)
	require.Equal(t, maxTimeout, NewClient("ws://x", time.Minute).timeout)
}
