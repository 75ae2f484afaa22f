package ibgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/relay/internal/domain"
)

// wsTestServer serves one websocket connection and writes the given
// envelopes, then holds the connection open until the test ends.
func wsTestServer(t *testing.T, messages []interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for _, msg := range messages {
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
		<-ctx.Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStreamDeliversFills(t *testing.T) {
	srv := wsTestServer(t, []interface{}{
		map[string]interface{}{
			"type": "fill",
			"data": map[string]interface{}{
				"order_id":   "IB-1",
				"client_ref": "EXEC-1",
				"exec_id":    "X-1",
				"symbol":     "AAPL",
				"side":       "BUY",
				"quantity":   10.0,
				"price":      150.0,
				"commission": 0.1,
			},
		},
	})

	stream := NewStream(wsURL(srv), zerolog.Nop())
	var fills []domain.FillEvent
	var mu sync.Mutex
	stream.SubscribeFills(func(ev domain.FillEvent) {
		mu.Lock()
		fills = append(fills, ev)
		mu.Unlock()
	})

	stream.Start(context.Background())
	defer stream.Close()

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(fills) > 0 })
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fills, 1)
	assert.Equal(t, "IB-1", fills[0].BrokerOrderID)
	assert.Equal(t, "EXEC-1", fills[0].ClientRef)
	assert.Equal(t, 10.0, fills[0].Quantity)
}

func TestStreamDeliversOrderStatus(t *testing.T) {
	srv := wsTestServer(t, []interface{}{
		map[string]interface{}{
			"type": "order_status",
			"data": map[string]interface{}{
				"order_id":      "IB-2",
				"status":        "cancelled",
				"filled_qty":    0.0,
				"remaining_qty": 5.0,
			},
		},
	})

	stream := NewStream(wsURL(srv), zerolog.Nop())
	var states []domain.BrokerOrderState
	var mu sync.Mutex
	stream.SubscribeOrderStatus(func(st domain.BrokerOrderState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	stream.Start(context.Background())
	defer stream.Close()

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(states) > 0 })
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.OrderCancelled, states[0].Status)
}

func TestStreamUnknownMessageIgnored(t *testing.T) {
	srv := wsTestServer(t, []interface{}{
		map[string]interface{}{"type": "heartbeat", "data": map[string]interface{}{}},
		map[string]interface{}{
			"type": "fill",
			"data": map[string]interface{}{"order_id": "IB-3", "exec_id": "X-3", "quantity": 1.0, "price": 9.0},
		},
	})

	stream := NewStream(wsURL(srv), zerolog.Nop())
	var fills []domain.FillEvent
	var mu sync.Mutex
	stream.SubscribeFills(func(ev domain.FillEvent) {
		mu.Lock()
		fills = append(fills, ev)
		mu.Unlock()
	})

	stream.Start(context.Background())
	defer stream.Close()

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(fills) == 1 })
}

func TestStreamUnsubscribe(t *testing.T) {
	srv := wsTestServer(t, nil)
	stream := NewStream(wsURL(srv), zerolog.Nop())

	unsub := stream.SubscribeFills(func(domain.FillEvent) {})
	unsub()

	stream.mu.Lock()
	remaining := len(stream.fillSubs)
	stream.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestStreamConnectedLifecycle(t *testing.T) {
	srv := wsTestServer(t, nil)
	stream := NewStream(wsURL(srv), zerolog.Nop())
	assert.False(t, stream.Connected())

	stream.Start(context.Background())
	waitFor(t, stream.Connected)

	stream.Close()
}
