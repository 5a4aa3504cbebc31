package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer is a scriptable in-process depth feed. Each accepted connection
// is parked in conns so tests can push frames or kill the transport.
type feedServer struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	writeMu    sync.Mutex
	conns      []*websocket.Conn
	subscribes []string
}

// write serializes server-side writes; confirms and pushed frames come from
// different goroutines.
func (fs *feedServer) write(conn *websocket.Conn, messageType int, data []byte) error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (fs *feedServer) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return fs.write(conn, websocket.TextMessage, data)
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{t: t}
	upgrader := websocket.Upgrader{}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		for {
			var req opRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Op {
			case "subscribe":
				arg := req.Args[0].(map[string]any)
				fs.mu.Lock()
				fs.subscribes = append(fs.subscribes, arg["instId"].(string))
				fs.mu.Unlock()
				fs.writeJSON(conn, map[string]any{
					"event": "subscribe",
					"arg":   map[string]string{"channel": "books", "instId": arg["instId"].(string)},
				})
			case "ping":
				fs.write(conn, websocket.TextMessage, []byte("pong"))
			}
		}
	}))
	t.Cleanup(fs.close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *feedServer) subscribeCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.subscribes)
}

func (fs *feedServer) push(messageType int, payload []byte) {
	fs.mu.Lock()
	require.NotEmpty(fs.t, fs.conns, "no connection to push to")
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	require.NoError(fs.t, fs.write(conn, messageType, payload))
}

func (fs *feedServer) pushText(payload string) {
	fs.push(websocket.TextMessage, []byte(payload))
}

func (fs *feedServer) pushBinary(payload []byte) {
	fs.push(websocket.BinaryMessage, payload)
}

func (fs *feedServer) dropConnections() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, conn := range fs.conns {
		conn.Close()
	}
	fs.conns = nil
}

func (fs *feedServer) close() {
	fs.dropConnections()
	fs.srv.Close()
}

func depthFrame(symbol string) string {
	frame := map[string]any{
		"arg": map[string]string{"channel": "books", "instId": symbol},
		"data": []map[string]any{{
			"asks": [][]string{{"50000.5", "2"}},
			"bids": [][]string{{"49999.5", "3"}},
			"ts":   "1700000000123",
		}},
	}
	out, _ := json.Marshal(frame)
	return string(out)
}

func startClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c := NewClient(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(c.Stop)
	c.Start(ctx)
	return c
}

func TestClientSubscribeAndReceive(t *testing.T) {
	fs := newFeedServer(t)

	c := NewClient(Config{URL: fs.url()})
	// Subscribing while disconnected only records intent.
	c.Subscribe("BTC-USDT-SWAP")
	assert.Equal(t, []string{"BTC-USDT-SWAP"}, c.Subscriptions())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(c.Stop)
	c.Start(ctx)

	require.Eventually(t, func() bool { return fs.subscribeCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)

	fs.pushText(depthFrame("BTC-USDT-SWAP"))

	select {
	case update := <-c.Updates():
		assert.Equal(t, "BTC-USDT-SWAP", update.Symbol)
		require.Len(t, update.Asks, 1)
		assert.Equal(t, 50000.5, update.Asks[0].Price)
		assert.Equal(t, time.UnixMilli(1700000000123), update.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestClientDecodesBinaryFrames(t *testing.T) {
	fs := newFeedServer(t)

	c := startClient(t, Config{URL: fs.url()})
	c.Subscribe("BTC-USDT-SWAP")

	require.Eventually(t, func() bool { return fs.subscribeCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	fs.pushBinary(deflateBytes(t, []byte(depthFrame("BTC-USDT-SWAP"))))

	select {
	case update := <-c.Updates():
		assert.Equal(t, "BTC-USDT-SWAP", update.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered from binary frame")
	}
}

func TestClientReconnectsAndResubscribes(t *testing.T) {
	fs := newFeedServer(t)

	c := startClient(t, Config{URL: fs.url(), ReconnectDelay: 50 * time.Millisecond})
	c.Subscribe("BTC-USDT-SWAP")
	c.Subscribe("ETH-USDT-SWAP")

	require.Eventually(t, func() bool { return fs.subscribeCount() >= 2 }, 2*time.Second, 10*time.Millisecond)

	fs.dropConnections()

	select {
	case <-c.Reconnects():
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect signal")
	}

	// The fresh connection replays the full subscription set.
	require.Eventually(t, func() bool { return fs.subscribeCount() >= 4 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
}

func TestClientStopDisablesReconnect(t *testing.T) {
	fs := newFeedServer(t)

	c := NewClient(Config{URL: fs.url(), ReconnectDelay: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Subscribe("BTC-USDT-SWAP")
	c.Start(ctx)

	require.Eventually(t, func() bool { return fs.subscribeCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Stop()

	assert.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fs.subscribeCount(), "stopped client must not resubscribe")
}

func TestClientDropsOnFullBuffer(t *testing.T) {
	fs := newFeedServer(t)

	var mu sync.Mutex
	dropped := 0
	c := NewClient(Config{URL: fs.url(), BufferSize: 1})
	c.SetMetricsCallback(func(metric string, _ float64, _ map[string]string) {
		if metric == "feed_dropped_total" {
			mu.Lock()
			dropped++
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(c.Stop)
	c.Subscribe("BTC-USDT-SWAP")
	c.Start(ctx)

	require.Eventually(t, func() bool { return fs.subscribeCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Nothing consumes Updates, so the second frame must be dropped.
	fs.pushText(depthFrame("BTC-USDT-SWAP"))
	fs.pushText(depthFrame("BTC-USDT-SWAP"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dropped >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The buffered update is still intact.
	select {
	case update := <-c.Updates():
		assert.Equal(t, "BTC-USDT-SWAP", update.Symbol)
	default:
		t.Fatal("buffered update missing")
	}
}

func TestClientUnsubscribe(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1/ws"})

	// Unsubscribing while disconnected, or for an unknown symbol, is silent.
	c.Unsubscribe("BTC-USDT-SWAP")
	c.Subscribe("BTC-USDT-SWAP")
	c.Unsubscribe("BTC-USDT-SWAP")
	assert.Empty(t, c.Subscriptions())
}

func TestClientConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.withDefaults()

	assert.Equal(t, "books", cfg.Channel)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 256, cfg.BufferSize)
}
