package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsol/solsol/internal/logger"
)

// tradeServer sends one trade per connection, then drops the first connection.
func tradeServer(t *testing.T, connections *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT","p":"65000.1"}`)); err != nil {
			return
		}
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
		ConnectTimeout: time.Second,
		PingInterval:   50 * time.Millisecond,
		PongTimeout:    time.Second,
	}
}

func TestStreamer_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	srv := tradeServer(t, &connections)

	var messages atomic.Int32
	s := New("btcusdt@aggTrade", testConfig(wsURL(srv)), func(msg []byte) {
		assert.Contains(t, string(msg), "BTCUSDT")
		messages.Add(1)
	}, logger.Nop())
	s.Start()
	t.Cleanup(s.Close)

	assert.Eventually(t, func() bool {
		return connections.Load() >= 2 && messages.Load() >= 2 && s.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamer_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxRetries = 2
	s := New("dead", cfg, nil, nil)
	s.Start()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("streamer kept retrying")
	}
	assert.Equal(t, StateDisconnected, s.State())
	s.Close()
}

func TestStreamer_CloseBeforeStart(t *testing.T) {
	s := New("idle", testConfig("ws://127.0.0.1:1"), nil, nil)
	s.Close()
	s.Start()
	assert.Equal(t, StateClosed, s.State())
}

func TestRegistry_CloseAll(t *testing.T) {
	var connections atomic.Int32
	srv := tradeServer(t, &connections)

	r := NewRegistry()
	a := New("a", testConfig(wsURL(srv)), nil, nil)
	b := New("b", testConfig(wsURL(srv)), nil, nil)
	r.Add(a)
	r.Add(b)
	require.Equal(t, 2, r.Len())

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())

	late := New("late", testConfig(wsURL(srv)), nil, nil)
	r.Add(late)
	assert.Equal(t, StateClosed, late.State())
	assert.Equal(t, 0, r.Len())
}
