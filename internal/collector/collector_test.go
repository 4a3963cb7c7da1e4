package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsol/solsol/internal/core/coretest"
)

func trade(symbol, price string) []byte {
	return []byte(fmt.Sprintf(`{"e":"aggTrade","s":%q,"p":%q,"q":"0.010","T":1767225600000}`, symbol, price))
}

func newCollector(t *testing.T, env *coretest.Env) *Collector {
	t.Helper()
	co := New()
	co.now = func() time.Time { return time.Date(2026, 1, 1, 10, 30, 42, 0, time.UTC) }
	require.NoError(t, co.BringUp(env.Context))
	return co
}

func TestCollector_Handle(t *testing.T) {
	env := coretest.New(t)
	co := newCollector(t, env)

	co.handle(trade("BTCUSDT", "65000.5"))
	co.handle(trade("BTCUSDT", "65001"))
	co.handle(trade("ETHUSDT", "3400.25"))
	co.handle([]byte(`not json`))
	co.handle(trade("BTCUSDT", "n/a"))
	co.handle([]byte(`{"p":"1"}`))

	assert.Equal(t, map[string]int64{"BTCUSDT": 2, "ETHUSDT": 1}, co.Totals())
	assert.Equal(t, []float64{65000.5, 65001}, co.Prices("BTCUSDT"))
	assert.Empty(t, co.Prices("SOLUSDT"))
}

func TestCollector_PriceHistoryBounded(t *testing.T) {
	env := coretest.New(t)
	co := newCollector(t, env)

	for i := 0; i < historyLen+1; i++ {
		co.handle(trade("BTCUSDT", fmt.Sprintf("%d", i)))
	}
	prices := co.Prices("BTCUSDT")
	require.Len(t, prices, historyLen)
	assert.Equal(t, 1.0, prices[0])

	require.NoError(t, co.display(context.Background()))
	env.Idle(t)
	assert.Equal(t, "BTCUSDT 1,001", env.Headless.Label(LabelTradeCounts))
}

func TestCollector_Flush(t *testing.T) {
	env := coretest.New(t)
	co := newCollector(t, env)
	ctx := context.Background()
	path := filepath.Join(env.Config.App.CollectorDir(), countsFile)

	require.NoError(t, co.flush(ctx))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	co.handle(trade("ETHUSDT", "3400"))
	co.handle(trade("BTCUSDT", "65000"))
	co.handle(trade("BTCUSDT", "65000"))
	require.NoError(t, co.flush(ctx))
	co.handle(trade("BTCUSDT", "65000"))
	require.NoError(t, co.flush(ctx))
	require.NoError(t, co.flush(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"2026-01-01T10:30:00Z,BTCUSDT,2",
		"2026-01-01T10:30:00Z,ETHUSDT,1",
		"2026-01-01T10:30:00Z,BTCUSDT,1",
		"",
	}, "\n"), string(data))
}

func TestCollector_Registrations(t *testing.T) {
	env := coretest.New(t)
	_ = newCollector(t, env)

	var names []string
	for _, j := range env.Scheduler.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{"collector.display_trade_counts", "collector.flush_trade_counts"}, names)
	assert.Equal(t, 1, env.Lifecycle.Finalizers().Len())
	assert.Zero(t, env.Lifecycle.Initializers().Len())
}

func TestCollector_Streams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/btcusdt@aggTrade" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, trade("BTCUSDT", "65000")); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	env := coretest.New(t)
	env.Config.Streams.Enabled = true
	env.Config.Streams.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	env.Config.Streams.Symbols = []string{"BTCUSDT"}
	co := newCollector(t, env)

	entries := env.Lifecycle.Initializers().Drain()
	require.Len(t, entries, 1)
	require.NoError(t, entries[0].Fn(context.Background()))
	assert.Equal(t, 1, env.Streams.Len())

	assert.Eventually(t, func() bool {
		return co.Totals()["BTCUSDT"] == 3
	}, 2*time.Second, 10*time.Millisecond)
}
