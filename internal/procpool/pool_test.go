package procpool

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "SOLSOL_PROCPOOL_HELPER"

func init() {
	RegisterFunc("square", func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})
	RegisterFunc("fail", func(_ context.Context, msg string) (int, error) {
		return 0, errors.New(msg)
	})
	RegisterFunc("sleep", func(_ context.Context, ms int) (int, error) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return ms, nil
	})
	RegisterFunc("pid", func(context.Context, struct{}) (int, error) {
		return os.Getpid(), nil
	})
	Register("boom", func(context.Context, []byte) (any, error) {
		panic("division by zero")
	})
	Register("crash", func(context.Context, []byte) (any, error) {
		os.Exit(3)
		return nil, nil
	})
}

// TestMain turns the test binary into a process worker when spawned by the pool.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if err := Serve(context.Background(), os.Stdin, os.Stdout, nil); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newHelperPool(t *testing.T, count int) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	p := New(Config{
		Count:            count,
		Command:          os.Args[0],
		Args:             []string{"-test.run=^$"},
		Env:              []string{helperEnv + "=1"},
		TerminateTimeout: time.Second,
	}, nil, nil)
	require.NoError(t, p.Start())
	t.Cleanup(p.TerminateAll)
	return p
}

func TestPool_RoundTrip(t *testing.T) {
	p := newHelperPool(t, 1)

	got, err := Invoke[int](context.Background(), p, "square", 7)
	require.NoError(t, err)
	assert.Equal(t, 49, got)
}

func TestPool_Map(t *testing.T) {
	p := newHelperPool(t, 2)

	payloads := []any{1, 2, 3, 4, 5, 6}
	results, errs := p.Map(context.Background(), "square", payloads)
	require.Len(t, results, len(payloads))
	for i, raw := range results {
		require.NoError(t, errs[i])
		var v int
		require.NoError(t, json.Unmarshal(raw, &v))
		assert.Equal(t, (i+1)*(i+1), v)
	}
}

func TestPool_RemoteErrors(t *testing.T) {
	p := newHelperPool(t, 1)
	ctx := context.Background()

	tests := []struct {
		name    string
		method  string
		payload any
		want    string
	}{
		{name: "handler error", method: "fail", payload: "insufficient history", want: "insufficient history"},
		{name: "handler panic", method: "boom", payload: nil, want: "division by zero"},
		{name: "unknown method", method: "nope", payload: nil, want: "unknown method nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.RunAsync(ctx, tt.method, tt.payload).Wait(ctx)
			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Contains(t, remote.Message, tt.want)
		})
	}

	// The child keeps serving after failures.
	got, err := Invoke[int](ctx, p, "square", 3)
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestPool_CrashedWorkerIsReplaced(t *testing.T) {
	p := newHelperPool(t, 1)
	ctx := context.Background()

	before, err := Invoke[int](ctx, p, "pid", struct{}{})
	require.NoError(t, err)

	_, err = p.RunAsync(ctx, "crash", nil).Wait(ctx)
	assert.ErrorIs(t, err, ErrWorkerExited)

	after, err := Invoke[int](ctx, p, "pid", struct{}{})
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPool_Presences(t *testing.T) {
	p := newHelperPool(t, 2)

	presences := p.Presences()
	assert.Len(t, presences, 2)
	for pid, busy := range presences {
		assert.NotEqual(t, os.Getpid(), pid)
		assert.False(t, busy)
	}
}

func TestPool_TerminateAll(t *testing.T) {
	p := newHelperPool(t, 1)
	ctx := context.Background()

	var pids []int
	for pid := range p.Presences() {
		pids = append(pids, pid)
	}
	require.Len(t, pids, 1)

	inFlight := p.RunAsync(ctx, "sleep", 5000)
	queued := p.RunAsync(ctx, "square", 2)
	assert.Eventually(t, func() bool { return p.Presences()[pids[0]] }, time.Second, 10*time.Millisecond)

	p.TerminateAll()
	p.TerminateAll()

	_, err := inFlight.Wait(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrTerminated)

	_, err = p.RunAsync(ctx, "square", 2).Wait(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Empty(t, p.Presences())
	assert.False(t, IsRunning(pids[0]))
}

func TestPool_NotStarted(t *testing.T) {
	p := New(Config{Count: 1}, nil, nil)
	_, err := p.RunAsync(context.Background(), "square", 2).Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	p.TerminateAll()
	p.TerminateAll()
	assert.ErrorIs(t, p.Start(), ErrTerminated)
}

func TestServe(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`{"id":"a","method":"square","payload":4}`,
		``,
		`{"id":"b","method":"fail","payload":"no data"}`,
		`not json`,
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, Serve(context.Background(), in, &out, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var first, second, third response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	assert.Equal(t, "a", first.ID)
	assert.JSONEq(t, "16", string(first.Result))
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, "no data", second.Error)
	assert.Contains(t, third.Error, "malformed request")
}

func TestRegister_Duplicate(t *testing.T) {
	assert.Panics(t, func() {
		Register("square", func(context.Context, []byte) (any, error) { return nil, nil })
	})
	assert.Contains(t, Methods(), "square")
}
