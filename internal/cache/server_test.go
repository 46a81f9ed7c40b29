package cache

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// startServer serves backend on a fresh socket and stops it when the test
// ends. Socket paths have a short length limit, so the directory comes from
// os.MkdirTemp rather than t.TempDir.
func startServer(t *testing.T, backend Backend) *Client {
	t.Helper()
	dir, err := os.MkdirTemp("", "mc")
	require.NoError(t, err)
	sock := filepath.Join(dir, "s.sock")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(backend, &log.Logger{Handler: discard.Default, Level: log.DebugLevel})
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, l) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		_ = os.RemoveAll(dir)
	})
	return NewClient(sock)
}

func TestClient_RoundTrip(t *testing.T) {
	c := startServer(t, newLocal(t, 10))
	require.NoError(t, c.Ping())

	require.NoError(t, c.Set("k", []byte("v"), 0))
	v, found := mustGet(t, c, "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)

	ok, err := c.Exists("k")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := c.Delete("k")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found = mustGet(t, c, "k")
	assert.False(t, found)

	require.NoError(t, c.Set("a", nil, 0))
	require.NoError(t, c.Clear())
	ok, _ = c.Exists("a")
	assert.False(t, ok)
}

func TestClient_TTLCrossesTheSocket(t *testing.T) {
	clock := newFakeClock()
	c := startServer(t, newLocal(t, 10, WithClock(clock.Now)))

	require.NoError(t, c.Set("k", []byte("v"), time.Second))
	require.NoError(t, c.Set("tiny", []byte("v"), time.Microsecond))
	clock.Advance(500 * time.Millisecond)
	ok, _ := c.Exists("k")
	assert.True(t, ok)
	ok, _ = c.Exists("tiny")
	assert.False(t, ok, "a sub-millisecond ttl still expires")

	clock.Advance(time.Second)
	ok, _ = c.Exists("k")
	assert.False(t, ok)
}

func TestClient_SentinelErrorsSurviveTheSocket(t *testing.T) {
	c := startServer(t, backendOnly{newLocal(t, 10)})

	_, err := c.ClearPrefix("ns:")
	assert.ErrorIs(t, err, ErrNamespaceClearUnsupported)
	var remote *RemoteError
	assert.ErrorAs(t, err, &remote)

	_, err = c.Stats()
	assert.ErrorIs(t, err, ErrStatsUnsupported)

	assert.ErrorIs(t, c.Set("k", nil, -time.Second), ErrInvalidTTL)
}

func TestClient_ManagerNamespacesOverSocket(t *testing.T) {
	local := newLocal(t, 10)
	c := startServer(t, local)
	web := newManager(t, c, WithKeyPrefix("web"))
	other := newManager(t, c, WithKeyPrefix("other"))

	require.NoError(t, web.Set("page", "hello"))
	require.NoError(t, other.Set("page", "world"))
	require.NoError(t, web.Clear())

	assert.Equal(t, []string{"other:page"}, local.Keys())

	st, err := web.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 10, st.Capacity)
}

func TestClient_MemoizeOverSocket(t *testing.T) {
	c := startServer(t, newLocal(t, 10))
	m := newManager(t, c, WithKeyPrefix("memo"))

	calls := 0
	square := Cached1(m, func(_ context.Context, x int) (int, error) {
		calls++
		return x * x, nil
	})
	for i := 0; i < 3; i++ {
		got, err := square(context.Background(), 12)
		require.NoError(t, err)
		assert.Equal(t, 144, got)
	}
	assert.Equal(t, 1, calls)
}

func TestClient_NoDaemon(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, c.Ping())
	_, _, err := c.Get("k")
	assert.Error(t, err)
}

func TestServer_UnknownOp(t *testing.T) {
	srv := NewServer(newLocal(t, 1), nil)
	resp := srv.dispatch(Request{Op: "flush"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "flush")
}

func TestServer_StopsWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir, err := os.MkdirTemp("", "mc")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "s.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- NewServer(newLocal(t, 1), nil).Serve(ctx, l) }()

	// An idle connection must not keep Serve from returning.
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, NewClient(sock).Set("k", nil, 0))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
