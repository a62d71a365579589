package clientmanager

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/retry"
)

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func newClient(name, url string) *client.Client {
	return client.New(name, url, client.Options{
		Timeout: 500 * time.Millisecond,
		Policy:  retry.Exponential(1, time.Millisecond),
	})
}

func TestHealthCheckAll(t *testing.T) {
	m, err := New(2, nil)
	require.NoError(t, err)
	defer m.CloseAll()

	require.NoError(t, m.Add(newClient("ok", statusServer(t, http.StatusOK).URL)))
	require.NoError(t, m.Add(newClient("sick", statusServer(t, http.StatusServiceUnavailable).URL)))
	require.NoError(t, m.Add(newClient("gone", deadURL(t))))

	got := m.HealthCheckAll(context.Background())
	assert.Equal(t, map[string]bool{"ok": true, "sick": false, "gone": false}, got)
}

func TestAddGetAndDuplicates(t *testing.T) {
	m, err := New(1, nil)
	require.NoError(t, err)
	defer m.CloseAll()

	c := newClient(config.RagFlow, statusServer(t, http.StatusOK).URL)
	require.NoError(t, m.Add(c))
	assert.True(t, c.IsOpen(), "Add opens the client")
	assert.ErrorIs(t, m.Add(newClient(config.RagFlow, "http://x")), ErrDuplicateClient)

	got, ok := m.Get(config.RagFlow)
	require.True(t, ok)
	assert.Same(t, c, got)

	rag, ok := m.RagFlow()
	require.True(t, ok)
	assert.Same(t, c, rag.Raw())

	_, ok = m.DeepWiki()
	assert.False(t, ok)
	assert.Equal(t, []string{config.RagFlow}, m.Names())
}

func TestCloseAll(t *testing.T) {
	m, err := New(1, nil)
	require.NoError(t, err)

	c := newClient("a", statusServer(t, http.StatusOK).URL)
	require.NoError(t, m.Add(c))
	require.NoError(t, m.CloseAll())

	assert.False(t, c.IsOpen())
	assert.Empty(t, m.Names())
	res := c.Get(context.Background(), "anything")
	_, failed := client.IsErrorResult(res)
	assert.True(t, failed, "calls after CloseAll are errors, not panics")
}

func TestNewFromConfig(t *testing.T) {
	services := config.DefaultServices()
	rag := services[config.RagFlow]
	rag.URL = statusServer(t, http.StatusOK).URL
	services[config.RagFlow] = rag
	wiki := services[config.DeepWiki]
	wiki.Enabled = false
	services[config.DeepWiki] = wiki

	m, err := NewFromConfig(&config.Config{Services: services, ClientPoolSize: 4}, nil)
	require.NoError(t, err)
	defer m.CloseAll()

	assert.Equal(t, []string{config.RagFlow}, m.Names())
	assert.Equal(t, map[string]bool{config.RagFlow: true}, m.HealthCheckAll(context.Background()))
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Second, p.Delay(5))
}
