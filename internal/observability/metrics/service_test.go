package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "eventharvest/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "eventharvest_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	return reg
}

func TestHandlerEndpoints(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	svc := New(Config{Path: "stats"}, newRegistry(t), Probes{
		Health: func() (bool, any) {
			ok := healthy.Load()
			return ok, map[string]bool{"healthy": ok}
		},
		Status: func() any { return map[string]int{"sources": 4} },
	}, logx.Nop())
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := get("/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "eventharvest_test_total 3")

	code, body = get("/status")
	assert.Equal(t, http.StatusOK, code)
	var status map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, 4, status["sources"])

	code, _ = get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	healthy.Store(false)
	code, body = get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"healthy":false`)
}

func TestReconfigureStartsAndStops(t *testing.T) {
	ctx := context.Background()
	svc := New(Config{}, newRegistry(t), Probes{}, logx.Nop())
	assert.False(t, svc.Enabled())

	svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	require.Eventually(t, func() bool { return svc.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + DefaultPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	svc.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Empty(t, svc.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
	assert.False(t, isLoopbackAddr("bogus"))
}
