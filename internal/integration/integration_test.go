package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/travofoz/cdp-ninja-sub000/interfaces/go/client"
	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/storage/memory"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
	"github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/config"
	httpapi "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/httpapi"
	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
	"github.com/travofoz/cdp-ninja-sub000/internal/usecase"
)

// fakeDevTools answers like a page target: enable/disable succeed, a few
// commands have canned results and Page.reload emits a network event first.
type fakeDevTools struct {
	mu      sync.Mutex
	methods []string
}

func (f *fakeDevTools) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeDevTools) count(method string) int {
	n := 0
	for _, m := range f.seen() {
		if m == method {
			n++
		}
	}
	return n
}

func startDevTools(t *testing.T) (*fakeDevTools, string) {
	t.Helper()
	f := &fakeDevTools{}
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/devtools/page/1", func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var cmd struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			_ = json.Unmarshal(data, &cmd)
			f.mu.Lock()
			f.methods = append(f.methods, cmd.Method)
			f.mu.Unlock()

			switch cmd.Method {
			case "Network.getAllCookies":
				_ = c.WriteJSON(map[string]any{"id": cmd.ID, "result": map[string]any{
					"cookies": []map[string]any{{"name": "sid", "value": "abc", "cookie": "sid=abc"}},
				}})
			case "Page.reload":
				_ = c.WriteJSON(map[string]any{"method": "Network.requestWillBeSent", "params": map[string]any{
					"requestId": "r1",
					"request":   map[string]any{"url": "https://example.test/", "headers": map[string]any{"Authorization": "Bearer secret"}},
				}})
				_ = c.WriteJSON(map[string]any{"id": cmd.ID, "result": map[string]any{}})
			case "Nope.nope":
				_ = c.WriteJSON(map[string]any{"id": cmd.ID, "error": map[string]any{"code": -32601, "message": "'Nope.nope' wasn't found"}})
			default:
				_ = c.WriteJSON(map[string]any{"id": cmd.ID, "result": map[string]any{}})
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/page/1"
}

func startBridge(t *testing.T, expose bool) (*fakeDevTools, *httptest.Server) {
	t.Helper()
	f, wsURL := startDevTools(t)

	cfg := config.FromEnv()
	cfg.CDPURL = wsURL
	cfg.PoolSize = 1
	cfg.ExposeSensitiveFields = expose

	logger := zerolog.Nop()
	metrics := obs.NewMetrics()
	dm, err := usecase.NewDomainManager(nil, domain.RiskMedium, logger, metrics)
	require.NoError(t, err)
	events := memory.NewEventManager(dm, memory.Options{}, logger, metrics)
	events.Start()
	pool := cdp.NewPool(cfg.PoolSize, func(ctx context.Context) (*cdp.Connection, error) {
		return cdp.Dial(ctx, cdp.DialOptions{URL: wsURL, HandshakeTimeout: time.Second}, events, logger, metrics)
	}, logger, metrics)
	bridge := usecase.NewBridgeService(pool, dm, events, usecase.BridgeOptions{AcquireTimeout: time.Second}, logger)

	srv := httptest.NewServer(httpapi.NewRouter(&httpapi.Deps{Cfg: cfg, Logger: &logger, Metrics: metrics, Bridge: bridge}))
	t.Cleanup(func() {
		srv.Close()
		_ = bridge.Close()
	})
	return f, srv
}

func postJSON(t *testing.T, url, caller string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCommandEnablesDomainsAndRedactsResult(t *testing.T) {
	f, srv := startBridge(t, false)
	ctx := context.Background()
	c := client.New(srv.URL)

	res, err := c.Command(ctx, client.CommandRequest{Method: "Network.getAllCookies", Domains: []string{"Network"}})
	require.NoError(t, err)
	require.Contains(t, string(res), `"cookie":"***"`)
	require.Contains(t, string(res), `"value":"abc"`)
	require.Equal(t, []string{"Network.enable", "Network.getAllCookies"}, f.seen())

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "MEDIUM", st.MaxRiskLevel)
	var network *client.DomainStatus
	for i := range st.Domains {
		if st.Domains[i].Domain == "Network" {
			network = &st.Domains[i]
		}
	}
	require.NotNil(t, network)
	require.True(t, network.Enabled)
	require.Equal(t, []string{"api"}, network.EnabledBy)
	require.NotNil(t, network.LastUsed)
}

func TestCommandProtocolErrorIsReturnedAsData(t *testing.T) {
	_, srv := startBridge(t, true)

	_, err := client.New(srv.URL).Command(context.Background(), client.CommandRequest{Method: "Nope.nope"})
	var ce *client.CommandError
	require.True(t, errors.As(err, &ce), "got %v", err)
	require.EqualValues(t, -32601, ce.Code)
}

func TestRiskCeilingRefusesDomain(t *testing.T) {
	f, srv := startBridge(t, true)

	_, err := client.New(srv.URL).Command(context.Background(), client.CommandRequest{
		Method: "HeapProfiler.takeHeapSnapshot", Domains: []string{"HeapProfiler"},
	})
	var ae *client.APIError
	require.True(t, errors.As(err, &ae), "got %v", err)
	require.Equal(t, http.StatusServiceUnavailable, ae.Status)
	require.Equal(t, "DOMAIN_UNAVAILABLE", ae.Code)
	require.Empty(t, f.seen())

	resp := postJSON(t, srv.URL+"/api/risk", "", map[string]any{"level": "nope"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSharedDomainDisableIsRefusedWhileHeld(t *testing.T) {
	f, srv := startBridge(t, true)

	for _, caller := range []string{"a", "b"} {
		resp := postJSON(t, srv.URL+"/api/domains/Runtime/enable", caller, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 1, f.count("Runtime.enable"))

	resp := postJSON(t, srv.URL+"/api/domains/Runtime/disable", "a", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, 0, f.count("Runtime.disable"))

	resp = postJSON(t, srv.URL+"/api/domains/Runtime/disable", "b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.count("Runtime.disable"))

	resp = postJSON(t, srv.URL+"/api/domains/Nowhere/enable", "a", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsAreBufferedAndRedacted(t *testing.T) {
	_, srv := startBridge(t, false)
	ctx := context.Background()
	c := client.New(srv.URL)

	_, err := c.Command(ctx, client.CommandRequest{Method: "Page.reload", Domains: []string{"Network", "Page"}})
	require.NoError(t, err)

	var events []client.Event
	require.Eventually(t, func() bool {
		events, err = c.RecentEvents(ctx, "Network", 10)
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "Network.requestWillBeSent", events[0].Method)
	require.Contains(t, string(events[0].Params), `"Authorization":"***"`)

	resp, err := http.Get(srv.URL + "/api/events/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats domain.EventStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.EqualValues(t, 1, stats.Stored)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/events?domain=Network", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	events, err = c.RecentEvents(ctx, "Network", 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventStreamDeliversLiveEvents(t *testing.T) {
	_, srv := startBridge(t, true)
	ctx := context.Background()
	c := client.New(srv.URL)

	// enable first so the stream only sees the event we trigger below
	_, err := c.Command(ctx, client.CommandRequest{Method: "Page.getFrameTree", Domains: []string{"Network", "Page"}})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws?domain=Network"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = c.Command(ctx, client.CommandRequest{Method: "Page.reload"})
	require.NoError(t, err)

	// the hub registers the client right after the upgrade completes
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/events/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats struct {
			StreamClients int `json:"streamClients"`
		}
		return json.NewDecoder(resp.Body).Decode(&stats) == nil && stats.StreamClients == 1
	}, 2*time.Second, 10*time.Millisecond)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, domain.Network, ev.Domain)
	require.Equal(t, "Network.requestWillBeSent", ev.Method)
	require.Contains(t, string(ev.Params), "Bearer secret")
}

func TestPoolStatsAndHealth(t *testing.T) {
	_, srv := startBridge(t, true)

	_, err := client.New(srv.URL).Command(context.Background(), client.CommandRequest{Method: "Browser.getVersion"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/pool")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ps cdp.PoolStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ps))
	require.Equal(t, 1, ps.Size)
	require.Equal(t, 1, ps.Live)
	require.Equal(t, 1, ps.Idle)
	require.Equal(t, 0, ps.Held)
	require.Len(t, ps.Connections, 1)
	require.False(t, ps.Connections[0].Held)
	require.Equal(t, 0, ps.Connections[0].Pending)
	require.Contains(t, ps.Connections[0].URL, "/devtools/page/1")
	require.GreaterOrEqual(t, ps.Connections[0].FramesReceived, int64(1))

	h, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = h.Body.Close()
	require.Equal(t, http.StatusOK, h.StatusCode)
}
