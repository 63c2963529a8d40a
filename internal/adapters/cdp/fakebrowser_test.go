package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
)

type inboundCommand struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// browserPeer is the server side of one fake browser session.
type browserPeer struct {
	c   *websocket.Conn
	wmu sync.Mutex
}

func (p *browserPeer) send(v any) {
	b, _ := json.Marshal(v)
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = p.c.WriteMessage(websocket.TextMessage, b)
}

func (p *browserPeer) reply(id int64, result any) {
	p.send(map[string]any{"id": id, "result": result})
}

func (p *browserPeer) event(method string, params any) {
	p.send(map[string]any{"method": method, "params": params})
}

// fakeBrowser answers commands through handle. By default it echoes
// {"method": <method>} as the result.
type fakeBrowser struct {
	srv      *httptest.Server
	url      string
	sessions atomic.Int32
	handle   func(p *browserPeer, cmd inboundCommand)
}

func startFakeBrowser(t *testing.T, handle func(p *browserPeer, cmd inboundCommand)) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{handle: handle}
	if fb.handle == nil {
		fb.handle = func(p *browserPeer, cmd inboundCommand) {
			p.reply(cmd.ID, map[string]any{"method": cmd.Method})
		}
	}
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/devtools/page/test", func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		fb.sessions.Add(1)
		peer := &browserPeer{c: c}
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var cmd inboundCommand
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			fb.handle(peer, cmd)
		}
	})
	fb.srv = httptest.NewServer(mux)
	fb.url = "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/devtools/page/test"
	t.Cleanup(fb.srv.Close)
	return fb
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	accept bool
}

func (s *recordingSink) Ingest(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.accept
}

func (s *recordingSink) snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func dialTest(t *testing.T, fb *fakeBrowser, sink EventSink) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, DialOptions{URL: fb.url}, sink, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("dial fake browser: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func dialFunc(fb *fakeBrowser) DialFunc {
	return func(ctx context.Context) (*Connection, error) {
		return Dial(ctx, DialOptions{URL: fb.url, HandshakeTimeout: 2 * time.Second}, nil, zerolog.Nop(), nil)
	}
}
