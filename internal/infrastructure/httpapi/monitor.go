package httpapi

import (
    "encoding/json"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    "github.com/rs/zerolog"

    "github.com/travofoz/cdp-ninja-sub000/internal/domain"
    "github.com/travofoz/cdp-ninja-sub000/pkg/shared/redact"
)

// EventSource is the part of the bridge the live stream needs.
type EventSource interface {
    Subscribe() (chan domain.Event, error)
    Unsubscribe(ch chan domain.Event)
}

// MonitorHub streams stored browser events to websocket clients.
// Each client gets its own subscription; ?domain=Network narrows it.
type MonitorHub struct {
    src      EventSource
    logger   *zerolog.Logger
    expose   bool
    upgrader websocket.Upgrader

    mu      sync.RWMutex
    clients map[*websocket.Conn]struct{}
}

func NewMonitorHub(src EventSource, logger *zerolog.Logger, exposeSensitive bool) *MonitorHub {
    if logger == nil {
        l := zerolog.Nop()
        logger = &l
    }
    return &MonitorHub{
        src:      src,
        logger:   logger,
        expose:   exposeSensitive,
        clients:  make(map[*websocket.Conn]struct{}),
        upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
    }
}

func (h *MonitorHub) HandleWS(w http.ResponseWriter, r *http.Request) {
    filter, err := domainParam(r)
    if err != nil {
        writeError(w, http.StatusBadRequest, "UNKNOWN_DOMAIN", err.Error(), nil)
        return
    }
    sub, err := h.src.Subscribe()
    if err != nil {
        writeError(w, http.StatusServiceUnavailable, "STREAM_CLOSED", err.Error(), nil)
        return
    }
    c, err := h.upgrader.Upgrade(w, r, nil)
    if err != nil {
        h.src.Unsubscribe(sub)
        return
    }
    h.mu.Lock()
    h.clients[c] = struct{}{}
    h.mu.Unlock()

    gone := make(chan struct{})
    go func() {
        defer close(gone)
        // keepalive reads to detect client close
        for {
            if _, _, err := c.ReadMessage(); err != nil {
                return
            }
        }
    }()

    h.pump(c, sub, filter, gone)

    h.src.Unsubscribe(sub)
    h.mu.Lock()
    delete(h.clients, c)
    h.mu.Unlock()
    _ = c.Close()
}

func (h *MonitorHub) pump(c *websocket.Conn, sub chan domain.Event, filter *domain.Domain, gone <-chan struct{}) {
    for {
        select {
        case <-gone:
            return
        case ev, ok := <-sub:
            if !ok {
                _ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
                return
            }
            if filter != nil && ev.Domain != *filter {
                continue
            }
            if !h.expose {
                ev.Params = redact.RedactRaw(ev.Params)
            }
            data, err := json.Marshal(ev)
            if err != nil {
                continue
            }
            _ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
            if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
                h.logger.Debug().Err(err).Msg("event stream client dropped")
                return
            }
        }
    }
}

// Clients returns the number of connected stream clients.
func (h *MonitorHub) Clients() int {
    h.mu.RLock()
    defer h.mu.RUnlock()
    return len(h.clients)
}
