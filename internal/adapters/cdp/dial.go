package cdp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
)

// DialOptions describe how to reach the browser's debugger websocket.
type DialOptions struct {
	// URL is the target's webSocketDebuggerUrl, e.g. ws://127.0.0.1:9222/devtools/page/<id>.
	URL              string
	HandshakeTimeout time.Duration
	InsecureTLS      bool
	Header           http.Header
}

// Dial opens a websocket to the browser and returns a running Connection.
func Dial(ctx context.Context, opts DialOptions, sink EventSink, logger zerolog.Logger, metrics *obs.Metrics) (*Connection, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidURL, opts.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: hs,
		NetDialContext:   (&net.Dialer{Timeout: hs}).DialContext,
	}
	if u.Scheme == "wss" && opts.InsecureTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, fmt.Errorf("cdp: dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("cdp: dial %s: %w", u.Redacted(), err)
	}
	c := NewConnection(ws, u.String(), sink, logger, metrics)
	c.logger.Info().Str("url", u.Redacted()).Msg("connected to browser")
	return c, nil
}
