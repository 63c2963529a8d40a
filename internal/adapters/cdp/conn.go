// Package cdp owns the websocket sessions to the browser: a Connection multiplexes
// concurrent commands over one socket and forwards unsolicited frames as events,
// and a Pool hands Connections out to callers.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/decoders/cdpframe"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
)

// Command timeouts by call class.
const (
	DisableTimeout = 5 * time.Second
	DefaultTimeout = 30 * time.Second
	ScriptTimeout  = 10 * time.Minute

	writeWait = 10 * time.Second
)

// TimeoutFor picks the tier for method when the caller gave none.
func TimeoutFor(method string) time.Duration {
	switch method {
	case "Runtime.evaluate", "Runtime.callFunctionOn", "Runtime.awaitPromise", "Runtime.runScript":
		return ScriptTimeout
	}
	if strings.HasSuffix(method, ".disable") {
		return DisableTimeout
	}
	return DefaultTimeout
}

// EventSink receives every unsolicited frame. Ingest must not block.
type EventSink interface {
	Ingest(ev domain.Event) bool
}

type outcome struct {
	reply *Reply
	err   error
}

type pendingRequest struct {
	method string
	done   chan outcome // buffered(1): the single completer never blocks
}

// Connection is one websocket session to a browser target.
// It is safe for concurrent use by multiple goroutines.
type Connection struct {
	id      string
	url     string
	ws      *websocket.Conn
	sink    EventSink
	logger  zerolog.Logger
	metrics *obs.Metrics

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*pendingRequest
	dead     bool
	deadErr  error
	done     chan struct{}
	received atomic.Int64
}

// NewConnection wraps an established websocket and starts its receive loop.
func NewConnection(ws *websocket.Conn, url string, sink EventSink, logger zerolog.Logger, metrics *obs.Metrics) *Connection {
	c := &Connection{
		id:      uuid.NewString(),
		url:     url,
		ws:      ws,
		sink:    sink,
		metrics: metrics,
		pending: make(map[int64]*pendingRequest),
		done:    make(chan struct{}),
	}
	c.logger = logger.With().Str("component", "cdp-conn").Str("conn", c.id).Logger()
	go c.readLoop()
	return c
}

func (c *Connection) ID() string  { return c.id }
func (c *Connection) URL() string { return c.url }

// Done is closed once the connection is dead.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Dead reports whether the transport has failed or the connection was closed.
func (c *Connection) Dead() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the failure that killed the connection, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadErr
}

// Pending returns the number of commands awaiting a reply.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FramesReceived counts inbound text frames since the connection opened.
func (c *Connection) FramesReceived() int64 { return c.received.Load() }

// SendCommand issues method with params and waits for the matching reply.
//
// A browser-side failure is returned as data in Reply.Error. The error result is
// reserved for ErrTimeout, ErrConnectionLost, ctx cancellation and encoding errors.
// A non-positive timeout means DefaultTimeout.
func (c *Connection) SendCommand(ctx context.Context, method string, params any, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := c.nextID.Add(1)
	frame, err := cdpframe.EncodeCommand(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("cdp: encode %s: %w", method, err)
	}

	req := &pendingRequest{method: method, done: make(chan outcome, 1)}
	c.mu.Lock()
	if c.dead {
		cause := c.deadErr
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionLost, method, cause)
	}
	c.pending[id] = req
	c.mu.Unlock()

	start := time.Now()
	if err := c.write(frame); err != nil {
		c.forget(id)
		c.fail(err)
		return nil, c.finish(method, start, nil, fmt.Errorf("%w: write %s: %v", ErrConnectionLost, method, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-req.done:
		return out.reply, c.finish(method, start, out.reply, out.err)
	case <-timer.C:
		if !c.forget(id) {
			// a completer removed the entry first; its send is already on the way
			out := <-req.done
			return out.reply, c.finish(method, start, out.reply, out.err)
		}
		c.logger.Debug().Str("method", method).Int64("id", id).Dur("timeout", timeout).Msg("cdp command timed out")
		return nil, c.finish(method, start, nil, fmt.Errorf("%w: %s (id %d) after %s", ErrTimeout, method, id, timeout))
	case <-ctx.Done():
		if !c.forget(id) {
			out := <-req.done
			return out.reply, c.finish(method, start, out.reply, out.err)
		}
		return nil, c.finish(method, start, nil, fmt.Errorf("cdp: %s (id %d): %w", method, id, ctx.Err()))
	}
}

func (c *Connection) finish(method string, start time.Time, r *Reply, err error) error {
	d, _ := domain.SplitMethod(method)
	c.metrics.ObserveCommand(d, Outcome(r, err), time.Since(start))
	return err
}

// Close shuts the socket down. Pending commands fail with ErrConnectionLost. Idempotent.
func (c *Connection) Close() error {
	c.fail(errClosed)
	return nil
}

var errClosed = errors.New("connection closed")

func (c *Connection) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// forget removes a pending entry and reports whether it was still there.
func (c *Connection) forget(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Connection) readLoop() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.received.Add(1)
		f, err := cdpframe.Parse(data)
		if err != nil {
			c.logger.Debug().Err(err).Int("size", len(data)).Msg("skipping undecodable frame")
			continue
		}
		switch f.Kind {
		case cdpframe.KindReply:
			c.complete(f)
		case cdpframe.KindEvent:
			if c.sink == nil {
				continue
			}
			if !c.sink.Ingest(domain.NewEvent(f.Method, f.Params, c.id)) {
				c.logger.Trace().Str("method", f.Method).Msg("event not accepted by sink")
			}
		}
	}
}

func (c *Connection) complete(f cdpframe.Frame) {
	c.mu.Lock()
	req, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.metrics.LateReply()
		c.logger.Debug().Int64("id", f.ID).Msg("discarding reply with no pending request")
		return
	}
	r := &Reply{ID: f.ID, Result: f.Result}
	if f.Error != nil {
		r.Error = &ProtocolError{Method: req.method, Code: f.Error.Code, Message: f.Error.Message, Data: f.Error.Data}
	}
	req.done <- outcome{reply: r}
}

// fail marks the connection dead once and completes every pending request with ErrConnectionLost.
func (c *Connection) fail(cause error) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.deadErr = cause
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
	for id, req := range pending {
		req.done <- outcome{err: fmt.Errorf("%w: %s (id %d): %v", ErrConnectionLost, req.method, id, cause)}
	}
	if errors.Is(cause, errClosed) {
		c.logger.Debug().Int("pending", len(pending)).Msg("cdp connection closed")
	} else {
		c.logger.Warn().Err(cause).Int("pending", len(pending)).Msg("cdp connection lost")
	}
}
