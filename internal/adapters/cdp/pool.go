package cdp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
)

const DefaultAcquireTimeout = 5 * time.Second

// DialFunc opens one new Connection. The pool calls it lazily, up to its size.
type DialFunc func(ctx context.Context) (*Connection, error)

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Size    int `json:"size"`
	Live    int `json:"live"`
	Idle    int `json:"idle"`
	Held    int `json:"held"`
	Dialed  int `json:"dialed"`
	Retired int `json:"retired"`

	Connections []ConnectionInfo `json:"connections"`
}

// ConnectionInfo describes one live connection in a PoolStats snapshot.
type ConnectionInfo struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Held           bool   `json:"held"`
	Pending        int    `json:"pending"`
	FramesReceived int64  `json:"framesReceived"`
}

// Pool bounds the number of live Connections and hands them out exclusively.
// It is the only owner of its Connections: it dials them, retires dead ones and
// closes all of them on shutdown.
type Pool struct {
	size    int
	dial    DialFunc
	logger  zerolog.Logger
	metrics *obs.Metrics

	idle   chan *Connection // at most size entries, so sends never block
	slots  chan struct{}    // one token per connection that may still be dialed
	closed chan struct{}

	mu       sync.Mutex
	isClosed bool
	live     map[*Connection]struct{}
	held     map[*Connection]struct{}
	dialed   int
	retired  int
}

func NewPool(size int, dial DialFunc, logger zerolog.Logger, metrics *obs.Metrics) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		size:    size,
		dial:    dial,
		logger:  logger.With().Str("component", "cdp-pool").Logger(),
		metrics: metrics,
		idle:    make(chan *Connection, size),
		slots:   make(chan struct{}, size),
		closed:  make(chan struct{}),
		live:    make(map[*Connection]struct{}, size),
		held:    make(map[*Connection]struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Acquire returns a Connection for exclusive use until Release.
// An idle connection is preferred; otherwise a new one is dialed while the pool
// is below size; otherwise the caller waits up to timeout and gets ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Connection, error) {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-p.closed:
			p.metrics.AcquireOutcome("closed")
			return nil, ErrPoolClosed
		default:
		}
		// idle connections first, before considering a dial
		select {
		case c := <-p.idle:
			if conn, retry, err := p.checkout(c); !retry {
				return conn, err
			}
			continue
		default:
		}

		select {
		case <-p.closed:
			p.metrics.AcquireOutcome("closed")
			return nil, ErrPoolClosed
		case c := <-p.idle:
			if conn, retry, err := p.checkout(c); !retry {
				return conn, err
			}
		case <-p.slots:
			return p.dialNew(waitCtx)
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				p.metrics.AcquireOutcome("canceled")
				return nil, ctx.Err()
			}
			p.metrics.AcquireOutcome("exhausted")
			return nil, fmt.Errorf("%w: no connection free after %s", ErrPoolExhausted, timeout)
		}
	}
}

// checkout marks an idle connection held. retry is true when the connection was
// dead and has been retired instead.
func (p *Pool) checkout(c *Connection) (*Connection, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		p.metrics.AcquireOutcome("closed")
		return nil, false, ErrPoolClosed
	}
	if c.Dead() {
		p.retireLocked(c)
		return nil, true, nil
	}
	p.held[c] = struct{}{}
	p.updateGaugesLocked()
	p.metrics.AcquireOutcome("ok")
	return c, false, nil
}

func (p *Pool) dialNew(ctx context.Context) (*Connection, error) {
	c, err := p.dialWithRetry(ctx)
	if err != nil {
		p.slots <- struct{}{}
		if errors.Is(err, ErrPoolClosed) {
			p.metrics.AcquireOutcome("closed")
			return nil, err
		}
		p.metrics.AcquireOutcome("dial_error")
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		_ = c.Close()
		p.metrics.AcquireOutcome("closed")
		return nil, ErrPoolClosed
	}
	p.live[c] = struct{}{}
	p.held[c] = struct{}{}
	p.dialed++
	p.updateGaugesLocked()
	p.metrics.AcquireOutcome("ok")
	p.logger.Info().Str("conn", c.ID()).Int("live", len(p.live)).Msg("pool dialed connection")
	return c, nil
}

func (p *Pool) dialWithRetry(ctx context.Context) (*Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // bounded by ctx

	var lastErr error
	c, err := backoff.RetryNotifyWithData(func() (*Connection, error) {
		select {
		case <-p.closed:
			return nil, backoff.Permanent(ErrPoolClosed)
		default:
		}
		c, err := p.dial(ctx)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrInvalidURL) {
				return nil, backoff.Permanent(err)
			}
		}
		return c, err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		p.logger.Debug().Err(err).Dur("retryIn", next).Msg("dial failed, retrying")
	})
	// the deadline only ends the retries; report why the browser was unreachable
	if err != nil && lastErr != nil && errors.Is(err, ctx.Err()) {
		return nil, lastErr
	}
	return c, err
}

// Release returns a held Connection. Releasing a connection that is not held
// returns ErrNotHeld and changes nothing. Dead connections are retired.
func (p *Pool) Release(c *Connection) error {
	if c == nil {
		return ErrNotHeld
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[c]; !ok {
		p.logger.Warn().Str("conn", c.ID()).Msg("release of connection that is not held")
		return ErrNotHeld
	}
	delete(p.held, c)
	switch {
	case p.isClosed:
		_ = c.Close()
	case c.Dead():
		p.retireLocked(c)
	default:
		p.idle <- c
	}
	p.updateGaugesLocked()
	return nil
}

func (p *Pool) retireLocked(c *Connection) {
	if _, ok := p.live[c]; !ok {
		return
	}
	delete(p.live, c)
	p.retired++
	_ = c.Close()
	p.slots <- struct{}{}
	p.updateGaugesLocked()
	p.logger.Info().Str("conn", c.ID()).AnErr("cause", c.Err()).Msg("pool retired dead connection")
}

func (p *Pool) updateGaugesLocked() {
	p.metrics.SetPoolConnections(len(p.idle), len(p.held))
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := make([]ConnectionInfo, 0, len(p.live))
	for c := range p.live {
		_, held := p.held[c]
		conns = append(conns, ConnectionInfo{
			ID:             c.ID(),
			URL:            c.URL(),
			Held:           held,
			Pending:        c.Pending(),
			FramesReceived: c.FramesReceived(),
		})
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return PoolStats{
		Size:        p.size,
		Live:        len(p.live),
		Idle:        len(p.idle),
		Held:        len(p.held),
		Dialed:      p.dialed,
		Retired:     p.retired,
		Connections: conns,
	}
}

// Close closes every connection and fails all current and future Acquire calls. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return nil
	}
	p.isClosed = true
	close(p.closed)
	conns := make([]*Connection, 0, len(p.live))
	for c := range p.live {
		conns = append(conns, c)
	}
	for len(p.idle) > 0 {
		<-p.idle
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	p.logger.Info().Int("closed", len(conns)).Msg("connection pool shut down")
	return nil
}
