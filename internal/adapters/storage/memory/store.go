package memory

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
)

const (
	DefaultDomainBufferSize = 100
	DefaultSharedQueueSize  = 1000
	DefaultInboxSize        = 4096

	subscriberBuffer = 256
)

// EnablementChecker tells the store whether events of a domain should be kept.
type EnablementChecker interface {
	IsEnabled(d domain.Domain) bool
}

// EventHandler is called synchronously for every stored event whose method it
// was registered for. Errors and panics are logged and otherwise ignored.
type EventHandler func(ev domain.Event) error

// HandlerID identifies one registration returned by RegisterEventHandler.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn EventHandler
}

// Options size the store's buffers. Zero values fall back to the defaults.
type Options struct {
	DomainBufferSize int
	SharedQueueSize  int
	InboxSize        int
}

// EventManager keeps the recent events of every enabled domain in bounded
// rings, mirrors them into one shared bounded queue and fans them out to
// per-method handlers and live subscribers.
type EventManager struct {
	checker EnablementChecker
	logger  zerolog.Logger
	metrics *obs.Metrics

	mu            sync.Mutex
	domainCap     int
	byDomain      map[domain.Domain]*ring[domain.Event]
	shared        *ring[domain.Event]
	handlers      map[string][]handlerEntry
	nextHandlerID HandlerID
	received      int64
	stored        int64
	filtered      int64
	sharedDropped int64
	inboxDropped  int64

	// listeners are live subscribers (e.g. the websocket event stream)
	lmu       sync.RWMutex
	listeners map[chan domain.Event]struct{}

	inbox     chan domain.Event
	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

func NewEventManager(checker EnablementChecker, opts Options, logger zerolog.Logger, metrics *obs.Metrics) *EventManager {
	if opts.DomainBufferSize <= 0 {
		opts.DomainBufferSize = DefaultDomainBufferSize
	}
	if opts.SharedQueueSize <= 0 {
		opts.SharedQueueSize = DefaultSharedQueueSize
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	return &EventManager{
		checker:   checker,
		logger:    logger.With().Str("component", "event-store").Logger(),
		metrics:   metrics,
		domainCap: opts.DomainBufferSize,
		byDomain:  make(map[domain.Domain]*ring[domain.Event], len(domain.All)),
		shared:    newRing[domain.Event](opts.SharedQueueSize),
		handlers:  make(map[string][]handlerEntry),
		listeners: make(map[chan domain.Event]struct{}),
		inbox:     make(chan domain.Event, opts.InboxSize),
		quit:      make(chan struct{}),
	}
}

// StoreEvent keeps ev if its domain is enabled and runs the handlers
// registered for ev.Method. It returns false when the event was filtered out.
func (m *EventManager) StoreEvent(ev domain.Event) bool {
	// the checker has its own locking; never call it under m.mu
	keep := ev.Domain != "" && m.checker != nil && m.checker.IsEnabled(ev.Domain)

	m.mu.Lock()
	m.received++
	if !keep {
		m.filtered++
		m.mu.Unlock()
		m.metrics.EventDropped("domain_disabled")
		return false
	}
	r := m.byDomain[ev.Domain]
	if r == nil {
		r = newRing[domain.Event](m.domainCap)
		m.byDomain[ev.Domain] = r
	}
	r.Push(ev)
	m.stored++
	sharedFull := !m.shared.TryPush(ev)
	if sharedFull {
		m.sharedDropped++
	}
	hs := append([]handlerEntry(nil), m.handlers[ev.Method]...)
	m.mu.Unlock()

	m.metrics.EventReceived(string(ev.Domain))
	if sharedFull {
		m.metrics.EventDropped("shared_full")
	}
	for _, h := range hs {
		m.invoke(h, ev)
	}
	m.broadcast(ev)
	return true
}

func (m *EventManager) invoke(h handlerEntry, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("method", ev.Method).Uint64("handler", uint64(h.id)).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	if err := h.fn(ev); err != nil {
		m.logger.Warn().Err(err).Str("method", ev.Method).Uint64("handler", uint64(h.id)).Msg("event handler failed")
	}
}

// GetRecentEvents returns up to limit of the most recent events, oldest first.
// With a nil domain it reads the shared queue without consuming it.
// limit <= 0 returns everything buffered.
func (m *EventManager) GetRecentEvents(d *domain.Domain, limit int) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil {
		return m.shared.Last(limit)
	}
	r := m.byDomain[*d]
	if r == nil {
		return []domain.Event{}
	}
	return r.Last(limit)
}

// ClearEvents empties one domain's buffer, or every buffer and the shared
// queue when d is nil.
func (m *EventManager) ClearEvents(d *domain.Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d != nil {
		if r := m.byDomain[*d]; r != nil {
			r.Clear()
		}
		return
	}
	for _, r := range m.byDomain {
		r.Clear()
	}
	m.shared.Clear()
}

// RegisterEventHandler appends h to the handlers of method. Registering the
// same function twice yields two independent registrations.
func (m *EventManager) RegisterEventHandler(method string, h EventHandler) HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.handlers[method] = append(m.handlers[method], handlerEntry{id: id, fn: h})
	return id
}

// UnregisterEventHandler removes the first registration of method with id.
func (m *EventManager) UnregisterEventHandler(method string, id HandlerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := m.handlers[method]
	for i := range hs {
		if hs[i].id != id {
			continue
		}
		rest := make([]handlerEntry, 0, len(hs)-1)
		rest = append(rest, hs[:i]...)
		rest = append(rest, hs[i+1:]...)
		if len(rest) == 0 {
			delete(m.handlers, method)
		} else {
			m.handlers[method] = rest
		}
		return true
	}
	return false
}

// Ingest hands ev to the dispatcher without blocking. It returns false when
// the inbox is full or the manager is closed.
func (m *EventManager) Ingest(ev domain.Event) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.inbox <- ev:
		return true
	default:
		m.mu.Lock()
		m.inboxDropped++
		m.mu.Unlock()
		m.metrics.EventDropped("inbox_full")
		return false
	}
}

// Start launches the dispatcher that drains the inbox into StoreEvent. Idempotent.
func (m *EventManager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.dispatch()
	})
}

func (m *EventManager) dispatch() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			return
		case ev := <-m.inbox:
			m.StoreEvent(ev)
		}
	}
}

// Close stops the dispatcher and closes every subscriber channel. Events still
// in the inbox are discarded. Idempotent.
func (m *EventManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
		m.wg.Wait()
		m.lmu.Lock()
		for ch := range m.listeners {
			delete(m.listeners, ch)
			close(ch)
		}
		m.lmu.Unlock()
		m.logger.Debug().Msg("event store closed")
	})
	return nil
}

// Stats returns the store counters. Clearing buffers does not reset them.
func (m *EventManager) Stats() domain.EventStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	per := make(map[domain.Domain]int, len(m.byDomain))
	for d, r := range m.byDomain {
		per[d] = r.Len()
	}
	return domain.EventStats{
		Received:      m.received,
		Stored:        m.stored,
		Filtered:      m.filtered,
		SharedDropped: m.sharedDropped,
		InboxDropped:  m.inboxDropped,
		SharedQueued:  m.shared.Len(),
		SharedCap:     m.shared.Cap(),
		PerDomain:     per,
	}
}

// Subscribe returns a channel receiving every stored event. Slow subscribers
// miss events rather than stall ingestion. Caller must Unsubscribe.
func (m *EventManager) Subscribe() (chan domain.Event, error) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	select {
	case <-m.quit:
		return nil, ErrClosed
	default:
	}
	ch := make(chan domain.Event, subscriberBuffer)
	m.listeners[ch] = struct{}{}
	return ch, nil
}

// Unsubscribe removes a listener channel and closes it.
func (m *EventManager) Unsubscribe(ch chan domain.Event) {
	m.lmu.Lock()
	if _, ok := m.listeners[ch]; ok {
		delete(m.listeners, ch)
		close(ch)
	}
	m.lmu.Unlock()
}

func (m *EventManager) broadcast(ev domain.Event) {
	m.lmu.RLock()
	defer m.lmu.RUnlock()
	for ch := range m.listeners {
		select {
		case ch <- ev:
		default: // drop if slow
		}
	}
}

var ErrClosed = errors.New("event store closed")
