package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
)

// BridgeOptions tune the caller workflow.
type BridgeOptions struct {
	AcquireTimeout time.Duration
	// IdleTimeout is the sweep age for domains without their own AutoUnload.
	IdleTimeout time.Duration
}

// BridgeService is the entry point for callers: it acquires a browser session,
// makes sure the domains a call needs are enabled, sends the command and
// releases the session again.
type BridgeService struct {
	pool    ConnectionPool
	domains *DomainManager
	events  EventRepository
	opts    BridgeOptions
	logger  zerolog.Logger

	closeOnce sync.Once
}

func NewBridgeService(pool ConnectionPool, domains *DomainManager, events EventRepository, opts BridgeOptions, logger zerolog.Logger) *BridgeService {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = cdp.DefaultAcquireTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &BridgeService{
		pool:    pool,
		domains: domains,
		events:  events,
		opts:    opts,
		logger:  logger.With().Str("component", "bridge").Logger(),
	}
}

// withConn runs fn on a pooled connection and always releases it.
func (s *BridgeService) withConn(ctx context.Context, fn func(c *cdp.Connection) error) error {
	c, err := s.pool.Acquire(ctx, s.opts.AcquireTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.pool.Release(c); err != nil {
			s.logger.Error().Err(err).Str("conn", c.ID()).Msg("release failed")
		}
	}()
	return fn(c)
}

// Execute sends method after ensuring every domain in need is enabled for caller.
// A protocol-level failure comes back in Reply.Error, not as err.
func (s *BridgeService) Execute(ctx context.Context, caller, method string, params any, timeout time.Duration, need ...domain.Domain) (*cdp.Reply, error) {
	if method == "" {
		return nil, errors.New("method is required")
	}
	var reply *cdp.Reply
	err := s.withConn(ctx, func(c *cdp.Connection) error {
		for _, d := range need {
			if err := s.domains.EnsureDomain(ctx, d, caller, c); err != nil {
				return err
			}
		}
		if d, ok := domain.FromMethod(method); ok {
			s.domains.Touch(d)
		}
		r, err := c.SendCommand(ctx, method, params, timeout)
		reply = r
		return err
	})
	return reply, err
}

func (s *BridgeService) EnableDomain(ctx context.Context, d domain.Domain, caller string) error {
	return s.withConn(ctx, func(c *cdp.Connection) error {
		return s.domains.EnsureDomain(ctx, d, caller, c)
	})
}

// DisableDomain returns false when other callers still hold d and force is off.
func (s *BridgeService) DisableDomain(ctx context.Context, d domain.Domain, caller string, force bool) (bool, error) {
	var ok bool
	err := s.withConn(ctx, func(c *cdp.Connection) error {
		ok = s.domains.DisableDomain(ctx, d, caller, force, c)
		return nil
	})
	return ok, err
}

func (s *BridgeService) SetRiskLevel(ctx context.Context, level domain.RiskLevel) ([]domain.Domain, error) {
	var out []domain.Domain
	err := s.withConn(ctx, func(c *cdp.Connection) error {
		out = s.domains.SetRiskLevel(ctx, level, c)
		return nil
	})
	return out, err
}

// Cleanup unloads idle domains once.
func (s *BridgeService) Cleanup(ctx context.Context) ([]domain.Domain, error) {
	var out []domain.Domain
	err := s.withConn(ctx, func(c *cdp.Connection) error {
		out = s.domains.CleanupUnused(ctx, s.opts.IdleTimeout, c)
		return nil
	})
	return out, err
}

// RunCleanup sweeps idle domains every interval until ctx is done.
func (s *BridgeService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("idle domain sweep skipped")
			}
		}
	}
}

func (s *BridgeService) Status() domain.Status { return s.domains.Status() }

func (s *BridgeService) RecentEvents(d *domain.Domain, limit int) []domain.Event {
	return s.events.GetRecentEvents(d, limit)
}

func (s *BridgeService) ClearEvents(d *domain.Domain) { s.events.ClearEvents(d) }

func (s *BridgeService) EventStats() domain.EventStats { return s.events.Stats() }

func (s *BridgeService) PoolStats() cdp.PoolStats { return s.pool.Stats() }

func (s *BridgeService) Subscribe() (chan domain.Event, error) { return s.events.Subscribe() }

func (s *BridgeService) Unsubscribe(ch chan domain.Event) { s.events.Unsubscribe(ch) }

// Close shuts the event store and the pool down. Idempotent.
func (s *BridgeService) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.events.Close(), s.pool.Close())
		if err != nil {
			err = fmt.Errorf("bridge shutdown: %w", err)
		}
		s.logger.Info().Msg("bridge closed")
	})
	return err
}
