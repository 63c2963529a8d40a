package usecase

import (
	"context"
	"time"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
)

// Commander sends one protocol command and waits for its reply.
// *cdp.Connection implements it.
type Commander interface {
	SendCommand(ctx context.Context, method string, params any, timeout time.Duration) (*cdp.Reply, error)
}

// ConnectionPool hands out browser sessions for exclusive use.
type ConnectionPool interface {
	Acquire(ctx context.Context, timeout time.Duration) (*cdp.Connection, error)
	Release(c *cdp.Connection) error
	Stats() cdp.PoolStats
	Close() error
}

// EventRepository buffers browser events for later reads.
type EventRepository interface {
	GetRecentEvents(d *domain.Domain, limit int) []domain.Event
	ClearEvents(d *domain.Domain)
	Stats() domain.EventStats
	Subscribe() (chan domain.Event, error)
	Unsubscribe(ch chan domain.Event)
	Close() error
}
