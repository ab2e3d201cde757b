// Package events publishes shift-closed notifications so downstream systems
// (reporting, inventory) can react without polling the audit log. Delivery is
// at-least-once; consumers must tolerate duplicates.
package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"tutupkasir/backend/internal/domain"
)

// ChannelShiftClosed is the pub/sub channel shift-closed events go out on.
const ChannelShiftClosed = "shifts.closed"

type Publisher interface {
	PublishShiftClosed(ctx context.Context, summary domain.ShiftSummary) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishShiftClosed(_ context.Context, _ domain.ShiftSummary) error { return nil }
func (NoopPublisher) Close() error                                                      { return nil }

// Bus is an in-process publisher for dev/demo mode and tests. Subscribers
// with full buffers are skipped rather than blocking the reset pipeline.
type Bus struct {
	mu     sync.Mutex
	subs   []chan domain.ShiftSummary
	closed bool
	log    *logrus.Logger
}

func NewBus(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.New()
	}
	return &Bus{log: log}
}

// Subscribe returns a buffered channel receiving every summary published
// after the call. The channel is closed when the bus closes.
func (b *Bus) Subscribe() <-chan domain.ShiftSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.ShiftSummary, 16)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) PublishShiftClosed(_ context.Context, summary domain.ShiftSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- summary:
		default:
			b.log.WithFields(logrus.Fields{
				"shift_id": summary.ShiftID,
				"tenant":   summary.TenantID,
			}).Warn("dropping shift-closed event for slow subscriber")
		}
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	return nil
}

// Fanout publishes to every wrapped publisher and returns the first error
// after trying all of them.
type Fanout []Publisher

func (f Fanout) PublishShiftClosed(ctx context.Context, summary domain.ShiftSummary) error {
	var firstErr error
	for _, p := range f {
		if err := p.PublishShiftClosed(ctx, summary); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f Fanout) Close() error {
	var firstErr error
	for _, p := range f {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
