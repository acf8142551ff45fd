package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// Deliverer pushes an event to one notification channel
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, event models.Event) error
}

// DispatcherConfig controls the delivery queue
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher fans engine events out to every configured channel. Publish never
// blocks the engine: when the queue is full the event is dropped with a warning.
type Dispatcher struct {
	deliverers []Deliverer
	queue      chan models.Event
	timeout    time.Duration
	wg         sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher and starts its workers
func NewDispatcher(cfg DispatcherConfig, deliverers ...Deliverer) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		deliverers: deliverers,
		queue:      make(chan models.Event, cfg.QueueSize),
		timeout:    cfg.DeliveryTimeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	names := make([]string, 0, len(deliverers))
	for _, dl := range deliverers {
		names = append(names, dl.Name())
	}
	debug.Log("Notification dispatcher started", map[string]interface{}{
		"channels":   names,
		"queue_size": cfg.QueueSize,
		"workers":    cfg.Workers,
	})
	return d
}

// Publish queues the event for delivery
func (d *Dispatcher) Publish(event models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		debug.Warning("Notification queue full, dropping %s event for campaign %d", event.Type, event.CampaignID)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, dl := range d.deliverers {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := dl.Deliver(ctx, event); err != nil {
				debug.Error("Failed to deliver %s event via %s: %v", event.Type, dl.Name(), err)
			}
			cancel()
		}
	}
}
