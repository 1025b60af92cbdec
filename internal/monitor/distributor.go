package monitor

import (
	"sync"

	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/metrics"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing snapshots instead of stalling the
// publisher.
const subscriberBuffer = 16

// Distributor fans snapshots out to subscribers. Publishing never blocks:
// a slow subscriber drops snapshots, and every other subscriber still gets
// each one.
type Distributor struct {
	mu      sync.Mutex
	clients map[chan *metrics.Snapshot]bool
	closed  bool
	dropped uint64
	log     logger.Logger
}

// NewDistributor creates an empty distributor.
func NewDistributor(log logger.Logger) *Distributor {
	if log == nil {
		log = logger.Default()
	}
	return &Distributor{
		clients: make(map[chan *metrics.Snapshot]bool),
		log:     log,
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func. Unsubscribing closes the channel; calling it more than
// once is safe.
func (d *Distributor) Subscribe() (<-chan *metrics.Snapshot, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan *metrics.Snapshot, subscriberBuffer)
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	d.clients[ch] = true

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if _, ok := d.clients[ch]; ok {
				delete(d.clients, ch)
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers a snapshot to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (d *Distributor) Publish(snap *metrics.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	for ch := range d.clients {
		select {
		case ch <- snap:
		default:
			d.dropped++
			d.log.Debug("dropped snapshot for slow subscriber (total drops: %d)", d.dropped)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (d *Distributor) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Dropped returns how many snapshot deliveries were skipped for slow
// subscribers.
func (d *Distributor) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close closes all subscriber channels. Subsequent Publish calls are no-ops
// and new subscribers get an already-closed channel.
func (d *Distributor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for ch := range d.clients {
		close(ch)
	}
	d.clients = make(map[chan *metrics.Snapshot]bool)
}
