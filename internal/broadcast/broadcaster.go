// Package broadcast fans document notifications out to connected observers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

// ErrDeliveryFailure is logged when a subscriber cannot take an event. The
// subscriber is dropped; nothing is queued for it.
var ErrDeliveryFailure = errors.New("notification delivery failed")

type Notifier interface {
	Publish(evt models.NotificationEvent)
}

// Notifiers publishes to each member in order.
type Notifiers []Notifier

func (ns Notifiers) Publish(evt models.NotificationEvent) {
	for _, n := range ns {
		if n != nil {
			n.Publish(evt)
		}
	}
}

type message struct {
	seq  uint64
	data []byte
}

// Subscription is one registered receiver. C is closed when the subscription
// is removed.
type Subscription struct {
	ID string
	C  <-chan []byte

	send      chan []byte
	joinedSeq uint64
	closeOnce sync.Once
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Broadcaster owns the subscriber set. Publish never blocks; a single Run
// goroutine drains the event queue so every subscriber sees events in the
// same order.
type Broadcaster struct {
	logger     *slog.Logger
	events     chan message
	bufferSize int

	publishMu sync.Mutex
	seq       atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.RWMutex
	clients map[*Subscription]struct{}
	closed  bool
}

func New(queueSize, subscriberBuffer int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:     logger,
		events:     make(chan message, queueSize),
		bufferSize: subscriberBuffer,
		clients:    make(map[*Subscription]struct{}),
	}
}

// Publish enqueues evt for fan-out. A full queue drops the event.
func (b *Broadcaster) Publish(evt models.NotificationEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("encode notification", "error", err, "file_id", evt.DocumentID)
		return
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	msg := message{seq: b.seq.Add(1), data: data}
	select {
	case b.events <- msg:
	default:
		b.dropped.Add(1)
		b.logger.Warn("notification queue full, dropping event",
			"file_id", evt.DocumentID,
			"total_drops", b.dropped.Load(),
		)
	}
}

// Subscribe registers a receiver. It only sees events published after this call.
func (b *Broadcaster) Subscribe() *Subscription {
	send := make(chan []byte, b.bufferSize)
	sub := &Subscription{ID: uuid.NewString(), C: send, send: send}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub.joinedSeq = b.seq.Load()
	if b.closed {
		sub.close()
		return sub
	}
	b.clients[sub] = struct{}{}
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "subscribers", len(b.clients))
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.remove(sub, nil)
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Run drains the event queue until ctx is done, then closes every subscription.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.events:
			b.fanOut(msg)
		}
	}
}

func (b *Broadcaster) fanOut(msg message) {
	var slow []*Subscription

	b.mu.RLock()
	for sub := range b.clients {
		if msg.seq <= sub.joinedSeq {
			continue
		}
		select {
		case sub.send <- msg.data:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.remove(sub, ErrDeliveryFailure)
	}
}

func (b *Broadcaster) remove(sub *Subscription, reason error) {
	b.mu.Lock()
	_, ok := b.clients[sub]
	if ok {
		delete(b.clients, sub)
		sub.close()
	}
	remaining := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return
	}
	if reason != nil {
		b.logger.Warn("dropping subscriber", "subscriber_id", sub.ID, "error", reason, "subscribers", remaining)
		return
	}
	b.logger.Debug("subscriber removed", "subscriber_id", sub.ID, "subscribers", remaining)
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.clients {
		delete(b.clients, sub)
		sub.close()
	}
}
