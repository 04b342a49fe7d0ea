package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscriptionQueue bounds undelivered payloads per subscription. When
// the queue is full the newest delivery is discarded; payloads already
// queued keep their order.
const subscriptionQueue = 24

// Subscription is one registration on a notification topic (a method
// name). Payloads published while the subscription is alive arrive on
// Recv in publish order.
type Subscription struct {
	id     uuid.UUID
	method string
	c      chan []byte

	dropped atomic.Uint64

	table     *topicTable
	closeOnce sync.Once
}

// Recv blocks for the next payload.
func (s *Subscription) Recv(ctx context.Context) ([]byte, error) {
	select {
	case body := <-s.c:
		return body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many deliveries were discarded because this
// subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. Payloads still queued remain
// readable until drained.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.table.unsubscribe(s.method, s.id)
	})
}

// topicTable maps method names to their live subscriptions.
type topicTable struct {
	mu sync.RWMutex
	m  map[string][]*Subscription
}

func (t *topicTable) subscribe(method string) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		method: method,
		c:      make(chan []byte, subscriptionQueue),
		table:  t,
	}

	t.mu.Lock()
	t.m[method] = append(t.m[method], sub)
	t.mu.Unlock()
	return sub
}

func (t *topicTable) unsubscribe(method string, id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := t.m[method]
	for i, sub := range subs {
		if sub.id == id {
			t.m[method] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(t.m[method]) == 0 {
		delete(t.m, method)
	}
}

func (t *topicTable) publish(method string, body []byte) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, sub := range t.m[method] {
		select {
		case sub.c <- body:
		default:
			sub.dropped.Add(1)
		}
	}
}
