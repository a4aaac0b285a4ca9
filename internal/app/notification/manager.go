// Package notification provides the notification manager for broadcasting monitor events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// sendTimeout bounds a single subscriber send during Broadcast.
const sendTimeout = 500 * time.Millisecond

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
	done   chan struct{}
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        bool
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID with a
// channel that is closed when the subscription ends. After Close the
// returned channel is already closed.
func (m *Manager) Subscribe(stream Stream) (string, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	done := make(chan struct{})
	if m.closed {
		close(done)
		return id, done
	}
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
		done:   done,
	}
	return id, done
}

// Unsubscribe removes a subscription and closes its done channel.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		close(sub.done)
		delete(m.subscriptions, subscriptionID)
	}
}

// Broadcast stamps the notification with the next sequence number and sends it
// to all subscribers. Each send runs in its own goroutine with a timeout so a
// slow subscriber cannot block the others.
func (m *Manager) Broadcast(notification *Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	notification.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send to %s failed", s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send to %s timed out", s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close ends all subscriptions and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		close(sub.done)
	}
	m.subscriptions = make(map[string]*subscription)
	m.closed = true
}
