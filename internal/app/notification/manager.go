// Package notification provides the notification manager for broadcasting user notices.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Severity is how a notice should be presented.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		*s = SeverityInfo
	}
	return nil
}

// Notice is one user-visible message.
type Notice struct {
	SequenceNo uint64    `json:"sequence_no"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	At         time.Time `json:"at"`
}

// Stream represents a notice stream for a subscriber.
type Stream interface {
	Send(*Notice) error
}

// sendTimeout bounds a single subscriber send.
const sendTimeout = 500 * time.Millisecond

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notice subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// NewNotice stamps a notice with the next sequence number.
func (m *Manager) NewNotice(message string, severity Severity) *Notice {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	seq := m.sequenceNo
	m.sequenceNoMu.Unlock()

	return &Notice{SequenceNo: seq, Message: message, Severity: severity, At: time.Now()}
}

// Notify broadcasts a notice without waiting for subscribers.
func (m *Manager) Notify(message string, severity Severity) {
	notice := m.NewNotice(message, severity)
	zlog.Debug().Msgf("notice: seq=%d severity=%s message=%q", notice.SequenceNo, severity, message)
	go m.Broadcast(notice)
}

// Broadcast sends a notice to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notice *Notice) {
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
				done <- s.stream.Send(notice)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notice send failed: subscription=%s error=%v", s.id, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notice send timed out: subscription=%s", s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// Send sends a notice to a specific subscriber.
func (m *Manager) Send(subscriptionID string, notice *Notice) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return sub.stream.Send(notice)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
