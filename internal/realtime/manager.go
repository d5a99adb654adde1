package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"league-chat/internal/observability"
)

// ErrDuplicateSubscription is returned when a consumer subscribes twice to the
// same topic.
var ErrDuplicateSubscription = errors.New("duplicate realtime subscription")

// Handler receives changes for one topic. Handlers must be idempotent: the
// same change may be delivered more than once.
type Handler func(Change)

// Source is an upstream change feed.
type Source interface {
	Watch(topic Topic, deliver func(Change)) (stop func(), err error)
}

// Manager keeps at most one upstream subscription per topic and fans changes
// out to the named consumers registered on it. One Manager exists per process.
type Manager struct {
	source Source
	mu     sync.Mutex
	topics map[string]*topicState
}

type topicState struct {
	topic     Topic
	stop      func()
	consumers map[string]Handler
}

// NewManager wraps the given source.
func NewManager(source Source) *Manager {
	return &Manager{source: source, topics: make(map[string]*topicState)}
}

// Subscribe registers handler for topic under the consumer name. The upstream
// watch is opened on the first consumer and closed after the last one leaves.
func (m *Manager) Subscribe(consumer string, topic Topic, handler Handler) (*Subscription, error) {
	key := topic.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.topics[key]
	if ok {
		if _, dup := state.consumers[consumer]; dup {
			return nil, fmt.Errorf("%w: %s on %s", ErrDuplicateSubscription, consumer, key)
		}
		state.consumers[consumer] = handler
		return &Subscription{manager: m, key: key, consumer: consumer}, nil
	}

	state = &topicState{topic: topic, consumers: map[string]Handler{consumer: handler}}
	stop, err := m.source.Watch(topic, func(c Change) { m.dispatch(key, c) })
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}
	state.stop = stop
	m.topics[key] = state
	log.Debug().Str("topic", key).Str("consumer", consumer).Msg("realtime subscription opened")
	return &Subscription{manager: m, key: key, consumer: consumer}, nil
}

// Active reports the number of open upstream subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

func (m *Manager) dispatch(key string, c Change) {
	m.mu.Lock()
	state, ok := m.topics[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(state.consumers))
	for _, h := range state.consumers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	observability.IncRealtimeEvent(c.Table, string(c.Op))
	for _, h := range handlers {
		h(c)
	}
}

func (m *Manager) unsubscribe(key, consumer string) {
	m.mu.Lock()
	state, ok := m.topics[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(state.consumers, consumer)
	var stop func()
	if len(state.consumers) == 0 {
		delete(m.topics, key)
		stop = state.stop
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
		log.Debug().Str("topic", key).Msg("realtime subscription closed")
	}
}

// Subscription is one consumer's registration on a topic.
type Subscription struct {
	manager  *Manager
	key      string
	consumer string
	once     sync.Once
}

// Key returns the topic key.
func (s *Subscription) Key() string {
	return s.key
}

// Close removes the registration. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.manager.unsubscribe(s.key, s.consumer) })
}
