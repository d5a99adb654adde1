package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// PGSource reads row changes from a Postgres LISTEN channel fed by the
// realtime_notify trigger.
type PGSource struct {
	listener *pq.Listener
	mu       sync.RWMutex
	watchers map[int]watcher
	nextID   int
	done     chan struct{}
}

type watcher struct {
	topic   Topic
	deliver func(Change)
}

// NewPGSource opens a listener on channel and starts dispatching.
func NewPGSource(dsn, channel string) (*PGSource, error) {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("realtime listener event")
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	s := &PGSource{listener: listener, watchers: make(map[int]watcher), done: make(chan struct{})}
	go s.run()
	return s, nil
}

// Watch registers deliver for changes matching topic.
func (s *PGSource) Watch(topic Topic, deliver func(Change)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = watcher{topic: topic, deliver: deliver}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

// Close stops the listener.
func (s *PGSource) Close() error {
	close(s.done)
	return s.listener.Close()
}

func (s *PGSource) run() {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case n := <-s.listener.Notify:
			if n == nil {
				// reconnected; anything sent meanwhile is lost
				s.resync()
				continue
			}
			s.dispatch([]byte(n.Extra))
		case <-ticker.C:
			go s.listener.Ping()
		case <-s.done:
			return
		}
	}
}

func (s *PGSource) dispatch(payload []byte) {
	parsed := gjson.ParseBytes(payload)
	change := Change{
		Table:   parsed.Get("table").String(),
		Op:      Op(parsed.Get("op").String()),
		Partial: parsed.Get("partial").Bool(),
	}
	if v := parsed.Get("new"); v.Exists() && v.Type != gjson.Null {
		change.New = json.RawMessage(v.Raw)
	}
	if v := parsed.Get("old"); v.Exists() && v.Type != gjson.Null {
		change.Old = json.RawMessage(v.Raw)
	}

	for _, w := range s.matching(func(t Topic) bool { return t.Matches(change) }) {
		w.deliver(change)
	}
}

func (s *PGSource) resync() {
	for _, w := range s.matching(func(Topic) bool { return true }) {
		w.deliver(Change{Table: w.topic.Table, Op: OpResync})
	}
}

func (s *PGSource) matching(pred func(Topic) bool) []watcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []watcher
	for _, w := range s.watchers {
		if pred(w.topic) {
			out = append(out, w)
		}
	}
	return out
}
