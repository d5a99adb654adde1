package realtime

import "sync"

// MemorySource is an in-process feed. Publish delivers synchronously to every
// matching watcher.
type MemorySource struct {
	mu       sync.RWMutex
	watchers map[int]watcher
	nextID   int
	watches  int
}

// NewMemorySource creates an empty in-process feed.
func NewMemorySource() *MemorySource {
	return &MemorySource{watchers: make(map[int]watcher)}
}

// Watch registers deliver for changes matching topic.
func (s *MemorySource) Watch(topic Topic, deliver func(Change)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watches++
	s.watchers[id] = watcher{topic: topic, deliver: deliver}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

// Publish delivers c to every matching watcher.
func (s *MemorySource) Publish(c Change) {
	s.mu.RLock()
	var targets []watcher
	for _, w := range s.watchers {
		if w.topic.Matches(c) {
			targets = append(targets, w)
		}
	}
	s.mu.RUnlock()

	for _, w := range targets {
		w.deliver(c)
	}
}

// Resync delivers a resync change to every watcher.
func (s *MemorySource) Resync() {
	s.mu.RLock()
	targets := make([]watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		targets = append(targets, w)
	}
	s.mu.RUnlock()

	for _, w := range targets {
		w.deliver(Change{Table: w.topic.Table, Op: OpResync})
	}
}

// Watches returns how many upstream watches were ever opened.
func (s *MemorySource) Watches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watches
}

// Open returns how many watches are currently open.
func (s *MemorySource) Open() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}
