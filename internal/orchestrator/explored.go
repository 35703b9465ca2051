package orchestrator

import (
	"strings"
	"sync"
)

// exploredSet records every concept name accepted into a session's tree.
// Names keep their original spelling; lookups are on the normalized form.
type exploredSet struct {
	mu    sync.RWMutex
	names []string
	index map[string]struct{}
}

func newExploredSet(names ...string) *exploredSet {
	s := &exploredSet{index: make(map[string]struct{})}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add records name. It returns false if the normalized name was already present.
func (s *exploredSet) Add(name string) bool {
	key := normalize(name)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = struct{}{}
	s.names = append(s.names, strings.TrimSpace(name))
	return true
}

// Contains reports whether the normalized name is present.
func (s *exploredSet) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[normalize(name)]
	return ok
}

// Names returns a copy of the recorded names in insertion order.
func (s *exploredSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// Len returns the number of recorded names.
func (s *exploredSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}
