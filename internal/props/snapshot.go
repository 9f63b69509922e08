package props

import (
	"maps"
	"slices"
	"strings"
	"sync/atomic"
)

// Snapshot is a named, immutable-per-version set of properties. Readers see
// either the old or the new map, never a partial update. Keys are matched
// case-insensitively because viper lowercases everything it parses.
type Snapshot struct {
	name string
	m    atomic.Pointer[map[string]string]
}

func NewSnapshot(name string) *Snapshot {
	s := &Snapshot{name: name}
	empty := map[string]string{}
	s.m.Store(&empty)
	return s
}

func (s *Snapshot) Name() string { return s.name }

func (s *Snapshot) Lookup(key string) (string, bool, error) {
	v, ok := (*s.m.Load())[strings.ToLower(key)]
	return v, ok, nil
}

// Replace swaps in a copy of m and reports whether the content changed.
func (s *Snapshot) Replace(m map[string]string) bool {
	next := make(map[string]string, len(m))
	for k, v := range m {
		next[strings.ToLower(k)] = v
	}
	prev := s.m.Swap(&next)
	return !maps.Equal(*prev, next)
}

// Keys returns the sorted keys currently held.
func (s *Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(*s.m.Load()))
}

func (s *Snapshot) Len() int { return len(*s.m.Load()) }
