package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/datavision/des/container"
)

const numStripes = 16 // aistore-style sharding to cut mutex contention

type lruEntry struct {
	key     string
	entries []container.IndexEntry
	expires time.Time // zero means "no TTL"
}

type stripe struct {
	mu       sync.Mutex
	maxSize  int
	ll       *list.List
	elements map[string]*list.Element
}

// Memory is the in-process LRU+TTL backend (§4.B): thread-safe,
// configurable max entry count and default TTL, lazy expiry on Get,
// LRU eviction on Set when full. Striped by xxhash of the key so
// concurrent callers touching different containers rarely contend.
type Memory struct {
	stripes    [numStripes]*stripe
	defaultTTL time.Duration
}

// NewMemory builds an in-process cache. Each stripe holds up to
// maxSize/numStripes entries (at least one), so the total is at most
// maxSize when maxSize >= numStripes; defaultTTL applies when Set is
// called with ttl<=0.
func NewMemory(maxSize int, defaultTTL time.Duration) *Memory {
	m := &Memory{defaultTTL: defaultTTL}
	perStripe := maxSize / numStripes
	if perStripe < 1 {
		perStripe = 1
	}
	for i := range m.stripes {
		m.stripes[i] = &stripe{
			maxSize:  perStripe,
			ll:       list.New(),
			elements: make(map[string]*list.Element),
		}
	}
	return m
}

func (m *Memory) stripeFor(key string) *stripe {
	h := xxhash.ChecksumString64(key)
	return m.stripes[h%uint64(numStripes)]
}

func (m *Memory) Get(key string) ([]container.IndexEntry, bool) {
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		s.ll.Remove(el)
		delete(s.elements, key)
		return nil, false
	}
	s.ll.MoveToFront(el)
	return e.entries, true
}

func (m *Memory) Set(key string, entries []container.IndexEntry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.elements[key]; ok {
		el.Value = &lruEntry{key: key, entries: entries, expires: expires}
		s.ll.MoveToFront(el)
		return
	}

	if s.ll.Len() >= s.maxSize {
		oldest := s.ll.Back()
		if oldest != nil {
			s.ll.Remove(oldest)
			delete(s.elements, oldest.Value.(*lruEntry).key)
		}
	}
	el := s.ll.PushFront(&lruEntry{key: key, entries: entries, expires: expires})
	s.elements[key] = el
}

func (m *Memory) Delete(key string) {
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.elements[key]; ok {
		s.ll.Remove(el)
		delete(s.elements, key)
	}
}

func (m *Memory) Clear() {
	for _, s := range m.stripes {
		s.mu.Lock()
		s.ll.Init()
		s.elements = make(map[string]*list.Element)
		s.mu.Unlock()
	}
}
