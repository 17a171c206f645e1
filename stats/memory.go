package stats

import (
	"sync"
	"time"
)

type key struct {
	account string
	worker  string
	minute  time.Time
}

// MemoryStore counts accepted shares per worker and minute.
type MemoryStore struct {
	mu   sync.Mutex
	data map[key]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[key]int)}
}

func (s *MemoryStore) Increment(account, worker string, minute time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key{account, worker, minute.Truncate(time.Minute)}]++
	return nil
}

// Get returns the count of one worker, or of the whole account when worker is empty.
func (s *MemoryStore) Get(account, worker string, minute time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := minute.Truncate(time.Minute)
	if worker != "" {
		return s.data[key{account, worker, m}], nil
	}
	total := 0
	for k, v := range s.data {
		if k.account == account && k.minute.Equal(m) {
			total += v
		}
	}
	return total, nil
}

func (s *MemoryStore) Close() error { return nil }
