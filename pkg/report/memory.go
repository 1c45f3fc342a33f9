package report

import (
	"context"
	"github.com/elliotchance/orderedmap/v2"
	"sync"
)

// DefaultMemoryReplies bounds the unclaimed replies a Memory channel holds.
const DefaultMemoryReplies = 1024

// Memory hands replies to callers waiting on their route key. A reply nobody
// waits for is kept until it is claimed or pushed out by newer ones.
type Memory struct {
	mu      sync.Mutex
	limit   int
	replies *orderedmap.OrderedMap[string, []byte]
	waiters map[string][]chan []byte
}

func NewMemory() *Memory {
	return NewBoundedMemory(DefaultMemoryReplies)
}

// NewBoundedMemory keeps at most limit unclaimed replies, oldest evicted first.
func NewBoundedMemory(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultMemoryReplies
	}
	return &Memory{
		limit:   limit,
		replies: orderedmap.NewOrderedMap[string, []byte](),
		waiters: make(map[string][]chan []byte),
	}
}

func (m *Memory) Publish(_ context.Context, routeKey string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws := m.waiters[routeKey]; len(ws) > 0 {
		for _, ch := range ws {
			ch <- data
		}
		delete(m.waiters, routeKey)
		return nil
	}
	m.replies.Delete(routeKey)
	m.replies.Set(routeKey, data)
	for m.replies.Len() > m.limit {
		m.replies.Delete(m.replies.Front().Key)
	}
	return nil
}

// Get returns an unclaimed reply without consuming it.
func (m *Memory) Get(routeKey string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replies.Get(routeKey)
}

// Len reports the number of unclaimed replies.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replies.Len()
}

// Wait blocks until a reply for routeKey exists or ctx is done. The reply is
// consumed.
func (m *Memory) Wait(ctx context.Context, routeKey string) ([]byte, error) {
	m.mu.Lock()
	if data, ok := m.replies.Get(routeKey); ok {
		m.replies.Delete(routeKey)
		m.mu.Unlock()
		return data, nil
	}
	ch := make(chan []byte, 1)
	m.waiters[routeKey] = append(m.waiters[routeKey], ch)
	m.mu.Unlock()

	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		m.forget(routeKey, ch)
		return nil, ctx.Err()
	}
}

func (m *Memory) forget(routeKey string, ch chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.waiters[routeKey]
	for i, w := range ws {
		if w == ch {
			m.waiters[routeKey] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(m.waiters[routeKey]) == 0 {
		delete(m.waiters, routeKey)
	}
}
