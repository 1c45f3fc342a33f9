package clustermap

import (
	"github.com/tsundata/vhm/pkg/util/runtime"
	"sync"
)

// Access guards a Map with multiple-reader single-writer discipline. There is
// exactly one Access per running VHM.
type Access struct {
	mu sync.RWMutex
	m  *Map
}

func NewAccess(m *Map) *Access {
	return &Access{m: m}
}

// Handle is a read lock on the map. Callers must Release it and must not
// hold it across a blocking wait.
type Handle struct {
	ClusterMap
	once sync.Once
	a    *Access
}

func (a *Access) RLock() *Handle {
	a.mu.RLock()
	return &Handle{ClusterMap: a.m, a: a}
}

// Release unlocks the handle. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(h.a.mu.RUnlock)
}

// View runs fn under a read lock.
func (a *Access) View(fn func(ClusterMap) error) error {
	h := a.RLock()
	defer h.Release()
	return fn(h.ClusterMap)
}

// RunExclusive waits for current readers, blocks new ones and runs fn with
// write access. A panic in fn is returned as an error; the lock is always
// released.
func (a *Access) RunExclusive(fn func(m *Map) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return runtime.RecoverError(func() error {
		return fn(a.m)
	})
}
