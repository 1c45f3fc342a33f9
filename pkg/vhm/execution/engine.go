package execution

import (
	"context"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/util/runtime"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"github.com/tsundata/vhm/pkg/vhm/metrics"
	"github.com/tsundata/vhm/pkg/vhm/strategy"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
	"sort"
	"sync"
	"sync/atomic"
)

const DefaultMaxWorkers = 16

var ErrStopped = xerrors.New("execution engine stopped")

// CompletionSink receives the completion event of every invocation.
type CompletionSink interface {
	Push(e event.Notification)
}

type operation struct {
	clusterID string
	done      chan struct{}
}

// Engine runs at most one strategy invocation per cluster at a time. Distinct
// clusters run concurrently, bounded by the worker limit.
type Engine struct {
	access  *clustermap.Access
	sink    CompletionSink
	metrics *metrics.Metrics

	ops cmap.ConcurrentMap[string, *operation]
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
}

type Option func(*Engine)

func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(access *clustermap.Access, sink CompletionSink, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		access: access,
		sink:   sink,
		ops:    cmap.New[*operation](),
		sem:    semaphore.NewWeighted(DefaultMaxWorkers),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit starts an invocation of s for clusterID and returns immediately.
// It returns false, doing nothing, if the cluster is busy or the engine has
// been stopped.
func (e *Engine) Submit(clusterID string, s strategy.ScaleStrategy, events []event.ScaleEvent) bool {
	if e.stopped.Load() {
		return false
	}
	op := &operation{clusterID: clusterID, done: make(chan struct{})}
	if !e.ops.SetIfAbsent(clusterID, op) {
		return false
	}
	if e.metrics != nil {
		e.metrics.BusyClusters.Inc()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		c := e.invoke(op, s, events)
		e.finish(op, c, events)
	}()
	return true
}

func (e *Engine) invoke(op *operation, s strategy.ScaleStrategy, events []event.ScaleEvent) (c *event.CompletionEvent) {
	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		return event.NewFailedCompletionEvent(op.clusterID, xerrors.Errorf("%w: %v", ErrStopped, err))
	}
	defer e.sem.Release(1)

	flog.Infof("cluster %s: running %s with %d events", op.clusterID, s.Key(), len(events))
	req := &strategy.Request{ClusterID: op.clusterID, Events: events, Access: e.access}
	err := runtime.RecoverError(func() error {
		var err error
		c, err = s.Scale(e.ctx, req)
		return err
	})
	if err != nil {
		flog.Warnf("cluster %s: %s failed: %v", op.clusterID, s.Key(), err)
		return event.NewFailedCompletionEvent(op.clusterID, err)
	}
	if c == nil {
		c = event.NewCompletionEvent(op.clusterID)
	}
	return c
}

// finish clears the busy flag, then notifies reporters, then queues the
// completion.
func (e *Engine) finish(op *operation, c *event.CompletionEvent, events []event.ScaleEvent) {
	c.ClusterID = op.clusterID
	c.Triggers = events

	e.ops.Remove(op.clusterID)
	close(op.done)
	if e.metrics != nil {
		e.metrics.BusyClusters.Dec()
		e.metrics.ObserveCompletion(c.Succeeded)
	}

	if err := runtime.RecoverError(func() error {
		event.ReportAll(events, c)
		return nil
	}); err != nil {
		flog.Warnf("cluster %s: completion reporter: %v", op.clusterID, err)
	}

	if e.sink != nil {
		e.sink.Push(c)
	}
}

func (e *Engine) IsBusy(clusterID string) bool {
	return e.ops.Has(clusterID)
}

// BusyClusters lists clusters with an in-flight invocation.
func (e *Engine) BusyClusters() []string {
	ids := e.ops.Keys()
	sort.Strings(ids)
	return ids
}

// WaitIdle blocks until clusterID has no in-flight invocation.
func (e *Engine) WaitIdle(ctx context.Context, clusterID string) error {
	op, ok := e.ops.Get(clusterID)
	if !ok {
		return nil
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further submissions. A hard stop also cancels the context of
// in-flight invocations; strategies may or may not honour it.
func (e *Engine) Stop(hard bool) {
	e.stopped.Store(true)
	if hard {
		e.cancel()
	}
}

// Wait blocks until every in-flight invocation has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
	if e.stopped.Load() {
		e.cancel()
	}
}
