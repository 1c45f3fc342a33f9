// Package vhm is the orchestration loop of the elastic cluster control plane.
// It drains the event queue, applies state changes to the cluster map under
// the write guard and hands scale events to the execution engine, at most one
// invocation per cluster at a time.
package vhm

import (
	"context"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/util/wait"
	"github.com/tsundata/vhm/pkg/vc"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"github.com/tsundata/vhm/pkg/vhm/execution"
	"github.com/tsundata/vhm/pkg/vhm/metrics"
	"github.com/tsundata/vhm/pkg/vhm/queue"
	"github.com/tsundata/vhm/pkg/vhm/strategy"
	"golang.org/x/xerrors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnresolvable   = xerrors.New("unresolvable scale event")
	ErrNotStarted     = xerrors.New("vhm not started")
	ErrPolicyMismatch = xerrors.New("scale event not handled by the cluster strategy")
	ErrDiscarded      = xerrors.New("scale event discarded behind switch-to-manual")
)

// EventConsumer accepts events from producers. Both methods are safe for
// concurrent use.
type EventConsumer interface {
	Push(e event.Notification)
	PushAll(events []event.Notification)
}

// EventProducer pushes events from its own goroutines. Register is called
// once before Start.
type EventProducer interface {
	Register(consumer EventConsumer, access *clustermap.Access)
	Start(ctx context.Context) error
	Stop()
}

type vhmOptions struct {
	mapper     clustermap.ExtraInfoMapper
	retention  int
	maxWorkers int
	idlePause  time.Duration
	metrics    *metrics.Metrics
	producers  []EventProducer
}

type Option func(*vhmOptions)

func WithExtraInfoMapper(m clustermap.ExtraInfoMapper) Option {
	return func(o *vhmOptions) {
		o.mapper = m
	}
}

func WithCompletionRetention(n int) Option {
	return func(o *vhmOptions) {
		o.retention = n
	}
}

func WithMaxWorkers(n int) Option {
	return func(o *vhmOptions) {
		o.maxWorkers = n
	}
}

// WithIdlePause sleeps d between orchestration cycles.
func WithIdlePause(d time.Duration) Option {
	return func(o *vhmOptions) {
		o.idlePause = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *vhmOptions) {
		o.metrics = m
	}
}

func WithEventProducers(p ...EventProducer) Option {
	return func(o *vhmOptions) {
		o.producers = append(o.producers, p...)
	}
}

type VHM struct {
	access    *clustermap.Access
	queue     *queue.EventQueue
	registry  *strategy.Registry
	engine    *execution.Engine
	actions   vc.Actions
	metrics   *metrics.Metrics
	producers []EventProducer
	idlePause time.Duration

	running atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	// owned by the loop goroutine
	parked   *orderedmap.OrderedMap[string, []*handoff]
	deferred *orderedmap.OrderedMap[string, []event.ScaleEvent]
}

// New builds a VHM with its own cluster map, access guard, queue and engine.
func New(actions vc.Actions, strategies []strategy.ScaleStrategy, opts ...Option) (*VHM, error) {
	o := &vhmOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	registry, err := strategy.NewRegistry(strategies...)
	if err != nil {
		return nil, err
	}

	q := queue.New()
	access := clustermap.NewAccess(clustermap.New(o.mapper, clustermap.WithCompletionRetention(o.retention)))
	v := &VHM{
		access:    access,
		queue:     q,
		registry:  registry,
		engine:    execution.New(access, q, execution.WithMaxWorkers(o.maxWorkers), execution.WithMetrics(o.metrics)),
		actions:   actions,
		metrics:   o.metrics,
		producers: o.producers,
		idlePause: o.idlePause,
		done:      make(chan struct{}),
		parked:    orderedmap.NewOrderedMap[string, []*handoff](),
		deferred:  orderedmap.NewOrderedMap[string, []event.ScaleEvent](),
	}
	return v, nil
}

// Access is the read guard shared with producers and strategies.
func (v *VHM) Access() *clustermap.Access { return v.access }

func (v *VHM) Metrics() *metrics.Metrics { return v.metrics }

func (v *VHM) StrategyKeys() []string { return v.registry.Keys() }

func (v *VHM) Push(e event.Notification) { v.queue.Push(e) }

func (v *VHM) PushAll(events []event.Notification) { v.queue.PushAll(events) }

func (v *VHM) IsBusy(clusterID string) bool { return v.engine.IsBusy(clusterID) }

// WaitIdle blocks until clusterID has no in-flight scaling invocation.
func (v *VHM) WaitIdle(ctx context.Context, clusterID string) error {
	return v.engine.WaitIdle(ctx, clusterID)
}

func (v *VHM) ClusterInfo(clusterID string) (*meta.ClusterInfo, error) {
	var info *meta.ClusterInfo
	err := v.access.View(func(m clustermap.ClusterMap) error {
		var err error
		info, err = m.GetClusterInfo(clusterID)
		return err
	})
	if err != nil {
		return nil, err
	}
	info.Busy = v.engine.IsBusy(clusterID)
	return info, nil
}

func (v *VHM) Clusters() []*meta.ClusterInfo {
	var res []*meta.ClusterInfo
	_ = v.access.View(func(m clustermap.ClusterMap) error {
		ids := m.GetAllKnownClusterIDs()
		res = make([]*meta.ClusterInfo, 0, len(ids))
		for _, id := range ids {
			if info, err := m.GetClusterInfo(id); err == nil {
				res = append(res, info)
			}
		}
		return nil
	})

	for _, info := range res {
		info.Busy = v.engine.IsBusy(info.ID)
	}
	return res
}

// Start registers and starts the producers, then runs the loop in its own
// goroutine until Stop or ctx is done.
func (v *VHM) Start(ctx context.Context) error {
	if !v.started.CompareAndSwap(false, true) {
		return xerrors.New("vhm already started")
	}
	v.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	v.cancel = cancel
	v.mu.Unlock()

	for _, p := range v.producers {
		p.Register(v, v.access)
		if err := p.Start(loopCtx); err != nil {
			v.Stop(true)
			close(v.done)
			return xerrors.Errorf("start event producer: %w", err)
		}
	}

	go func() {
		defer close(v.done)
		wait.UntilWithContext(loopCtx, v.processOne, v.idlePause)
		flog.Info("vhm loop stopped")
	}()
	flog.Infof("vhm started with strategies %v", v.registry.Keys())
	return nil
}

// Stop marks the loop not running, stops the producers, unblocks the queue
// with a sentinel and stops the engine. In-flight invocations are allowed to
// finish unless hard is set, in which case their context is cancelled. A hard
// Stop after a soft one still cancels in-flight work.
func (v *VHM) Stop(hard bool) {
	if !v.running.CompareAndSwap(true, false) {
		if hard && v.started.Load() {
			v.engine.Stop(true)
		}
		return
	}
	for _, p := range v.producers {
		p.Stop()
	}
	v.queue.Push(event.NewStopEvent())
	v.engine.Stop(hard)
}

// Wait blocks until the loop and all in-flight invocations have finished.
func (v *VHM) Wait() error {
	if !v.started.Load() {
		return ErrNotStarted
	}
	<-v.done
	v.engine.Wait()
	v.queue.Close()
	return nil
}

func (v *VHM) stopLoop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
}
