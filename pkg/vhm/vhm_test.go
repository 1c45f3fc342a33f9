package vhm

import (
	"context"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/vc"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"github.com/tsundata/vhm/pkg/vhm/strategy"
	"golang.org/x/xerrors"
	"sync"
	"testing"
	"time"
)

const waitFor = 2 * time.Second

type invocation struct {
	clusterID string
	events    []event.ScaleEvent
}

// trivialStrategy records invocations. Scale blocks while the cluster has an
// open gate.
type trivialStrategy struct {
	key   string
	types []string

	mu      sync.Mutex
	gates   map[string]chan struct{}
	calls   []invocation
	started chan invocation
}

func newTrivial(key string, types ...string) *trivialStrategy {
	return &trivialStrategy{key: key, types: types, gates: make(map[string]chan struct{}), started: make(chan invocation, 100)}
}

func (s *trivialStrategy) Key() string { return s.key }

func (s *trivialStrategy) ScaleEventTypesHandled() []string { return s.types }

func (s *trivialStrategy) Scale(ctx context.Context, req *strategy.Request) (*event.CompletionEvent, error) {
	inv := invocation{clusterID: req.ClusterID, events: req.Events}
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	gate := s.gates[req.ClusterID]
	s.mu.Unlock()
	s.started <- inv

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return event.NewCompletionEvent(req.ClusterID), nil
}

// hold makes the next invocations for clusterID block until the returned
// function is called.
func (s *trivialStrategy) hold(clusterID string) func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[clusterID] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *trivialStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *trivialStrategy) next(t *testing.T) invocation {
	select {
	case inv := <-s.started:
		return inv
	case <-time.After(waitFor):
		t.Fatalf("%s strategy was not invoked", s.key)
	}
	return invocation{}
}

func (s *trivialStrategy) none(t *testing.T, d time.Duration) {
	select {
	case inv := <-s.started:
		t.Fatalf("unexpected %s invocation for %s with %d events", s.key, inv.clusterID, len(inv.events))
	case <-time.After(d):
	}
}

// quietMapper implies no scale events.
type quietMapper struct {
	clustermap.DefaultMapper
}

func (quietMapper) ImpliedScaleEvents(*meta.VMEventData, string, bool) []event.ScaleEvent { return nil }

type recordingMapper struct {
	clustermap.DefaultMapper
	mu           sync.Mutex
	isNewCluster []bool
}

func (r *recordingMapper) ImpliedScaleEvents(vmd *meta.VMEventData, clusterID string, isNewCluster bool) []event.ScaleEvent {
	r.mu.Lock()
	r.isNewCluster = append(r.isNewCluster, isNewCluster)
	r.mu.Unlock()
	return r.DefaultMapper.ImpliedScaleEvents(vmd, clusterID, isNewCluster)
}

func (r *recordingMapper) results() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.isNewCluster...)
}

type harness struct {
	vhm    *VHM
	sim    *vc.Simulator
	auto   *trivialStrategy
	manual *trivialStrategy
}

func start(t *testing.T, opts ...Option) *harness {
	h := &harness{
		sim: vc.NewSimulator(),
		auto: newTrivial(clustermap.AutoStrategyKey,
			event.TypeDemand, event.TypeAutomationEnabled, event.TypeMinInstancesChanged, event.TypeRebalance),
		manual: newTrivial(clustermap.ManualStrategyKey, event.TypeLimitInstruction),
	}
	if len(opts) == 0 {
		opts = []Option{WithExtraInfoMapper(quietMapper{})}
	}
	v, err := New(h.sim, []strategy.ScaleStrategy{h.auto, h.manual}, opts...)
	require.NoError(t, err)
	require.NoError(t, v.Start(context.Background()))
	h.vhm = v
	t.Cleanup(func() {
		v.Stop(true)
		_ = v.Wait()
	})
	return h
}

func masterData(cluster string, automation *bool, min *int) meta.VMEventData {
	return meta.VMEventData{
		VMMoRef:    cluster,
		MasterUUID: meta.StringPtr(cluster),
		MyUUID:     meta.StringPtr(cluster),
		MyName:     meta.StringPtr(cluster),
		Folder:     meta.StringPtr("folder-" + cluster),
		Master:     &meta.MasterVMData{EnableAutomation: automation, MinInstances: min},
	}
}

func (h *harness) addCluster(t *testing.T, cluster string, automation bool) {
	h.vhm.Push(event.NewVMUpdatedEvent(masterData(cluster, meta.BoolPtr(automation), meta.IntPtr(0))))
	h.waitKey(t, cluster, map[bool]string{true: "auto", false: "manual"}[automation])
}

func (h *harness) waitKey(t *testing.T, cluster, key string) {
	require.Eventually(t, func() bool {
		var got string
		_ = h.vhm.Access().View(func(m clustermap.ClusterMap) error {
			got, _ = m.GetScaleStrategyKey(cluster)
			return nil
		})
		return got == key
	}, waitFor, 5*time.Millisecond)
}

func (h *harness) lastCompletion(cluster string) *event.CompletionEvent {
	var c *event.CompletionEvent
	_ = h.vhm.Access().View(func(m clustermap.ClusterMap) error {
		c, _ = m.GetLastClusterScaleCompletionEvent(cluster)
		return nil
	})
	return c
}

func demand(cluster string) *event.DemandEvent {
	return event.NewDemandEvent(event.Target{ClusterID: cluster}, 1)
}

func TestMinInstancesRegardlessOfOrder(t *testing.T) {
	h := start(t)

	// minimum first, master designation later
	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{
		VMMoRef: "c1",
		Master:  &meta.MasterVMData{MinInstances: meta.IntPtr(4), EnableAutomation: meta.BoolPtr(true)},
	}))
	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{VMMoRef: "c1", MasterUUID: meta.StringPtr("c1")}))

	// master designation first, minimum later
	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{VMMoRef: "c2", MasterUUID: meta.StringPtr("c2"), MyUUID: meta.StringPtr("c2")}))
	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{VMMoRef: "c2", Master: &meta.MasterVMData{MinInstances: meta.IntPtr(4), EnableAutomation: meta.BoolPtr(true)}}))

	for _, c := range []string{"c1", "c2"} {
		h.waitKey(t, c, "auto")
		info, err := h.vhm.ClusterInfo(c)
		require.NoError(t, err)
		require.Equal(t, 4, info.MinInstances)
	}
}

func TestRemoveMaster(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", false)

	h.vhm.Push(event.NewVMRemovedEvent("c1"))
	require.Eventually(t, func() bool {
		_, err := h.vhm.ClusterInfo("c1")
		return xerrors.Is(err, clustermap.ErrNotFound)
	}, waitFor, 5*time.Millisecond)
	require.Empty(t, h.vhm.Clusters())
}

func TestFailingStateChangeDoesNotAbortBatch(t *testing.T) {
	h := start(t)

	h.vhm.PushAll([]event.Notification{
		event.NewScaleStrategyChangeEvent("missing", clustermap.AutoStrategyKey),
		event.NewVMUpdatedEvent(masterData("c1", meta.BoolPtr(true), meta.IntPtr(0))),
	})
	h.waitKey(t, "c1", clustermap.AutoStrategyKey)
	require.Equal(t, float64(1), testutil.ToFloat64(h.vhm.Metrics().StateChangeErrors))

	_, err := h.vhm.ClusterInfo("missing")
	require.ErrorIs(t, err, clustermap.ErrNotFound)
}

func TestClustersReleasesGuard(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", false)

	list := h.vhm.Clusters()
	require.Len(t, list, 1)
	require.Equal(t, "c1", list[0].ID)
	require.False(t, list[0].Busy)

	done := make(chan error, 1)
	go func() {
		done <- h.vhm.Access().RunExclusive(func(*clustermap.Map) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("exclusive access blocked after Clusters")
	}
}

func TestConsolidatesWhileBusy(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)
	release := h.auto.hold("c1")

	e1 := demand("c1")
	h.vhm.Push(e1)
	first := h.auto.next(t)
	require.Equal(t, []event.ScaleEvent{e1}, first.events)

	e2, e3 := demand("c1"), demand("c1")
	h.vhm.Push(e2)
	h.vhm.Push(e3)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.vhm.Metrics().Deferred) == 2
	}, waitFor, 5*time.Millisecond)
	require.Equal(t, 1, h.auto.callCount())

	release()
	second := h.auto.next(t)
	require.ElementsMatch(t, []event.ScaleEvent{e2, e3}, second.events)

	h.auto.none(t, 200*time.Millisecond)
	require.Equal(t, 2, h.auto.callCount())
}

func TestClustersScaleConcurrently(t *testing.T) {
	h := start(t)
	h.addCluster(t, "a", true)
	h.addCluster(t, "b", true)
	releaseA := h.auto.hold("a")
	defer releaseA()

	h.vhm.Push(demand("a"))
	require.Equal(t, "a", h.auto.next(t).clusterID)
	h.vhm.Push(demand("b"))
	require.Equal(t, "b", h.auto.next(t).clusterID)

	require.Eventually(t, func() bool { return h.lastCompletion("b") != nil }, waitFor, 5*time.Millisecond)
	require.Nil(t, h.lastCompletion("a"))
	require.True(t, h.vhm.IsBusy("a"))

	releaseA()
	require.Eventually(t, func() bool { return h.lastCompletion("a") != nil }, waitFor, 5*time.Millisecond)
}

func TestSwitchToManualHandoff(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)
	release := h.auto.hold("c1")
	defer release()

	h.vhm.Push(demand("c1"))
	h.auto.next(t)

	reported := make(chan *event.CompletionEvent, 10)
	li := event.NewLimitInstruction(event.Target{Folder: "folder-c1"}, meta.ActionWaitForManual, 0,
		event.ReporterFunc(func(c *event.CompletionEvent) { reported <- c }))
	h.vhm.Push(li)
	h.vhm.Push(demand("c1"))

	noReport := func() {
		select {
		case <-reported:
			t.Fatal("switch-to-manual reported too early")
		case <-time.After(100 * time.Millisecond):
		}
	}
	noReport()

	// policy switched but the first invocation is still running
	h.vhm.Push(event.NewVMUpdatedEvent(masterData("c1", meta.BoolPtr(false), nil)))
	h.waitKey(t, "c1", "manual")
	noReport()

	release()
	select {
	case c := <-reported:
		require.Equal(t, "c1", c.ClusterID)
		require.Equal(t, []event.ScaleEvent{li}, c.Triggers)
	case <-time.After(waitFor):
		t.Fatal("switch-to-manual was never reported")
	}
	select {
	case <-reported:
		t.Fatal("switch-to-manual reported twice")
	case <-time.After(100 * time.Millisecond):
	}

	require.Equal(t, 1, h.auto.callCount())
	require.Equal(t, 0, h.manual.callCount())
	require.GreaterOrEqual(t, testutil.ToFloat64(h.vhm.Metrics().Discarded), float64(1))
	require.Equal(t, float64(1), testutil.ToFloat64(h.vhm.Metrics().BlockingReported))
}

func TestSwitchToManualResolvesFolderThroughPlatform(t *testing.T) {
	h := start(t)
	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{
		VMMoRef:    "c1",
		MasterUUID: meta.StringPtr("c1"),
		Master:     &meta.MasterVMData{EnableAutomation: meta.BoolPtr(false)},
	}))
	h.waitKey(t, "c1", "manual")
	h.sim.PutVM(vc.VMUpdate{MoRef: "c1", Folder: "serengeti-c1"})

	reported := make(chan *event.CompletionEvent, 1)
	h.vhm.Push(event.NewLimitInstruction(event.Target{Folder: "serengeti-c1"}, meta.ActionWaitForManual, 0,
		event.ReporterFunc(func(c *event.CompletionEvent) { reported <- c })))

	select {
	case c := <-reported:
		require.Equal(t, "c1", c.ClusterID)
	case <-time.After(waitFor):
		t.Fatal("not reported")
	}
	info, err := h.vhm.ClusterInfo("c1")
	require.NoError(t, err)
	require.Equal(t, "serengeti-c1", info.Folder)
}

func TestImpliedScaleEvents(t *testing.T) {
	mapper := &recordingMapper{}
	h := start(t, WithExtraInfoMapper(mapper))

	h.vhm.Push(event.NewVMUpdatedEvent(masterData("c1", meta.BoolPtr(true), meta.IntPtr(0))))
	inv := h.auto.next(t)
	require.Equal(t, []bool{true}, mapper.results())
	require.Len(t, inv.events, 1)
	require.True(t, inv.events[0].(*event.AutomationEnabledEvent).NewCluster)
	h.waitKey(t, "c1", "auto")
	require.Eventually(t, func() bool { return !h.vhm.IsBusy("c1") }, waitFor, 5*time.Millisecond)

	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{VMMoRef: "c1", Master: &meta.MasterVMData{MinInstances: meta.IntPtr(1)}}))
	inv = h.auto.next(t)
	require.Equal(t, []bool{true, false}, mapper.results())
	require.Len(t, inv.events, 1)
	mc := inv.events[0].(*event.MinInstancesChangedEvent)
	require.False(t, mc.NewCluster)
	require.Equal(t, 1, mc.MinInstances)
}

func TestCompletionRecorded(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)

	d := demand("c1")
	h.vhm.Push(d)
	h.auto.next(t)
	require.Eventually(t, func() bool { return h.lastCompletion("c1") != nil }, waitFor, 5*time.Millisecond)

	c := h.lastCompletion("c1")
	require.True(t, c.Succeeded)
	require.Equal(t, []event.ScaleEvent{d}, c.Triggers)

	info, err := h.vhm.ClusterInfo("c1")
	require.NoError(t, err)
	require.NotNil(t, info.LastCompletion)
	require.False(t, info.Busy)
}

func TestPolicyMismatchIsFiltered(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", false)

	h.vhm.Push(demand("c1"))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.vhm.Metrics().PolicyMismatch) == 1
	}, waitFor, 5*time.Millisecond)
	require.Equal(t, 0, h.manual.callCount())

	h.vhm.Push(event.NewLimitInstruction(event.Target{ClusterID: "c1"}, meta.ActionSetTarget, 2, nil))
	inv := h.manual.next(t)
	require.Len(t, inv.events, 1)
}

func reportTo(ch chan *event.CompletionEvent) event.CompletionReporter {
	return event.ReporterFunc(func(c *event.CompletionEvent) { ch <- c })
}

func failure(t *testing.T, ch chan *event.CompletionEvent) *event.CompletionEvent {
	select {
	case c := <-ch:
		require.False(t, c.Succeeded)
		return c
	case <-time.After(waitFor):
		t.Fatal("dropped instruction was never reported")
	}
	return nil
}

func TestPolicyMismatchReportsFailure(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)

	reported := make(chan *event.CompletionEvent, 1)
	h.vhm.Push(event.NewLimitInstruction(event.Target{ClusterID: "c1"}, meta.ActionSetTarget, 2, reportTo(reported)))

	c := failure(t, reported)
	require.Equal(t, "c1", c.ClusterID)
	require.ErrorIs(t, c.Err, ErrPolicyMismatch)
	require.Equal(t, 0, h.auto.callCount())
}

func TestDiscardBehindSwitchToManualReportsFailure(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)

	h.vhm.Push(event.NewLimitInstruction(event.Target{ClusterID: "c1"}, meta.ActionWaitForManual, 0, nil))
	reported := make(chan *event.CompletionEvent, 1)
	h.vhm.Push(event.NewLimitInstruction(event.Target{ClusterID: "c1"}, meta.ActionSetTarget, 3, reportTo(reported)))

	c := failure(t, reported)
	require.ErrorIs(t, c.Err, ErrDiscarded)
	require.Equal(t, 0, h.manual.callCount())
}

func TestRemovedClusterReportsParkedInstruction(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)

	reported := make(chan *event.CompletionEvent, 1)
	h.vhm.Push(event.NewLimitInstruction(event.Target{ClusterID: "c1"}, meta.ActionWaitForManual, 0, reportTo(reported)))
	select {
	case <-reported:
		t.Fatal("switch-to-manual reported before the policy changed")
	case <-time.After(100 * time.Millisecond):
	}

	h.vhm.Push(event.NewVMRemovedEvent("c1"))
	c := failure(t, reported)
	require.Equal(t, "c1", c.ClusterID)
	require.ErrorIs(t, c.Err, clustermap.ErrNotFound)
}

func TestUnresolvableEventsDropped(t *testing.T) {
	h := start(t)
	h.vhm.Push(event.NewDemandEvent(event.Target{Folder: "nowhere", HostID: "host-x", VMID: "vm-x"}, 1))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.vhm.Metrics().Unresolvable) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestResolveByVMAndHost(t *testing.T) {
	h := start(t)
	h.addCluster(t, "c1", true)
	h.vhm.Push(event.NewVMUpdatedEvent(meta.VMEventData{
		VMMoRef:    "vm-1",
		HostMoRef:  meta.StringPtr("host-1"),
		MasterUUID: meta.StringPtr("c1"),
		IsElastic:  meta.BoolPtr(true),
	}))

	h.vhm.Push(event.NewDemandEvent(event.Target{VMID: "vm-1"}, 1))
	require.Equal(t, "c1", h.auto.next(t).clusterID)
	require.Eventually(t, func() bool { return !h.vhm.IsBusy("c1") }, waitFor, 5*time.Millisecond)

	h.vhm.Push(event.NewDemandEvent(event.Target{HostID: "host-1"}, 1))
	require.Equal(t, "c1", h.auto.next(t).clusterID)
}

func TestStrategyKeys(t *testing.T) {
	h := start(t)
	require.Equal(t, []string{clustermap.AutoStrategyKey, clustermap.ManualStrategyKey}, h.vhm.StrategyKeys())
}

func TestStop(t *testing.T) {
	v, err := New(vc.NewSimulator(), nil)
	require.NoError(t, err)
	require.ErrorIs(t, v.Wait(), ErrNotStarted)

	require.NoError(t, v.Start(context.Background()))
	require.Error(t, v.Start(context.Background()))
	v.Stop(false)
	v.Stop(false)

	done := make(chan error)
	go func() { done <- v.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("vhm did not stop")
	}
}
