package vhm

import (
	"context"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"github.com/tsundata/vhm/pkg/vhm/strategy"
	"golang.org/x/xerrors"
)

// resolve derives the cluster of e: explicit id, then folder, then VM, then
// host. Platform calls are made without holding the guard.
func (v *VHM) resolve(ctx context.Context, e event.ScaleEvent) (string, error) {
	if id := e.ClusterID(); id != "" {
		return id, nil
	}

	if folder := e.FolderName(); folder != "" {
		id, err := v.clusterForFolder(ctx, folder)
		if err == nil {
			return id, nil
		}
		flog.Debugf("folder %s: %v", folder, err)
	}

	var id string
	if vmID := e.VMID(); vmID != "" {
		err := v.access.View(func(m clustermap.ClusterMap) error {
			var err error
			id, err = m.GetClusterIDForVM(vmID)
			return err
		})
		if err == nil {
			return id, nil
		}
	}
	if hostID := e.HostID(); hostID != "" {
		err := v.access.View(func(m clustermap.ClusterMap) error {
			var err error
			id, err = m.GetClusterIDForHost(hostID)
			return err
		})
		if err == nil {
			return id, nil
		}
	}
	return "", xerrors.Errorf("%s event %s: %w", e.Type(), e.ID(), ErrUnresolvable)
}

func (v *VHM) clusterForFolder(ctx context.Context, folder string) (string, error) {
	var id string
	err := v.access.View(func(m clustermap.ClusterMap) error {
		var err error
		id, err = m.GetClusterIDForFolder(folder)
		return err
	})
	if err == nil {
		return id, nil
	}
	if v.actions == nil {
		return "", err
	}

	vms, err := v.actions.ListVMsInFolder(ctx, folder)
	if err != nil {
		return "", xerrors.Errorf("list vms in folder: %w", err)
	}
	err = v.access.View(func(m clustermap.ClusterMap) error {
		var err error
		id, err = m.GetClusterIDFromVMs(vms)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := v.access.RunExclusive(func(m *clustermap.Map) error {
		return m.AssociateFolder(folder, id)
	}); err != nil {
		flog.Warnf("associate folder %s with cluster %s: %v", folder, id, err)
	}
	return id, nil
}

// group resolves every event and collects them per cluster in arrival order.
func (v *VHM) group(ctx context.Context, events []event.ScaleEvent) *orderedmap.OrderedMap[string, *event.Set] {
	groups := orderedmap.NewOrderedMap[string, *event.Set]()
	for _, e := range events {
		id, err := v.resolve(ctx, e)
		if err != nil {
			v.metrics.Unresolvable.Inc()
			flog.Warnf("dropping event: %v", err)
			reportDropped("", []event.ScaleEvent{e}, err)
			continue
		}
		e.SetClusterID(id)
		set, ok := groups.Get(id)
		if !ok {
			set = event.NewSet()
			groups.Set(id, set)
		}
		set.Add(e)
	}
	return groups
}

// dispatch handles every cluster with new, parked or deferred events.
func (v *VHM) dispatch(groups *orderedmap.OrderedMap[string, *event.Set]) {
	clusters := groups.Keys()
	seen := make(map[string]struct{}, len(clusters))
	for _, id := range clusters {
		seen[id] = struct{}{}
	}
	for _, extra := range [][]string{v.parked.Keys(), v.deferred.Keys()} {
		for _, id := range extra {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				clusters = append(clusters, id)
			}
		}
	}

	for _, id := range clusters {
		var events []event.ScaleEvent
		if set, ok := groups.Get(id); ok {
			events = set.Events()
		}
		v.dispatchCluster(id, events)
	}
}

func (v *VHM) dispatchCluster(clusterID string, events []event.ScaleEvent) {
	var ordinary []event.ScaleEvent
	pending, _ := v.parked.Get(clusterID)
	for _, e := range events {
		if li, ok := e.(*event.LimitInstruction); ok && li.IsBlocking() {
			flog.Infof("cluster %s: switch-to-manual instruction %s received", clusterID, li.ID())
			pending = append(pending, &handoff{instruction: li, state: WaitingForPolicySwitch})
			continue
		}
		ordinary = append(ordinary, e)
	}

	if len(pending) > 0 {
		deferred, _ := v.deferred.Get(clusterID)
		v.deferred.Delete(clusterID)
		if n := len(ordinary) + len(deferred); n > 0 {
			v.metrics.Discarded.Add(float64(n))
			flog.Warnf("cluster %s: discarding %d scale events behind switch-to-manual", clusterID, n)
			reportDropped(clusterID, append(deferred, ordinary...), ErrDiscarded)
		}
		pending = v.advance(clusterID, pending)
		if len(pending) > 0 {
			v.parked.Set(clusterID, pending)
		} else {
			v.parked.Delete(clusterID)
		}
		return
	}

	if deferred, ok := v.deferred.Get(clusterID); ok {
		if v.engine.IsBusy(clusterID) {
			v.deferred.Set(clusterID, append(deferred, ordinary...))
			v.metrics.Deferred.Add(float64(len(ordinary)))
			return
		}
		v.deferred.Delete(clusterID)
		merged := event.NewSet(deferred...)
		merged.AddAll(ordinary)
		ordinary = merged.Events()
	}
	if len(ordinary) == 0 {
		return
	}
	v.submit(clusterID, ordinary)
}

func (v *VHM) submit(clusterID string, events []event.ScaleEvent) {
	var s strategy.ScaleStrategy
	err := v.access.View(func(m clustermap.ClusterMap) error {
		var err error
		s, err = v.registry.ForCluster(m, clusterID)
		return err
	})
	if err != nil {
		flog.Warnf("cluster %s: dropping %d scale events: %v", clusterID, len(events), err)
		reportDropped(clusterID, events, err)
		return
	}

	kept, dropped := event.FilterByType(events, s.ScaleEventTypesHandled())
	if len(dropped) > 0 {
		v.metrics.PolicyMismatch.Add(float64(len(dropped)))
		flog.Warnf("cluster %s: %s strategy does not handle %d of %d events", clusterID, s.Key(), len(dropped), len(events))
		reportDropped(clusterID, dropped, xerrors.Errorf("%s strategy: %w", s.Key(), ErrPolicyMismatch))
	}
	if len(kept) == 0 {
		return
	}

	if !v.engine.Submit(clusterID, s, kept) {
		v.metrics.Rejected.Inc()
		v.metrics.Deferred.Add(float64(len(events)))
		flog.Infof("cluster %s busy, deferring %d events", clusterID, len(events))
		deferred, _ := v.deferred.Get(clusterID)
		v.deferred.Set(clusterID, append(deferred, events...))
	}
}

// reportDropped fails the reporters of events that will never be handled.
func reportDropped(clusterID string, events []event.ScaleEvent, err error) {
	event.ReportAll(events, event.NewFailedCompletionEvent(clusterID, err))
}
