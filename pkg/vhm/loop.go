package vhm

import (
	"context"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/util/runtime"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
)

// processOne runs one orchestration cycle. The loop ends after the cycle that
// sees the stop sentinel.
func (v *VHM) processOne(ctx context.Context) {
	events, err := v.queue.DrainBlocking(ctx)
	if err != nil {
		flog.Debugf("drain: %v", err)
		v.stopLoop()
		return
	}
	if stop := v.cycle(ctx, events); stop || !v.running.Load() {
		v.stopLoop()
	}
}

type batch struct {
	stateChanges []event.StateChange
	completions  []*event.CompletionEvent
	scale        []event.ScaleEvent
	stop         bool
}

func partition(events []event.Notification) *batch {
	b := &batch{}
	for _, e := range events {
		switch e.Kind() {
		case event.KindStateChange:
			if sc, ok := e.(event.StateChange); ok {
				b.stateChanges = append(b.stateChanges, sc)
			}
		case event.KindCompletion:
			if c, ok := e.(*event.CompletionEvent); ok {
				b.completions = append(b.completions, c)
			}
		case event.KindScale, event.KindBlocking:
			if se, ok := e.(event.ScaleEvent); ok {
				b.scale = append(b.scale, se)
			}
		default:
			if event.IsStop(e) {
				b.stop = true
			} else {
				flog.Debugf("ignoring %s event %s", e.Kind(), e.ID())
			}
		}
	}
	return b
}

func (v *VHM) cycle(ctx context.Context, events []event.Notification) bool {
	v.metrics.QueueDrains.Inc()
	v.metrics.DrainedEvents.Add(float64(len(events)))

	b := partition(events)
	implied := v.apply(b.stateChanges, b.completions)
	if b.stop {
		flog.Info("stop event received")
		return true
	}

	scale := append(b.scale, implied...)
	groups := v.group(ctx, scale)
	v.dispatch(groups)
	return false
}

// apply writes one batch of state changes and completions in a single
// exclusive section. A failing event is logged and skipped.
func (v *VHM) apply(stateChanges []event.StateChange, completions []*event.CompletionEvent) []event.ScaleEvent {
	if len(stateChanges) == 0 && len(completions) == 0 {
		return nil
	}
	var implied []event.ScaleEvent
	err := v.access.RunExclusive(func(m *clustermap.Map) error {
		for _, sc := range stateChanges {
			err := runtime.RecoverError(func() error {
				res, err := m.HandleClusterEvent(sc)
				implied = append(implied, res...)
				return err
			})
			if err != nil {
				v.metrics.StateChangeErrors.Inc()
				flog.Warnf("apply state change %s: %v", sc.ID(), err)
			}
		}
		for _, c := range completions {
			if err := m.HandleCompletionEvent(c); err != nil {
				v.metrics.StateChangeErrors.Inc()
				flog.Warnf("record completion for cluster %s: %v", c.ClusterID, err)
			}
		}
		return nil
	})
	if err != nil {
		flog.Error(err)
	}
	return implied
}
