package vhm

import (
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
)

// HandoffState tracks a switch-to-manual instruction.
type HandoffState int

const (
	WaitingForPolicySwitch HandoffState = iota
	WaitingForScaleDrain
	Reported
)

func (s HandoffState) String() string {
	switch s {
	case WaitingForPolicySwitch:
		return "WaitingForPolicySwitch"
	case WaitingForScaleDrain:
		return "WaitingForScaleDrain"
	default:
		return "Reported"
	}
}

type handoff struct {
	instruction *event.LimitInstruction
	state       HandoffState
}

// advance re-evaluates the parked instructions of a cluster and returns the
// ones still waiting. An instruction is reported once the cluster's key is
// manual and nothing is in flight for it.
func (v *VHM) advance(clusterID string, pending []*handoff) []*handoff {
	var key string
	err := v.access.View(func(m clustermap.ClusterMap) error {
		var err error
		key, err = m.GetScaleStrategyKey(clusterID)
		return err
	})
	if xerrors.Is(err, clustermap.ErrNotFound) {
		flog.Warnf("cluster %s removed, dropping %d switch-to-manual instructions", clusterID, len(pending))
		for _, h := range pending {
			reportDropped(clusterID, []event.ScaleEvent{h.instruction}, err)
		}
		return nil
	}

	var waiting []*handoff
	for _, h := range pending {
		prev := h.state
		switch {
		case key != clustermap.ManualStrategyKey:
			h.state = WaitingForPolicySwitch
		case v.engine.IsBusy(clusterID):
			h.state = WaitingForScaleDrain
		default:
			h.state = Reported
		}
		if prev != h.state {
			flog.Infof("cluster %s: instruction %s %s -> %s", clusterID, h.instruction.ID(), prev, h.state)
		}
		if h.state != Reported {
			waiting = append(waiting, h)
			continue
		}
		v.metrics.BlockingReported.Inc()
		if r := h.instruction.Reporter(); r != nil {
			c := event.NewCompletionEvent(clusterID)
			c.Triggers = []event.ScaleEvent{h.instruction}
			r.ReportCompletion(c)
		}
	}
	return waiting
}
