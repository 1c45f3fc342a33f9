package strategy

import (
	"context"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
)

type clusterSize struct {
	on           []string
	off          []string
	minInstances int
}

func (s clusterSize) total() int { return len(s.on) + len(s.off) }

// readSize takes a snapshot and releases the handle before returning.
func readSize(access *clustermap.Access, clusterID string) (clusterSize, error) {
	var s clusterSize
	err := access.View(func(m clustermap.ClusterMap) error {
		var err error
		if s.on, err = m.ListComputeVMsForClusterAndPowerState(clusterID, true); err != nil {
			return err
		}
		if s.off, err = m.ListComputeVMsForClusterAndPowerState(clusterID, false); err != nil {
			return err
		}
		s.minInstances, err = m.GetMinInstances(clusterID)
		return err
	})
	return s, err
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// resize brings the powered-on elastic VM count of the cluster to target.
func resize(ctx context.Context, clusterID string, size clusterSize, target int, chooser VMChooser, ed EDPolicy) (*event.CompletionEvent, error) {
	c := event.NewCompletionEvent(clusterID)
	delta := target - len(size.on)
	switch {
	case delta > 0:
		vms := chooser.ChooseVMsToEnable(size.off, delta)
		flog.Infof("cluster %s: enabling %d vms to reach %d", clusterID, len(vms), target)
		if err := ed.EnableVMs(ctx, vms); err != nil {
			return nil, xerrors.Errorf("enable vms: %w", err)
		}
		for _, vm := range vms {
			c.AddDecision(vm, event.DecisionEnable)
		}
	case delta < 0:
		vms := chooser.ChooseVMsToDisable(size.on, -delta)
		flog.Infof("cluster %s: disabling %d vms to reach %d", clusterID, len(vms), target)
		if err := ed.DisableVMs(ctx, vms); err != nil {
			return nil, xerrors.Errorf("disable vms: %w", err)
		}
		for _, vm := range vms {
			c.AddDecision(vm, event.DecisionDisable)
		}
	default:
		flog.Debugf("cluster %s: already at %d", clusterID, target)
	}
	return c, nil
}
