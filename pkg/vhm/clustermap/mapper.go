package clustermap

import (
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/vhm/event"
)

const (
	AutoStrategyKey   = "auto"
	ManualStrategyKey = "manual"
)

// DefaultMapper selects "auto" for masters with automation enabled and
// "manual" otherwise.
type DefaultMapper struct{}

func (DefaultMapper) StrategyKey(vmd *meta.VMEventData, _ string) string {
	if vmd.Master != nil && vmd.Master.EnableAutomation != nil && *vmd.Master.EnableAutomation {
		return AutoStrategyKey
	}
	return ManualStrategyKey
}

func (DefaultMapper) ImpliedScaleEvents(vmd *meta.VMEventData, clusterID string, isNewCluster bool) []event.ScaleEvent {
	if vmd.Master == nil {
		return nil
	}
	var res []event.ScaleEvent
	if vmd.Master.EnableAutomation != nil && *vmd.Master.EnableAutomation {
		res = append(res, event.NewAutomationEnabledEvent(clusterID, isNewCluster))
	}
	if !isNewCluster && vmd.Master.MinInstances != nil && *vmd.Master.MinInstances >= 0 {
		res = append(res, event.NewMinInstancesChangedEvent(clusterID, *vmd.Master.MinInstances, false))
	}
	return res
}
