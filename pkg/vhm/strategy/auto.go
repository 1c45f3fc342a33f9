package strategy

import (
	"context"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
)

// Auto keeps a cluster between its minimum and its elastic VM count,
// following demand.
type Auto struct {
	chooser VMChooser
	ed      EDPolicy
}

var _ ScaleStrategy = (*Auto)(nil)

func NewAuto(chooser VMChooser, ed EDPolicy) *Auto {
	return &Auto{chooser: chooser, ed: ed}
}

func (*Auto) Key() string { return clustermap.AutoStrategyKey }

func (*Auto) ScaleEventTypesHandled() []string {
	return []string{
		event.TypeAutomationEnabled,
		event.TypeMinInstancesChanged,
		event.TypeDemand,
		event.TypeRebalance,
	}
}

func (s *Auto) Scale(ctx context.Context, req *Request) (*event.CompletionEvent, error) {
	size, err := readSize(req.Access, req.ClusterID)
	if err != nil {
		return nil, err
	}

	delta := 0
	for _, e := range req.Events {
		if d, ok := e.(*event.DemandEvent); ok {
			delta += d.Delta
		}
	}
	lo := size.minInstances
	if lo > size.total() {
		lo = size.total()
	}
	target := clamp(len(size.on)+delta, lo, size.total())
	return resize(ctx, req.ClusterID, size, target, s.chooser, s.ed)
}
