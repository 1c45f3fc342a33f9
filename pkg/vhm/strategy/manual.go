package strategy

import (
	"context"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
)

// Manual never scales on its own. It only applies administrative targets.
type Manual struct {
	chooser VMChooser
	ed      EDPolicy
}

var _ ScaleStrategy = (*Manual)(nil)

func NewManual(chooser VMChooser, ed EDPolicy) *Manual {
	return &Manual{chooser: chooser, ed: ed}
}

func (*Manual) Key() string { return clustermap.ManualStrategyKey }

func (*Manual) ScaleEventTypesHandled() []string {
	return []string{event.TypeLimitInstruction}
}

func (s *Manual) Scale(ctx context.Context, req *Request) (*event.CompletionEvent, error) {
	// switch-to-manual instructions are parked by the loop and never get here
	li, ok := event.Latest[*event.LimitInstruction](req.Events)
	if !ok || li.Action != meta.ActionSetTarget {
		return event.NewCompletionEvent(req.ClusterID), nil
	}

	size, err := readSize(req.Access, req.ClusterID)
	if err != nil {
		return nil, err
	}
	target := clamp(li.TargetCount, 0, size.total())
	return resize(ctx, req.ClusterID, size, target, s.chooser, s.ed)
}
