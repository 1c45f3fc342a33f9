package strategy

import (
	"context"
	"github.com/stretchr/testify/require"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/vc"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"testing"
)

type fakeED struct {
	enabled  []string
	disabled []string
	err      error
}

func (f *fakeED) EnableVMs(_ context.Context, vmIDs []string) error {
	f.enabled = append(f.enabled, vmIDs...)
	return f.err
}

func (f *fakeED) DisableVMs(_ context.Context, vmIDs []string) error {
	f.disabled = append(f.disabled, vmIDs...)
	return f.err
}

// newCluster builds c1 with min instances and elastic VMs vm-0..vm-{n-1},
// the first on of which are powered on.
func newCluster(t *testing.T, min, n, on int) *clustermap.Access {
	m := clustermap.New(nil)
	_, err := m.HandleClusterEvent(event.NewVMUpdatedEvent(meta.VMEventData{
		VMMoRef:    "c1",
		MasterUUID: meta.StringPtr("c1"),
		Master:     &meta.MasterVMData{MinInstances: meta.IntPtr(min), EnableAutomation: meta.BoolPtr(true)},
	}))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := m.HandleClusterEvent(event.NewVMUpdatedEvent(meta.VMEventData{
			VMMoRef:    "vm-" + string(rune('0'+i)),
			HostMoRef:  meta.StringPtr("host-1"),
			MasterUUID: meta.StringPtr("c1"),
			PowerState: meta.BoolPtr(i < on),
			IsElastic:  meta.BoolPtr(true),
		}))
		require.NoError(t, err)
	}
	return clustermap.NewAccess(m)
}

func setTarget(n int) *event.LimitInstruction {
	return event.NewLimitInstruction(event.Target{ClusterID: "c1"}, meta.ActionSetTarget, n, nil)
}

func TestRegistry(t *testing.T) {
	manual := NewManual(DumbVMChooser{}, &fakeED{})
	auto := NewAuto(DumbVMChooser{}, &fakeED{})
	r, err := NewRegistry(manual, auto)
	require.NoError(t, err)
	require.Equal(t, []string{"auto", "manual"}, r.Keys())

	_, err = NewRegistry(manual, manual)
	require.Error(t, err)

	access := newCluster(t, 0, 1, 0)
	h := access.RLock()
	defer h.Release()
	s, err := r.ForCluster(h, "c1")
	require.NoError(t, err)
	require.Equal(t, "auto", s.Key())

	_, err = r.ForCluster(h, "missing")
	require.ErrorIs(t, err, clustermap.ErrNotFound)

	only, err := NewRegistry(manual)
	require.NoError(t, err)
	_, err = only.ForCluster(h, "c1")
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestManualScaleUp(t *testing.T) {
	ed := &fakeED{}
	s := NewManual(DumbVMChooser{}, ed)
	access := newCluster(t, 0, 4, 1)

	c, err := s.Scale(context.Background(), &Request{
		ClusterID: "c1",
		Events:    []event.ScaleEvent{setTarget(2), setTarget(3), event.NewRebalanceEvent("c1")},
		Access:    access,
	})
	require.NoError(t, err)
	require.True(t, c.Succeeded)
	require.Equal(t, []string{"vm-1", "vm-2"}, ed.enabled)
	require.Equal(t, map[string]event.Decision{"vm-1": event.DecisionEnable, "vm-2": event.DecisionEnable}, c.Decisions)
}

func TestManualScaleDownClamped(t *testing.T) {
	ed := &fakeED{}
	s := NewManual(DumbVMChooser{}, ed)
	access := newCluster(t, 2, 3, 3)

	_, err := s.Scale(context.Background(), &Request{ClusterID: "c1", Events: []event.ScaleEvent{setTarget(-5)}, Access: access})
	require.NoError(t, err)
	require.Equal(t, []string{"vm-0", "vm-1", "vm-2"}, ed.disabled)
}

func TestManualIgnoresOtherEvents(t *testing.T) {
	ed := &fakeED{}
	s := NewManual(DumbVMChooser{}, ed)
	c, err := s.Scale(context.Background(), &Request{
		ClusterID: "c1",
		Events:    []event.ScaleEvent{event.NewRebalanceEvent("c1")},
		Access:    newCluster(t, 0, 2, 0),
	})
	require.NoError(t, err)
	require.Empty(t, c.Decisions)
	require.Empty(t, ed.enabled)
}

func TestManualPlatformFailure(t *testing.T) {
	ed := &fakeED{err: xerrors.New("platform down")}
	s := NewManual(DumbVMChooser{}, ed)
	_, err := s.Scale(context.Background(), &Request{ClusterID: "c1", Events: []event.ScaleEvent{setTarget(1)}, Access: newCluster(t, 0, 2, 0)})
	require.Error(t, err)
}

func TestAutoEnforcesMinimum(t *testing.T) {
	ed := &fakeED{}
	s := NewAuto(DumbVMChooser{}, ed)
	access := newCluster(t, 2, 4, 0)

	c, err := s.Scale(context.Background(), &Request{
		ClusterID: "c1",
		Events:    []event.ScaleEvent{event.NewAutomationEnabledEvent("c1", true)},
		Access:    access,
	})
	require.NoError(t, err)
	require.Len(t, c.Decisions, 2)
	require.Equal(t, []string{"vm-0", "vm-1"}, ed.enabled)
}

func TestAutoFollowsDemand(t *testing.T) {
	ed := &fakeED{}
	s := NewAuto(DumbVMChooser{}, ed)
	access := newCluster(t, 1, 4, 3)

	_, err := s.Scale(context.Background(), &Request{
		ClusterID: "c1",
		Events: []event.ScaleEvent{
			event.NewDemandEvent(event.Target{ClusterID: "c1"}, -1),
			event.NewDemandEvent(event.Target{ClusterID: "c1"}, -4),
		},
		Access: access,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"vm-0", "vm-1"}, ed.disabled)
}

func TestPowerEDPolicy(t *testing.T) {
	sim := vc.NewSimulator()
	sim.PutVM(vc.VMUpdate{MoRef: "vm-1"})
	p := NewPowerEDPolicy(sim)
	ctx := context.Background()

	require.NoError(t, p.EnableVMs(ctx, nil))
	require.Equal(t, 0, sim.PowerOps())
	require.NoError(t, p.EnableVMs(ctx, []string{"vm-1"}))
	vm, _ := sim.VM("vm-1")
	require.True(t, vm.PowerState)
	require.NoError(t, p.DisableVMs(ctx, []string{"vm-1"}))
	vm, _ = sim.VM("vm-1")
	require.False(t, vm.PowerState)
	require.ErrorIs(t, p.DisableVMs(ctx, []string{"nope"}), vc.ErrVMNotFound)
}

func TestDumbVMChooser(t *testing.T) {
	c := DumbVMChooser{}
	require.Equal(t, []string{"a", "b"}, c.ChooseVMsToEnable([]string{"c", "b", "a"}, 2))
	require.Equal(t, []string{"a", "b", "c"}, c.ChooseVMsToDisable([]string{"c", "b", "a"}, 5))
	require.Nil(t, c.ChooseVMsToEnable([]string{"a"}, 0))
}
