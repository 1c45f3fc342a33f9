package strategy

import (
	"context"
	"github.com/tsundata/vhm/pkg/vc"
	"sort"
)

// VMChooser picks which VMs to enable or disable.
type VMChooser interface {
	ChooseVMsToEnable(candidates []string, n int) []string
	ChooseVMsToDisable(candidates []string, n int) []string
}

// DumbVMChooser takes the first n candidates by id.
type DumbVMChooser struct{}

func (DumbVMChooser) ChooseVMsToEnable(candidates []string, n int) []string {
	return firstN(candidates, n)
}

func (DumbVMChooser) ChooseVMsToDisable(candidates []string, n int) []string {
	return firstN(candidates, n)
}

func firstN(candidates []string, n int) []string {
	if n <= 0 {
		return nil
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// EDPolicy enables or disables compute VMs.
type EDPolicy interface {
	EnableVMs(ctx context.Context, vmIDs []string) error
	DisableVMs(ctx context.Context, vmIDs []string) error
}

// PowerEDPolicy enables a VM by powering it on and disables it by powering
// it off.
type PowerEDPolicy struct {
	actions vc.Actions
}

func NewPowerEDPolicy(actions vc.Actions) *PowerEDPolicy {
	return &PowerEDPolicy{actions: actions}
}

func (p *PowerEDPolicy) EnableVMs(ctx context.Context, vmIDs []string) error {
	if len(vmIDs) == 0 {
		return nil
	}
	return p.actions.PowerOnVMs(ctx, vmIDs)
}

func (p *PowerEDPolicy) DisableVMs(ctx context.Context, vmIDs []string) error {
	if len(vmIDs) == 0 {
		return nil
	}
	return p.actions.PowerOffVMs(ctx, vmIDs)
}
