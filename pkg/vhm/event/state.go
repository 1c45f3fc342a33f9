package event

import "github.com/tsundata/vhm/pkg/api/meta"

// StateChange events mutate the cluster map.
type StateChange interface {
	Notification
	stateChange()
}

type stateChangeBase struct {
	Base
}

func (*stateChangeBase) Kind() Kind { return KindStateChange }

func (*stateChangeBase) stateChange() {}

// VMUpdatedEvent applies a partial VM observation.
type VMUpdatedEvent struct {
	stateChangeBase
	VM meta.VMEventData
}

func NewVMUpdatedEvent(vm meta.VMEventData, opts ...Option) *VMUpdatedEvent {
	return &VMUpdatedEvent{stateChangeBase: stateChangeBase{NewBase(opts...)}, VM: vm}
}

// VMRemovedEvent deletes a VM, and its cluster when the VM was master.
type VMRemovedEvent struct {
	stateChangeBase
	VMID string
}

func NewVMRemovedEvent(vmID string, opts ...Option) *VMRemovedEvent {
	return &VMRemovedEvent{stateChangeBase: stateChangeBase{NewBase(opts...)}, VMID: vmID}
}

// ScaleStrategyChangeEvent overwrites a cluster's strategy key.
type ScaleStrategyChangeEvent struct {
	stateChangeBase
	ClusterID      string
	NewStrategyKey string
}

func NewScaleStrategyChangeEvent(clusterID, key string, opts ...Option) *ScaleStrategyChangeEvent {
	return &ScaleStrategyChangeEvent{
		stateChangeBase: stateChangeBase{NewBase(opts...)},
		ClusterID:       clusterID,
		NewStrategyKey:  key,
	}
}
