package event

import "github.com/tsundata/vhm/pkg/api/meta"

// Scale event types, used by strategies to declare what they handle.
const (
	TypeLimitInstruction    = "LimitInstruction"
	TypeDemand              = "Demand"
	TypeRebalance           = "Rebalance"
	TypeAutomationEnabled   = "AutomationEnabled"
	TypeMinInstancesChanged = "MinInstancesChanged"
)

// Target addresses a scale event. Any subset of fields may be set; the
// orchestration loop resolves ClusterID from the others before dispatch.
type Target struct {
	ClusterID string
	HostID    string
	VMID      string
	Folder    string
}

// ScaleEvent may cause a cluster's strategy to be invoked.
type ScaleEvent interface {
	Notification
	Type() string
	ClusterID() string
	HostID() string
	VMID() string
	FolderName() string
	SetClusterID(id string)
	// Reporter is nil unless someone is waiting on the outcome.
	Reporter() CompletionReporter
}

// ScaleBase implements ScaleEvent for embedding types.
type ScaleBase struct {
	Base
	eventType string
	target    Target
	reporter  CompletionReporter
}

func NewScaleBase(eventType string, target Target, opts ...Option) ScaleBase {
	return ScaleBase{Base: NewBase(opts...), eventType: eventType, target: target}
}

func (*ScaleBase) Kind() Kind { return KindScale }

func (s *ScaleBase) Type() string { return s.eventType }

func (s *ScaleBase) ClusterID() string { return s.target.ClusterID }

func (s *ScaleBase) HostID() string { return s.target.HostID }

func (s *ScaleBase) VMID() string { return s.target.VMID }

func (s *ScaleBase) FolderName() string { return s.target.Folder }

func (s *ScaleBase) SetClusterID(id string) { s.target.ClusterID = id }

func (s *ScaleBase) Reporter() CompletionReporter { return s.reporter }

// SetReporter attaches r. It must be called before the event is pushed.
func (s *ScaleBase) SetReporter(r CompletionReporter) { s.reporter = r }

// DemandEvent asks an automated strategy to grow (Delta > 0) or shrink.
type DemandEvent struct {
	ScaleBase
	Delta int
}

func NewDemandEvent(target Target, delta int, opts ...Option) *DemandEvent {
	return &DemandEvent{ScaleBase: NewScaleBase(TypeDemand, target, opts...), Delta: delta}
}

// RebalanceEvent is a periodic nudge for automated clusters.
type RebalanceEvent struct {
	ScaleBase
}

func NewRebalanceEvent(clusterID string) *RebalanceEvent {
	return &RebalanceEvent{ScaleBase: NewScaleBase(TypeRebalance, Target{ClusterID: clusterID}, CanBeClearedFromQueue())}
}

// AutomationEnabledEvent is implied when a master declares automation.
type AutomationEnabledEvent struct {
	ScaleBase
	NewCluster bool
}

func NewAutomationEnabledEvent(clusterID string, newCluster bool) *AutomationEnabledEvent {
	return &AutomationEnabledEvent{
		ScaleBase:  NewScaleBase(TypeAutomationEnabled, Target{ClusterID: clusterID}),
		NewCluster: newCluster,
	}
}

// MinInstancesChangedEvent is implied when an existing cluster's minimum moves.
type MinInstancesChangedEvent struct {
	ScaleBase
	MinInstances int
	NewCluster   bool
}

func NewMinInstancesChangedEvent(clusterID string, minInstances int, newCluster bool) *MinInstancesChangedEvent {
	return &MinInstancesChangedEvent{
		ScaleBase:    NewScaleBase(TypeMinInstancesChanged, Target{ClusterID: clusterID}),
		MinInstances: minInstances,
		NewCluster:   newCluster,
	}
}

// LimitInstruction is an administrative command. WaitForManual instructions
// are blocking: they are reported once the cluster is manual and idle.
type LimitInstruction struct {
	ScaleBase
	Action      meta.LimitAction
	TargetCount int
}

func NewLimitInstruction(target Target, action meta.LimitAction, count int, reporter CompletionReporter) *LimitInstruction {
	li := &LimitInstruction{
		ScaleBase:   NewScaleBase(TypeLimitInstruction, target),
		Action:      action,
		TargetCount: count,
	}
	li.SetReporter(reporter)
	return li
}

func (l *LimitInstruction) Kind() Kind {
	if l.IsBlocking() {
		return KindBlocking
	}
	return KindScale
}

func (l *LimitInstruction) IsBlocking() bool {
	return l.Action == meta.ActionWaitForManual
}
