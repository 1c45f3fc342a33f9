package clustermap

import (
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
)

const DefaultCompletionRetention = 32

// PendingClusterSeed holds master data observed before the VM's cluster was
// known. It is consumed once, when the cluster is created.
type PendingClusterSeed struct {
	Master meta.MasterVMData
}

func (s *PendingClusterSeed) merge(m *meta.MasterVMData) {
	if m.EnableAutomation != nil {
		s.Master.EnableAutomation = m.EnableAutomation
	}
	if m.MinInstances != nil {
		s.Master.MinInstances = m.MinInstances
	}
}

type hostInfo struct {
	id string
}

type vmInfo struct {
	id             string
	hostID         string
	clusterID      string
	powerState     bool
	isElastic      bool
	isMaster       bool
	uuid           string
	name           string
	ipAddr         string
	folder         string
	jobTrackerPort *int
	seed           *PendingClusterSeed
}

type clusterInfo struct {
	id            string
	name          string
	folder        string
	minInstances  int
	strategyKey   string
	hasMasterData bool
	completions   []*event.CompletionEvent
}

// Map is the cluster state store. It does no locking of its own; readers go
// through Access.RLock and the single writer through Access.RunExclusive.
type Map struct {
	hosts    map[string]*hostInfo
	vms      map[string]*vmInfo
	clusters map[string]*clusterInfo

	mapper    ExtraInfoMapper
	retention int
}

type Option func(*Map)

// WithCompletionRetention keeps the newest n completion events per cluster.
func WithCompletionRetention(n int) Option {
	return func(m *Map) {
		if n > 0 {
			m.retention = n
		}
	}
}

func New(mapper ExtraInfoMapper, opts ...Option) *Map {
	if mapper == nil {
		mapper = DefaultMapper{}
	}
	m := &Map{
		hosts:     make(map[string]*hostInfo),
		vms:       make(map[string]*vmInfo),
		clusters:  make(map[string]*clusterInfo),
		mapper:    mapper,
		retention: DefaultCompletionRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleClusterEvent applies a state change and returns the scale events it
// implies.
func (m *Map) HandleClusterEvent(e event.StateChange) ([]event.ScaleEvent, error) {
	switch ev := e.(type) {
	case *event.VMUpdatedEvent:
		return m.updateVM(&ev.VM), nil
	case *event.VMRemovedEvent:
		m.removeVM(ev.VMID)
		return nil, nil
	case *event.ScaleStrategyChangeEvent:
		return nil, m.changeScaleStrategy(ev.ClusterID, ev.NewStrategyKey)
	default:
		return nil, xerrors.Errorf("unsupported state change event %T", e)
	}
}

// HandleCompletionEvent records c as the newest completion of its cluster.
func (m *Map) HandleCompletionEvent(c *event.CompletionEvent) error {
	ci, ok := m.clusters[c.ClusterID]
	if !ok {
		return xerrors.Errorf("cluster %s: %w", c.ClusterID, ErrNotFound)
	}
	n := len(ci.completions) + 1
	if n > m.retention {
		n = m.retention
	}
	completions := make([]*event.CompletionEvent, 0, n)
	completions = append(completions, c)
	completions = append(completions, ci.completions[:n-1]...)
	ci.completions = completions
	return nil
}

// AssociateFolder records that folder holds clusterID.
func (m *Map) AssociateFolder(folder, clusterID string) error {
	ci, ok := m.clusters[clusterID]
	if !ok {
		return xerrors.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	ci.folder = folder
	return nil
}

func (m *Map) host(id string) *hostInfo {
	h, ok := m.hosts[id]
	if !ok {
		h = &hostInfo{id: id}
		m.hosts[id] = h
	}
	return h
}

func (m *Map) updateVM(vmd *meta.VMEventData) []event.ScaleEvent {
	vm, ok := m.vms[vmd.VMMoRef]
	if !ok {
		vm = &vmInfo{id: vmd.VMMoRef}
		m.vms[vmd.VMMoRef] = vm
		flog.Infof("new vm %s", vm.id)
	}

	if vmd.HostMoRef != nil {
		vm.hostID = m.host(*vmd.HostMoRef).id
	}
	if vmd.MasterUUID != nil {
		vm.clusterID = *vmd.MasterUUID
	}
	if vmd.PowerState != nil {
		vm.powerState = *vmd.PowerState
	}
	if vmd.MyName != nil {
		vm.name = *vmd.MyName
	}
	if vmd.MyUUID != nil {
		vm.uuid = *vmd.MyUUID
	}
	if vmd.IPAddr != nil {
		vm.ipAddr = *vmd.IPAddr
	}
	if vmd.JobTrackerPort != nil {
		port := *vmd.JobTrackerPort
		vm.jobTrackerPort = &port
	}
	if vmd.IsElastic != nil {
		vm.isElastic = *vmd.IsElastic
	}
	if vmd.Folder != nil {
		vm.folder = *vmd.Folder
	}
	if vmd.HasMasterData() {
		vm.isMaster = true
	}
	if vm.uuid != "" && vm.uuid == vm.clusterID {
		vm.isMaster = true
	}

	if !vm.isMaster || vm.clusterID == "" {
		if vmd.HasMasterData() {
			if vm.seed == nil {
				vm.seed = &PendingClusterSeed{}
			}
			vm.seed.merge(vmd.Master)
		}
		return nil
	}

	ci, ok := m.clusters[vm.clusterID]
	if !ok {
		ci = &clusterInfo{id: vm.clusterID, strategyKey: ManualStrategyKey}
		m.clusters[ci.id] = ci
		flog.Infof("new cluster %s", ci.id)
	}

	// a flushed seed and the event's own master data are applied as one
	var implied []event.ScaleEvent
	switch {
	case vm.seed != nil:
		seed := vm.seed
		vm.seed = nil
		if vmd.HasMasterData() {
			seed.merge(vmd.Master)
		}
		merged := *vmd
		merged.Master = &seed.Master
		implied = m.applyMasterData(ci, &merged)
	case vmd.HasMasterData():
		implied = m.applyMasterData(ci, vmd)
	}
	ci.name = vm.name
	if vm.folder != "" {
		ci.folder = vm.folder
	}
	return implied
}

func (m *Map) applyMasterData(ci *clusterInfo, vmd *meta.VMEventData) []event.ScaleEvent {
	isNewCluster := !ci.hasMasterData
	ci.hasMasterData = true
	if vmd.Master.EnableAutomation != nil {
		ci.strategyKey = m.mapper.StrategyKey(vmd, ci.id)
	}
	if vmd.Master.MinInstances != nil {
		ci.minInstances = *vmd.Master.MinInstances
	}
	return m.mapper.ImpliedScaleEvents(vmd, ci.id, isNewCluster)
}

func (m *Map) removeVM(vmID string) {
	vm, ok := m.vms[vmID]
	if !ok {
		return
	}
	if vm.isMaster && vm.clusterID != "" {
		if _, ok := m.clusters[vm.clusterID]; ok {
			flog.Infof("remove cluster %s", vm.clusterID)
			delete(m.clusters, vm.clusterID)
		}
	}
	flog.Infof("remove vm %s", vmID)
	delete(m.vms, vmID)
}

func (m *Map) changeScaleStrategy(clusterID, key string) error {
	ci, ok := m.clusters[clusterID]
	if !ok {
		return xerrors.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	ci.strategyKey = key
	return nil
}
