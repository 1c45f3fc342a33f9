package clustermap

import (
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"sort"
)

var _ ClusterMap = (*Map)(nil)

func (m *Map) cluster(id string) (*clusterInfo, error) {
	ci, ok := m.clusters[id]
	if !ok {
		return nil, xerrors.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	return ci, nil
}

// clusterOf returns the VM's cluster only if that cluster still exists.
func (m *Map) clusterOf(vm *vmInfo) (*clusterInfo, bool) {
	if vm.clusterID == "" {
		return nil, false
	}
	ci, ok := m.clusters[vm.clusterID]
	return ci, ok
}

func (m *Map) ListComputeVMsForClusterHostAndPowerState(clusterID, hostID string, powerState bool) ([]string, error) {
	if _, err := m.cluster(clusterID); err != nil {
		return nil, err
	}
	var res []string
	for _, vm := range m.vms {
		if !vm.isElastic || vm.clusterID != clusterID || vm.powerState != powerState {
			continue
		}
		if hostID != "" && vm.hostID != hostID {
			continue
		}
		res = append(res, vm.id)
	}
	sort.Strings(res)
	return res, nil
}

func (m *Map) ListComputeVMsForClusterAndPowerState(clusterID string, powerState bool) ([]string, error) {
	return m.ListComputeVMsForClusterHostAndPowerState(clusterID, "", powerState)
}

func (m *Map) ListComputeVMsForPowerState(powerState bool) []string {
	var res []string
	for _, vm := range m.vms {
		if _, ok := m.clusterOf(vm); ok && vm.isElastic && vm.powerState == powerState {
			res = append(res, vm.id)
		}
	}
	sort.Strings(res)
	return res
}

func (m *Map) ListHostsWithComputeVMsForCluster(clusterID string) ([]string, error) {
	if _, err := m.cluster(clusterID); err != nil {
		return nil, err
	}
	hosts := make(map[string]struct{})
	for _, vm := range m.vms {
		if vm.isElastic && vm.clusterID == clusterID && vm.hostID != "" {
			hosts[vm.hostID] = struct{}{}
		}
	}
	return sortedKeys(hosts), nil
}

func (m *Map) GetClusterIDForFolder(folder string) (string, error) {
	for _, ci := range m.clusters {
		if folder != "" && ci.folder == folder {
			return ci.id, nil
		}
	}
	return "", xerrors.Errorf("folder %s: %w", folder, ErrNotFound)
}

func (m *Map) GetClusterIDForVM(vmID string) (string, error) {
	vm, ok := m.vms[vmID]
	if !ok {
		return "", xerrors.Errorf("vm %s: %w", vmID, ErrNotFound)
	}
	ci, ok := m.clusterOf(vm)
	if !ok {
		return "", xerrors.Errorf("cluster of vm %s: %w", vmID, ErrNotFound)
	}
	return ci.id, nil
}

func (m *Map) GetHostIDForVM(vmID string) (string, error) {
	vm, ok := m.vms[vmID]
	if !ok {
		return "", xerrors.Errorf("vm %s: %w", vmID, ErrNotFound)
	}
	if vm.hostID == "" {
		return "", xerrors.Errorf("host of vm %s: %w", vmID, ErrNotFound)
	}
	return vm.hostID, nil
}

func (m *Map) GetHostIDsForVMs(vmIDs []string) map[string]string {
	res := make(map[string]string, len(vmIDs))
	for _, id := range vmIDs {
		if vm, ok := m.vms[id]; ok && vm.hostID != "" {
			res[id] = vm.hostID
		}
	}
	return res
}

func (m *Map) GetClusterIDFromVMs(vmIDs []string) (string, error) {
	for _, id := range vmIDs {
		if vm, ok := m.vms[id]; ok {
			if ci, ok := m.clusterOf(vm); ok {
				return ci.id, nil
			}
		}
	}
	return "", xerrors.Errorf("cluster for %d vms: %w", len(vmIDs), ErrNotFound)
}

func (m *Map) GetClusterIDForHost(hostID string) (string, error) {
	found := make(map[string]struct{})
	for _, vm := range m.vms {
		if vm.hostID != hostID {
			continue
		}
		if ci, ok := m.clusterOf(vm); ok {
			found[ci.id] = struct{}{}
		}
	}
	switch len(found) {
	case 0:
		return "", xerrors.Errorf("cluster for host %s: %w", hostID, ErrNotFound)
	case 1:
		for id := range found {
			return id, nil
		}
	}
	return "", xerrors.Errorf("host %s runs vms of %v: %w", hostID, sortedKeys(found), ErrAmbiguous)
}

func (m *Map) GetScaleStrategyKey(clusterID string) (string, error) {
	ci, err := m.cluster(clusterID)
	if err != nil {
		return "", err
	}
	return ci.strategyKey, nil
}

func (m *Map) GetMinInstances(clusterID string) (int, error) {
	ci, err := m.cluster(clusterID)
	if err != nil {
		return 0, err
	}
	return ci.minInstances, nil
}

func (m *Map) GetClusterInfo(clusterID string) (*meta.ClusterInfo, error) {
	ci, err := m.cluster(clusterID)
	if err != nil {
		return nil, err
	}
	info := &meta.ClusterInfo{
		ID:           ci.id,
		Name:         ci.name,
		Folder:       ci.folder,
		MinInstances: ci.minInstances,
		StrategyKey:  ci.strategyKey,
	}
	hosts := make(map[string]struct{})
	for _, vm := range m.vms {
		if !vm.isElastic || vm.clusterID != ci.id {
			continue
		}
		if vm.powerState {
			info.PoweredOn++
		} else {
			info.PoweredOff++
		}
		if vm.hostID != "" {
			hosts[vm.hostID] = struct{}{}
		}
	}
	info.Hosts = sortedKeys(hosts)
	if len(ci.completions) > 0 {
		info.LastCompletion = ci.completions[0].Summary()
	}
	return info, nil
}

func (m *Map) GetAllKnownClusterIDs() []string {
	ids := make([]string, 0, len(m.clusters))
	for id := range m.clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Map) GetLastClusterScaleCompletionEvent(clusterID string) (*event.CompletionEvent, error) {
	ci, err := m.cluster(clusterID)
	if err != nil {
		return nil, err
	}
	if len(ci.completions) == 0 {
		return nil, nil
	}
	return ci.completions[0], nil
}

func (m *Map) GetClusterScaleCompletionEvents(clusterID string) ([]*event.CompletionEvent, error) {
	ci, err := m.cluster(clusterID)
	if err != nil {
		return nil, err
	}
	res := make([]*event.CompletionEvent, len(ci.completions))
	copy(res, ci.completions)
	return res, nil
}

func (m *Map) CheckPowerStateOfVMs(vmIDs []string, expected bool) bool {
	for _, id := range vmIDs {
		vm, ok := m.vms[id]
		if !ok {
			flog.Warnf("vm %s does not exist in cluster map", id)
			continue
		}
		if vm.powerState != expected {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	res := make([]string, 0, len(set))
	for k := range set {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
