package clustermap

import (
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
)

var (
	ErrNotFound  = xerrors.New("not found")
	ErrAmbiguous = xerrors.New("ambiguous")
)

// ClusterMap is the read side of the cluster state store. Every method is
// side-effect free and safe to call from any number of readers holding a
// Handle.
type ClusterMap interface {
	// ListComputeVMsForClusterHostAndPowerState lists elastic VMs of a cluster
	// in the given power state. An empty hostID matches every host.
	ListComputeVMsForClusterHostAndPowerState(clusterID, hostID string, powerState bool) ([]string, error)
	ListComputeVMsForClusterAndPowerState(clusterID string, powerState bool) ([]string, error)
	// ListComputeVMsForPowerState lists elastic VMs across all clusters.
	ListComputeVMsForPowerState(powerState bool) []string
	ListHostsWithComputeVMsForCluster(clusterID string) ([]string, error)

	GetClusterIDForFolder(folder string) (string, error)
	GetClusterIDForVM(vmID string) (string, error)
	GetHostIDForVM(vmID string) (string, error)
	// GetHostIDsForVMs maps each known VM with a host to that host.
	GetHostIDsForVMs(vmIDs []string) map[string]string
	// GetClusterIDFromVMs returns the cluster of the first VM that belongs to one.
	GetClusterIDFromVMs(vmIDs []string) (string, error)
	// GetClusterIDForHost fails with ErrAmbiguous when VMs of more than one
	// cluster run on the host.
	GetClusterIDForHost(hostID string) (string, error)

	GetScaleStrategyKey(clusterID string) (string, error)
	GetMinInstances(clusterID string) (int, error)
	GetClusterInfo(clusterID string) (*meta.ClusterInfo, error)
	GetAllKnownClusterIDs() []string

	// GetLastClusterScaleCompletionEvent returns nil without error if the
	// cluster has not completed a scaling invocation yet.
	GetLastClusterScaleCompletionEvent(clusterID string) (*event.CompletionEvent, error)
	// GetClusterScaleCompletionEvents returns the retained history, newest first.
	GetClusterScaleCompletionEvents(clusterID string) ([]*event.CompletionEvent, error)
	// CheckPowerStateOfVMs reports whether every known VM in vmIDs is in the
	// expected power state. Unknown VMs are ignored.
	CheckPowerStateOfVMs(vmIDs []string, expected bool) bool
}

// ExtraInfoMapper derives strategy selection and implied scale events from
// the master data of a VM observation.
type ExtraInfoMapper interface {
	StrategyKey(vmd *meta.VMEventData, clusterID string) string
	// ImpliedScaleEvents is called every time master data is applied to a
	// cluster. isNewCluster is true the first time for a given cluster.
	ImpliedScaleEvents(vmd *meta.VMEventData, clusterID string, isNewCluster bool) []event.ScaleEvent
}
