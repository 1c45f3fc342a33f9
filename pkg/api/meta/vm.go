package meta

// ExtraInfo keys written by the cluster provisioner into each VM's
// configuration. The ClusterStateChangeListener turns them into VMEventData.
const (
	ExtraInfoMasterUUID     = "vhmInfo.masterVM.uuid"
	ExtraInfoMasterMoRef    = "vhmInfo.masterVM.moid"
	ExtraInfoElastic        = "vhmInfo.elastic"
	ExtraInfoEnable         = "vhmInfo.vhm.enable"
	ExtraInfoMinInstances   = "vhmInfo.min.computeNodeNum"
	ExtraInfoFolder         = "vhmInfo.serengeti.uuid"
	ExtraInfoJobTrackerPort = "vhmInfo.jobtracker.port"
)

// MasterVMData holds the fields only a cluster master carries.
type MasterVMData struct {
	EnableAutomation *bool `json:"enableAutomation,omitempty" yaml:"enableAutomation,omitempty"`
	MinInstances     *int  `json:"minInstances,omitempty" yaml:"minInstances,omitempty"`
}

// VMEventData is a partial observation of one VM. Only non-nil fields are
// applied to the cluster map.
type VMEventData struct {
	VMMoRef        string        `json:"vmMoRef" yaml:"vmMoRef"`
	HostMoRef      *string       `json:"hostMoRef,omitempty" yaml:"hostMoRef,omitempty"`
	MasterUUID     *string       `json:"masterUUID,omitempty" yaml:"masterUUID,omitempty"`
	MyUUID         *string       `json:"myUUID,omitempty" yaml:"myUUID,omitempty"`
	MyName         *string       `json:"myName,omitempty" yaml:"myName,omitempty"`
	IPAddr         *string       `json:"ipAddr,omitempty" yaml:"ipAddr,omitempty"`
	PowerState     *bool         `json:"powerState,omitempty" yaml:"powerState,omitempty"`
	IsElastic      *bool         `json:"isElastic,omitempty" yaml:"isElastic,omitempty"`
	JobTrackerPort *int          `json:"jobTrackerPort,omitempty" yaml:"jobTrackerPort,omitempty"`
	Folder         *string       `json:"folder,omitempty" yaml:"folder,omitempty"`
	Master         *MasterVMData `json:"master,omitempty" yaml:"master,omitempty"`
	IsLeaving      bool          `json:"isLeaving,omitempty" yaml:"isLeaving,omitempty"`
}

// HasMasterData reports whether the observation designates a master.
func (d *VMEventData) HasMasterData() bool {
	return d.Master != nil && (d.Master.EnableAutomation != nil || d.Master.MinInstances != nil)
}

func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }

func IntPtr(i int) *int { return &i }
