package vc

import (
	"context"
	"golang.org/x/xerrors"
)

var ErrVMNotFound = xerrors.New("vm not found")

// Actions is the subset of the virtualization platform API the control
// plane needs.
type Actions interface {
	ListVMsInFolder(ctx context.Context, folder string) ([]string, error)
	// WaitForUpdates blocks until the inventory has moved past version and
	// returns every VM changed since then.
	WaitForUpdates(ctx context.Context, version string) (*Updates, error)
	PowerOnVMs(ctx context.Context, vmIDs []string) error
	PowerOffVMs(ctx context.Context, vmIDs []string) error
}

// VMUpdate is the platform's view of one changed VM.
type VMUpdate struct {
	MoRef      string            `yaml:"moRef"`
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Folder     string            `yaml:"folder"`
	IPAddr     string            `yaml:"ipAddr"`
	PowerState bool              `yaml:"powerState"`
	ExtraInfo  map[string]string `yaml:"extraInfo"`
	Removed    bool              `yaml:"-"`
}

type Updates struct {
	Version string
	VMs     []VMUpdate
}
