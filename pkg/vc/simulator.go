package vc

import (
	"context"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
	"os"
	"sort"
	"strconv"
	"sync"
)

// Topology is the YAML document accepted by LoadTopology.
type Topology struct {
	VMs []VMUpdate `yaml:"vms"`
}

type simVM struct {
	VMUpdate
	changedAt uint64
}

// Simulator is an in-memory Actions implementation.
type Simulator struct {
	mu      sync.Mutex
	version uint64
	vms     map[string]*simVM
	// removed keeps tombstones so waiters observe deletions.
	removed map[string]uint64
	changed chan struct{}

	powerOps int
}

var _ Actions = (*Simulator)(nil)

func NewSimulator() *Simulator {
	return &Simulator{
		vms:     make(map[string]*simVM),
		removed: make(map[string]uint64),
		changed: make(chan struct{}),
	}
}

// LoadTopology reads a YAML topology file into a new Simulator.
func LoadTopology(path string) (*Simulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read topology: %w", err)
	}
	return ParseTopology(data)
}

func ParseTopology(data []byte) (*Simulator, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, xerrors.Errorf("parse topology: %w", err)
	}
	s := NewSimulator()
	for _, vm := range t.VMs {
		if vm.MoRef == "" {
			return nil, xerrors.New("topology vm without moRef")
		}
		s.PutVM(vm)
	}
	return s, nil
}

// bump must be called with mu held.
func (s *Simulator) bump() uint64 {
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
	return s.version
}

// PutVM adds or replaces a VM.
func (s *Simulator) PutVM(vm VMUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := make(map[string]string, len(vm.ExtraInfo))
	for k, v := range vm.ExtraInfo {
		info[k] = v
	}
	vm.ExtraInfo = info
	vm.Removed = false
	delete(s.removed, vm.MoRef)
	s.vms[vm.MoRef] = &simVM{VMUpdate: vm, changedAt: s.bump()}
}

// SetExtraInfo changes one extraInfo key of an existing VM.
func (s *Simulator) SetExtraInfo(moRef, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[moRef]
	if !ok {
		return xerrors.Errorf("%s: %w", moRef, ErrVMNotFound)
	}
	vm.ExtraInfo[key] = value
	vm.changedAt = s.bump()
	return nil
}

func (s *Simulator) RemoveVM(moRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vms[moRef]; !ok {
		return
	}
	delete(s.vms, moRef)
	s.removed[moRef] = s.bump()
}

func (s *Simulator) VM(moRef string) (VMUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[moRef]
	if !ok {
		return VMUpdate{}, false
	}
	return vm.VMUpdate, true
}

// PowerOps counts power operations issued so far.
func (s *Simulator) PowerOps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powerOps
}

func (s *Simulator) ListVMsInFolder(_ context.Context, folder string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []string
	for id, vm := range s.vms {
		if vm.Folder == folder {
			res = append(res, id)
		}
	}
	sort.Strings(res)
	return res, nil
}

func (s *Simulator) WaitForUpdates(ctx context.Context, version string) (*Updates, error) {
	var since uint64
	if version != "" {
		v, err := strconv.ParseUint(version, 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("bad version %q: %w", version, err)
		}
		since = v
	}

	for {
		s.mu.Lock()
		if s.version > since {
			u := s.collect(since)
			s.mu.Unlock()
			return u, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// collect must be called with mu held.
func (s *Simulator) collect(since uint64) *Updates {
	u := &Updates{Version: strconv.FormatUint(s.version, 10)}
	for _, vm := range s.vms {
		if vm.changedAt > since {
			c := vm.VMUpdate
			c.ExtraInfo = make(map[string]string, len(vm.ExtraInfo))
			for k, v := range vm.ExtraInfo {
				c.ExtraInfo[k] = v
			}
			u.VMs = append(u.VMs, c)
		}
	}
	for id, at := range s.removed {
		if at > since {
			u.VMs = append(u.VMs, VMUpdate{MoRef: id, Removed: true})
		}
	}
	sort.Slice(u.VMs, func(i, j int) bool { return u.VMs[i].MoRef < u.VMs[j].MoRef })
	return u
}

func (s *Simulator) PowerOnVMs(_ context.Context, vmIDs []string) error {
	return s.setPower(vmIDs, true)
}

func (s *Simulator) PowerOffVMs(_ context.Context, vmIDs []string) error {
	return s.setPower(vmIDs, false)
}

func (s *Simulator) setPower(vmIDs []string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range vmIDs {
		if _, ok := s.vms[id]; !ok {
			return xerrors.Errorf("%s: %w", id, ErrVMNotFound)
		}
	}
	if len(vmIDs) == 0 {
		return nil
	}
	v := s.bump()
	for _, id := range vmIDs {
		vm := s.vms[id]
		vm.PowerState = on
		vm.changedAt = v
	}
	s.powerOps++
	return nil
}
