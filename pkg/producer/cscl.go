package producer

import (
	"context"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/util/flowcontrol"
	"github.com/tsundata/vhm/pkg/util/runtime"
	"github.com/tsundata/vhm/pkg/vc"
	"github.com/tsundata/vhm/pkg/vhm"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPollQPS   = 5
	DefaultPollBurst = 1

	backoffKey = "platform"
)

// ClusterStateChangeListener turns platform inventory updates into VM state
// change events. Only VMs carrying the master uuid extraInfo key are
// forwarded, and only the fields that changed since the last update.
type ClusterStateChangeListener struct {
	actions vc.Actions
	limiter *rate.Limiter
	backoff *flowcontrol.Backoff

	consumer vhm.EventConsumer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	version string
	last    map[string]vc.VMUpdate
}

var _ vhm.EventProducer = (*ClusterStateChangeListener)(nil)

func NewClusterStateChangeListener(actions vc.Actions, qps float64, burst int) *ClusterStateChangeListener {
	if qps <= 0 {
		qps = DefaultPollQPS
	}
	if burst <= 0 {
		burst = DefaultPollBurst
	}
	return &ClusterStateChangeListener{
		actions: actions,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		backoff: flowcontrol.NewBackOffWithJitter(100*time.Millisecond, 10*time.Second, 0.2),
		last:    make(map[string]vc.VMUpdate),
	}
}

func (l *ClusterStateChangeListener) Register(consumer vhm.EventConsumer, _ *clustermap.Access) {
	l.consumer = consumer
}

func (l *ClusterStateChangeListener) Start(ctx context.Context) error {
	if l.consumer == nil {
		return xerrors.New("cluster state change listener not registered")
	}
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer runtime.HandleCrash()
		l.run(ctx)
	}()
	return nil
}

func (l *ClusterStateChangeListener) Stop() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *ClusterStateChangeListener) run(ctx context.Context) {
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}
		updates, err := l.actions.WaitForUpdates(ctx, l.version)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := l.backoff.Next(backoffKey)
			flog.Warnf("wait for platform updates, retrying in %s: %v", delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		l.backoff.Reset(backoffKey)
		l.version = updates.Version
		if events := l.translate(updates.VMs); len(events) > 0 {
			l.consumer.PushAll(events)
		}
	}
}

func (l *ClusterStateChangeListener) translate(vms []vc.VMUpdate) []event.Notification {
	var events []event.Notification
	for _, vm := range vms {
		prev, known := l.last[vm.MoRef]
		if vm.Removed {
			if known {
				delete(l.last, vm.MoRef)
				events = append(events, event.NewVMRemovedEvent(vm.MoRef))
			}
			continue
		}
		if _, ok := vm.ExtraInfo[meta.ExtraInfoMasterUUID]; !ok {
			continue
		}
		var base *vc.VMUpdate
		if known {
			base = &prev
		}
		vmd, changed := diff(base, vm)
		l.last[vm.MoRef] = vm
		if changed {
			events = append(events, event.NewVMUpdatedEvent(vmd))
		}
	}
	return events
}

// diff builds the partial observation of cur relative to prev. A nil prev
// yields every field.
func diff(prev *vc.VMUpdate, cur vc.VMUpdate) (meta.VMEventData, bool) {
	vmd := meta.VMEventData{VMMoRef: cur.MoRef}
	changed := prev == nil

	str := func(p, c string) *string {
		if c == "" || (prev != nil && p == c) {
			return nil
		}
		changed = true
		return meta.StringPtr(c)
	}
	info := func(key string) (string, bool) {
		c, ok := cur.ExtraInfo[key]
		if !ok {
			return "", false
		}
		if prev != nil {
			if p, ok := prev.ExtraInfo[key]; ok && p == c {
				return "", false
			}
		}
		changed = true
		return c, true
	}

	var p vc.VMUpdate
	if prev != nil {
		p = *prev
	}
	vmd.HostMoRef = str(p.Host, cur.Host)
	vmd.MyName = str(p.Name, cur.Name)
	vmd.IPAddr = str(p.IPAddr, cur.IPAddr)
	vmd.Folder = str(p.Folder, cur.Folder)
	if prev == nil || p.PowerState != cur.PowerState {
		changed = true
		vmd.PowerState = meta.BoolPtr(cur.PowerState)
	}

	if v, ok := info(meta.ExtraInfoMasterUUID); ok {
		vmd.MasterUUID = meta.StringPtr(v)
	}
	// the master carries its own moRef; its uuid is then the cluster id
	if v, ok := info(meta.ExtraInfoMasterMoRef); ok && v == cur.MoRef {
		vmd.MyUUID = meta.StringPtr(cur.ExtraInfo[meta.ExtraInfoMasterUUID])
	}
	if v, ok := info(meta.ExtraInfoFolder); ok {
		vmd.Folder = meta.StringPtr(v)
	}
	if v, ok := info(meta.ExtraInfoElastic); ok {
		vmd.IsElastic = parseBool(v)
	}
	if v, ok := info(meta.ExtraInfoJobTrackerPort); ok {
		if port, err := strconv.Atoi(v); err == nil {
			vmd.JobTrackerPort = meta.IntPtr(port)
		}
	}

	master := &meta.MasterVMData{}
	if v, ok := info(meta.ExtraInfoEnable); ok {
		master.EnableAutomation = parseBool(v)
	}
	if v, ok := info(meta.ExtraInfoMinInstances); ok {
		if n, err := strconv.Atoi(v); err == nil {
			master.MinInstances = meta.IntPtr(n)
		}
	}
	if master.EnableAutomation != nil || master.MinInstances != nil {
		vmd.Master = master
	}
	return vmd, changed
}

func parseBool(v string) *bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return meta.BoolPtr(b)
}
