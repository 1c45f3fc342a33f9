package producer

import (
	"context"
	"github.com/robfig/cron/v3"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"sync"
)

const DefaultRebalanceSchedule = "@every 1m"

// Ticker pushes a RebalanceEvent for every automated cluster on a cron
// schedule.
type Ticker struct {
	schedule string

	consumer vhm.EventConsumer
	access   *clustermap.Access

	mu   sync.Mutex
	cron *cron.Cron
}

var _ vhm.EventProducer = (*Ticker)(nil)

func NewTicker(schedule string) *Ticker {
	if schedule == "" {
		schedule = DefaultRebalanceSchedule
	}
	return &Ticker{schedule: schedule}
}

func (t *Ticker) Register(consumer vhm.EventConsumer, access *clustermap.Access) {
	t.consumer = consumer
	t.access = access
}

func (t *Ticker) Start(_ context.Context) error {
	if t.consumer == nil || t.access == nil {
		return xerrors.New("ticker not registered")
	}
	c := cron.New()
	if _, err := c.AddFunc(t.schedule, t.Tick); err != nil {
		return xerrors.Errorf("rebalance schedule %q: %w", t.schedule, err)
	}
	t.mu.Lock()
	t.cron = c
	t.mu.Unlock()
	c.Start()
	flog.Infof("rebalance ticker scheduled %s", t.schedule)
	return nil
}

func (t *Ticker) Stop() {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Tick pushes one RebalanceEvent per automated cluster.
func (t *Ticker) Tick() {
	var events []event.Notification
	_ = t.access.View(func(m clustermap.ClusterMap) error {
		for _, id := range m.GetAllKnownClusterIDs() {
			if key, err := m.GetScaleStrategyKey(id); err == nil && key == clustermap.AutoStrategyKey {
				events = append(events, event.NewRebalanceEvent(id))
			}
		}
		return nil
	})
	if len(events) > 0 {
		t.consumer.PushAll(events)
	}
}
