package config

import (
	"github.com/tsundata/vhm/pkg/adminserver"
	"github.com/tsundata/vhm/pkg/producer"
	"github.com/tsundata/vhm/pkg/report"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/execution"
	"golang.org/x/xerrors"
	"time"
)

// Config has all the context to run a VHM.
type Config struct {
	LogLevel string

	// Topology is a YAML file seeding the in-memory platform.
	Topology string

	AdminAddr   string
	WaitTimeout time.Duration

	MaxWorkers          int
	IdlePause           time.Duration
	CompletionRetention int

	// RebalanceSchedule is a cron schedule; empty disables periodic rebalancing.
	RebalanceSchedule string
	PollQPS           float64
	PollBurst         int

	// ReplyChannel is one of log, memory, etcd or redis.
	ReplyChannel string
	ReplyTTL     time.Duration

	EtcdEndpoints []string
	EtcdUsername  string
	EtcdPassword  string
	EtcdPrefix    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Complete fills defaults and validates the result.
func (c *Config) Complete() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = "127.0.0.1:5100"
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = adminserver.DefaultWaitTimeout
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = execution.DefaultMaxWorkers
	}
	if c.IdlePause <= 0 {
		c.IdlePause = 10 * time.Millisecond
	}
	if c.CompletionRetention <= 0 {
		c.CompletionRetention = clustermap.DefaultCompletionRetention
	}
	if c.PollQPS <= 0 {
		c.PollQPS = producer.DefaultPollQPS
	}
	if c.PollBurst <= 0 {
		c.PollBurst = producer.DefaultPollBurst
	}

	kind, err := report.ParseChannelKind(c.ReplyChannel)
	if err != nil {
		return err
	}
	c.ReplyChannel = kind
	switch kind {
	case report.ChannelEtcd:
		if len(c.EtcdEndpoints) == 0 {
			c.EtcdEndpoints = []string{"127.0.0.1:2379"}
		}
		if c.EtcdPrefix == "" {
			c.EtcdPrefix = report.DefaultEtcdPrefix
		}
	case report.ChannelRedis:
		if c.RedisAddr == "" {
			return xerrors.New("redis reply channel needs an address")
		}
		if c.RedisPrefix == "" {
			c.RedisPrefix = report.DefaultRedisChannelPrefix
		}
	}
	return nil
}
