package app

import (
	"context"
	"fmt"
	"github.com/tsundata/vhm/cmd/vhm/app/config"
	"github.com/tsundata/vhm/pkg/adminserver"
	"github.com/tsundata/vhm/pkg/producer"
	"github.com/tsundata/vhm/pkg/report"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/util/signal"
	"github.com/tsundata/vhm/pkg/util/version"
	"github.com/tsundata/vhm/pkg/vc"
	"github.com/tsundata/vhm/pkg/vhm"
	"github.com/tsundata/vhm/pkg/vhm/strategy"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"io"
)

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "yaml config file",
			EnvVars: []string{"VHM_CONFIG"},
		},
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "debug, info, warn or error",
			EnvVars: []string{"VHM_LOG_LEVEL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "topology",
			Aliases: []string{"t"},
			Usage:   "yaml topology file for the in-memory platform",
			EnvVars: []string{"VHM_TOPOLOGY"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "admin-addr",
			Aliases: []string{"A"},
			Value:   "127.0.0.1:5100",
			Usage:   "admin server listen address",
			EnvVars: []string{"VHM_ADMIN_ADDR"},
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "wait-timeout",
			Usage:   "default wait for limit instruction replies",
			EnvVars: []string{"VHM_WAIT_TIMEOUT"},
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "max-workers",
			Usage:   "concurrent scaling invocations",
			EnvVars: []string{"VHM_MAX_WORKERS"},
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "completion-retention",
			Usage:   "completion events kept per cluster",
			EnvVars: []string{"VHM_COMPLETION_RETENTION"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "rebalance-schedule",
			Value:   producer.DefaultRebalanceSchedule,
			Usage:   "cron schedule for rebalancing automated clusters, empty to disable",
			EnvVars: []string{"VHM_REBALANCE_SCHEDULE"},
		}),
		altsrc.NewFloat64Flag(&cli.Float64Flag{
			Name:    "poll-qps",
			Usage:   "platform update polls per second",
			EnvVars: []string{"VHM_POLL_QPS"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "reply-channel",
			Value:   report.ChannelLog,
			Usage:   "log, memory, etcd or redis",
			EnvVars: []string{"VHM_REPLY_CHANNEL"},
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "reply-ttl",
			Usage:   "lifetime of replies stored in etcd",
			EnvVars: []string{"VHM_REPLY_TTL"},
		}),
		altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
			Name:    "etcd-endpoints",
			Usage:   "etcd endpoints for the etcd reply channel",
			EnvVars: []string{"VHM_ETCD_ENDPOINTS"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "etcd-username",
			EnvVars: []string{"VHM_ETCD_USERNAME"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "etcd-password",
			EnvVars: []string{"VHM_ETCD_PASSWORD"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "redis address for the redis reply channel",
			EnvVars: []string{"VHM_REDIS_ADDR"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "redis-password",
			EnvVars: []string{"VHM_REDIS_PASSWORD"},
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "redis-db",
			EnvVars: []string{"VHM_REDIS_DB"},
		}),
	}
}

func NewVHMCommand() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print only the version",
	}
	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Printf("version=%s\n", cCtx.App.Version)
	}
	fs := flags()
	return &cli.App{
		Name:    "vhm",
		Usage:   "elastic cluster autoscaling control plane",
		Version: version.Version,
		Flags:   fs,
		Before:  altsrc.InitInputSourceWithContext(fs, altsrc.NewYamlSourceFromFlagFunc("config")),
		Action: func(c *cli.Context) error {
			cc := configFromFlags(c)
			ctx, hard := signal.SetupSignalContext()
			return runCommand(ctx, hard, cc)
		},
		Commands: []*cli.Command{
			{
				Name:    "info",
				Aliases: []string{"I"},
				Usage:   "print info",
				Action: func(cCtx *cli.Context) error {
					fmt.Println("vhm")
					return nil
				},
			},
		},
	}
}

func configFromFlags(c *cli.Context) *config.Config {
	return &config.Config{
		LogLevel:            c.String("log-level"),
		Topology:            c.String("topology"),
		AdminAddr:           c.String("admin-addr"),
		WaitTimeout:         c.Duration("wait-timeout"),
		MaxWorkers:          c.Int("max-workers"),
		CompletionRetention: c.Int("completion-retention"),
		RebalanceSchedule:   c.String("rebalance-schedule"),
		PollQPS:             c.Float64("poll-qps"),
		ReplyChannel:        c.String("reply-channel"),
		ReplyTTL:            c.Duration("reply-ttl"),
		EtcdEndpoints:       c.StringSlice("etcd-endpoints"),
		EtcdUsername:        c.String("etcd-username"),
		EtcdPassword:        c.String("etcd-password"),
		RedisAddr:           c.String("redis-addr"),
		RedisPassword:       c.String("redis-password"),
		RedisDB:             c.Int("redis-db"),
	}
}

func runCommand(ctx context.Context, hard <-chan struct{}, c *config.Config) error {
	s, err := Setup(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return Run(ctx, hard, s)
}

// Server is a completed VHM process.
type Server struct {
	Config   *config.Config
	Platform *vc.Simulator
	VHM      *vhm.VHM
	Admin    *adminserver.Server

	closers []io.Closer
}

func (s *Server) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			flog.Warnf("close: %v", err)
		}
	}
}

func Setup(c *config.Config) (*Server, error) {
	if err := c.Complete(); err != nil {
		return nil, err
	}
	if err := flog.SetLevel(c.LogLevel); err != nil {
		return nil, err
	}
	s := &Server{Config: c}

	platform := vc.NewSimulator()
	if c.Topology != "" {
		var err error
		platform, err = vc.LoadTopology(c.Topology)
		if err != nil {
			return nil, err
		}
	}
	s.Platform = platform

	reply, err := s.replyChannel()
	if err != nil {
		s.Close()
		return nil, err
	}

	chooser := strategy.DumbVMChooser{}
	ed := strategy.NewPowerEDPolicy(platform)
	producers := []vhm.EventProducer{
		producer.NewClusterStateChangeListener(platform, c.PollQPS, c.PollBurst),
	}
	if c.RebalanceSchedule != "" {
		producers = append(producers, producer.NewTicker(c.RebalanceSchedule))
	}

	s.VHM, err = vhm.New(platform,
		[]strategy.ScaleStrategy{
			strategy.NewManual(chooser, ed),
			strategy.NewAuto(chooser, ed),
		},
		vhm.WithMaxWorkers(c.MaxWorkers),
		vhm.WithIdlePause(c.IdlePause),
		vhm.WithCompletionRetention(c.CompletionRetention),
		vhm.WithEventProducers(producers...),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Admin = adminserver.New(adminserver.Config{
		Addr:        c.AdminAddr,
		Reply:       reply,
		WaitTimeout: c.WaitTimeout,
	}, s.VHM, s.VHM.Metrics().Registry)
	return s, nil
}

func (s *Server) replyChannel() (report.Channel, error) {
	c := s.Config
	switch c.ReplyChannel {
	case report.ChannelEtcd:
		cli, err := report.NewEtcdClient(c.EtcdEndpoints, c.EtcdUsername, c.EtcdPassword)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, cli)
		return report.NewEtcd(cli, c.EtcdPrefix, c.ReplyTTL), nil
	case report.ChannelRedis:
		cli := report.NewRedisClient(c.RedisAddr, c.RedisPassword, c.RedisDB)
		s.closers = append(s.closers, cli)
		return report.NewRedis(cli, c.RedisPrefix), nil
	case report.ChannelMemory:
		// the admin server always keeps replies in memory
		return nil, nil
	default:
		return report.LogChannel{}, nil
	}
}

func Run(ctx context.Context, hard <-chan struct{}, s *Server) error {
	flog.Info("vhm running")
	if err := s.VHM.Start(ctx); err != nil {
		return err
	}

	adminCtx, cancelAdmin := context.WithCancel(ctx)
	defer cancelAdmin()
	adminErr := make(chan error, 1)
	go func() { adminErr <- s.Admin.Run(adminCtx) }()

	var runErr error
	adminDone := false
	select {
	case <-ctx.Done():
	case runErr = <-adminErr:
		adminDone = true
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-hard:
			flog.Warn("hard stop requested")
			s.VHM.Stop(true)
		case <-done:
		}
	}()

	s.VHM.Stop(false)
	if err := s.VHM.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	close(done)

	if !adminDone {
		cancelAdmin()
		if err := <-adminErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	flog.Info("vhm stopped")
	return runErr
}
