package adminserver

import (
	"context"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/report"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"net/http"
	"time"
)

const (
	DefaultWaitTimeout = 30 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// Backend is the part of the VHM the admin server drives.
type Backend interface {
	Push(e event.Notification)
	ClusterInfo(clusterID string) (*meta.ClusterInfo, error)
	Clusters() []*meta.ClusterInfo
	StrategyKeys() []string
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Reply is where instruction replies are published besides the
	// in-process waiters. Optional.
	Reply       report.Channel
	WaitTimeout time.Duration
}

type Server struct {
	router     *mux.Router
	httpServer *http.Server
}

func New(c Config, backend Backend, gatherer prometheus.Gatherer) *Server {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	router := mux.NewRouter()

	replies := report.NewMemory()
	var reply report.Channel = replies
	if c.Reply != nil {
		reply = report.Fanout{replies, c.Reply}
	}
	Limit{Backend: backend, Replies: replies, Reply: reply, WaitTimeout: c.WaitTimeout}.Install(router)
	Clusters{Backend: backend}.Install(router)
	router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         c.Addr,
			Handler:      router,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		},
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		flog.Infof("admin server addr %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(sctx); err != nil {
			return xerrors.Errorf("shutdown admin server: %w", err)
		}
		if err := <-errCh; err != nil && !xerrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("OK"))
}
