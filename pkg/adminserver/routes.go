package adminserver

import (
	"context"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/report"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"io"
	"net/http"
	"time"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LimitResponse is returned for every accepted limit instruction. Reply is
// set once the instruction has completed.
type LimitResponse struct {
	RouteKey string              `json:"routeKey"`
	Reply    *meta.ReturnMessage `json:"reply,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Limit struct {
	Backend     Backend
	Replies     *report.Memory
	Reply       report.Channel
	WaitTimeout time.Duration
}

func (l Limit) Install(router *mux.Router) {
	router.HandleFunc("/api/v1/limit", l.Create).Methods(http.MethodPost)
}

func (l Limit) Create(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req meta.LimitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Errorf("decode limit request: %w", err))
		return
	}
	if err := validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RouteKey == "" {
		req.RouteKey = uuid.NewString()
	}

	cb := report.NewCallback(req.RouteKey, l.Reply)
	l.Backend.Push(event.NewLimitInstruction(event.Target{Folder: req.Folder}, req.Action, req.Target, cb))
	flog.Info("limit instruction accepted",
		flog.Field("folder", req.Folder),
		flog.Field("action", string(req.Action)),
		flog.Field("route_key", req.RouteKey))

	resp := LimitResponse{RouteKey: req.RouteKey}
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	timeout := l.WaitTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	raw, err := l.Replies.Wait(ctx, req.RouteKey)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, resp)
		return
	}
	msg, err := report.Decode(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp.Reply = &msg
	writeJSON(w, http.StatusOK, resp)
}

func validate(req *meta.LimitRequest) error {
	if req.Folder == "" {
		return xerrors.New("folder is required")
	}
	switch req.Action {
	case meta.ActionSetTarget:
		if req.Target < 0 {
			return xerrors.Errorf("invalid target %d", req.Target)
		}
	case meta.ActionWaitForManual:
	default:
		return xerrors.Errorf("unknown action %q", req.Action)
	}
	if req.TimeoutSeconds < 0 {
		return xerrors.Errorf("invalid timeout %d", req.TimeoutSeconds)
	}
	return nil
}

type Clusters struct {
	Backend Backend
}

func (c Clusters) Install(router *mux.Router) {
	router.HandleFunc("/api/v1/clusters", c.List).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/clusters/{id}", c.Get).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/strategies", c.Strategies).Methods(http.MethodGet)
}

// Strategies lists the registered scale strategy keys.
func (c Clusters) Strategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.Backend.StrategyKeys())
}

func (c Clusters) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.Backend.Clusters())
}

func (c Clusters) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, err := c.Backend.ClusterInfo(id)
	if xerrors.Is(err, clustermap.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		flog.Error(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
