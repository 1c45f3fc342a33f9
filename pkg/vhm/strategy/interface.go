package strategy

import (
	"context"
	"github.com/tsundata/vhm/pkg/vhm/clustermap"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"sort"
)

var ErrUnknownStrategy = xerrors.New("unknown scale strategy")

// Request is one invocation of a strategy for one cluster.
type Request struct {
	ClusterID string
	// Events are the consolidated scale events, already filtered to the
	// types the strategy handles.
	Events []event.ScaleEvent
	Access *clustermap.Access
}

// ScaleStrategy decides and performs the scaling action for a cluster.
//
// Scale is called from an engine worker, never concurrently for the same
// cluster. It must not hold a read handle on the cluster map across platform
// calls. A returned error is converted into a failed completion.
type ScaleStrategy interface {
	Key() string
	ScaleEventTypesHandled() []string
	Scale(ctx context.Context, req *Request) (*event.CompletionEvent, error)
}

// Registry maps strategy keys to strategies. It is immutable once built.
type Registry struct {
	strategies map[string]ScaleStrategy
}

func NewRegistry(strategies ...ScaleStrategy) (*Registry, error) {
	r := &Registry{strategies: make(map[string]ScaleStrategy, len(strategies))}
	for _, s := range strategies {
		if _, ok := r.strategies[s.Key()]; ok {
			return nil, xerrors.Errorf("duplicate scale strategy %q", s.Key())
		}
		r.strategies[s.Key()] = s
	}
	return r, nil
}

func (r *Registry) Get(key string) (ScaleStrategy, bool) {
	s, ok := r.strategies[key]
	return s, ok
}

// ForCluster resolves the strategy currently assigned to clusterID.
func (r *Registry) ForCluster(m clustermap.ClusterMap, clusterID string) (ScaleStrategy, error) {
	key, err := m.GetScaleStrategyKey(clusterID)
	if err != nil {
		return nil, err
	}
	s, ok := r.strategies[key]
	if !ok {
		return nil, xerrors.Errorf("cluster %s uses %q: %w", clusterID, key, ErrUnknownStrategy)
	}
	return s, nil
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
