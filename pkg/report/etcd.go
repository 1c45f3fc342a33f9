package report

import (
	"context"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/xerrors"
	"path"
	"time"
)

const DefaultEtcdPrefix = "/vhm/replies"

// Etcd stores each reply under <prefix>/<routeKey>, optionally with a lease.
type Etcd struct {
	kv     clientv3.KV
	lease  clientv3.Lease
	prefix string
	ttl    time.Duration
}

// NewEtcd uses c for both KV and leases. A zero ttl keeps replies forever.
func NewEtcd(c *clientv3.Client, prefix string, ttl time.Duration) *Etcd {
	return newEtcd(c.KV, c.Lease, prefix, ttl)
}

func newEtcd(kv clientv3.KV, lease clientv3.Lease, prefix string, ttl time.Duration) *Etcd {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &Etcd{kv: kv, lease: lease, prefix: path.Join("/", prefix), ttl: ttl}
}

func (e *Etcd) key(routeKey string) string {
	return path.Join(e.prefix, routeKey)
}

func (e *Etcd) Publish(ctx context.Context, routeKey string, data []byte) error {
	var opts []clientv3.OpOption
	if e.ttl > 0 && e.lease != nil {
		resp, err := e.lease.Grant(ctx, int64(e.ttl.Seconds()))
		if err != nil {
			return xerrors.Errorf("grant reply lease: %w", err)
		}
		opts = append(opts, clientv3.WithLease(resp.ID))
	}
	if _, err := e.kv.Put(ctx, e.key(routeKey), string(data), opts...); err != nil {
		return xerrors.Errorf("put reply %s: %w", routeKey, err)
	}
	return nil
}

// NewEtcdClient dials the given endpoints.
func NewEtcdClient(endpoints []string, username, password string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Username:    username,
		Password:    password,
	})
}
