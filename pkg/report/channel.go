package report

import (
	"context"
	"github.com/tsundata/vhm/pkg/util/flog"
	"golang.org/x/xerrors"
	"strings"
)

const (
	ChannelLog    = "log"
	ChannelMemory = "memory"
	ChannelEtcd   = "etcd"
	ChannelRedis  = "redis"
)

var ErrUnknownChannel = xerrors.New("unknown report channel")

// Channel delivers an encoded reply under a route key.
type Channel interface {
	Publish(ctx context.Context, routeKey string, data []byte) error
}

// LogChannel writes replies to the application log.
type LogChannel struct{}

func (LogChannel) Publish(_ context.Context, routeKey string, data []byte) error {
	flog.Info("reply", flog.Field("route_key", routeKey), flog.Field("message", string(data)))
	return nil
}

// ParseChannelKind normalizes a configured channel name.
func ParseChannelKind(s string) (string, error) {
	switch k := strings.ToLower(strings.TrimSpace(s)); k {
	case "", ChannelLog:
		return ChannelLog, nil
	case ChannelMemory, ChannelEtcd, ChannelRedis:
		return k, nil
	default:
		return "", xerrors.Errorf("%q: %w", s, ErrUnknownChannel)
	}
}

// Fanout publishes to every channel and returns the first error.
type Fanout []Channel

func (f Fanout) Publish(ctx context.Context, routeKey string, data []byte) error {
	var first error
	for _, c := range f {
		if err := c.Publish(ctx, routeKey, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}
