package report

import (
	"context"
	"fmt"
	jsoniter "github.com/json-iterator/go"
	"github.com/tsundata/vhm/pkg/api/meta"
	"github.com/tsundata/vhm/pkg/util/flog"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"sort"
	"strings"
	"time"
)

const (
	DefaultPublishTimeout = 5 * time.Second

	ErrorCodeNone   = 0
	ErrorCodeFailed = 1
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Callback publishes the completion of an instruction as a ReturnMessage.
type Callback struct {
	RouteKey string
	Channel  Channel
	Timeout  time.Duration
}

var _ event.CompletionReporter = (*Callback)(nil)

func NewCallback(routeKey string, ch Channel) *Callback {
	return &Callback{RouteKey: routeKey, Channel: ch, Timeout: DefaultPublishTimeout}
}

func (c *Callback) ReportCompletion(ce *event.CompletionEvent) {
	data, err := Encode(Message(ce))
	if err != nil {
		flog.Error(err, flog.Field("route_key", c.RouteKey))
		return
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Channel.Publish(ctx, c.RouteKey, data); err != nil {
		flog.Error(err, flog.Field("route_key", c.RouteKey))
	}
}

// Message converts a completion into its reply form.
func Message(ce *event.CompletionEvent) meta.ReturnMessage {
	msg := meta.ReturnMessage{
		Finished: true,
		Succeed:  ce.Succeeded,
		Progress: ce.Progress,
	}
	if ce.Succeeded {
		msg.ErrorCode = ErrorCodeNone
		msg.ProgressMsg = progressMessage(ce)
		return msg
	}
	msg.ErrorCode = ErrorCodeFailed
	if ce.Err != nil {
		msg.ErrorMsg = ce.Err.Error()
	}
	return msg
}

func progressMessage(ce *event.CompletionEvent) string {
	var on, off []string
	for vm, d := range ce.Decisions {
		if d == event.DecisionEnable {
			on = append(on, vm)
		} else {
			off = append(off, vm)
		}
	}
	if len(on) == 0 && len(off) == 0 {
		return "no change"
	}
	sort.Strings(on)
	sort.Strings(off)
	var parts []string
	if len(on) > 0 {
		parts = append(parts, fmt.Sprintf("enabled %s", strings.Join(on, ",")))
	}
	if len(off) > 0 {
		parts = append(parts, fmt.Sprintf("disabled %s", strings.Join(off, ",")))
	}
	return strings.Join(parts, "; ")
}

func Encode(msg meta.ReturnMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (meta.ReturnMessage, error) {
	var msg meta.ReturnMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
