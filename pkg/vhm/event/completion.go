package event

import (
	"github.com/tsundata/vhm/pkg/api/meta"
	"time"
)

// Decision is the action a strategy took on one VM.
type Decision string

const (
	DecisionEnable  Decision = "enable"
	DecisionDisable Decision = "disable"
)

// CompletionEvent is the result of exactly one strategy invocation.
type CompletionEvent struct {
	Base
	ClusterID string
	Succeeded bool
	Err       error
	Progress  int
	Decisions map[string]Decision
	// Triggers are the events the invocation was run with.
	Triggers []ScaleEvent
}

func (*CompletionEvent) Kind() Kind { return KindCompletion }

func NewCompletionEvent(clusterID string) *CompletionEvent {
	return &CompletionEvent{
		Base:      NewBase(),
		ClusterID: clusterID,
		Succeeded: true,
		Progress:  100,
		Decisions: make(map[string]Decision),
	}
}

// NewFailedCompletionEvent builds a failure-flagged completion.
func NewFailedCompletionEvent(clusterID string, err error) *CompletionEvent {
	c := NewCompletionEvent(clusterID)
	c.Succeeded = false
	c.Err = err
	return c
}

func (c *CompletionEvent) AddDecision(vmID string, d Decision) {
	if c.Decisions == nil {
		c.Decisions = make(map[string]Decision)
	}
	c.Decisions[vmID] = d
}

// Summary converts the event into its API form.
func (c *CompletionEvent) Summary() *meta.Completion {
	s := &meta.Completion{
		ClusterID: c.ClusterID,
		Succeeded: c.Succeeded,
		Timestamp: c.Created().UTC().Truncate(time.Millisecond),
	}
	if c.Err != nil {
		s.Error = c.Err.Error()
	}
	if len(c.Decisions) > 0 {
		s.Decisions = make(map[string]string, len(c.Decisions))
		for vm, d := range c.Decisions {
			s.Decisions[vm] = string(d)
		}
	}
	return s
}

// CompletionReporter is notified once with the completion of the invocation
// an event took part in.
type CompletionReporter interface {
	ReportCompletion(c *CompletionEvent)
}

// ReporterFunc adapts a function to CompletionReporter.
type ReporterFunc func(c *CompletionEvent)

func (f ReporterFunc) ReportCompletion(c *CompletionEvent) { f(c) }
