// Package event defines the notifications that flow through the VHM event
// queue. The set of kinds is closed; every event embeds Base.
package event

import (
	"github.com/google/uuid"
	"time"
)

// Kind partitions notifications for the orchestration loop.
type Kind int

const (
	KindGeneric Kind = iota
	KindStateChange
	KindScale
	KindCompletion
	KindBlocking
)

func (k Kind) String() string {
	switch k {
	case KindStateChange:
		return "StateChange"
	case KindScale:
		return "Scale"
	case KindCompletion:
		return "Completion"
	case KindBlocking:
		return "Blocking"
	default:
		return "Generic"
	}
}

// Notification is implemented only by types embedding Base.
type Notification interface {
	Kind() Kind
	ID() string
	Created() time.Time
	// CanClearQueue events flush every queued event that CanBeClearedFromQueue.
	CanClearQueue() bool
	CanBeClearedFromQueue() bool

	notification()
}

// Option sets queue capability flags on a Base.
type Option func(*Base)

func CanClearQueue() Option {
	return func(b *Base) { b.canClearQueue = true }
}

func CanBeClearedFromQueue() Option {
	return func(b *Base) { b.canBeCleared = true }
}

// Base carries identity and queue flags.
type Base struct {
	id            string
	created       time.Time
	canClearQueue bool
	canBeCleared  bool
}

func NewBase(opts ...Option) Base {
	b := Base{id: uuid.NewString(), created: time.Now()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b Base) ID() string { return b.id }

func (b Base) Created() time.Time { return b.created }

func (b Base) CanClearQueue() bool { return b.canClearQueue }

func (b Base) CanBeClearedFromQueue() bool { return b.canBeCleared }

func (b Base) notification() {}

// Generic is an event the loop does not act on beyond logging.
type Generic struct {
	Base
	Name string
}

func (*Generic) Kind() Kind { return KindGeneric }

const stopEventName = "stop"

// NewStopEvent returns the sentinel pushed on shutdown to unblock the loop.
// It clears every clearable event still queued.
func NewStopEvent() *Generic {
	return &Generic{Base: NewBase(CanClearQueue()), Name: stopEventName}
}

// IsStop reports whether n is the shutdown sentinel.
func IsStop(n Notification) bool {
	g, ok := n.(*Generic)
	return ok && g.Name == stopEventName
}
