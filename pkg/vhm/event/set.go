package event

// Set is an insertion-ordered collection of scale events deduplicated by
// event identity. Events equal by value are kept as separate entries.
type Set struct {
	events []ScaleEvent
	seen   map[string]struct{}
}

func NewSet(events ...ScaleEvent) *Set {
	s := &Set{seen: make(map[string]struct{})}
	s.AddAll(events)
	return s
}

// Add reports whether e was not already present.
func (s *Set) Add(e ScaleEvent) bool {
	if e == nil {
		return false
	}
	if _, ok := s.seen[e.ID()]; ok {
		return false
	}
	s.seen[e.ID()] = struct{}{}
	s.events = append(s.events, e)
	return true
}

func (s *Set) AddAll(events []ScaleEvent) {
	for _, e := range events {
		s.Add(e)
	}
}

func (s *Set) Len() int { return len(s.events) }

// Events returns a copy in insertion order.
func (s *Set) Events() []ScaleEvent {
	out := make([]ScaleEvent, len(s.events))
	copy(out, s.events)
	return out
}

// FilterByType splits events into those whose Type is in handled and the rest.
func FilterByType(events []ScaleEvent, handled []string) (kept, dropped []ScaleEvent) {
	accept := make(map[string]struct{}, len(handled))
	for _, t := range handled {
		accept[t] = struct{}{}
	}
	for _, e := range events {
		if _, ok := accept[e.Type()]; ok {
			kept = append(kept, e)
		} else {
			dropped = append(dropped, e)
		}
	}
	return kept, dropped
}

// Latest returns the last event in events with dynamic type T.
func Latest[T ScaleEvent](events []ScaleEvent) (T, bool) {
	var zero T
	for i := len(events) - 1; i >= 0; i-- {
		if e, ok := events[i].(T); ok {
			return e, true
		}
	}
	return zero, false
}

// ReportAll notifies the reporter of every event in events that has one.
func ReportAll(events []ScaleEvent, c *CompletionEvent) {
	for _, e := range events {
		if r := e.Reporter(); r != nil {
			r.ReportCompletion(c)
		}
	}
}
