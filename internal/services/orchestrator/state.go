package orchestrator

import (
	"fmt"
	"sync"

	"expensifyos/internal/domain"
)

// State is a task's position in its lifecycle.
type State int

const (
	StatePending State = iota
	StateFetching
	StateSubmitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateSubmitting:
		return "submitting"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		// Straight to done for sources rejected at selection.
		return to == StateFetching || to == StateDone
	case StateFetching:
		return to == StateSubmitting || to == StateDone
	case StateSubmitting:
		return to == StateDone
	default:
		return false
	}
}

// tracker holds every task's state for one run.
type tracker struct {
	mu     sync.Mutex
	states map[domain.Source]State
}

func newTracker() *tracker { return &tracker{states: make(map[domain.Source]State)} }

func (t *tracker) add(src domain.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[src] = StatePending
}

// transition moves src from from to to. The expected prior state makes a
// task being driven twice observable.
func (t *tracker) transition(src domain.Source, from, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.states[src]
	if !ok {
		return fmt.Errorf("unknown task %q", src)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", src, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", src, from, to)
	}
	t.states[src] = to
	return nil
}

func (t *tracker) state(src domain.Source) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[src]
}
