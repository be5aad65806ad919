package session

import (
	"context"
	"sync"
)

// TurnState is the lifecycle of one submitted action.
type TurnState int

const (
	StatePending TurnState = iota
	StateCompleted
	StateFailed
	StateDiscarded
)

func (st TurnState) String() string {
	switch st {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Turn is the handle of a submitted action. It moves from pending to
// exactly one of completed, failed or discarded.
type Turn struct {
	Number     int
	Action     string
	Generation uint64

	mu       sync.Mutex
	state    TurnState
	narrator string
	err      error
	done     chan struct{}
}

func newTurn(number int, action string, generation uint64) *Turn {
	return &Turn{
		Number:     number,
		Action:     action,
		Generation: generation,
		done:       make(chan struct{}),
	}
}

// settle moves a pending turn to its final state. It reports false if the
// turn had already settled.
func (t *Turn) settle(st TurnState, narrator string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending {
		return false
	}
	t.state = st
	t.narrator = narrator
	t.err = err
	close(t.done)
	return true
}

// State returns the current state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the turn settles.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result returns the narrator prose and the transport error, if any.
func (t *Turn) Result() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.narrator, t.err
}

// Wait blocks until the turn settles or ctx ends, and returns the final
// state.
func (t *Turn) Wait(ctx context.Context) (TurnState, error) {
	select {
	case <-t.done:
		return t.State(), nil
	case <-ctx.Done():
		return t.State(), ctx.Err()
	}
}
