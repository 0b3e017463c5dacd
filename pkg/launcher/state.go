package launcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"
)

// State is a step of a single launch
type State string

const (
	// StateIdle is the initial state before anything was checked
	StateIdle State = "idle"

	// StateValidating means configuration is being validated
	StateValidating State = "validating"

	// StateChecking means external services are being probed
	StateChecking State = "checking"

	// StateLaunching means the worker command is being prepared and spawned
	StateLaunching State = "launching"

	// StateRunning means the launcher is blocked waiting for the worker
	StateRunning State = "running"

	// StateTerminated is final; the exit code is decided
	StateTerminated State = "terminated"
)

// StateTransition represents a state transition with metadata
type StateTransition struct {
	From      State
	To        State
	Timestamp time.Time
	Error     error
}

// StateMachine enforces the launch order. Any non-final state may jump to
// StateTerminated; other transitions only move one step forward.
type StateMachine struct {
	runID            string
	currentState     State
	transitions      []StateTransition
	validTransitions map[State][]State
	mutex            sync.RWMutex
	logger           logging.Logger
}

func NewStateMachine(runID string, logger logging.Logger) *StateMachine {
	return &StateMachine{
		runID:        runID,
		currentState: StateIdle,
		transitions:  make([]StateTransition, 0, 6),
		logger:       logger,
		validTransitions: map[State][]State{
			StateIdle:       {StateValidating, StateTerminated},
			StateValidating: {StateChecking, StateTerminated},
			StateChecking:   {StateLaunching, StateTerminated},
			StateLaunching:  {StateRunning, StateTerminated},
			StateRunning:    {StateTerminated},
		},
	}
}

func (sm *StateMachine) Current() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// Transition moves to the next state, recording err if the move is caused by a failure
func (sm *StateMachine) Transition(to State, err error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	from := sm.currentState
	if !sm.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid launch state transition from %s to %s", from, to),
			nil,
		).WithContext("run_id", sm.runID).WithContext("current_state", string(from)).WithContext("target_state", string(to))
	}

	sm.transitions = append(sm.transitions, StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Error:     err,
	})
	sm.currentState = to

	if err != nil {
		sm.logger.Debugf("Launch state %s->%s, error: %v", from, to, err)
	} else {
		sm.logger.Debugf("Launch state %s->%s", from, to)
	}
	return nil
}

func (sm *StateMachine) canTransitionUnsafe(to State) bool {
	for _, valid := range sm.validTransitions[sm.currentState] {
		if valid == to {
			return true
		}
	}
	return false
}

// History returns a copy of all recorded transitions
func (sm *StateMachine) History() []StateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]StateTransition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}
