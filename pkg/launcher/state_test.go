package launcher

import (
	stderrors "errors"
	"testing"

	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_ForwardOnly(t *testing.T) {
	sm := NewStateMachine("run-1", logging.Nop())
	assert.Equal(t, StateIdle, sm.Current())

	require.NoError(t, sm.Transition(StateValidating, nil))

	err := sm.Transition(StateRunning, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Equal(t, StateValidating, sm.Current())

	require.NoError(t, sm.Transition(StateChecking, nil))
	require.NoError(t, sm.Transition(StateTerminated, stderrors.New("broker down")))

	assert.Error(t, sm.Transition(StateLaunching, nil), "terminated is final")
	assert.Error(t, sm.Transition(StateTerminated, nil))
}

func TestStateMachine_History(t *testing.T) {
	sm := NewStateMachine("run-2", logging.Nop())
	cause := stderrors.New("exit status 7")

	require.NoError(t, sm.Transition(StateValidating, nil))
	require.NoError(t, sm.Transition(StateTerminated, cause))

	history := sm.History()
	require.Len(t, history, 2)
	assert.Equal(t, StateIdle, history[0].From)
	assert.Equal(t, StateValidating, history[0].To)
	assert.Equal(t, cause, history[1].Error)

	history[0].To = StateRunning
	assert.Equal(t, StateValidating, sm.History()[0].To)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, 0},
		{"interrupt", errors.NewCancelledError("worker stopped by user", nil), 0},
		{"connectivity", errors.NewConnectivityError("broker", "broker unavailable", nil), 1},
		{"not_found", errors.NewNotFoundError("celery not found", nil), 1},
		{"validation", errors.NewValidationError("bad url", nil), 1},
		{"plain", stderrors.New("boom"), 1},
		{"process_with_code", errors.NewProcessError("worker failed", nil).WithContext(errors.ContextKeyExitCode, 7), 7},
		{"process_without_code", errors.NewProcessError("start failed", nil), 1},
		{
			"collection_of_connectivity",
			func() error {
				c := errors.NewErrorCollection()
				c.Add(errors.NewConnectivityError("broker", "down", nil))
				c.Add(errors.NewConnectivityError("database", "down", nil))
				return c.ToError()
			}(),
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}
