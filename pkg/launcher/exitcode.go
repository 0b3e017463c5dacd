package launcher

import (
	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/process"
)

const (
	ExitCodeSuccess = 0
	ExitCodeFailure = 1
)

// ExitCode maps a launch error to the launcher's process exit status:
// nil and interrupts give 0, a failed worker gives its own code,
// everything else gives 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if errors.IsCancelledError(err) {
		return ExitCodeSuccess
	}

	if errors.IsProcessError(err) {
		if value, ok := errors.ContextValue(err, errors.ContextKeyExitCode); ok {
			if code, ok := value.(int); ok && code != 0 {
				return code
			}
		}
	}

	return ExitCodeFailure
}

// completionError converts a spawn-and-await outcome into the error ExitCode understands
func completionError(completion process.Completion, executable string) error {
	switch completion.Status {
	case process.CompletionExited:
		if completion.ExitCode == 0 {
			return nil
		}
		if errors.IsProcessError(completion.Err) {
			return completion.Err
		}
		return errors.NewProcessError("worker exited with non-zero code", completion.Err).
			WithContext(errors.ContextKeyExitCode, completion.ExitCode)

	case process.CompletionInterrupted:
		if errors.IsCancelledError(completion.Err) {
			return completion.Err
		}
		return errors.NewCancelledError("worker stopped by user", completion.Err)

	case process.CompletionNotFound:
		return errors.NewNotFoundError(executable+" not found", completion.Err).
			WithContext(errors.ContextKeyHint, "Install it with: "+InstallHint)

	default:
		return errors.NewInternalError("unexpected error", completion.Err)
	}
}
