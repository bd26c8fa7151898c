package harmonic

import "errors"

var (
	// ErrFitFailed is returned by Run when the importance distribution
	// could not be fitted on the training partition. Retry with
	// different hyperparameters (see the crossval package) rather than
	// treating this as fatal.
	ErrFitFailed = errors.New("importance distribution fit did not converge")

	// ErrNoSamples is returned by Run when no samples have been added.
	ErrNoSamples = errors.New("no samples added")

	// ErrNoCheckpointManager is returned by Checkpoint when the
	// estimator was built without WithCheckpointManager.
	ErrNoCheckpointManager = errors.New("no checkpoint manager configured")

	// ErrNotRun is returned by Checkpoint before Run has produced an
	// accumulator to snapshot.
	ErrNotRun = errors.New("estimator has not run yet")
)
