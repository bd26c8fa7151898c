package harmonic

import (
	"github.com/hupe1980/harmonic/checkpoint"
	"github.com/hupe1980/harmonic/model"
)

type options struct {
	model              model.Model
	trainingProportion float64
	expectedChains     int
	logger             *Logger
	manager            *checkpoint.Manager
}

// Option configures an Estimator.
type Option func(*options)

// WithModel sets the importance distribution. The default is an
// unfitted HyperSphere with the standard radius bracket; pass an
// already-fitted model (e.g. from NewFixedHyperSphere) to skip the
// training split entirely.
func WithModel(m model.Model) Option {
	return func(o *options) {
		o.model = m
	}
}

// WithTrainingProportion sets the fraction of chains used to fit the
// model; the rest feed the accumulator. Default 0.5.
func WithTrainingProportion(p float64) Option {
	return func(o *options) {
		o.trainingProportion = p
	}
}

// WithExpectedChains sets the expected chains per accumulation batch,
// used for pre-sizing. Default 1.
func WithExpectedChains(n int) Option {
	return func(o *options) {
		o.expectedChains = n
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCheckpointManager enables Checkpoint and ResumeEstimator through
// the given manager.
func WithCheckpointManager(m *checkpoint.Manager) Option {
	return func(o *options) {
		o.manager = m
	}
}
