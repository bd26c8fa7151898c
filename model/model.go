package model

import (
	"errors"
	"fmt"
	"math"
)

// Variant tags identify concrete model types in checkpoint files.
const (
	TagHyperSphere   byte = 1
	TagKernelDensity byte = 2
)

// ErrUnknownVariant is returned when a checkpoint names a model tag this
// build does not know.
var ErrUnknownVariant = errors.New("unknown model variant tag")

// ErrShapeMismatch indicates training arrays that disagree with each
// other or with the model's dimension.
type ErrShapeMismatch struct {
	What     string
	Expected int
	Actual   int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch: %s: expected %d, got %d", e.What, e.Expected, e.Actual)
}

// Model is a fittable, normalized importance density with bounded
// support.
//
// Fit returns ok=false, not an error, when the optimization does not
// converge or the training set is degenerate (fewer than ndim+1 usable
// samples); callers must check ok before using the model. A non-nil
// error is reserved for contract violations such as shape mismatches.
//
// Once a model is consumed by an evidence accumulator it must be treated
// as read-only; refitting invalidates any in-flight accumulation.
type Model interface {
	// Dim returns the model's dimensionality.
	Dim() int

	// IsFitted reports whether the model holds a valid fitted density.
	IsFitted() bool

	// Fit learns the model parameters from training samples and their
	// log-posterior values.
	Fit(samples [][]float64, lnPosterior []float64) (ok bool, err error)

	// LnPredict returns the natural log of the fitted density at x, or
	// negative infinity outside the support.
	LnPredict(x []float64) float64

	// SetLnNormalizingConstant assigns a precomputed log-normalizing
	// constant, bypassing the model's own normalization.
	SetLnNormalizingConstant(lnNorm float64)

	// Tag returns the variant tag used in checkpoint files.
	Tag() byte

	// MarshalBinary serializes the fitted parameters.
	MarshalBinary() ([]byte, error)
}

// FromTag reconstructs a fitted model of the tagged variant from its
// serialized parameters. Used when restoring checkpoints.
func FromTag(tag byte, data []byte) (Model, error) {
	switch tag {
	case TagHyperSphere:
		hs := &HyperSphere{}
		if err := hs.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return hs, nil
	case TagKernelDensity:
		kd := &KernelDensity{}
		if err := kd.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return kd, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, tag)
	}
}

// lnBallVolume returns the log volume of a D-dimensional ball of radius
// r: D*ln(r) + (D/2)*ln(pi) - lnGamma(D/2 + 1).
func lnBallVolume(dim int, r float64) float64 {
	lg, _ := math.Lgamma(float64(dim)/2 + 1)
	return float64(dim)*math.Log(r) + float64(dim)/2*math.Log(math.Pi) - lg
}

func validateTraining(ndim int, samples [][]float64, lnPosterior []float64) error {
	if len(samples) != len(lnPosterior) {
		return &ErrShapeMismatch{What: "ln_posterior length", Expected: len(samples), Actual: len(lnPosterior)}
	}
	for i, s := range samples {
		if len(s) != ndim {
			return &ErrShapeMismatch{What: fmt.Sprintf("dimension of sample %d", i), Expected: ndim, Actual: len(s)}
		}
	}
	return nil
}
