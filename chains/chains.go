package chains

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrInvalidDimension is returned when a container is constructed with
	// a non-positive dimension.
	ErrInvalidDimension = errors.New("dimension must be positive")

	// ErrInsufficientChains is returned by Split when fewer than two
	// chains are held.
	ErrInsufficientChains = errors.New("split requires at least 2 chains")
)

// ErrShapeMismatch indicates that sample and log-posterior arrays disagree
// with each other or with the configured dimension.
type ErrShapeMismatch struct {
	What     string
	Expected int
	Actual   int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch: %s: expected %d, got %d", e.What, e.Expected, e.Actual)
}

// ErrDimensionMismatch indicates two containers of different dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidProportion indicates a training proportion that would leave one
// side of a split empty.
type ErrInvalidProportion struct {
	Proportion float64
	NChains    int
}

func (e *ErrInvalidProportion) Error() string {
	return fmt.Sprintf("invalid training proportion %g for %d chains: both partitions must be non-empty", e.Proportion, e.NChains)
}

// ErrInvalidMask indicates a training mask referencing chains that do not
// exist, or one that would leave a partition empty.
type ErrInvalidMask struct {
	NChains int
	Reason  string
}

func (e *ErrInvalidMask) Error() string {
	return fmt.Sprintf("invalid chain mask for %d chains: %s", e.NChains, e.Reason)
}

// Chains holds posterior samples across one or more independent MCMC
// chains. Samples are stored flat with per-chain start offsets so that
// per-chain slices are O(1).
//
// A Chains value is append-only and not safe for concurrent mutation.
type Chains struct {
	ndim    int
	samples []float64 // row-major, nsamples x ndim
	lnPost  []float64 // one scalar per sample
	starts  []int     // chain i occupies sample rows starts[i]:starts[i+1]
}

// New creates an empty container for samples of the given dimension.
func New(ndim int) (*Chains, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, ndim)
	}
	return &Chains{
		ndim:   ndim,
		starts: []int{0},
	}, nil
}

// Dim returns the sample dimensionality.
func (c *Chains) Dim() int { return c.ndim }

// NChains returns the number of chains currently held.
func (c *Chains) NChains() int { return len(c.starts) - 1 }

// NSamples returns the total number of samples across all chains.
func (c *Chains) NSamples() int { return len(c.lnPost) }

// AddChains3D appends a rectangular block of chains. samples is shaped
// (nchains, nsamplesPerChain, ndim) and lnPosterior (nchains,
// nsamplesPerChain). All chains in the block have equal length.
func (c *Chains) AddChains3D(samples [][][]float64, lnPosterior [][]float64) error {
	if len(samples) != len(lnPosterior) {
		return &ErrShapeMismatch{What: "leading dimension of ln_posterior", Expected: len(samples), Actual: len(lnPosterior)}
	}
	if len(samples) == 0 {
		return &ErrShapeMismatch{What: "number of chains", Expected: 1, Actual: 0}
	}
	nper := len(samples[0])
	if nper == 0 {
		return &ErrShapeMismatch{What: "chain length", Expected: 1, Actual: 0}
	}
	for i := range samples {
		if len(samples[i]) != nper {
			return &ErrShapeMismatch{What: fmt.Sprintf("samples per chain in chain %d", i), Expected: nper, Actual: len(samples[i])}
		}
		if len(lnPosterior[i]) != nper {
			return &ErrShapeMismatch{What: fmt.Sprintf("ln_posterior length in chain %d", i), Expected: nper, Actual: len(lnPosterior[i])}
		}
		for j, s := range samples[i] {
			if len(s) != c.ndim {
				return &ErrShapeMismatch{What: fmt.Sprintf("dimension of sample %d in chain %d", j, i), Expected: c.ndim, Actual: len(s)}
			}
		}
	}
	// Validation complete; nothing below can fail, so the append is
	// all-or-nothing.
	for i := range samples {
		if err := c.AddChain(samples[i], lnPosterior[i]); err != nil {
			return err
		}
	}
	return nil
}

// AddChain appends a single chain of arbitrary length (at least one
// sample).
func (c *Chains) AddChain(samples [][]float64, lnPosterior []float64) error {
	if len(samples) == 0 {
		return &ErrShapeMismatch{What: "chain length", Expected: 1, Actual: 0}
	}
	if len(samples) != len(lnPosterior) {
		return &ErrShapeMismatch{What: "ln_posterior length", Expected: len(samples), Actual: len(lnPosterior)}
	}
	for i, s := range samples {
		if len(s) != c.ndim {
			return &ErrShapeMismatch{What: fmt.Sprintf("dimension of sample %d", i), Expected: c.ndim, Actual: len(s)}
		}
	}
	for _, s := range samples {
		c.samples = append(c.samples, s...)
	}
	c.lnPost = append(c.lnPost, lnPosterior...)
	c.starts = append(c.starts, len(c.lnPost))
	return nil
}

// Add concatenates another container onto this one. Both must have equal
// dimension. The other container is copied; later mutation of either side
// does not affect the other.
func (c *Chains) Add(other *Chains) error {
	if other.ndim != c.ndim {
		return &ErrDimensionMismatch{Expected: c.ndim, Actual: other.ndim}
	}
	base := len(c.lnPost)
	c.samples = append(c.samples, other.samples...)
	c.lnPost = append(c.lnPost, other.lnPost...)
	for _, s := range other.starts[1:] {
		c.starts = append(c.starts, base+s)
	}
	return nil
}

// Chain returns copies of the positions and log-posterior values of chain
// i.
func (c *Chains) Chain(i int) (samples [][]float64, lnPosterior []float64) {
	lo, hi := c.starts[i], c.starts[i+1]
	samples = make([][]float64, hi-lo)
	for j := lo; j < hi; j++ {
		row := make([]float64, c.ndim)
		copy(row, c.samples[j*c.ndim:(j+1)*c.ndim])
		samples[j-lo] = row
	}
	lnPosterior = make([]float64, hi-lo)
	copy(lnPosterior, c.lnPost[lo:hi])
	return samples, lnPosterior
}

// Split partitions the chains into disjoint training and inference
// containers. round(trainingProportion * nchains) whole chains go to the
// training side, the remainder to the inference side. Chains keep their
// current order; use SplitShuffled to randomize assignment first.
func (c *Chains) Split(trainingProportion float64) (train, infer *Chains, err error) {
	n := c.NChains()
	if n < 2 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInsufficientChains, n)
	}
	k := int(math.Round(trainingProportion * float64(n)))
	if k < 1 || k >= n {
		return nil, nil, &ErrInvalidProportion{Proportion: trainingProportion, NChains: n}
	}
	mask := roaring.New()
	mask.AddRange(0, uint64(k))
	return c.SplitByMask(mask)
}

// SplitShuffled permutes the chain order using the caller's random source
// and then splits as Split does. The receiver is not modified.
func (c *Chains) SplitShuffled(rnd *rand.Rand, trainingProportion float64) (train, infer *Chains, err error) {
	n := c.NChains()
	if n < 2 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInsufficientChains, n)
	}
	k := int(math.Round(trainingProportion * float64(n)))
	if k < 1 || k >= n {
		return nil, nil, &ErrInvalidProportion{Proportion: trainingProportion, NChains: n}
	}
	perm := rnd.Perm(n)
	mask := roaring.New()
	for _, idx := range perm[:k] {
		mask.Add(uint32(idx))
	}
	return c.SplitByMask(mask)
}

// SplitByMask partitions whole chains by index: chains whose index is set
// in mask form the training container, the rest the inference container.
// Both outputs own disjoint copies of the underlying samples.
func (c *Chains) SplitByMask(mask *roaring.Bitmap) (train, infer *Chains, err error) {
	n := c.NChains()
	if n < 2 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInsufficientChains, n)
	}
	if !mask.IsEmpty() && int(mask.Maximum()) >= n {
		return nil, nil, &ErrInvalidMask{NChains: n, Reason: fmt.Sprintf("chain index %d out of range", mask.Maximum())}
	}
	k := int(mask.GetCardinality())
	if k < 1 || k >= n {
		return nil, nil, &ErrInvalidMask{NChains: n, Reason: fmt.Sprintf("training partition would hold %d of %d chains", k, n)}
	}
	train, _ = New(c.ndim)
	infer, _ = New(c.ndim)
	for i := 0; i < n; i++ {
		dst := infer
		if mask.Contains(uint32(i)) {
			dst = train
		}
		s, lp := c.Chain(i)
		if err := dst.AddChain(s, lp); err != nil {
			return nil, nil, err
		}
	}
	return train, infer, nil
}

// Flat is a read-only view of all samples across all chains as one
// contiguous sequence, annotated with per-chain start offsets.
type Flat struct {
	ndim    int
	samples []float64
	lnPost  []float64
	starts  []int
}

// Flatten returns a lazy view over the container's buffers. The view
// shares storage with the container and must not outlive further
// mutation of it.
func (c *Chains) Flatten() *Flat {
	return &Flat{
		ndim:    c.ndim,
		samples: c.samples,
		lnPost:  c.lnPost,
		starts:  c.starts,
	}
}

// Dim returns the sample dimensionality.
func (f *Flat) Dim() int { return f.ndim }

// Len returns the total number of samples in the view.
func (f *Flat) Len() int { return len(f.lnPost) }

// NChains returns the number of chains in the view.
func (f *Flat) NChains() int { return len(f.starts) - 1 }

// Sample returns the position of sample i. The returned slice aliases the
// underlying buffer and must not be modified.
func (f *Flat) Sample(i int) []float64 {
	return f.samples[i*f.ndim : (i+1)*f.ndim]
}

// LnPosterior returns the log-posterior value of sample i.
func (f *Flat) LnPosterior(i int) float64 { return f.lnPost[i] }

// ChainBounds returns the half-open sample index range [lo, hi) of chain
// i.
func (f *Flat) ChainBounds(i int) (lo, hi int) {
	return f.starts[i], f.starts[i+1]
}

// Samples returns all positions as a slice of per-sample views into the
// underlying buffer. The rows must not be modified.
func (f *Flat) Samples() [][]float64 {
	out := make([][]float64, f.Len())
	for i := range out {
		out[i] = f.Sample(i)
	}
	return out
}

// LnPosteriors returns the log-posterior values of all samples. The slice
// aliases the underlying buffer and must not be modified.
func (f *Flat) LnPosteriors() []float64 { return f.lnPost }
