package evidence

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hupe1980/harmonic/chains"
	"github.com/hupe1980/harmonic/model"
)

var (
	// ErrModelNotFitted is returned when an accumulator is constructed
	// with, or asked to consume chains against, an unfitted model.
	ErrModelNotFitted = errors.New("model is not fitted")

	// ErrNoData is returned when evidence values are requested before any
	// chain has been added.
	ErrNoData = errors.New("no chains accumulated")

	// ErrInvalidChainCount is returned for a non-positive expected chain
	// count.
	ErrInvalidChainCount = errors.New("expected chain count must be positive")
)

// ErrDimensionMismatch indicates incoming chains whose dimension
// disagrees with the accumulator.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: evidence expects %d, chains have %d", e.Expected, e.Actual)
}

// ChainStat is the per-chain sufficient statistic: the log of the mean
// importance ratio over the chain and the chain's sample count.
type ChainStat struct {
	LnMeanRatio float64
	N           uint64
}

// Snapshot is the complete serializable accumulator state, sufficient to
// resume accumulation after a process restart without re-processing any
// previously consumed chain.
type Snapshot struct {
	NDim        int
	NChainsHint int
	ModelTag    byte
	ModelParams []byte
	Stats       []ChainStat
}

// Evidence accumulates per-chain statistics of the learnt harmonic mean
// estimator of ln(1/Z). Not safe for concurrent use.
type Evidence struct {
	ndim        int
	nchainsHint int
	model       model.Model

	stats        []ChainStat
	totalSamples uint64

	// Cached results, recomputed lazily and invalidated by AddChains.
	lnInv   float64 // ln of the estimated 1/Z
	lnVar   float64 // ln of the between-chain variance of the mean ratio
	cacheOK bool
}

// New creates an accumulator for the given fitted model. nchains is the
// expected number of chains per accumulation batch, used for pre-sizing.
func New(nchains int, m model.Model) (*Evidence, error) {
	if nchains < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChainCount, nchains)
	}
	if m == nil || !m.IsFitted() {
		return nil, ErrModelNotFitted
	}
	return &Evidence{
		ndim:        m.Dim(),
		nchainsHint: nchains,
		model:       m,
		stats:       make([]ChainStat, 0, nchains),
	}, nil
}

// Dim returns the accumulator's dimensionality.
func (e *Evidence) Dim() int { return e.ndim }

// NChains returns the number of chains consumed so far.
func (e *Evidence) NChains() int { return len(e.stats) }

// NSamples returns the total number of samples consumed so far.
func (e *Evidence) NSamples() uint64 { return e.totalSamples }

// AddChains consumes every chain in ch, reducing each to its log-space
// sufficient statistic. Chains must have been drawn from the same
// posterior the model was trained against.
func (e *Evidence) AddChains(ch *chains.Chains) error {
	if !e.model.IsFitted() {
		return ErrModelNotFitted
	}
	if ch.Dim() != e.ndim {
		return &ErrDimensionMismatch{Expected: e.ndim, Actual: ch.Dim()}
	}

	f := ch.Flatten()
	for i := 0; i < f.NChains(); i++ {
		lo, hi := f.ChainBounds(i)
		terms := make([]float64, hi-lo)
		for k := lo; k < hi; k++ {
			// Samples outside the model support contribute -Inf terms,
			// which log-sum-exp absorbs.
			terms[k-lo] = e.model.LnPredict(f.Sample(k)) - f.LnPosterior(k)
		}
		n := uint64(hi - lo)
		e.stats = append(e.stats, ChainStat{
			LnMeanRatio: floats.LogSumExp(terms) - math.Log(float64(n)),
			N:           n,
		})
		e.totalSamples += n
	}
	e.cacheOK = false
	return nil
}

// compute fills the cached estimator values from the stored per-chain
// statistics.
func (e *Evidence) compute() error {
	if len(e.stats) == 0 {
		return ErrNoData
	}
	if e.cacheOK {
		return nil
	}

	lnW := math.Log(float64(e.totalSamples))
	weighted := make([]float64, len(e.stats))
	for i, s := range e.stats {
		weighted[i] = s.LnMeanRatio + math.Log(float64(s.N))
	}
	e.lnInv = floats.LogSumExp(weighted) - lnW

	// Between-chain variance of the per-chain mean ratios, weighted by
	// chain length, scaled to the variance of the overall weighted mean.
	if len(e.stats) < 2 {
		e.lnVar = math.Inf(-1)
	} else {
		devs := make([]float64, len(e.stats))
		for i, s := range e.stats {
			devs[i] = math.Log(float64(s.N)) + 2*lnAbsDiffExp(s.LnMeanRatio, e.lnInv)
		}
		e.lnVar = floats.LogSumExp(devs) - lnW - math.Log(float64(len(e.stats)-1))
	}
	e.cacheOK = true
	return nil
}

// LnInvEvidence returns the log of the accumulated estimate of 1/Z.
func (e *Evidence) LnInvEvidence() (float64, error) {
	if err := e.compute(); err != nil {
		return 0, err
	}
	return e.lnInv, nil
}

// ComputeLnEvidence returns the log evidence estimate and its standard
// deviation. Results are cached until the next AddChains call; repeated
// calls return bit-identical values.
func (e *Evidence) ComputeLnEvidence() (lnEvidence, lnEvidenceStd float64, err error) {
	if err := e.compute(); err != nil {
		return 0, 0, err
	}
	// Delta method through lnZ = -ln(rho): sigma_lnZ = s/rho.
	return -e.lnInv, math.Exp(0.5*e.lnVar - e.lnInv), nil
}

// ComputeEvidence returns the evidence estimate in linear space. It loses
// precision and can overflow for large |ln Z|; callers operating in such
// regimes must use ComputeLnEvidence.
func (e *Evidence) ComputeEvidence() (evidence, evidenceStd float64, err error) {
	lnZ, lnZStd, err := e.ComputeLnEvidence()
	if err != nil {
		return 0, 0, err
	}
	z := math.Exp(lnZ)
	return z, z * lnZStd, nil
}

// ComputeLnInvEvidenceErrors returns the asymmetric (negative, positive)
// confidence bounds on ln(1/Z), one between-chain standard error to each
// side. The bounds are ln(1 -/+ s/rho), so the negative bound is the
// wider of the two; it is -Inf when the standard error reaches the
// estimate itself.
func (e *Evidence) ComputeLnInvEvidenceErrors() (neg, pos float64, err error) {
	if err := e.compute(); err != nil {
		return 0, 0, err
	}
	d := 0.5*e.lnVar - e.lnInv // ln(s/rho)
	pos = math.Log1p(math.Exp(d))
	r := math.Exp(d)
	if r >= 1 {
		neg = math.Inf(-1)
	} else {
		neg = math.Log1p(-r)
	}
	return neg, pos, nil
}

// Snapshot exports the complete accumulator state. Legal only once at
// least one chain has been added.
func (e *Evidence) Snapshot() (*Snapshot, error) {
	if len(e.stats) == 0 {
		return nil, ErrNoData
	}
	params, err := e.model.MarshalBinary()
	if err != nil {
		return nil, err
	}
	stats := make([]ChainStat, len(e.stats))
	copy(stats, e.stats)
	return &Snapshot{
		NDim:        e.ndim,
		NChainsHint: e.nchainsHint,
		ModelTag:    e.model.Tag(),
		ModelParams: params,
		Stats:       stats,
	}, nil
}

// Restore rebuilds an accumulator from a snapshot. Accumulation can then
// continue with AddChains as if the original object had never been
// serialized.
func Restore(snap *Snapshot) (*Evidence, error) {
	m, err := model.FromTag(snap.ModelTag, snap.ModelParams)
	if err != nil {
		return nil, err
	}
	if m.Dim() != snap.NDim {
		return nil, &ErrDimensionMismatch{Expected: snap.NDim, Actual: m.Dim()}
	}
	ev, err := New(snap.NChainsHint, m)
	if err != nil {
		return nil, err
	}
	ev.stats = append(ev.stats, snap.Stats...)
	for _, s := range snap.Stats {
		ev.totalSamples += s.N
	}
	return ev, nil
}

// Model returns the importance distribution the accumulator evaluates.
func (e *Evidence) Model() model.Model { return e.model }

// lnAbsDiffExp returns ln|e^a - e^b| computed without leaving log space.
func lnAbsDiffExp(a, b float64) float64 {
	if a == b {
		return math.Inf(-1)
	}
	m := math.Max(a, b)
	if math.IsInf(m, -1) {
		return math.Inf(-1)
	}
	d := -math.Abs(a - b)
	return m + math.Log(-math.Expm1(d))
}
