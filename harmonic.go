package harmonic

import (
	"context"
	"fmt"

	"github.com/hupe1980/harmonic/chains"
	"github.com/hupe1980/harmonic/evidence"
	"github.com/hupe1980/harmonic/model"
)

// Result holds the estimator output after a Run.
type Result struct {
	// LnEvidence is the estimated log evidence ln(Z).
	LnEvidence float64

	// LnEvidenceStd is the standard deviation of LnEvidence, derived
	// from the between-chain spread.
	LnEvidenceStd float64

	// LnInvEvidence is the directly accumulated estimate of ln(1/Z).
	LnInvEvidence float64

	// ErrNeg and ErrPos are the asymmetric confidence bounds on
	// LnInvEvidence, one standard error to each side.
	ErrNeg, ErrPos float64

	// NChains and NSamples count what the accumulator has consumed so
	// far, across all runs and resumes.
	NChains  int
	NSamples uint64
}

// Estimator is the end-to-end pipeline: collect chains from the
// sampler, split off a training partition, fit the importance
// distribution, and accumulate the evidence estimate. Not safe for
// concurrent use.
type Estimator struct {
	ndim    int
	opts    options
	pending *chains.Chains
	ev      *evidence.Evidence
}

// NewEstimator creates an estimator for samples of the given dimension.
func NewEstimator(ndim int, opts ...Option) (*Estimator, error) {
	o := options{
		trainingProportion: 0.5,
		expectedChains:     1,
		logger:             NoopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	pending, err := chains.New(ndim)
	if err != nil {
		return nil, err
	}
	return &Estimator{ndim: ndim, opts: o, pending: pending}, nil
}

// ResumeEstimator restores an estimator from a named checkpoint. The
// options must include the checkpoint manager used to write it. Samples
// added afterwards are treated as inference chains; the model travels
// inside the checkpoint and is not refitted.
func ResumeEstimator(ctx context.Context, name string, opts ...Option) (*Estimator, error) {
	o := options{
		trainingProportion: 0.5,
		expectedChains:     1,
		logger:             NoopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.manager == nil {
		return nil, ErrNoCheckpointManager
	}

	ev, err := o.manager.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resume from %q: %w", name, err)
	}
	pending, err := chains.New(ev.Dim())
	if err != nil {
		return nil, err
	}
	o.logger.WithNDim(ev.Dim()).WithChains(ev.NChains(), ev.NSamples()).Info("resumed from checkpoint", "name", name)
	return &Estimator{ndim: ev.Dim(), opts: o, pending: pending, ev: ev}, nil
}

// Dim returns the sample dimensionality.
func (e *Estimator) Dim() int { return e.ndim }

// AddSamples3D feeds a rectangular block of chains from the sampler:
// samples shaped (nchains, nsamplesPerChain, ndim), lnPosterior
// (nchains, nsamplesPerChain).
func (e *Estimator) AddSamples3D(samples [][][]float64, lnPosterior [][]float64) error {
	return e.pending.AddChains3D(samples, lnPosterior)
}

// AddChain feeds a single chain of arbitrary length.
func (e *Estimator) AddChain(samples [][]float64, lnPosterior []float64) error {
	return e.pending.AddChain(samples, lnPosterior)
}

// Run consumes the pending chains and returns the current evidence
// estimate. The first run fits the model on a training partition unless
// an already-fitted model was supplied; later runs feed every pending
// chain straight into the accumulator, refining the estimate
// monotonically.
func (e *Estimator) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.ev == nil {
		if err := e.bootstrap(); err != nil {
			return nil, err
		}
	} else if e.pending.NChains() > 0 {
		if err := e.ev.AddChains(e.pending); err != nil {
			return nil, err
		}
		e.resetPending()
	}

	lnZ, lnZStd, err := e.ev.ComputeLnEvidence()
	if err != nil {
		return nil, err
	}
	lnInv, err := e.ev.LnInvEvidence()
	if err != nil {
		return nil, err
	}
	neg, pos, err := e.ev.ComputeLnInvEvidenceErrors()
	if err != nil {
		return nil, err
	}

	res := &Result{
		LnEvidence:    lnZ,
		LnEvidenceStd: lnZStd,
		LnInvEvidence: lnInv,
		ErrNeg:        neg,
		ErrPos:        pos,
		NChains:       e.ev.NChains(),
		NSamples:      e.ev.NSamples(),
	}
	e.opts.logger.WithNDim(e.ndim).WithChains(res.NChains, res.NSamples).Info("evidence estimate",
		"ln_evidence", res.LnEvidence,
		"ln_evidence_std", res.LnEvidenceStd,
	)
	return res, nil
}

// bootstrap performs the first-run split/fit/accumulate sequence.
func (e *Estimator) bootstrap() error {
	if e.pending.NChains() == 0 {
		return ErrNoSamples
	}

	m := e.opts.model
	if m == nil {
		hs, err := model.NewHyperSphere(e.ndim)
		if err != nil {
			return err
		}
		m = hs
	}

	infer := e.pending
	if !m.IsFitted() {
		train, rest, err := e.pending.Split(e.opts.trainingProportion)
		if err != nil {
			return err
		}
		f := train.Flatten()
		e.opts.logger.WithNDim(e.ndim).WithChains(train.NChains(), uint64(train.NSamples())).Info("fitting importance distribution")
		ok, err := m.Fit(f.Samples(), f.LnPosteriors())
		if err != nil {
			return err
		}
		if !ok {
			return ErrFitFailed
		}
		infer = rest
	}

	ev, err := evidence.New(max(e.opts.expectedChains, infer.NChains()), m)
	if err != nil {
		return err
	}
	if err := ev.AddChains(infer); err != nil {
		return err
	}
	e.ev = ev
	e.resetPending()
	return nil
}

func (e *Estimator) resetPending() {
	e.pending, _ = chains.New(e.ndim)
}

// Checkpoint snapshots the accumulator under the given blob name.
// Requires WithCheckpointManager and at least one completed Run.
func (e *Estimator) Checkpoint(ctx context.Context, name string) error {
	if e.opts.manager == nil {
		return ErrNoCheckpointManager
	}
	if e.ev == nil {
		return ErrNotRun
	}
	if err := e.opts.manager.Save(ctx, name, e.ev); err != nil {
		return err
	}
	e.opts.logger.WithNDim(e.ndim).WithChains(e.ev.NChains(), e.ev.NSamples()).Info("checkpoint written", "name", name)
	return nil
}
