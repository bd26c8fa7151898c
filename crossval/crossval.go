package crossval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/harmonic/chains"
	"github.com/hupe1980/harmonic/evidence"
	"github.com/hupe1980/harmonic/model"
)

var (
	// ErrTooFewFolds is returned for fold counts below two.
	ErrTooFewFolds = errors.New("cross-validation requires at least 2 folds")

	// ErrTooFewChains is returned when the chains cannot fill the folds.
	ErrTooFewChains = errors.New("not enough chains for the requested folds")

	// ErrNoCandidates is returned for an empty candidate list.
	ErrNoCandidates = errors.New("no candidates to evaluate")
)

// Candidate is one model configuration under evaluation. New must return
// a fresh, unfitted model on every call; evaluations run concurrently
// and never share a model instance.
type Candidate struct {
	Name string
	New  func() (model.Model, error)
}

// Config controls a cross-validation run.
type Config struct {
	// Folds is the number of validation folds (k). Default 2.
	Folds int

	// Concurrency bounds the number of simultaneous evaluations.
	// Default: number of candidate/fold pairs.
	Concurrency int

	// Rand shuffles the chain order before cutting folds. Required, per
	// the explicit-random-source convention; reuse a seeded source for
	// reproducible sweeps.
	Rand *rand.Rand
}

// Score is the cross-validated result for one candidate.
type Score struct {
	Name string

	// Score is the mean over folds of the variance of ln(1/Z) on the
	// validation chains; lower is better. +Inf when every fold failed
	// to fit.
	Score float64

	// FitFailures counts folds on which the candidate failed to fit.
	FitFailures int
}

// Evaluate cross-validates the candidates over the chains and returns
// their scores sorted ascending (best first). Fit failures penalize the
// affected fold with an infinite score instead of aborting the sweep.
func Evaluate(ctx context.Context, cfg Config, ch *chains.Chains, cands []Candidate) ([]Score, error) {
	if cfg.Folds == 0 {
		cfg.Folds = 2
	}
	if cfg.Folds < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewFolds, cfg.Folds)
	}
	if ch.NChains() < cfg.Folds {
		return nil, fmt.Errorf("%w: %d chains, %d folds", ErrTooFewChains, ch.NChains(), cfg.Folds)
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	if cfg.Rand == nil {
		return nil, errors.New("config requires an explicit random source")
	}

	folds := foldMasks(cfg.Rand, ch.NChains(), cfg.Folds)

	type cell struct {
		variance float64
		failed   bool
	}
	results := make([][]cell, len(cands))
	for i := range results {
		results[i] = make([]cell, len(folds))
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for ci, cand := range cands {
		ci, cand := ci, cand
		for fi, mask := range folds {
			fi, mask := fi, mask
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				variance, ok, err := evaluateFold(cand, ch, mask)
				if err != nil {
					return fmt.Errorf("candidate %q fold %d: %w", cand.Name, fi, err)
				}
				results[ci][fi] = cell{variance: variance, failed: !ok}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]Score, len(cands))
	for ci, cand := range cands {
		var sum float64
		var failures int
		for _, c := range results[ci] {
			if c.failed {
				failures++
				continue
			}
			sum += c.variance
		}
		score := math.Inf(1)
		if failures < len(folds) {
			score = sum / float64(len(folds)-failures)
		}
		scores[ci] = Score{Name: cand.Name, Score: score, FitFailures: failures}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score < scores[j].Score })
	return scores, nil
}

// foldMasks shuffles the chain indices and cuts them into nfolds
// near-equal validation blocks; the returned bitmap for fold k holds the
// training indices (everything outside block k).
func foldMasks(rnd *rand.Rand, nchains, nfolds int) []*roaring.Bitmap {
	perm := rnd.Perm(nchains)
	masks := make([]*roaring.Bitmap, nfolds)
	for k := range masks {
		masks[k] = roaring.New()
	}
	for pos, idx := range perm {
		block := pos * nfolds / nchains
		for k := range masks {
			if k != block {
				masks[k].Add(uint32(idx))
			}
		}
	}
	return masks
}

// evaluateFold fits a fresh candidate model on the training side of the
// mask and returns the validation variance of ln(1/Z). ok=false means
// the fit did not converge.
func evaluateFold(cand Candidate, ch *chains.Chains, mask *roaring.Bitmap) (variance float64, ok bool, err error) {
	train, validate, err := ch.SplitByMask(mask)
	if err != nil {
		return 0, false, err
	}

	m, err := cand.New()
	if err != nil {
		return 0, false, err
	}
	f := train.Flatten()
	fitted, err := m.Fit(f.Samples(), f.LnPosteriors())
	if err != nil {
		return 0, false, err
	}
	if !fitted {
		return 0, false, nil
	}

	ev, err := evidence.New(validate.NChains(), m)
	if err != nil {
		return 0, false, err
	}
	if err := ev.AddChains(validate); err != nil {
		return 0, false, err
	}
	_, lnZStd, err := ev.ComputeLnEvidence()
	if err != nil {
		return 0, false, err
	}
	return lnZStd * lnZStd, true, nil
}
