package harmonic

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hupe1980/harmonic/blobstore"
	"github.com/hupe1980/harmonic/checkpoint"
	"github.com/hupe1980/harmonic/model"
)

// gaussianBlock draws a (nchains, nsamples, dim) block from a standard
// Gaussian posterior with unnormalized log density -|x|^2/2, for which
// ln Z = dim/2 * ln(2*pi).
func gaussianBlock(nchains, nsamples, dim int, seed uint64) ([][][]float64, [][]float64) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	samples := make([][][]float64, nchains)
	lnPost := make([][]float64, nchains)
	for i := range samples {
		samples[i] = make([][]float64, nsamples)
		lnPost[i] = make([]float64, nsamples)
		for j := range samples[i] {
			x := make([]float64, dim)
			var r2 float64
			for d := range x {
				x[d] = norm.Rand()
				r2 += x[d] * x[d]
			}
			samples[i][j] = x
			lnPost[i][j] = -r2 / 2
		}
	}
	return samples, lnPost
}

func TestEstimator_EndToEnd(t *testing.T) {
	est, err := NewEstimator(2)
	require.NoError(t, err)

	samples, lnPost := gaussianBlock(40, 500, 2, 1)
	require.NoError(t, est.AddSamples3D(samples, lnPost))

	res, err := est.Run(context.Background())
	require.NoError(t, err)

	want := math.Log(2 * math.Pi)
	tol := 3 * math.Max(res.ErrPos, -res.ErrNeg)
	require.InDelta(t, want, res.LnEvidence, tol)
	require.Equal(t, 20, res.NChains) // half went to training
	require.InDelta(t, -res.LnEvidence, res.LnInvEvidence, 1e-12)
}

func TestEstimator_NoSamples(t *testing.T) {
	est, err := NewEstimator(2)
	require.NoError(t, err)
	_, err = est.Run(context.Background())
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestEstimator_PrefittedModelSkipsSplit(t *testing.T) {
	m, err := model.NewFixedHyperSphere(2, 1.5)
	require.NoError(t, err)
	est, err := NewEstimator(2, WithModel(m))
	require.NoError(t, err)

	samples, lnPost := gaussianBlock(10, 200, 2, 2)
	require.NoError(t, est.AddSamples3D(samples, lnPost))

	res, err := est.Run(context.Background())
	require.NoError(t, err)
	// Every chain feeds the accumulator when the model arrives fitted.
	require.Equal(t, 10, res.NChains)
}

func TestEstimator_IncrementalRuns(t *testing.T) {
	m, err := model.NewFixedHyperSphere(2, 1.5)
	require.NoError(t, err)
	est, err := NewEstimator(2, WithModel(m))
	require.NoError(t, err)

	s1, p1 := gaussianBlock(5, 200, 2, 3)
	require.NoError(t, est.AddSamples3D(s1, p1))
	res1, err := est.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, res1.NChains)

	s2, p2 := gaussianBlock(5, 200, 2, 4)
	require.NoError(t, est.AddSamples3D(s2, p2))
	res2, err := est.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, res2.NChains)

	// Running again with nothing pending is idempotent.
	res3, err := est.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, res2.LnEvidence, res3.LnEvidence)
}

func TestEstimator_CheckpointResume(t *testing.T) {
	ctx := context.Background()
	mgr := checkpoint.NewManager(blobstore.NewMemoryStore())

	est, err := NewEstimator(2, WithCheckpointManager(mgr))
	require.NoError(t, err)

	// Checkpoint preconditions.
	require.ErrorIs(t, est.Checkpoint(ctx, "ckpt"), ErrNotRun)

	samples, lnPost := gaussianBlock(20, 300, 2, 5)
	require.NoError(t, est.AddSamples3D(samples, lnPost))
	_, err = est.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, est.Checkpoint(ctx, "ckpt"))

	// Resume in a "new process" and continue accumulating.
	resumed, err := ResumeEstimator(ctx, "ckpt", WithCheckpointManager(mgr))
	require.NoError(t, err)
	require.Equal(t, 2, resumed.Dim())

	s2, p2 := gaussianBlock(10, 300, 2, 6)
	require.NoError(t, resumed.AddSamples3D(s2, p2))
	resResumed, err := resumed.Run(ctx)
	require.NoError(t, err)

	// Reference path without the serialize/restore detour.
	require.NoError(t, est.AddSamples3D(s2, p2))
	resDirect, err := est.Run(ctx)
	require.NoError(t, err)

	require.InDelta(t, resDirect.LnEvidence, resResumed.LnEvidence, 1e-12)
	require.Equal(t, resDirect.NChains, resResumed.NChains)
	require.Equal(t, resDirect.NSamples, resResumed.NSamples)
}

func TestEstimator_ResumeRequiresManager(t *testing.T) {
	_, err := ResumeEstimator(context.Background(), "ckpt")
	require.ErrorIs(t, err, ErrNoCheckpointManager)
}
