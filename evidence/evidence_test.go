package evidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hupe1980/harmonic/chains"
	"github.com/hupe1980/harmonic/model"
)

// gaussianChains draws nchains chains of nsamples iid samples each from a
// dim-dimensional standard Gaussian posterior with unnormalized log
// density -|x|^2/2, so the true evidence is ln Z = dim/2 * ln(2*pi).
func gaussianChains(t *testing.T, nchains, nsamples, dim int, seed uint64) *chains.Chains {
	t.Helper()
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
	ch, err := chains.New(dim)
	require.NoError(t, err)
	require.NoError(t, ch.AddChains3D(samples, lnPost))
	return ch
}

func fitModel(t *testing.T, train *chains.Chains) model.Model {
	t.Helper()
	hs, err := model.NewHyperSphere(train.Dim(), model.WithRadiusBracket(0.1, 10))
	require.NoError(t, err)
	f := train.Flatten()
	ok, err := hs.Fit(f.Samples(), f.LnPosteriors())
	require.NoError(t, err)
	require.True(t, ok, "model fit did not converge")
	return hs
}

func TestEvidence_GaussianEndToEnd(t *testing.T) {
	const (
		dim      = 2
		nchains  = 200
		nsamples = 3000
	)
	ch := gaussianChains(t, nchains, nsamples, dim, 1)
	train, infer, err := ch.Split(0.25)
	require.NoError(t, err)

	m := fitModel(t, train)
	ev, err := New(infer.NChains(), m)
	require.NoError(t, err)
	require.NoError(t, ev.AddChains(infer))

	lnZ, lnZStd, err := ev.ComputeLnEvidence()
	require.NoError(t, err)

	want := float64(dim) / 2 * math.Log(2*math.Pi)
	neg, pos, err := ev.ComputeLnInvEvidenceErrors()
	require.NoError(t, err)
	require.Less(t, neg, 0.0)
	require.Greater(t, pos, 0.0)

	tol := 3 * math.Max(pos, -neg)
	require.InDelta(t, want, lnZ, tol, "ln evidence %f (std %f) not within 3 standard errors of %f", lnZ, lnZStd, want)
}

func TestEvidence_Idempotent(t *testing.T) {
	ch := gaussianChains(t, 20, 200, 2, 2)
	train, infer, err := ch.Split(0.5)
	require.NoError(t, err)

	ev, err := New(infer.NChains(), fitModel(t, train))
	require.NoError(t, err)
	require.NoError(t, ev.AddChains(infer))

	lnZ1, std1, err := ev.ComputeLnEvidence()
	require.NoError(t, err)
	lnZ2, std2, err := ev.ComputeLnEvidence()
	require.NoError(t, err)

	// Cached, bit-identical.
	require.Equal(t, lnZ1, lnZ2)
	require.Equal(t, std1, std2)
}

func TestEvidence_BatchOrderInvariant(t *testing.T) {
	ch := gaussianChains(t, 30, 200, 2, 3)
	train, infer, err := ch.Split(0.3)
	require.NoError(t, err)
	a, b, err := infer.Split(0.5)
	require.NoError(t, err)

	m := fitModel(t, train)

	evAB, err := New(infer.NChains(), m)
	require.NoError(t, err)
	require.NoError(t, evAB.AddChains(a))
	require.NoError(t, evAB.AddChains(b))

	evBA, err := New(infer.NChains(), m)
	require.NoError(t, err)
	require.NoError(t, evBA.AddChains(b))
	require.NoError(t, evBA.AddChains(a))

	lnZ1, _, err := evAB.ComputeLnEvidence()
	require.NoError(t, err)
	lnZ2, _, err := evBA.ComputeLnEvidence()
	require.NoError(t, err)
	require.InDelta(t, lnZ1, lnZ2, 1e-10)
}

func TestEvidence_OutsideSupportAbsorbed(t *testing.T) {
	// A tiny fixed-radius model leaves most samples outside its support;
	// accumulation must absorb the -Inf terms and still produce finite
	// results.
	ch := gaussianChains(t, 4, 500, 2, 4)
	m, err := model.NewFixedHyperSphere(2, 0.5)
	require.NoError(t, err)

	ev, err := New(4, m)
	require.NoError(t, err)
	require.NoError(t, ev.AddChains(ch))

	lnZ, _, err := ev.ComputeLnEvidence()
	require.NoError(t, err)
	require.False(t, math.IsNaN(lnZ))
}

func TestEvidence_Preconditions(t *testing.T) {
	un, err := model.NewHyperSphere(2)
	require.NoError(t, err)
	_, err = New(4, un)
	require.ErrorIs(t, err, ErrModelNotFitted)

	m, err := model.NewFixedHyperSphere(2, 1)
	require.NoError(t, err)

	_, err = New(0, m)
	require.ErrorIs(t, err, ErrInvalidChainCount)

	ev, err := New(4, m)
	require.NoError(t, err)

	_, _, err = ev.ComputeLnEvidence()
	require.ErrorIs(t, err, ErrNoData)
	_, _, err = ev.ComputeLnInvEvidenceErrors()
	require.ErrorIs(t, err, ErrNoData)
	_, err = ev.Snapshot()
	require.ErrorIs(t, err, ErrNoData)

	wrongDim := gaussianChains(t, 2, 10, 3, 5)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, ev.AddChains(wrongDim), &dm)
	require.Equal(t, 2, dm.Expected)
	require.Equal(t, 3, dm.Actual)
}

func TestEvidence_SnapshotRestore(t *testing.T) {
	ch := gaussianChains(t, 20, 300, 2, 6)
	train, infer, err := ch.Split(0.5)
	require.NoError(t, err)
	first, second, err := infer.Split(0.5)
	require.NoError(t, err)

	m := fitModel(t, train)

	// Reference: accumulate both batches without interruption.
	ref, err := New(infer.NChains(), m)
	require.NoError(t, err)
	require.NoError(t, ref.AddChains(first))
	require.NoError(t, ref.AddChains(second))
	wantLnZ, wantStd, err := ref.ComputeLnEvidence()
	require.NoError(t, err)

	// Interrupted: snapshot after the first batch, restore, continue.
	ev, err := New(infer.NChains(), m)
	require.NoError(t, err)
	require.NoError(t, ev.AddChains(first))
	snap, err := ev.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(snap)
	require.NoError(t, err)
	require.Equal(t, ev.NChains(), restored.NChains())
	require.Equal(t, ev.NSamples(), restored.NSamples())
	require.NoError(t, restored.AddChains(second))

	gotLnZ, gotStd, err := restored.ComputeLnEvidence()
	require.NoError(t, err)
	require.InDelta(t, wantLnZ, gotLnZ, 1e-12)
	require.InDelta(t, wantStd, gotStd, 1e-12)
}

func TestLnAbsDiffExp(t *testing.T) {
	cases := []struct{ a, b float64 }{
		{1, 2},
		{-700, -701},
		{0, 0.5},
		{3, 3},
	}
	for _, c := range cases {
		want := math.Log(math.Abs(math.Exp(c.a) - math.Exp(c.b)))
		got := lnAbsDiffExp(c.a, c.b)
		if c.a == c.b {
			require.True(t, math.IsInf(got, -1))
			continue
		}
		require.InDelta(t, want, got, 1e-9, "a=%v b=%v", c.a, c.b)
	}
}
