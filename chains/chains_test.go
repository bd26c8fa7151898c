package chains

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"
)

func block(nchains, nsamples, ndim int, seed int64) ([][][]float64, [][]float64) {
	rnd := rand.New(rand.NewSource(seed))
	samples := make([][][]float64, nchains)
	lnPost := make([][]float64, nchains)
	for i := range samples {
		samples[i] = make([][]float64, nsamples)
		lnPost[i] = make([]float64, nsamples)
		for j := range samples[i] {
			row := make([]float64, ndim)
			for d := range row {
				row[d] = rnd.NormFloat64()
			}
			samples[i][j] = row
			lnPost[i][j] = -rnd.Float64()
		}
	}
	return samples, lnPost
}

func TestChains_AddChains3D(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)

	samples, lnPost := block(5, 20, 3, 1)
	require.NoError(t, c.AddChains3D(samples, lnPost))

	require.Equal(t, 5, c.NChains())
	require.Equal(t, 100, c.NSamples())

	f := c.Flatten()
	require.Equal(t, 100, f.Len())
	for i := 0; i < f.Len(); i++ {
		require.Len(t, f.Sample(i), 3)
	}

	// Chain boundaries are evenly spaced for the rectangular path.
	for i := 0; i < 5; i++ {
		lo, hi := f.ChainBounds(i)
		require.Equal(t, 20*i, lo)
		require.Equal(t, 20*(i+1), hi)
	}
}

func TestChains_AddChains3D_ShapeMismatch(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)

	samples, lnPost := block(2, 10, 4, 2) // wrong trailing dim
	err = c.AddChains3D(samples, lnPost)
	var sm *ErrShapeMismatch
	require.ErrorAs(t, err, &sm)
	require.Equal(t, 3, sm.Expected)
	require.Equal(t, 4, sm.Actual)

	samples, lnPost = block(2, 10, 3, 3)
	lnPost = lnPost[:1] // disagreeing leading dims
	err = c.AddChains3D(samples, lnPost)
	require.ErrorAs(t, err, &sm)
}

func TestChains_AddChain_Ragged(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	s1, p1 := block(1, 7, 2, 4)
	s2, p2 := block(1, 13, 2, 5)
	require.NoError(t, c.AddChain(s1[0], p1[0]))
	require.NoError(t, c.AddChain(s2[0], p2[0]))

	require.Equal(t, 2, c.NChains())
	require.Equal(t, 20, c.NSamples())

	got, lp := c.Chain(1)
	require.Len(t, got, 13)
	require.Equal(t, p2[0], lp)
}

func TestChains_AddChain_EmptyRejected(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	var sm *ErrShapeMismatch
	require.ErrorAs(t, c.AddChain(nil, nil), &sm)
}

func TestChains_Add_Concat(t *testing.T) {
	a, _ := New(2)
	b, _ := New(2)
	sa, pa := block(3, 10, 2, 6)
	sb, pb := block(2, 15, 2, 7)
	require.NoError(t, a.AddChains3D(sa, pa))
	require.NoError(t, b.AddChains3D(sb, pb))

	require.NoError(t, a.Add(b))
	require.Equal(t, 5, a.NChains())
	require.Equal(t, 60, a.NSamples())

	// Chain 3 of the concatenation is chain 0 of b.
	got, lp := a.Chain(3)
	require.Equal(t, sb[0], got)
	require.Equal(t, pb[0], lp)

	other, _ := New(3)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, a.Add(other), &dm)
}

func TestChains_Split(t *testing.T) {
	c, _ := New(2)
	samples, lnPost := block(10, 5, 2, 8)
	require.NoError(t, c.AddChains3D(samples, lnPost))

	train, infer, err := c.Split(0.7)
	require.NoError(t, err)
	require.Equal(t, 7, train.NChains())
	require.Equal(t, 3, infer.NChains())
	require.Equal(t, c.NChains(), train.NChains()+infer.NChains())

	// Disjointness: mutating a training copy must not leak into infer.
	ts, _ := train.Chain(0)
	ts[0][0] = 1e9
	is, _ := infer.Chain(0)
	require.NotEqual(t, 1e9, is[0][0])
}

func TestChains_Split_Preconditions(t *testing.T) {
	c, _ := New(2)
	s, p := block(1, 5, 2, 9)
	require.NoError(t, c.AddChains3D(s, p))
	_, _, err := c.Split(0.5)
	require.ErrorIs(t, err, ErrInsufficientChains)

	s, p = block(3, 5, 2, 10)
	require.NoError(t, c.AddChains3D(s, p))

	var ip *ErrInvalidProportion
	_, _, err = c.Split(0.0)
	require.ErrorAs(t, err, &ip)
	_, _, err = c.Split(1.0)
	require.ErrorAs(t, err, &ip)
}

func TestChains_SplitShuffled_Reproducible(t *testing.T) {
	c, _ := New(2)
	samples, lnPost := block(8, 5, 2, 11)
	require.NoError(t, c.AddChains3D(samples, lnPost))

	t1, i1, err := c.SplitShuffled(rand.New(rand.NewSource(42)), 0.5)
	require.NoError(t, err)
	t2, i2, err := c.SplitShuffled(rand.New(rand.NewSource(42)), 0.5)
	require.NoError(t, err)

	require.Equal(t, t1.Flatten().LnPosteriors(), t2.Flatten().LnPosteriors())
	require.Equal(t, i1.Flatten().LnPosteriors(), i2.Flatten().LnPosteriors())
}

func TestChains_SplitByMask(t *testing.T) {
	c, _ := New(2)
	samples, lnPost := block(6, 4, 2, 12)
	require.NoError(t, c.AddChains3D(samples, lnPost))

	mask := roaring.BitmapOf(0, 2, 4)
	train, infer, err := c.SplitByMask(mask)
	require.NoError(t, err)
	require.Equal(t, 3, train.NChains())
	require.Equal(t, 3, infer.NChains())

	got, _ := train.Chain(1)
	require.Equal(t, samples[2], got)

	var im *ErrInvalidMask
	_, _, err = c.SplitByMask(roaring.BitmapOf(99))
	require.ErrorAs(t, err, &im)
	_, _, err = c.SplitByMask(roaring.BitmapOf(0, 1, 2, 3, 4, 5))
	require.ErrorAs(t, err, &im)
}

func TestChains_New_InvalidDimension(t *testing.T) {
	_, err := New(0)
	require.True(t, errors.Is(err, ErrInvalidDimension))
}
