package harmonic_test

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hupe1980/harmonic"
)

// Example estimates the evidence of a 2-D standard Gaussian posterior,
// for which the analytic answer is ln(2*pi).
func Example() {
	const (
		dim      = 2
		nchains  = 40
		nsamples = 500
	)

	// Stand-in for an external MCMC sampler: iid draws from the
	// posterior with unnormalized log density -|x|^2/2.
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(42)}
	samples := make([][][]float64, nchains)
	lnPost := make([][]float64, nchains)
	for i := range samples {
		samples[i] = make([][]float64, nsamples)
		lnPost[i] = make([]float64, nsamples)
		for j := range samples[i] {
			x := []float64{norm.Rand(), norm.Rand()}
			samples[i][j] = x
			lnPost[i][j] = -(x[0]*x[0] + x[1]*x[1]) / 2
		}
	}

	est, err := harmonic.NewEstimator(dim)
	if err != nil {
		panic(err)
	}
	if err := est.AddSamples3D(samples, lnPost); err != nil {
		panic(err)
	}

	res, err := est.Run(context.Background())
	if err != nil {
		panic(err)
	}

	want := math.Log(2 * math.Pi)
	fmt.Printf("within three standard errors: %v\n", math.Abs(res.LnEvidence-want) < 3*math.Max(res.ErrPos, -res.ErrNeg))
	// Output:
	// within three standard errors: true
}
