package model

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// gaussianTraining draws n samples from a D-dimensional standard Gaussian
// and returns them with their exact log densities.
func gaussianTraining(n, dim int, seed uint64) ([][]float64, []float64) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	samples := make([][]float64, n)
	lnPost := make([]float64, n)
	for i := range samples {
		x := make([]float64, dim)
		var r2 float64
		for j := range x {
			x[j] = norm.Rand()
			r2 += x[j] * x[j]
		}
		samples[i] = x
		lnPost[i] = -float64(dim)/2*math.Log(2*math.Pi) - r2/2
	}
	return samples, lnPost
}

func TestHyperSphere_FitGaussian(t *testing.T) {
	const dim = 2
	samples, lnPost := gaussianTraining(5000, dim, 1)

	hs, err := NewHyperSphere(dim, WithRadiusBracket(0.1, 10))
	if err != nil {
		t.Fatalf("NewHyperSphere failed: %v", err)
	}
	ok, err := hs.Fit(samples, lnPost)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !ok {
		t.Fatal("Fit did not converge")
	}
	if !hs.IsFitted() {
		t.Fatal("IsFitted false after successful fit")
	}

	// The learnt radius tracks the Gaussian mass scale sqrt(dim).
	want := math.Sqrt(dim)
	if hs.Radius() < 0.7*want || hs.Radius() > 1.8*want {
		t.Errorf("fitted radius %f outside plausible band around sqrt(%d)=%f", hs.Radius(), dim, want)
	}
}

func TestHyperSphere_LnPredictSupport(t *testing.T) {
	hs, err := NewFixedHyperSphere(2, 2.0)
	if err != nil {
		t.Fatalf("NewFixedHyperSphere failed: %v", err)
	}

	// Uniform density on a disk of radius 2: ln(1/(pi*4)).
	want := -math.Log(math.Pi * 4)
	got := hs.LnPredict([]float64{0, 0})
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("interior density: got %f, want %f", got, want)
	}

	// On the boundary: still inside the support.
	if v := hs.LnPredict([]float64{2, 0}); math.IsInf(v, -1) {
		t.Error("boundary point reported outside support")
	}

	// Strictly outside: negative infinity, not an error.
	if v := hs.LnPredict([]float64{2.0001, 0}); !math.IsInf(v, -1) {
		t.Errorf("exterior density: got %f, want -Inf", v)
	}
}

func TestHyperSphere_FitDegenerate(t *testing.T) {
	hs, _ := NewHyperSphere(3)

	// Fewer than ndim+1 samples: fit failure flag, not an error.
	samples, lnPost := gaussianTraining(3, 3, 2)
	ok, err := hs.Fit(samples, lnPost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected fit failure for degenerate training set")
	}
	if hs.IsFitted() {
		t.Error("IsFitted true after failed fit")
	}
}

func TestHyperSphere_FitEmptyBracket(t *testing.T) {
	// A bracket so tight that no candidate radius encloses any training
	// point must be rejected as a fit failure.
	hs, err := NewHyperSphere(2, WithRadiusBracket(1e-7, 1e-6))
	if err != nil {
		t.Fatalf("NewHyperSphere failed: %v", err)
	}
	samples, lnPost := gaussianTraining(100, 2, 3)
	ok, err := hs.Fit(samples, lnPost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected fit failure for bracket enclosing zero points")
	}
}

func TestHyperSphere_FitShapeMismatch(t *testing.T) {
	hs, _ := NewHyperSphere(2)
	samples, lnPost := gaussianTraining(10, 3, 4)
	_, err := hs.Fit(samples, lnPost)
	if err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestHyperSphere_MarshalRoundTrip(t *testing.T) {
	samples, lnPost := gaussianTraining(500, 2, 5)
	hs, _ := NewHyperSphere(2)
	ok, err := hs.Fit(samples, lnPost)
	if err != nil || !ok {
		t.Fatalf("fit: ok=%v err=%v", ok, err)
	}

	data, err := hs.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	restored, err := FromTag(TagHyperSphere, data)
	if err != nil {
		t.Fatalf("FromTag failed: %v", err)
	}

	probes := [][]float64{{0, 0}, {0.5, -0.3}, {5, 5}}
	for _, p := range probes {
		a, b := hs.LnPredict(p), restored.LnPredict(p)
		if a != b && !(math.IsInf(a, -1) && math.IsInf(b, -1)) {
			t.Errorf("restored model diverges at %v: %f vs %f", p, a, b)
		}
	}
}

func TestHyperSphere_SetLnNormalizingConstant(t *testing.T) {
	hs, _ := NewFixedHyperSphere(2, 1.0)
	hs.SetLnNormalizingConstant(3.5)
	if got := hs.LnPredict([]float64{0, 0}); got != -3.5 {
		t.Errorf("got %f, want -3.5", got)
	}
}

func TestFromTag_Unknown(t *testing.T) {
	if _, err := FromTag(0xFF, nil); err == nil {
		t.Fatal("expected error for unknown variant tag")
	}
}
