package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Criterion scores a candidate radius during HyperSphere fitting; lower
// is better. lnVolume is the log normalizing constant of the candidate
// density, lnPosteriorEnclosed the log-posterior values of the training
// points inside the candidate radius, nTraining the total training count.
type Criterion func(lnVolume float64, lnPosteriorEnclosed []float64, nTraining int) float64

// SecondMomentCriterion is the default radius criterion: the empirical
// second moment of the importance ratio phi(x)/exp(ln p(x)) over the
// training points, computed in log space. The first moment of the ratio
// is fixed at 1/Z for any normalized phi, so minimizing the second moment
// minimizes the estimator variance.
func SecondMomentCriterion(lnVolume float64, lnPosteriorEnclosed []float64, nTraining int) float64 {
	if len(lnPosteriorEnclosed) == 0 {
		return math.Inf(1)
	}
	terms := make([]float64, len(lnPosteriorEnclosed))
	for i, lnp := range lnPosteriorEnclosed {
		terms[i] = 2 * (-lnVolume - lnp)
	}
	return floats.LogSumExp(terms) - math.Log(float64(nTraining))
}

// HyperSphere is the reference importance distribution: a uniform density
// over the ellipsoid sum_j ((x_j-mu_j)/sigma_j)^2 <= R^2, zero outside.
// The center mu and diagonal scales sigma come from the training sample
// mean and standard deviation; the radius R is learnt within a configured
// bracket.
type HyperSphere struct {
	ndim      int
	bracket   [2]float64
	criterion Criterion

	center []float64
	scales []float64
	radius float64
	lnVol  float64 // log normalizing constant of the fitted density
	fitted bool
}

// HyperSphereOption configures a HyperSphere.
type HyperSphereOption func(*HyperSphere)

// WithRadiusBracket sets the closed search bracket for the radius,
// measured in whitened (per-dimension scaled) units.
func WithRadiusBracket(min, max float64) HyperSphereOption {
	return func(hs *HyperSphere) {
		hs.bracket = [2]float64{min, max}
	}
}

// WithCriterion replaces the radius selection criterion.
func WithCriterion(c Criterion) HyperSphereOption {
	return func(hs *HyperSphere) {
		if c != nil {
			hs.criterion = c
		}
	}
}

// WithCenter fixes the ellipsoid center instead of the training mean.
// Only meaningful on an already-fitted model built via
// NewFixedHyperSphere.
func WithCenter(center []float64) HyperSphereOption {
	return func(hs *HyperSphere) {
		hs.center = append([]float64(nil), center...)
	}
}

// WithScales fixes the per-dimension scales instead of the training
// standard deviations. Only meaningful with NewFixedHyperSphere.
func WithScales(scales []float64) HyperSphereOption {
	return func(hs *HyperSphere) {
		hs.scales = append([]float64(nil), scales...)
	}
}

// NewHyperSphere creates an unfitted hyper-sphere model of the given
// dimension. The default radius bracket is [0.1, 10] in whitened units.
func NewHyperSphere(ndim int, opts ...HyperSphereOption) (*HyperSphere, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", ndim)
	}
	hs := &HyperSphere{
		ndim:      ndim,
		bracket:   [2]float64{0.1, 10},
		criterion: SecondMomentCriterion,
	}
	for _, opt := range opts {
		opt(hs)
	}
	if !(hs.bracket[0] > 0) || !(hs.bracket[1] > hs.bracket[0]) {
		return nil, fmt.Errorf("invalid radius bracket [%g, %g]", hs.bracket[0], hs.bracket[1])
	}
	return hs, nil
}

// NewFixedHyperSphere creates an already-fitted hyper-sphere with the
// given radius, for diagnostic use where the correct configuration is
// known a priori. The center defaults to the origin and the scales to
// one; override with WithCenter and WithScales.
func NewFixedHyperSphere(ndim int, radius float64, opts ...HyperSphereOption) (*HyperSphere, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", ndim)
	}
	if !(radius > 0) {
		return nil, fmt.Errorf("radius must be positive, got %g", radius)
	}
	hs := &HyperSphere{
		ndim:      ndim,
		bracket:   [2]float64{radius, radius},
		criterion: SecondMomentCriterion,
		center:    make([]float64, ndim),
		scales:    ones(ndim),
		radius:    radius,
	}
	for _, opt := range opts {
		opt(hs)
	}
	if len(hs.center) != ndim || len(hs.scales) != ndim {
		return nil, &ErrShapeMismatch{What: "center/scales length", Expected: ndim, Actual: len(hs.center)}
	}
	hs.lnVol = hs.lnVolume(radius)
	hs.fitted = true
	return hs, nil
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// Dim returns the model dimensionality.
func (hs *HyperSphere) Dim() int { return hs.ndim }

// IsFitted reports whether the model holds a fitted density.
func (hs *HyperSphere) IsFitted() bool { return hs.fitted }

// Radius returns the fitted radius in whitened units.
func (hs *HyperSphere) Radius() float64 { return hs.radius }

// Tag returns the checkpoint variant tag.
func (hs *HyperSphere) Tag() byte { return TagHyperSphere }

// lnVolume is the log volume of the ellipsoid of whitened radius r,
// which is the log normalizing constant of the uniform density on it.
func (hs *HyperSphere) lnVolume(r float64) float64 {
	lnV := lnBallVolume(hs.ndim, r)
	for _, s := range hs.scales {
		lnV += math.Log(s)
	}
	return lnV
}

// Fit learns the center, scales and radius from the training samples.
// It returns ok=false when fewer than ndim+1 samples are supplied, when
// no candidate radius in the bracket encloses at least ndim+1 training
// points, or when the criterion is non-finite across the whole bracket.
func (hs *HyperSphere) Fit(samples [][]float64, lnPosterior []float64) (bool, error) {
	if err := validateTraining(hs.ndim, samples, lnPosterior); err != nil {
		return false, err
	}
	n := len(samples)
	if n < hs.ndim+1 {
		return false, nil
	}

	hs.fitted = false
	hs.center = make([]float64, hs.ndim)
	hs.scales = make([]float64, hs.ndim)
	col := make([]float64, n)
	for j := 0; j < hs.ndim; j++ {
		for i := range samples {
			col[i] = samples[i][j]
		}
		mu := stat.Mean(col, nil)
		sigma := stat.StdDev(col, nil)
		if sigma == 0 || math.IsNaN(sigma) {
			sigma = 1
		}
		hs.center[j] = mu
		hs.scales[j] = sigma
	}

	// Whitened distance of every training point from the center, sorted
	// so the points enclosed by a candidate radius are a prefix.
	type point struct {
		r   float64
		lnp float64
	}
	pts := make([]point, n)
	for i, s := range samples {
		var r2 float64
		for j := 0; j < hs.ndim; j++ {
			d := (s[j] - hs.center[j]) / hs.scales[j]
			r2 += d * d
		}
		pts[i] = point{r: math.Sqrt(r2), lnp: lnPosterior[i]}
	}
	sort.Slice(pts, func(a, b int) bool { return pts[a].r < pts[b].r })
	radii := make([]float64, n)
	lnps := make([]float64, n)
	for i, p := range pts {
		radii[i] = p.r
		lnps[i] = p.lnp
	}

	objective := func(lnR float64) float64 {
		r := math.Exp(lnR)
		idx := sort.SearchFloat64s(radii, math.Nextafter(r, math.Inf(1)))
		if idx < hs.ndim+1 {
			return math.Inf(1)
		}
		return hs.criterion(hs.lnVolume(r), lnps[:idx], n)
	}

	// Reject brackets where even the widest radius is degenerate.
	if math.IsInf(objective(math.Log(hs.bracket[1])), 1) {
		return false, nil
	}

	lnR, score := goldenSection(objective, math.Log(hs.bracket[0]), math.Log(hs.bracket[1]), 1e-6)
	if math.IsInf(score, 1) || math.IsNaN(score) {
		return false, nil
	}

	hs.radius = math.Exp(lnR)
	hs.lnVol = hs.lnVolume(hs.radius)
	hs.fitted = true
	return true, nil
}

// LnPredict returns the log density at x: the negated log volume inside
// the fitted ellipsoid, negative infinity outside.
func (hs *HyperSphere) LnPredict(x []float64) float64 {
	if !hs.fitted {
		return math.Inf(-1)
	}
	if len(x) != hs.ndim {
		panic(fmt.Sprintf("harmonic/model: position dimension %d, model dimension %d", len(x), hs.ndim))
	}
	var r2 float64
	for j := 0; j < hs.ndim; j++ {
		d := (x[j] - hs.center[j]) / hs.scales[j]
		r2 += d * d
	}
	if r2 > hs.radius*hs.radius {
		return math.Inf(-1)
	}
	return -hs.lnVol
}

// SetLnNormalizingConstant overrides the analytically computed log
// normalizing constant. Intended for diagnostics and tests where the
// constant is known from elsewhere.
func (hs *HyperSphere) SetLnNormalizingConstant(lnNorm float64) {
	hs.lnVol = lnNorm
}

// goldenSection minimizes f over [a, b] by golden-section search and
// returns the minimizer and its value. Ties resolve toward the lower end
// of the bracket.
func goldenSection(f func(float64) float64, a, b, tol float64) (x, fx float64) {
	const invPhi = 0.6180339887498949
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for b-a > tol*(1+math.Abs(a)+math.Abs(b)) {
		if fc <= fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	x = (a + b) / 2
	return x, f(x)
}

// MarshalBinary serializes the fitted parameters.
// Format (little-endian): [ndim:u32][radius:f64][lnVol:f64][center:ndim*f64][scales:ndim*f64]
func (hs *HyperSphere) MarshalBinary() ([]byte, error) {
	if !hs.fitted {
		return nil, fmt.Errorf("hypersphere not fitted")
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(hs.ndim)); err != nil {
		return nil, err
	}
	for _, v := range []float64{hs.radius, hs.lnVol} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	for _, s := range [][]float64{hs.center, hs.scales} {
		if err := binary.Write(&buf, binary.LittleEndian, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted model from MarshalBinary output.
func (hs *HyperSphere) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var ndim uint32
	if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
		return fmt.Errorf("hypersphere params: %w", err)
	}
	if ndim == 0 {
		return fmt.Errorf("hypersphere params: zero dimension")
	}
	hs.ndim = int(ndim)
	if err := binary.Read(r, binary.LittleEndian, &hs.radius); err != nil {
		return fmt.Errorf("hypersphere params: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hs.lnVol); err != nil {
		return fmt.Errorf("hypersphere params: %w", err)
	}
	hs.center = make([]float64, hs.ndim)
	hs.scales = make([]float64, hs.ndim)
	if err := binary.Read(r, binary.LittleEndian, hs.center); err != nil {
		return fmt.Errorf("hypersphere params: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, hs.scales); err != nil {
		return fmt.Errorf("hypersphere params: %w", err)
	}
	hs.bracket = [2]float64{hs.radius, hs.radius}
	hs.criterion = SecondMomentCriterion
	hs.fitted = true
	return nil
}
