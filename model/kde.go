package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// gridMaxDim bounds the dimensionality for which the spatial hash grid
// enumerates neighbor cells (3^D lookups per query). Above it, queries
// fall back to a linear scan over the kernel centers.
const gridMaxDim = 6

// KernelDensity is a kernel density estimate with uniform hyper-ball
// kernels of fixed radius h placed on the training samples:
//
//	phi(x) = #{i : |x - x_i| <= h} / (N * Vball(h))
//
// Its support is the union of the N balls, so the density is normalized
// by construction. Queries are served from a spatial hash grid with cell
// size h.
type KernelDensity struct {
	ndim   int
	radius float64 // kernel radius h

	centers [][]float64
	grid    map[uint64][]int32
	lnNorm  float64 // ln(N * Vball(h))
	fitted  bool
}

// NewKernelDensity creates an unfitted kernel density model with the
// given kernel radius.
func NewKernelDensity(ndim int, kernelRadius float64) (*KernelDensity, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", ndim)
	}
	if !(kernelRadius > 0) {
		return nil, fmt.Errorf("kernel radius must be positive, got %g", kernelRadius)
	}
	return &KernelDensity{ndim: ndim, radius: kernelRadius}, nil
}

// Dim returns the model dimensionality.
func (kd *KernelDensity) Dim() int { return kd.ndim }

// IsFitted reports whether the model holds a fitted density.
func (kd *KernelDensity) IsFitted() bool { return kd.fitted }

// Tag returns the checkpoint variant tag.
func (kd *KernelDensity) Tag() byte { return TagKernelDensity }

// Fit stores the training samples as kernel centers and builds the
// lookup grid. Returns ok=false for fewer than ndim+1 samples.
func (kd *KernelDensity) Fit(samples [][]float64, lnPosterior []float64) (bool, error) {
	if err := validateTraining(kd.ndim, samples, lnPosterior); err != nil {
		return false, err
	}
	if len(samples) < kd.ndim+1 {
		return false, nil
	}

	kd.centers = make([][]float64, len(samples))
	for i, s := range samples {
		kd.centers[i] = append([]float64(nil), s...)
	}
	kd.buildGrid()
	kd.lnNorm = math.Log(float64(len(kd.centers))) + lnBallVolume(kd.ndim, kd.radius)
	kd.fitted = true
	return true, nil
}

func (kd *KernelDensity) buildGrid() {
	if kd.ndim > gridMaxDim {
		kd.grid = nil
		return
	}
	kd.grid = make(map[uint64][]int32, len(kd.centers))
	for i, c := range kd.centers {
		key := kd.cellKey(c, nil)
		kd.grid[key] = append(kd.grid[key], int32(i))
	}
}

// cellKey hashes the grid cell containing x, displaced by offset cells.
// Collisions only add candidate centers, which the exact distance check
// filters out again.
func (kd *KernelDensity) cellKey(x []float64, offset []int) uint64 {
	const prime = 0x9E3779B97F4A7C15
	var h uint64 = 1469598103934665603
	for j := 0; j < kd.ndim; j++ {
		q := int64(math.Floor(x[j] / kd.radius))
		if offset != nil {
			q += int64(offset[j])
		}
		h ^= uint64(q) * prime
		h *= 1099511628211
	}
	return h
}

// LnPredict returns the log density at x, or negative infinity when no
// kernel center lies within the kernel radius.
func (kd *KernelDensity) LnPredict(x []float64) float64 {
	if !kd.fitted {
		return math.Inf(-1)
	}
	if len(x) != kd.ndim {
		panic(fmt.Sprintf("harmonic/model: position dimension %d, model dimension %d", len(x), kd.ndim))
	}

	count := 0
	r2 := kd.radius * kd.radius
	if kd.grid == nil {
		for _, c := range kd.centers {
			if sqDist(x, c) <= r2 {
				count++
			}
		}
	} else {
		offset := make([]int, kd.ndim)
		for i := range offset {
			offset[i] = -1
		}
		for {
			for _, idx := range kd.grid[kd.cellKey(x, offset)] {
				if sqDist(x, kd.centers[idx]) <= r2 {
					count++
				}
			}
			j := 0
			for ; j < kd.ndim; j++ {
				offset[j]++
				if offset[j] <= 1 {
					break
				}
				offset[j] = -1
			}
			if j == kd.ndim {
				break
			}
		}
	}
	if count == 0 {
		return math.Inf(-1)
	}
	return math.Log(float64(count)) - kd.lnNorm
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// SetLnNormalizingConstant overrides the computed log normalizing
// constant ln(N * Vball(h)).
func (kd *KernelDensity) SetLnNormalizingConstant(lnNorm float64) {
	kd.lnNorm = lnNorm
}

// MarshalBinary serializes the fitted parameters.
// Format (little-endian): [ndim:u32][radius:f64][lnNorm:f64][ncenters:u64][centers:ncenters*ndim*f64]
func (kd *KernelDensity) MarshalBinary() ([]byte, error) {
	if !kd.fitted {
		return nil, fmt.Errorf("kernel density not fitted")
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(kd.ndim)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, kd.radius); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, kd.lnNorm); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(kd.centers))); err != nil {
		return nil, err
	}
	for _, c := range kd.centers {
		if err := binary.Write(&buf, binary.LittleEndian, c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted model from MarshalBinary output.
func (kd *KernelDensity) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var ndim uint32
	if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
		return fmt.Errorf("kernel density params: %w", err)
	}
	if ndim == 0 {
		return fmt.Errorf("kernel density params: zero dimension")
	}
	kd.ndim = int(ndim)
	if err := binary.Read(r, binary.LittleEndian, &kd.radius); err != nil {
		return fmt.Errorf("kernel density params: %w", err)
	}
	if !(kd.radius > 0) {
		return fmt.Errorf("kernel density params: non-positive radius %g", kd.radius)
	}
	if err := binary.Read(r, binary.LittleEndian, &kd.lnNorm); err != nil {
		return fmt.Errorf("kernel density params: %w", err)
	}
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("kernel density params: %w", err)
	}
	if int(n)*kd.ndim*8 != r.Len() {
		return fmt.Errorf("kernel density params: truncated centers: want %d bytes, have %d", int(n)*kd.ndim*8, r.Len())
	}
	kd.centers = make([][]float64, n)
	for i := range kd.centers {
		c := make([]float64, kd.ndim)
		if err := binary.Read(r, binary.LittleEndian, c); err != nil {
			return fmt.Errorf("kernel density params: %w", err)
		}
		kd.centers[i] = c
	}
	kd.buildGrid()
	kd.fitted = true
	return nil
}
