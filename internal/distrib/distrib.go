// Package distrib implements the categorical value distribution used by the
// critics: a fixed atom support, the distributional Bellman projection onto it
// and the softmax heads that turn critic logits into histograms.
package distrib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Support is a uniformly spaced set of atoms spanning [VMin, VMax].
type Support struct {
	VMin, VMax float64
	Atoms      []float64
	DeltaZ     float64
}

func NewSupport(vmin, vmax float64, numAtoms int) Support {
	if numAtoms < 2 || vmax <= vmin {
		panic(fmt.Sprintf("distrib: invalid support [%v, %v] with %d atoms", vmin, vmax, numAtoms))
	}
	atoms := make([]float64, numAtoms)
	floats.Span(atoms, vmin, vmax)
	return Support{
		VMin:   vmin,
		VMax:   vmax,
		Atoms:  atoms,
		DeltaZ: (vmax - vmin) / float64(numAtoms-1),
	}
}

func (s Support) Len() int { return len(s.Atoms) }

// Projection projects shifted, discounted target histograms back onto a Support.
type Projection struct {
	Support Support
	Gamma   float64
	Rollout int

	// Precision is the number of decimal digits bucket positions are rounded to
	// before taking floor and ceiling. Float error can leave an exact bucket a
	// hair above itself, which would push the ceiling one bucket too far.
	Precision int
}

// Project returns, for every row i of probs, the histogram of
// clamp(rewards[i] + gamma^rollout * z * (1 - dones[i])) under probs[i].
func (p Projection) Project(rewards, dones []float64, probs *mat.Dense) *mat.Dense {
	rows, cols := probs.Dims()
	if cols != p.Support.Len() {
		panic(fmt.Sprintf("distrib: histogram has %d atoms, support has %d", cols, p.Support.Len()))
	}
	if len(rewards) != rows || len(dones) != rows {
		panic(fmt.Sprintf("distrib: %d histograms, %d rewards, %d dones", rows, len(rewards), len(dones)))
	}

	vmin, vmax, dz := p.Support.VMin, p.Support.VMax, p.Support.DeltaZ
	discount := math.Pow(p.Gamma, float64(p.Rollout))
	scale := math.Pow(10, float64(p.Precision))

	projected := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		src := probs.RawRowView(i)
		dst := projected.RawRowView(i)
		for j, z := range p.Support.Atoms {
			shifted := rewards[i] + discount*z*(1-dones[i])
			shifted = math.Max(vmin, math.Min(shifted, vmax))

			b := (shifted - vmin) / dz
			b = math.RoundToEven(b*scale) / scale
			lower, upper := math.Floor(b), math.Ceil(b)

			exact := 0.0
			if lower == upper {
				exact = 1
			}
			dst[int(lower)] += (upper + exact - b) * src[j]
			dst[int(upper)] += (b - lower) * src[j]
		}
	}
	return projected
}

// ExpectedValues reduces each histogram row to its mean under the support.
func (s Support) ExpectedValues(probs *mat.Dense) []float64 {
	rows, _ := probs.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = floats.Dot(probs.RawRowView(i), s.Atoms)
	}
	return out
}

// Softmax applies a row-wise softmax to logits.
func Softmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		copy(row, logits.RawRowView(i))
		maxLogit := floats.Max(row)
		for j := range row {
			row[j] = math.Exp(row[j] - maxLogit)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return out
}

// LogSoftmax applies a numerically stable row-wise log-softmax to logits.
func LogSoftmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		copy(row, logits.RawRowView(i))
		floats.AddConst(-floats.LogSumExp(row), row)
	}
	return out
}
