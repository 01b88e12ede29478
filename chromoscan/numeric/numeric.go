// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package numeric provides the array operations shared by all detection
// components. A Backend is created once per run and passed to every
// component, instead of being reached through package-level state.
package numeric

import (
	"math"

	"github.com/twotwotwo/sorts/sortutil"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MADScale converts a median absolute deviation into a consistent
// estimator of the standard deviation of normally distributed data.
const MADScale = 1.4826

// Backend is the set of numeric routines used by the detection pipeline.
// Implementations must be safe for concurrent use and must not modify
// the input slices.
type Backend interface {
	// Median returns the median of x, 0 for an empty slice.
	Median(x []float64) float64
	// MAD returns the (unscaled) median absolute deviation of x around m.
	MAD(x []float64, m float64) float64
	// MeanStdev returns the mean and the sample standard deviation.
	MeanStdev(x []float64) (float64, float64)
	// Dot returns the dot product of two slices of the same length.
	Dot(x, y []float64) float64
	// Survival returns P(Z > z) of the standard normal distribution.
	Survival(z float64) float64
}

// Gonum implements Backend with gonum.
type Gonum struct{}

// Default is the backend used when a component is given none.
var Default Backend = Gonum{}

// Or returns b, or Default if b is nil.
func Or(b Backend) Backend {
	if b == nil {
		return Default
	}
	return b
}

// Median returns the median of x, averaging the two middle values
// for an even number of values.
func (Gonum) Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	s := make([]float64, n)
	copy(s, x)
	sortutil.Float64s(s)
	if n&1 == 1 {
		return s[n>>1]
	}
	return (s[n>>1-1] + s[n>>1]) / 2
}

// MAD returns the median of |x - m|.
func (g Gonum) MAD(x []float64, m float64) float64 {
	if len(x) == 0 {
		return 0
	}
	d := make([]float64, len(x))
	for i, v := range x {
		d[i] = math.Abs(v - m)
	}
	return g.Median(d)
}

// MeanStdev returns the mean and the sample standard deviation of x.
func (Gonum) MeanStdev(x []float64) (float64, float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

// Dot returns the dot product of x and y.
func (Gonum) Dot(x, y []float64) float64 {
	return floats.Dot(x, y)
}

// Survival returns the upper tail probability of the standard normal.
func (Gonum) Survival(z float64) float64 {
	if math.IsInf(z, 1) {
		return 0
	}
	if math.IsInf(z, -1) {
		return 1
	}
	return distuv.UnitNormal.Survival(z)
}
