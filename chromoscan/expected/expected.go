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

// Package expected models the decay of contact frequency with genomic
// distance and uses it to make contacts comparable across distances.
package expected

import (
	"fmt"
	"math"

	"github.com/shenwei356/chromoscan/chromoscan/matrix"
	"github.com/twotwotwo/sorts/sortutil"
)

// Aggregate is the statistic summarizing each diagonal.
type Aggregate int

const (
	// Mean of all valid pairs, absent entries count as zero.
	Mean Aggregate = iota
	// Median of all valid pairs, robust to strong focal signal.
	Median
)

// Mode decides how a raw value is compared with the expected value.
type Mode int

const (
	// Ratio returns raw / expected.
	Ratio Mode = iota
	// LogRatio returns log2(raw / expected).
	LogRatio
)

// ParseAggregate parses "mean" or "median".
func ParseAggregate(s string) (Aggregate, error) {
	switch s {
	case "mean", "":
		return Mean, nil
	case "median":
		return Median, nil
	}
	return Mean, fmt.Errorf("invalid aggregate of expected values: %s, available: mean, median", s)
}

// ParseMode parses "ratio" or "log-ratio".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "ratio", "":
		return Ratio, nil
	case "log-ratio", "logratio":
		return LogRatio, nil
	}
	return Ratio, fmt.Errorf("invalid normalization mode: %s, available: ratio, log-ratio", s)
}

// Options contains the options of computing and applying expected values.
type Options struct {
	Aggregate Aggregate
	Mode      Mode
	Smooth    bool // isotonic regression, non-increasing with distance

	MaxDist     int     // maximum distance in bins, 0 for all
	MinExpected float64 // expected values below this are treated as no data
}

// DefaultOptions is the default value of Options.
var DefaultOptions = Options{
	Aggregate:   Mean,
	Mode:        Ratio,
	MinExpected: 1e-9,
}

// Profile holds the expected contact value of each distance (in bins).
type Profile []float64

// Compute computes the expected profile of a matrix from pairs with both
// bins valid.
func Compute(m *matrix.ContactMatrix, opt *Options) Profile {
	if opt == nil {
		opt = &DefaultOptions
	}
	n := m.Dim()
	D := n - 1
	if opt.MaxDist > 0 && opt.MaxDist < D {
		D = opt.MaxDist
	}

	// the number of valid pairs of each distance
	counts := make([]int, D+1)
	if m.NumValidBins() == n {
		for d := 0; d <= D; d++ {
			counts[d] = n - d
		}
	} else {
		valid := m.ValidBins()
		for i := 0; i < n; i++ {
			if !valid[i] {
				continue
			}
			for d := 0; d <= D && i+d < n; d++ {
				if valid[i+d] {
					counts[d]++
				}
			}
		}
	}

	profile := make(Profile, D+1)
	it := m.DiagonalBand(0, D)

	switch opt.Aggregate {
	case Median:
		values := make([][]float64, D+1)
		for {
			c, ok := it.Next()
			if !ok {
				break
			}
			if !m.IsValid(c.Row, c.Col) {
				continue
			}
			d := c.Col - c.Row
			values[d] = append(values[d], c.Value)
		}
		for d, vs := range values {
			profile[d] = medianWithZeros(vs, counts[d]-len(vs))
		}
	default:
		sums := make([]float64, D+1)
		for {
			c, ok := it.Next()
			if !ok {
				break
			}
			if !m.IsValid(c.Row, c.Col) {
				continue
			}
			sums[c.Col-c.Row] += c.Value
		}
		for d, s := range sums {
			if counts[d] > 0 {
				profile[d] = s / float64(counts[d])
			}
		}
	}

	if opt.Smooth {
		IsotonicDecreasing(profile)
	}
	return profile
}

// medianWithZeros returns the median of values plus nZeros zeros.
// Values are non-negative, so the zeros come first once sorted.
func medianWithZeros(values []float64, nZeros int) float64 {
	if nZeros < 0 {
		nZeros = 0
	}
	t := len(values) + nZeros
	if t == 0 {
		return 0
	}
	sortutil.Float64s(values)
	at := func(k int) float64 {
		if k < nZeros {
			return 0
		}
		return values[k-nZeros]
	}
	if t&1 == 1 {
		return at(t >> 1)
	}
	return (at(t>>1-1) + at(t>>1)) / 2
}

// IsotonicDecreasing replaces y with its non-increasing least-squares fit
// (pool adjacent violators).
func IsotonicDecreasing(y []float64) {
	n := len(y)
	if n < 2 {
		return
	}
	means := make([]float64, 0, n)
	sizes := make([]int, 0, n)
	for _, v := range y {
		means = append(means, v)
		sizes = append(sizes, 1)
		for k := len(means) - 1; k > 0 && means[k-1] < means[k]; k-- {
			s := sizes[k-1] + sizes[k]
			means[k-1] = (means[k-1]*float64(sizes[k-1]) + means[k]*float64(sizes[k])) / float64(s)
			sizes[k-1] = s
			means = means[:k]
			sizes = sizes[:k]
		}
	}
	i := 0
	for b, mean := range means {
		for j := 0; j < sizes[b]; j++ {
			y[i] = mean
			i++
		}
	}
}

// Normalizer converts raw contacts into distance-corrected scores.
// The profile is computed once on creation and reused for the lifetime of
// the matrix, it is safe for concurrent use.
type Normalizer struct {
	m       *matrix.ContactMatrix
	opt     Options
	profile Profile

	degenerate int
}

// NewNormalizer computes the expected profile of m.
func NewNormalizer(m *matrix.ContactMatrix, opt *Options) *Normalizer {
	if opt == nil {
		opt = &DefaultOptions
	}
	z := &Normalizer{
		m:       m,
		opt:     *opt,
		profile: Compute(m, opt),
	}
	for _, e := range z.profile {
		if e < z.opt.MinExpected {
			z.degenerate++
		}
	}
	return z
}

// Matrix returns the matrix being normalized.
func (z *Normalizer) Matrix() *matrix.ContactMatrix { return z.m }

// Profile returns a copy of the expected profile.
func (z *Normalizer) Profile() Profile {
	p := make(Profile, len(z.profile))
	copy(p, z.profile)
	return p
}

// MaxDist returns the largest distance covered by the profile.
func (z *Normalizer) MaxDist() int { return len(z.profile) - 1 }

// Degenerate returns the number of distances whose expected value is
// too small to normalize.
func (z *Normalizer) Degenerate() int { return z.degenerate }

// Expected returns the expected value of a distance, 0 beyond the profile.
func (z *Normalizer) Expected(d int) float64 {
	if d < 0 {
		d = -d
	}
	if d >= len(z.profile) {
		return 0
	}
	return z.profile[d]
}

// Normalize returns the distance-corrected score of a raw value at (row, col).
// The sentinel 0 is returned when the expected value is below MinExpected,
// which means no data to normalize and the pixel is treated as background.
func (z *Normalizer) Normalize(row, col int, raw float64) float64 {
	e := z.Expected(col - row)
	if e < z.opt.MinExpected || e == 0 {
		return 0
	}
	if z.opt.Mode == LogRatio {
		if raw <= 0 {
			return 0
		}
		return math.Log2(raw / e)
	}
	return raw / e
}
