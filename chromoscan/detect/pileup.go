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

package detect

import (
	"math"

	"github.com/shenwei356/chromoscan/chromoscan/matrix"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
)

// Normalizer converts a raw contact value into a distance-corrected one.
type Normalizer interface {
	Normalize(row, col int, raw float64) float64
}

// PatternWindow returns the normalized (2*radius+1)^2 window around
// (row, col), row-major, with NaN for missing cells.
// It returns an *matrix.OutOfRangeError if the window leaves the matrix.
func PatternWindow(m *matrix.ContactMatrix, z Normalizer, row, col, radius int) ([]float64, error) {
	w, err := m.Neighborhood(row, col, radius)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, len(w.Values))
	var k int
	for i := 0; i < w.Size; i++ {
		for j := 0; j < w.Size; j++ {
			if w.Missing[k] {
				vals[k] = math.NaN()
			} else {
				vals[k] = z.Normalize(row-radius+i, col-radius+j, w.Values[k])
			}
			k++
		}
	}
	return vals, nil
}

// Pileup is the cell-wise median of windows around calls of one pattern
// at one resolution.
type Pileup struct {
	Kernel     string
	KernelID   int
	Resolution int // bp
	Size       int // side length
	Windows    int

	Values []float64 // row-major, NaN for cells missing in every window
}

// At returns the value at the i-th row and j-th column.
func (p *Pileup) At(i, j int) float64 {
	return p.Values[i*p.Size+j]
}

// NewPileup piles up windows of size*size values. Missing cells (NaN)
// are ignored when computing the median of a cell.
func NewPileup(kernel string, resolution, size int, windows [][]float64, nb numeric.Backend) *Pileup {
	nb = numeric.Or(nb)
	p := &Pileup{
		Kernel:     kernel,
		Resolution: resolution,
		Size:       size,
		Windows:    len(windows),
		Values:     make([]float64, size*size),
	}
	cell := make([]float64, 0, len(windows))
	for k := range p.Values {
		cell = cell[:0]
		for _, w := range windows {
			if !math.IsNaN(w[k]) {
				cell = append(cell, w[k])
			}
		}
		if len(cell) == 0 {
			p.Values[k] = math.NaN()
			continue
		}
		p.Values[k] = nb.Median(cell)
	}
	return p
}
