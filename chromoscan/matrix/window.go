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

package matrix

import (
	"sort"
)

// Window is a dense square neighborhood of a pixel, stored row-major.
type Window struct {
	Size    int       // side length, 2*radius+1
	Values  []float64 // 0 for missing cells
	Missing []bool    // absent entries or cells in invalid bins

	NumMissing int
}

// At returns the value at the i-th row and j-th column of the window.
func (w *Window) At(i, j int) (float64, bool) {
	k := i*w.Size + j
	return w.Values[k], !w.Missing[k]
}

// MissingFraction returns the proportion of missing cells. Stored zeros are
// observed, not missing.
func (w *Window) MissingFraction() float64 {
	return MissingFraction(w.NumMissing, w.Size*w.Size)
}

// MissingFraction returns missing/total, 1 for an empty window.
func MissingFraction(missing, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(missing) / float64(total)
}

// WindowFits tells if a window of the radius centered at (row, col)
// lies inside a matrix of n bins.
func WindowFits(row, col, radius, n int) bool {
	return row-radius >= 0 && col-radius >= 0 && row+radius < n && col+radius < n
}

// Neighborhood returns the (2*radius+1)^2 window centered at (row, col).
// It returns an *OutOfRangeError if the window does not fit in the matrix.
func (m *ContactMatrix) Neighborhood(row, col, radius int) (*Window, error) {
	if radius < 0 || !WindowFits(row, col, radius, m.n) {
		return nil, &OutOfRangeError{Row: row, Col: col, Radius: radius, N: m.n}
	}

	size := 2*radius + 1
	w := &Window{
		Size:    size,
		Values:  make([]float64, size*size),
		Missing: make([]bool, size*size),
	}

	var k int
	var v float64
	var ok bool
	for a := row - radius; a <= row+radius; a++ {
		for b := col - radius; b <= col+radius; b++ {
			if m.IsValid(a, b) {
				v, ok = m.Value(a, b)
			} else {
				v, ok = 0, false
			}
			if ok {
				w.Values[k] = v
			} else {
				w.Missing[k] = true
				w.NumMissing++
			}
			k++
		}
	}

	return w, nil
}

// BandIterator walks stored upper-triangle contacts whose distance to the
// main diagonal is within [dmin, dmax]. It is finite and can be restarted
// with Reset.
type BandIterator struct {
	m          *ContactMatrix
	dmin, dmax int

	row   int
	idx   int
	entry bool // idx points into the current row
}

// DiagonalBand returns an iterator of contacts with dmin <= col-row <= dmax.
func (m *ContactMatrix) DiagonalBand(dmin, dmax int) *BandIterator {
	if dmin < 0 {
		dmin = 0
	}
	if dmax >= m.n {
		dmax = m.n - 1
	}
	return &BandIterator{m: m, dmin: dmin, dmax: dmax}
}

// Reset restarts the iteration.
func (it *BandIterator) Reset() {
	it.row, it.idx, it.entry = 0, 0, false
}

// Next returns the next contact, ok is false when the band is exhausted.
func (it *BandIterator) Next() (Contact, bool) {
	m := it.m
	if it.dmin > it.dmax {
		return Contact{}, false
	}
	for it.row < m.n {
		es := m.rows[it.row]
		if !it.entry {
			c0 := int32(it.row + it.dmin)
			it.idx = sort.Search(len(es), func(i int) bool { return es[i].col >= c0 })
			it.entry = true
		}
		if it.idx < len(es) && int(es[it.idx].col)-it.row <= it.dmax {
			e := es[it.idx]
			it.idx++
			return Contact{Row: it.row, Col: int(e.col), Value: e.val}, true
		}
		it.row++
		it.entry = false
	}
	return Contact{}, false
}
