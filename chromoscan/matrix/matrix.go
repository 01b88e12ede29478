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

// Package matrix wraps an intra-chromosomal contact matrix as a read-only,
// symmetric, sparse view.
package matrix

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
	"github.com/shenwei356/chromoscan/chromoscan/util"
	"github.com/twotwotwo/sorts"
)

// Contact is one (row, col, value) triple, bins are 0-based.
type Contact struct {
	Row   int
	Col   int
	Value float64
}

type entry struct {
	col int32
	val float64
}

type entries []entry

func (s entries) Len() int           { return len(s) }
func (s entries) Less(i, j int) bool { return s[i].col < s[j].col }
func (s entries) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// ContactMatrix is a symmetric sparse contact matrix of one chromosome
// (or region). Only the upper triangle is stored. Absent entries are
// missing data, which is different from stored zeros.
//
// A ContactMatrix is never modified after creation and is safe to be
// shared by multiple goroutines.
type ContactMatrix struct {
	chrom   string
	binSize int
	n       int

	rows  []entries // upper triangle, columns sorted, col >= row
	nnz   int
	valid []bool // nil for all bins valid
}

// New creates a ContactMatrix with n bins of binSize bp.
// Contacts in the lower triangle are mirrored to the upper one;
// a bin pair given twice must have the same value.
func New(chrom string, binSize int, n int, contacts []Contact) (*ContactMatrix, error) {
	if n <= 0 {
		return nil, &InputError{Chrom: chrom, Err: ErrEmptyMatrix}
	}
	if binSize <= 0 {
		return nil, &InputError{Chrom: chrom, Err: ErrInvalidBinSize}
	}

	rows := make([]entries, n)
	var r, c int
	for _, ct := range contacts {
		if ct.Row < 0 || ct.Row >= n || ct.Col < 0 || ct.Col >= n {
			return nil, &InputError{Chrom: chrom,
				Err: errors.Wrapf(ErrBinOutOfRange, "(%d, %d) with %d bins", ct.Row, ct.Col, n)}
		}
		if ct.Value < 0 || math.IsNaN(ct.Value) || math.IsInf(ct.Value, 0) {
			return nil, &InputError{Chrom: chrom,
				Err: errors.Wrapf(ErrInvalidValue, "(%d, %d): %v", ct.Row, ct.Col, ct.Value)}
		}
		r, c = ct.Row, ct.Col
		if r > c {
			r, c = c, r
		}
		rows[r] = append(rows[r], entry{col: int32(c), val: ct.Value})
	}

	var nnz int
	for i, es := range rows {
		if len(es) == 0 {
			continue
		}
		sorts.Quicksort(es)

		// merge duplicated pairs
		j := 0
		for k := 1; k < len(es); k++ {
			if es[k].col == es[j].col {
				if es[k].val != es[j].val {
					return nil, &InputError{Chrom: chrom,
						Err: errors.Wrapf(ErrAsymmetric, "(%d, %d): %v != %v", i, es[k].col, es[j].val, es[k].val)}
				}
				continue
			}
			j++
			es[j] = es[k]
		}
		rows[i] = es[:j+1]
		nnz += j + 1
	}

	return &ContactMatrix{
		chrom:   chrom,
		binSize: binSize,
		n:       n,
		rows:    rows,
		nnz:     nnz,
	}, nil
}

// Chrom returns the chromosome name.
func (m *ContactMatrix) Chrom() string { return m.chrom }

// BinSize returns the resolution in bp.
func (m *ContactMatrix) BinSize() int { return m.binSize }

// Dim returns the number of bins.
func (m *ContactMatrix) Dim() int { return m.n }

// NNZ returns the number of stored entries in the upper triangle.
func (m *ContactMatrix) NNZ() int { return m.nnz }

// Value returns the value of a bin pair, ok is false for absent entries.
func (m *ContactMatrix) Value(row, col int) (v float64, ok bool) {
	if row < 0 || col < 0 || row >= m.n || col >= m.n {
		return 0, false
	}
	if row > col {
		row, col = col, row
	}
	es := m.rows[row]
	c := int32(col)
	i := sort.Search(len(es), func(i int) bool { return es[i].col >= c })
	if i < len(es) && es[i].col == c {
		return es[i].val, true
	}
	return 0, false
}

// BinValid tells if a bin passes the coverage filter.
func (m *ContactMatrix) BinValid(i int) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.valid == nil || m.valid[i]
}

// IsValid tells if both bins of a pixel are valid.
func (m *ContactMatrix) IsValid(row, col int) bool {
	return m.BinValid(row) && m.BinValid(col)
}

// ValidBins returns a copy of the validity mask.
func (m *ContactMatrix) ValidBins() []bool {
	mask := make([]bool, m.n)
	for i := range mask {
		mask[i] = m.valid == nil || m.valid[i]
	}
	return mask
}

// NumValidBins returns the number of valid bins.
func (m *ContactMatrix) NumValidBins() int {
	if m.valid == nil {
		return m.n
	}
	var c int
	for _, ok := range m.valid {
		if ok {
			c++
		}
	}
	return c
}

// WithValidity returns a new view sharing the contacts with a new validity mask.
func (m *ContactMatrix) WithValidity(mask []bool) (*ContactMatrix, error) {
	if len(mask) != m.n {
		return nil, errors.Wrapf(ErrMaskLength, "%d != %d", len(mask), m.n)
	}
	m2 := *m
	m2.valid = make([]bool, m.n)
	copy(m2.valid, mask)
	return &m2, nil
}

// BinSums returns the contact sum of each bin over the whole symmetric matrix.
func (m *ContactMatrix) BinSums() []float64 {
	sums := make([]float64, m.n)
	for r, es := range m.rows {
		for _, e := range es {
			sums[r] += e.val
			if int(e.col) != r {
				sums[e.col] += e.val
			}
		}
	}
	return sums
}

// DetectableBins marks bins with enough contacts: a bin is detectable
// if its contact sum is positive and not lower than median - nMADs * MAD
// of all bin sums.
func (m *ContactMatrix) DetectableBins(nMADs float64, backend numeric.Backend) []bool {
	backend = numeric.Or(backend)
	sums := m.BinSums()
	med := backend.Median(sums)
	mad := backend.MAD(sums, med)
	threshold := med - nMADs*mad

	mask := make([]bool, m.n)
	for i, s := range sums {
		mask[i] = s > 0 && s >= threshold
	}
	return mask
}

// Coarsen sums contacts into bins that are factor times larger.
// A coarse bin is valid if at least half of its bins are valid.
func (m *ContactMatrix) Coarsen(factor int) (*ContactMatrix, error) {
	if factor < 1 {
		return nil, errors.Wrapf(ErrInvalidFactor, "%d", factor)
	}
	if factor == 1 {
		return m, nil
	}

	nc := (m.n + factor - 1) / factor
	sums := make(map[uint64]float64, m.nnz)
	keys := make([]uint64, 0, m.nnz)
	var R, C int
	var key uint64
	var v float64
	for r, es := range m.rows {
		R = r / factor
		for _, e := range es {
			C = int(e.col) / factor
			v = e.val
			if R == C && int(e.col) != r { // both halves fall in the same coarse pixel
				v *= 2
			}
			key = util.PixelKey(R, C)
			if _, ok := sums[key]; !ok {
				keys = append(keys, key)
			}
			sums[key] += v
		}
	}
	util.UniqUint64s(&keys) // also sorts them

	contacts := make([]Contact, len(keys))
	for i, key := range keys {
		R, C = util.PixelFromKey(key)
		contacts[i] = Contact{Row: R, Col: C, Value: sums[key]}
	}

	mc, err := New(m.chrom, m.binSize*factor, nc, contacts)
	if err != nil {
		return nil, err
	}

	if m.valid != nil {
		mask := make([]bool, nc)
		var total, good, end int
		for i := 0; i < nc; i++ {
			end = (i + 1) * factor
			if end > m.n {
				end = m.n
			}
			total, good = 0, 0
			for j := i * factor; j < end; j++ {
				total++
				if m.valid[j] {
					good++
				}
			}
			mask[i] = good*2 >= total
		}
		mc.valid = mask
	}

	return mc, nil
}
