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

// Package conv scores every position of a contact matrix against a kernel.
package conv

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/shenwei356/chromoscan/chromoscan/expected"
	"github.com/shenwei356/chromoscan/chromoscan/kernel"
	"github.com/shenwei356/chromoscan/chromoscan/matrix"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
)

// Options contains the options of scanning.
type Options struct {
	MinSeparation  int     // minimum distance to the main diagonal, bins
	MaxDist        int     // maximum distance to the main diagonal, bins, 0 for no limit
	MaxMissingFrac float64 // windows with a larger fraction of missing cells are skipped

	Backend numeric.Backend
}

// DefaultOptions is the default value of Options.
var DefaultOptions = Options{
	MinSeparation:  2,
	MaxMissingFrac: 0.1,
}

// windows with a variance below this fraction of the sum of squares are
// treated as flat.
const flatTolerance = 1e-24

// Engine scores positions of one normalized matrix with one kernel.
// After creation, it is read-only and safe for concurrent use.
type Engine struct {
	m   *matrix.ContactMatrix
	z   *expected.Normalizer
	k   *kernel.Kernel
	opt Options
	nb  numeric.Backend

	radius     int
	dmin, dmax int // scanned band

	// dense band buffer of normalized values.
	// cell (i, j) is stored at row min(i, j), offset |i-j|-amin.
	amin, width int
	values      []float64
	observed    []bool
}

// NewEngine prepares the band buffer for scanning.
// It returns an *kernel.InvalidKernelError if the kernel does not fit the matrix.
func NewEngine(m *matrix.ContactMatrix, z *expected.Normalizer, k *kernel.Kernel, opt *Options) (*Engine, error) {
	if opt == nil {
		opt = &DefaultOptions
	}
	n := m.Dim()
	if k.Size() > n {
		return nil, &kernel.InvalidKernelError{Name: k.Name(),
			Err: errors.Wrapf(kernel.ErrTooLarge, "%d > %d", k.Size(), n)}
	}

	e := &Engine{
		m:      m,
		z:      z,
		k:      k,
		opt:    *opt,
		nb:     numeric.Or(opt.Backend),
		radius: k.Radius(),
	}
	if kopt := k.Options(); kopt.MaxMissingFrac > 0 {
		e.opt.MaxMissingFrac = kopt.MaxMissingFrac
	}
	e.dmin, e.dmax = Band(k, m.BinSize(), n, opt)

	r2 := e.radius << 1
	e.amin = max(0, e.dmin-r2)
	amax := min(n-1, e.dmax+r2)
	if e.dmin > e.dmax {
		return e, nil
	}
	e.width = amax - e.amin + 1
	e.values = make([]float64, n*e.width)
	e.observed = make([]bool, n*e.width)

	it := m.DiagonalBand(e.amin, amax)
	var c matrix.Contact
	var ok bool
	var idx int
	for {
		c, ok = it.Next()
		if !ok {
			break
		}
		if !m.IsValid(c.Row, c.Col) {
			continue
		}
		idx = c.Row*e.width + c.Col - c.Row - e.amin
		e.values[idx] = z.Normalize(c.Row, c.Col, c.Value)
		e.observed[idx] = true
	}
	return e, nil
}

// Band returns the range of distances (bins) scanned with a kernel.
// dmin > dmax means nothing to scan.
func Band(k *kernel.Kernel, binSize, n int, opt *Options) (dmin, dmax int) {
	kopt := k.Options()
	if kopt.Diagonal {
		return 0, 0
	}
	dmin = max(opt.MinSeparation, 0)
	if kopt.MinDist > 0 {
		dmin = max(dmin, (kopt.MinDist+binSize-1)/binSize)
	}
	dmax = n - 1
	if opt.MaxDist > 0 {
		dmax = min(dmax, opt.MaxDist)
	}
	if kopt.MaxDist > 0 {
		dmax = min(dmax, kopt.MaxDist/binSize)
	}
	return dmin, dmax
}

// Kernel returns the kernel.
func (e *Engine) Kernel() *kernel.Kernel { return e.k }

// Matrix returns the matrix.
func (e *Engine) Matrix() *matrix.ContactMatrix { return e.m }

// Band returns the range of distances scanned.
func (e *Engine) Band() (int, int) { return e.dmin, e.dmax }

// InBand tells if (row, col) is a position to be scanned, row <= col.
func (e *Engine) InBand(row, col int) bool {
	d := col - row
	return d >= e.dmin && d <= e.dmax &&
		matrix.WindowFits(row, col, e.radius, e.m.Dim())
}

// status of scoring one position
type status int

const (
	scored status = iota
	outside
	sparse
	flat
)

// scratch holds per-goroutine buffers.
type scratch struct {
	kv, wv []float64
}

func (e *Engine) newScratch() *scratch {
	s := e.k.Size()
	return &scratch{kv: make([]float64, 0, s*s), wv: make([]float64, 0, s*s)}
}

// score computes the Pearson correlation between the kernel and the window
// centered at (row, col), over observed cells only.
func (e *Engine) score(row, col int, s *scratch) (float64, status) {
	if row > col {
		row, col = col, row
	}
	if !e.InBand(row, col) {
		return 0, outside
	}

	R := e.radius
	size := e.k.Size()
	kv, wv := s.kv[:0], s.wv[:0]
	var i, j, lo, a int
	var ksum, wsum float64
	for u := 0; u < size; u++ {
		i = row - R + u
		for v := 0; v < size; v++ {
			j = col - R + v
			if i <= j {
				lo, a = i, j-i
			} else {
				lo, a = j, i-j
			}
			idx := lo*e.width + a - e.amin
			if !e.observed[idx] {
				continue
			}
			kv = append(kv, e.k.At(u, v))
			wv = append(wv, e.values[idx])
			ksum += kv[len(kv)-1]
			wsum += wv[len(wv)-1]
		}
	}
	s.kv, s.wv = kv, wv

	nObs := len(kv)
	if nObs < 2 || matrix.MissingFraction(size*size-nObs, size*size) > e.opt.MaxMissingFrac {
		return 0, sparse
	}

	km := ksum / float64(nObs)
	wm := wsum / float64(nObs)
	var wss float64
	for x := range kv {
		kv[x] -= km
		wss += wv[x] * wv[x]
		wv[x] -= wm
	}
	kk := e.nb.Dot(kv, kv)
	ww := e.nb.Dot(wv, wv)
	if kk == 0 || ww <= flatTolerance*wss {
		return 0, flat
	}
	r := e.nb.Dot(kv, wv) / math.Sqrt(kk*ww)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, scored
}

// Scorer scores arbitrary positions with the scoring function of an engine.
// A Scorer is not safe for concurrent use, create one per goroutine.
type Scorer struct {
	e *Engine
	s *scratch
}

// Scorer returns a new scorer.
func (e *Engine) Scorer() *Scorer {
	return &Scorer{e: e, s: e.newScratch()}
}

// ScoreAt returns the score at (row, col).
// ok is false if the position is out of the scanned band or lacks data.
func (s *Scorer) ScoreAt(row, col int) (float64, bool) {
	v, st := s.e.score(row, col, s.s)
	return v, st == scored
}

// Run scans the upper triangle within the band.
// The context is checked once per row.
func (e *Engine) Run(ctx context.Context) (*ScoreMap, error) {
	n := e.m.Dim()
	sm := &ScoreMap{
		KernelID:   e.k.ID(),
		KernelName: e.k.Name(),
		BinSize:    e.m.BinSize(),
		N:          n,
		MinDist:    e.dmin,
		MaxDist:    e.dmax,
	}
	if e.dmin > e.dmax {
		return sm, nil
	}

	R := e.radius
	s := e.newScratch()
	var v float64
	var st status
	for row := 0; row < n; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for d := e.dmin; d <= e.dmax; d++ {
			col := row + d
			if col >= n {
				break
			}
			if row < R || col+R >= n {
				sm.Boundary++
				continue
			}
			v, st = e.score(row, col, s)
			switch st {
			case sparse:
				sm.Skipped++
				continue
			case flat:
				sm.Degenerate++
			}
			sm.Pixels = append(sm.Pixels, Pixel{Row: row, Col: col, Score: v})
		}
	}
	sm.Tested = len(sm.Pixels)
	return sm, nil
}

// Pixel is a scored position, Row <= Col.
type Pixel struct {
	Row, Col int
	Score    float64
}

// ScoreMap holds scores of one kernel over the upper triangle of one matrix,
// sorted by (row, col).
type ScoreMap struct {
	KernelID   int
	KernelName string
	BinSize    int
	N          int

	MinDist, MaxDist int // scanned band, bins

	Pixels []Pixel

	Tested     int // scored positions, including flat windows
	Skipped    int // positions with too many missing cells
	Boundary   int // positions whose window leaves the matrix
	Degenerate int // flat windows scored 0
}

// At returns the score at (row, col), mirrored for row > col.
func (sm *ScoreMap) At(row, col int) (float64, bool) {
	i := sm.Index(row, col)
	if i < 0 {
		return 0, false
	}
	return sm.Pixels[i].Score, true
}

// Index returns the index of (row, col) in Pixels, -1 if it is not scored.
func (sm *ScoreMap) Index(row, col int) int {
	if row > col {
		row, col = col, row
	}
	ps := sm.Pixels
	i := sort.Search(len(ps), func(i int) bool {
		return ps[i].Row > row || (ps[i].Row == row && ps[i].Col >= col)
	})
	if i < len(ps) && ps[i].Row == row && ps[i].Col == col {
		return i
	}
	return -1
}
