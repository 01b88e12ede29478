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

// Package detect turns score maps into called patterns.
package detect

import (
	"math"

	"github.com/shenwei356/chromoscan/chromoscan/conv"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
	"github.com/twotwotwo/sorts"
)

// Options contains the options of significance testing and clustering.
type Options struct {
	FDR              float64 // target false discovery rate
	PearsonThreshold float64 // minimum score of a candidate pixel

	MinStratumSize int     // pixels of a distance stratum
	MinScale       float64 // lower bound of the spread of a stratum
	MinClusterSize int     // smaller clusters are dropped

	Backend numeric.Backend
}

// DefaultOptions is the default value of Options.
var DefaultOptions = Options{
	FDR:              0.05,
	PearsonThreshold: 0.3,
	MinStratumSize:   30,
	MinScale:         1e-6,
	MinClusterSize:   1,
}

// Stratum is a range of distances whose scores share a null distribution.
type Stratum struct {
	DMin, DMax    int // bins
	Start, End    int // indexes of pixels, sorted by distance
	Median, Scale float64
}

// Strata groups pixels of a score map by distance, consecutive distances
// are pooled until a stratum holds minSize pixels. The last small stratum
// is merged into the previous one.
// order is the pixel indexes sorted by (distance, row).
func Strata(sm *conv.ScoreMap, minSize int) (order []int, strata []Stratum) {
	n := len(sm.Pixels)
	if n == 0 {
		return nil, nil
	}
	if minSize < 1 {
		minSize = 1
	}

	// counting sort by distance
	dmax := 0
	for _, p := range sm.Pixels {
		dmax = max(dmax, p.Col-p.Row)
	}
	offsets := make([]int, dmax+2)
	for _, p := range sm.Pixels {
		offsets[p.Col-p.Row+1]++
	}
	for d := 1; d < len(offsets); d++ {
		offsets[d] += offsets[d-1]
	}
	order = make([]int, n)
	pos := make([]int, dmax+1)
	copy(pos, offsets[:dmax+1])
	for i, p := range sm.Pixels {
		d := p.Col - p.Row
		order[pos[d]] = i
		pos[d]++
	}

	var cur *Stratum
	for d := 0; d <= dmax; d++ {
		start, end := offsets[d], offsets[d+1]
		if start == end {
			continue
		}
		if cur == nil || cur.End-cur.Start >= minSize {
			strata = append(strata, Stratum{DMin: d, DMax: d, Start: start, End: end})
			cur = &strata[len(strata)-1]
			continue
		}
		cur.DMax, cur.End = d, end
	}
	if k := len(strata); k > 1 && strata[k-1].End-strata[k-1].Start < minSize {
		strata[k-2].DMax, strata[k-2].End = strata[k-1].DMax, strata[k-1].End
		strata = strata[:k-1]
	}
	return order, strata
}

// robustScale returns MADScale*MAD, or the standard deviation if the MAD
// is 0, bounded below by minScale.
func robustScale(x []float64, med, minScale float64, nb numeric.Backend) float64 {
	s := numeric.MADScale * nb.MAD(x, med)
	if s < minScale && len(x) > 1 {
		_, s = nb.MeanStdev(x)
	}
	if !(s >= minScale) {
		s = minScale
	}
	return s
}

// PValues computes one-sided p-values of scores with robust z-scores
// within distance strata. The result is aligned with sm.Pixels.
func PValues(sm *conv.ScoreMap, opt *Options) ([]float64, []Stratum) {
	if opt == nil {
		opt = &DefaultOptions
	}
	nb := numeric.Or(opt.Backend)
	order, strata := Strata(sm, opt.MinStratumSize)
	pvalues := make([]float64, len(sm.Pixels))

	var scores []float64
	for s := range strata {
		st := &strata[s]
		scores = scores[:0]
		for _, i := range order[st.Start:st.End] {
			scores = append(scores, sm.Pixels[i].Score)
		}
		st.Median = nb.Median(scores)
		st.Scale = robustScale(scores, st.Median, opt.MinScale, nb)
		for _, i := range order[st.Start:st.End] {
			pvalues[i] = nb.Survival((sm.Pixels[i].Score - st.Median) / st.Scale)
		}
	}
	return pvalues, strata
}

type pvalue struct {
	p float64
	i int
}

type pvalues []pvalue

func (s pvalues) Len() int { return len(s) }
func (s pvalues) Less(i, j int) bool {
	return s[i].p < s[j].p || (s[i].p == s[j].p && s[i].i < s[j].i)
}
func (s pvalues) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// BenjaminiHochberg returns the p-value threshold controlling the FDR at
// alpha, and the adjusted p-values (q-values) aligned with p.
// The threshold is -1 if no p-value passes.
func BenjaminiHochberg(p []float64, alpha float64) (float64, []float64) {
	m := len(p)
	q := make([]float64, m)
	if m == 0 {
		return -1, q
	}

	ps := make(pvalues, m)
	for i, v := range p {
		if math.IsNaN(v) {
			v = 1
		}
		ps[i] = pvalue{p: v, i: i}
	}
	sorts.Quicksort(ps)

	threshold := -1.0
	fm := float64(m)
	for k, v := range ps {
		if v.p <= float64(k+1)/fm*alpha {
			threshold = v.p
		}
	}

	qmin := 1.0
	var v float64
	for k := m - 1; k >= 0; k-- {
		v = ps[k].p * fm / float64(k+1)
		if v < qmin {
			qmin = v
		}
		q[ps[k].i] = qmin
	}
	return threshold, q
}

// Significance holds the testing result of a set of score maps.
type Significance struct {
	Threshold float64     // p-value threshold, -1 for none
	PValues   [][]float64 // aligned with pixels of each map
	QValues   [][]float64
	Strata    [][]Stratum

	Tested      int
	Significant int
}

// Test computes p-values of every map and applies the Benjamini-Hochberg
// procedure over all pixels of all maps.
func Test(maps []*conv.ScoreMap, opt *Options) *Significance {
	if opt == nil {
		opt = &DefaultOptions
	}
	sig := &Significance{
		PValues: make([][]float64, len(maps)),
		QValues: make([][]float64, len(maps)),
		Strata:  make([][]Stratum, len(maps)),
	}

	for i, sm := range maps {
		sig.PValues[i], sig.Strata[i] = PValues(sm, opt)
		sig.Tested += len(sm.Pixels)
	}

	all := make([]float64, 0, sig.Tested)
	for _, ps := range sig.PValues {
		all = append(all, ps...)
	}
	var q []float64
	sig.Threshold, q = BenjaminiHochberg(all, opt.FDR)

	var j int
	for i, ps := range sig.PValues {
		sig.QValues[i] = q[j : j+len(ps)]
		j += len(ps)
		for _, p := range ps {
			if p <= sig.Threshold {
				sig.Significant++
			}
		}
	}
	return sig
}

// Candidates returns significant pixels of a map whose scores reach
// the Pearson threshold, sorted by (row, col).
func (sig *Significance) Candidates(i int, sm *conv.ScoreMap, pearson float64) []Candidate {
	var cs []Candidate
	ps, qs := sig.PValues[i], sig.QValues[i]
	for j, p := range sm.Pixels {
		if ps[j] <= sig.Threshold && p.Score >= pearson {
			cs = append(cs, Candidate{Row: p.Row, Col: p.Col, Score: p.Score, PValue: ps[j], QValue: qs[j]})
		}
	}
	return cs
}

// At returns the p-value and q-value of a pixel of the i-th map.
func (sig *Significance) At(i int, sm *conv.ScoreMap, row, col int) (p, q float64, ok bool) {
	j := sm.Index(row, col)
	if j < 0 {
		return 0, 0, false
	}
	return sig.PValues[i][j], sig.QValues[i][j], true
}
